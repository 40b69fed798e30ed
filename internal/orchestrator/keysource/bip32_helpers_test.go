package keysource

import (
	"github.com/tyler-smith/go-bip32"
)

// testSeed is a fixed, non-secret seed used only to build a deterministic
// throwaway master key for tests — never a real wallet's seed.
var testSeed = []byte("exitbook-test-seed-not-a-real-wallet-seed-32b!!")

func testMasterKey() (*bip32.Key, error) {
	return bip32.NewMasterKey(testSeed[:32])
}
