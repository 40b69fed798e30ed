// Package addressderive turns the compressed public keys
// internal/orchestrator/keysource derives from an extended public key into
// the native address encoding of one blockchain, for use as
// orchestrator.ImportXPubRequest.Deriver. Grounded on the teacher's
// watch-only address derivation (src/chainadapter/bitcoin,
// src/chainadapter/ethereum), generalized away from anything that touches a
// private key — this package only ever turns a public key into an address.
package addressderive

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/jbelanger/exitbook/internal/orchestrator/keysource"
)

// Bitcoin derives a mainnet P2PKH address (base58check, hash160 of the
// compressed public key) — the address shape the bundled bitcoinrpc
// provider's explorer backend expects.
func Bitcoin(pubKey []byte) (string, error) {
	hash := btcutil.Hash160(pubKey)
	addr, err := btcutil.NewAddressPubKeyHash(hash, &chaincfg.MainNetParams)
	if err != nil {
		return "", fmt.Errorf("addressderive: bitcoin: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// Ethereum derives the EIP-55 checksummed address (last 20 bytes of
// Keccak256 of the uncompressed public key, sans the 0x04 prefix byte) from
// a compressed secp256k1 public key.
func Ethereum(pubKey []byte) (string, error) {
	key, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return "", fmt.Errorf("addressderive: ethereum: parse public key: %w", err)
	}
	uncompressed := key.SerializeUncompressed()
	hash := crypto.Keccak256(uncompressed[1:])
	return common.BytesToAddress(hash[12:]).Hex(), nil
}

var (
	_ keysource.AddressDeriver = Bitcoin
	_ keysource.AddressDeriver = Ethereum
)
