// Package keysource derives child addresses from an extended public key for
// the ingestion orchestrator's gap-limit scan (spec.md 4.5). It generalizes
// the teacher's XPubKeySource (src/chainadapter/keysource_impl.go) — a
// watch-only key source built for transaction signing — away from signing
// entirely: this package only ever derives public addresses to import, it
// never touches a private key or a Signer.
package keysource

import (
	"context"
	"fmt"

	"github.com/tyler-smith/go-bip32"

	"github.com/jbelanger/exitbook/internal/xerrors"
)

// AddressDeriver turns a derived child public key into the blockchain's
// native address encoding (bech32, base58check, EIP-55, ...) — chain
// specific, supplied by the caller.
type AddressDeriver func(pubKey []byte) (string, error)

// ActivityChecker reports whether an address has ever received funds —
// typically the provider's OpHasAddressTransactions one-shot call.
type ActivityChecker func(ctx context.Context, address string) (bool, error)

// XPubSource derives addresses from an extended public key.
type XPubSource struct {
	key *bip32.Key
}

// NewXPubSource parses an extended public key (xpub/ypub/zpub).
func NewXPubSource(xpub string) (*XPubSource, error) {
	key, err := bip32.B58Deserialize(xpub)
	if err != nil {
		return nil, xerrors.New(xerrors.Validation, xerrors.CodeSchemaInvalid, "invalid extended public key", err)
	}
	if key.IsPrivate {
		return nil, xerrors.New(xerrors.Validation, xerrors.CodeSchemaInvalid, "expected an extended public key, got a private key", nil)
	}
	return &XPubSource{key: key}, nil
}

// DerivePublicKey derives the raw compressed public key at a non-hardened
// relative path (e.g. "0/3" for the fourth external address).
func (x *XPubSource) DerivePublicKey(path string) ([]byte, error) {
	indices, err := parseRelativePath(path)
	if err != nil {
		return nil, err
	}
	key := x.key
	for i, idx := range indices {
		if idx >= bip32.FirstHardenedChild {
			return nil, xerrors.New(xerrors.Validation, xerrors.CodeSchemaInvalid, "xpub cannot derive a hardened path", nil)
		}
		child, err := key.NewChildKey(idx)
		if err != nil {
			return nil, xerrors.New(xerrors.Validation, xerrors.CodeSchemaInvalid, fmt.Sprintf("derive child key at level %d", i), err)
		}
		key = child
	}
	return key.PublicKey().Key, nil
}

func parseRelativePath(path string) ([]uint32, error) {
	if path == "" {
		return nil, nil
	}
	var indices []uint32
	current := ""
	flush := func() error {
		if current == "" {
			return nil
		}
		var idx uint32
		if _, err := fmt.Sscanf(current, "%d", &idx); err != nil {
			return xerrors.New(xerrors.Validation, xerrors.CodeSchemaInvalid, "invalid derivation path segment "+current, err)
		}
		indices = append(indices, idx)
		current = ""
		return nil
	}
	for _, c := range path {
		if c == '/' {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		current += string(c)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return indices, nil
}

// DerivedAddress is one scanned child address.
type DerivedAddress struct {
	Index   uint32
	Path    string
	Address string
	HasActivity bool
}

// GapLimitScan derives external-chain addresses (path "0/<index>") starting
// at index 0, advancing until `gap` consecutive addresses have no recorded
// activity, per spec.md 4.5 step 2. It always returns every address checked,
// including the trailing inactive tail, so callers can audit the scan.
func GapLimitScan(ctx context.Context, src *XPubSource, derive AddressDeriver, hasActivity ActivityChecker, gap int) ([]DerivedAddress, error) {
	if gap <= 0 {
		gap = 20
	}
	var out []DerivedAddress
	consecutiveEmpty := 0
	for index := uint32(0); consecutiveEmpty < gap; index++ {
		path := fmt.Sprintf("0/%d", index)
		pub, err := src.DerivePublicKey(path)
		if err != nil {
			return nil, err
		}
		addr, err := derive(pub)
		if err != nil {
			return nil, err
		}
		active, err := hasActivity(ctx, addr)
		if err != nil {
			return nil, err
		}
		out = append(out, DerivedAddress{Index: index, Path: path, Address: addr, HasActivity: active})
		if active {
			consecutiveEmpty = 0
		} else {
			consecutiveEmpty++
		}
	}
	return out, nil
}
