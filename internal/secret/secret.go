// Package secret generates swap secrets and hash-locks and manages the
// client's long-lived signing key.
package secret

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/klingon-exchange/swapclient/pkg/helpers"
)

// Size is the length of a swap secret in bytes.
const Size = 32

// ErrInvalidSecret is returned for secrets that are not 32 bytes of hex.
var ErrInvalidSecret = errors.New("secret must be 32 bytes of hex")

// GenerateSecret returns 32 cryptographically random bytes, hex-encoded
// without prefix.
func GenerateSecret() (string, error) {
	b, err := helpers.GenerateSecureRandom(Size)
	if err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	defer helpers.Zero(b)
	return hexutil.Encode(b)[2:], nil
}

// HashSecret returns the hash-lock for a secret: SHA-256 over the raw bytes,
// hex-encoded with the 0x prefix the coordinator expects.
func HashSecret(secretHex string) (string, error) {
	raw, err := decode(secretHex)
	if err != nil {
		return "", err
	}
	defer helpers.Zero(raw)
	return hexutil.Encode(chainhash.HashB(raw)), nil
}

// VerifySecret reports whether secretHex is the preimage of hashLock.
func VerifySecret(secretHex, hashLock string) bool {
	got, err := HashSecret(secretHex)
	if err != nil {
		return false
	}
	want, err := helpers.HexToFixedBytes(hashLock, chainhash.HashSize)
	if err != nil {
		return false
	}
	gotBytes, _ := helpers.HexToBytes(got)
	return helpers.ConstantTimeCompare(gotBytes, want)
}

func decode(secretHex string) ([]byte, error) {
	raw, err := helpers.HexToFixedBytes(secretHex, Size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return raw, nil
}
