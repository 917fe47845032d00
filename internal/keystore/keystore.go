// Package keystore resolves signing credentials for monitored wallets.
// Keys live in the process environment only and are never written to the
// database; the store holds addresses, the environment holds the keys.
package keystore

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrNoKey     = errors.New("no signing key for address")
	ErrBadKey    = errors.New("invalid private key")
	errHexDigits = errors.New("non-hex characters in private key")
)

// Store looks up private keys by wallet address. Per-address keys are read
// from WALLET_KEY_<ADDRESS> (hex address, no 0x, upper case); ETH_PRIVATE_KEY
// acts as a fallback when it derives to the requested address.
type Store struct {
	fallback string
}

func FromEnv() *Store {
	return &Store{fallback: os.Getenv("ETH_PRIVATE_KEY")}
}

// Key returns the signing key for address or ErrNoKey.
func (s *Store) Key(address string) (*ecdsa.PrivateKey, error) {
	want := Normalize(address)

	envKey := "WALLET_KEY_" + strings.ToUpper(strings.TrimPrefix(want, "0x"))
	if raw := os.Getenv(envKey); raw != "" {
		key, err := ParseKey(raw)
		if err != nil {
			return nil, err
		}
		if Address(key) != want {
			return nil, fmt.Errorf("%w: %s does not derive to %s", ErrBadKey, envKey, want)
		}
		return key, nil
	}

	if s.fallback != "" {
		key, err := ParseKey(s.fallback)
		if err != nil {
			return nil, err
		}
		if Address(key) == want {
			return key, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrNoKey, want)
}

// ParseKey validates and decodes a hex-encoded secp256k1 private key.
// Whitespace and an optional 0x prefix are tolerated.
func ParseKey(raw string) (*ecdsa.PrivateKey, error) {
	cleaned := strings.NewReplacer(" ", "", "\n", "", "\t", "").Replace(raw)
	cleaned = strings.TrimPrefix(cleaned, "0x")

	if len(cleaned) != 64 {
		return nil, fmt.Errorf("%w: want 64 hex characters, got %d", ErrBadKey, len(cleaned))
	}
	for _, c := range cleaned {
		if !isHex(c) {
			return nil, fmt.Errorf("%w: %v", ErrBadKey, errHexDigits)
		}
	}

	key, err := crypto.HexToECDSA(cleaned)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	return key, nil
}

// Address derives the canonical (lowercase) wallet address for a key.
func Address(key *ecdsa.PrivateKey) string {
	return Normalize(crypto.PubkeyToAddress(key.PublicKey).Hex())
}

// Normalize lowercases an address so it can serve as a store key.
func Normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func isHex(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
