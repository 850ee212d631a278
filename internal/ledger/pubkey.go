package ledger

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// PublicKeySize is the length of an ed25519 public key.
const PublicKeySize = 32

// PublicKey identifies an account or program.
type PublicKey [PublicKeySize]byte

// ParsePublicKey decodes a base58 address.
func ParsePublicKey(s string) (PublicKey, error) {
	var key PublicKey
	raw, err := base58.Decode(s)
	if err != nil {
		return key, fmt.Errorf("decode public key %q: %w", s, err)
	}
	if len(raw) != PublicKeySize {
		return key, fmt.Errorf("public key %q has %d bytes, want %d", s, len(raw), PublicKeySize)
	}
	copy(key[:], raw)
	return key, nil
}

// MustParsePublicKey is ParsePublicKey for compile-time constants.
func MustParsePublicKey(s string) PublicKey {
	key, err := ParsePublicKey(s)
	if err != nil {
		panic(err)
	}
	return key
}

// String renders the key as base58.
func (k PublicKey) String() string {
	return base58.Encode(k[:])
}

// IsZero reports whether the key is unset.
func (k PublicKey) IsZero() bool {
	return k == PublicKey{}
}

// MarshalText implements encoding.TextMarshaler.
func (k PublicKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *PublicKey) UnmarshalText(text []byte) error {
	parsed, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
