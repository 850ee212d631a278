package ledger

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Signer produces transaction signatures for one public key.
type Signer interface {
	PublicKey() PublicKey
	Sign(message []byte) ([]byte, error)
}

// Keypair is an ed25519 signing key.
type Keypair struct {
	private ed25519.PrivateKey
	public  PublicKey
}

// NewKeypair wraps an existing ed25519 private key.
func NewKeypair(private ed25519.PrivateKey) (*Keypair, error) {
	if len(private) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key has %d bytes, want %d", len(private), ed25519.PrivateKeySize)
	}
	kp := &Keypair{private: private}
	copy(kp.public[:], private.Public().(ed25519.PublicKey))
	return kp, nil
}

// GenerateKeypair creates a random keypair.
func GenerateKeypair() (*Keypair, error) {
	_, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return NewKeypair(private)
}

// LoadKeypair reads a keypair file holding a JSON array of the 64 secret key
// bytes, the format written by the Solana CLI.
func LoadKeypair(path string) (*Keypair, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read keypair %s: %w", path, err)
	}

	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return nil, fmt.Errorf("parse keypair %s: %w", path, err)
	}
	raw := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("parse keypair %s: byte %d out of range", path, i)
		}
		raw[i] = byte(v)
	}

	kp, err := NewKeypair(ed25519.PrivateKey(raw))
	if err != nil {
		return nil, fmt.Errorf("load keypair %s: %w", path, err)
	}
	return kp, nil
}

// PublicKey implements Signer.
func (k *Keypair) PublicKey() PublicKey {
	return k.public
}

// Sign implements Signer.
func (k *Keypair) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(k.private, message), nil
}

// MarshalJSON renders the secret key in the keypair file format.
func (k *Keypair) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(k.private))
	for i, b := range k.private {
		ints[i] = int(b)
	}
	return json.Marshal(ints)
}
