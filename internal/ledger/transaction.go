package ledger

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/mr-tron/base58"
)

var (
	// ErrUnsigned is returned when a transaction is used before Sign.
	ErrUnsigned = errors.New("transaction is not signed")

	// ErrTooLarge is returned when an encoded transaction exceeds the limit.
	ErrTooLarge = errors.New("transaction exceeds maximum size")
)

// Anchor freshness-stamps a transaction. Backends reject transactions whose
// anchor has expired.
type Anchor struct {
	Blockhash            string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// AccountMeta is one account referenced by an instruction.
type AccountMeta struct {
	PublicKey  PublicKey `cbor:"1,keyasint"`
	IsSigner   bool      `cbor:"2,keyasint"`
	IsWritable bool      `cbor:"3,keyasint"`
}

// Instruction invokes one program with its accounts and payload.
type Instruction struct {
	ProgramID PublicKey     `cbor:"1,keyasint"`
	Accounts  []AccountMeta `cbor:"2,keyasint"`
	Data      []byte        `cbor:"3,keyasint"`
}

// Transaction is a list of instructions paid for and signed by FeePayer.
type Transaction struct {
	FeePayer     PublicKey
	Anchor       Anchor
	Instructions []Instruction
	Signatures   [][]byte
}

type message struct {
	FeePayer     PublicKey     `cbor:"1,keyasint"`
	Blockhash    string        `cbor:"2,keyasint"`
	Instructions []Instruction `cbor:"3,keyasint"`
}

type envelope struct {
	Signatures [][]byte `cbor:"1,keyasint"`
	Message    []byte   `cbor:"2,keyasint"`
}

var (
	codecOnce sync.Once
	encMode   cbor.EncMode
	decMode   cbor.DecMode
	codecErr  error
)

func codec() (cbor.EncMode, cbor.DecMode, error) {
	codecOnce.Do(func() {
		encMode, codecErr = cbor.CanonicalEncOptions().EncMode()
		if codecErr != nil {
			return
		}
		decMode, codecErr = cbor.DecOptions{}.DecMode()
	})
	return encMode, decMode, codecErr
}

// Marshal encodes v with the deterministic CBOR profile used on the wire.
func Marshal(v any) ([]byte, error) {
	enc, _, err := codec()
	if err != nil {
		return nil, err
	}
	return enc.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	_, dec, err := codec()
	if err != nil {
		return err
	}
	return dec.Unmarshal(data, v)
}

// NewTransaction builds an unsigned transaction.
func NewTransaction(feePayer PublicKey, anchor Anchor, instructions ...Instruction) *Transaction {
	return &Transaction{
		FeePayer:     feePayer,
		Anchor:       anchor,
		Instructions: instructions,
	}
}

// Message returns the bytes covered by the signatures.
func (tx *Transaction) Message() ([]byte, error) {
	if tx.FeePayer.IsZero() {
		return nil, fmt.Errorf("transaction has no fee payer")
	}
	if tx.Anchor.Blockhash == "" {
		return nil, fmt.Errorf("transaction has no anchor")
	}
	if len(tx.Instructions) == 0 {
		return nil, fmt.Errorf("transaction has no instructions")
	}
	return Marshal(message{
		FeePayer:     tx.FeePayer,
		Blockhash:    tx.Anchor.Blockhash,
		Instructions: tx.Instructions,
	})
}

// Sign replaces the signatures with one per signer. The first signer must be
// the fee payer.
func (tx *Transaction) Sign(signers ...Signer) error {
	if len(signers) == 0 {
		return fmt.Errorf("sign: no signers")
	}
	if signers[0].PublicKey() != tx.FeePayer {
		return fmt.Errorf("sign: first signer %s is not the fee payer %s", signers[0].PublicKey(), tx.FeePayer)
	}

	msg, err := tx.Message()
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}

	signatures := make([][]byte, 0, len(signers))
	for _, signer := range signers {
		sig, err := signer.Sign(msg)
		if err != nil {
			return fmt.Errorf("sign with %s: %w", signer.PublicKey(), err)
		}
		signatures = append(signatures, sig)
	}
	tx.Signatures = signatures
	return nil
}

// Signature returns the fee payer signature in base58, or "" when unsigned.
// It doubles as the transaction id.
func (tx *Transaction) Signature() string {
	if len(tx.Signatures) == 0 {
		return ""
	}
	return base58.Encode(tx.Signatures[0])
}

// Verify checks the fee payer signature against the message.
func (tx *Transaction) Verify() error {
	if len(tx.Signatures) == 0 {
		return ErrUnsigned
	}
	msg, err := tx.Message()
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(tx.FeePayer[:]), msg, tx.Signatures[0]) {
		return fmt.Errorf("fee payer signature does not verify")
	}
	return nil
}

// Encode returns the signed wire form. maxSize <= 0 disables the size check.
func (tx *Transaction) Encode(maxSize int) ([]byte, error) {
	if len(tx.Signatures) == 0 {
		return nil, ErrUnsigned
	}
	msg, err := tx.Message()
	if err != nil {
		return nil, err
	}
	raw, err := Marshal(envelope{Signatures: tx.Signatures, Message: msg})
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	if maxSize > 0 && len(raw) > maxSize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(raw), maxSize)
	}
	return raw, nil
}

// DecodeTransaction parses the wire form produced by Encode.
func DecodeTransaction(raw []byte) (*Transaction, error) {
	var env envelope
	if err := Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	var msg message
	if err := Unmarshal(env.Message, &msg); err != nil {
		return nil, fmt.Errorf("decode transaction message: %w", err)
	}
	return &Transaction{
		FeePayer:     msg.FeePayer,
		Anchor:       Anchor{Blockhash: msg.Blockhash},
		Instructions: msg.Instructions,
		Signatures:   env.Signatures,
	}, nil
}
