package model

import (
	"fmt"

	"github.com/solanago/solanago/internal/ledger"
)

// Program opcodes carried in instruction data.
const (
	OpInit    uint8 = 0
	OpPredict uint8 = 1
)

// Program addresses the on-chain model program and its accounts.
type Program struct {
	ProgramID     ledger.PublicKey
	ModelAccount  ledger.PublicKey
	StateAccount  ledger.PublicKey
	OutputAccount ledger.PublicKey
}

// InstructionData is the decoded payload of a program instruction.
type InstructionData struct {
	Op     uint8   `cbor:"1,keyasint"`
	Config *Config `cbor:"2,keyasint,omitempty"`
	Input  []byte  `cbor:"3,keyasint,omitempty"`
	Nonce  []byte  `cbor:"4,keyasint,omitempty"`
}

// Validate checks that the program and its accounts are set.
func (p Program) Validate() error {
	if p.ProgramID.IsZero() {
		return fmt.Errorf("program_id is required")
	}
	if p.ModelAccount.IsZero() {
		return fmt.Errorf("model_account is required")
	}
	if p.StateAccount.IsZero() {
		return fmt.Errorf("state_account is required")
	}
	return nil
}

// ResultAccount is the account predictions are written to. It falls back to
// the state account when no dedicated output account is configured.
func (p Program) ResultAccount() ledger.PublicKey {
	if p.OutputAccount.IsZero() {
		return p.StateAccount
	}
	return p.OutputAccount
}

// InitInstruction builds the instruction that loads cfg into the program.
func (p Program) InitInstruction(payer ledger.PublicKey, cfg Config) (ledger.Instruction, error) {
	if err := cfg.Validate(); err != nil {
		return ledger.Instruction{}, fmt.Errorf("init instruction: %w", err)
	}
	data, err := ledger.Marshal(InstructionData{Op: OpInit, Config: &cfg})
	if err != nil {
		return ledger.Instruction{}, fmt.Errorf("init instruction: %w", err)
	}
	return ledger.Instruction{
		ProgramID: p.ProgramID,
		Accounts: []ledger.AccountMeta{
			{PublicKey: payer, IsSigner: true, IsWritable: true},
			{PublicKey: p.ModelAccount, IsWritable: true},
			{PublicKey: p.StateAccount, IsWritable: true},
		},
		Data: data,
	}, nil
}

// PredictInstruction builds the instruction that evaluates one position.
// The nonce keeps signatures distinct when the same position is submitted
// more than once against the same anchor.
func (p Program) PredictInstruction(payer ledger.PublicKey, in Input, nonce []byte) (ledger.Instruction, error) {
	if err := in.Validate(); err != nil {
		return ledger.Instruction{}, fmt.Errorf("predict instruction: %w", err)
	}
	data, err := ledger.Marshal(InstructionData{Op: OpPredict, Input: in.Pack(), Nonce: nonce})
	if err != nil {
		return ledger.Instruction{}, fmt.Errorf("predict instruction: %w", err)
	}
	return ledger.Instruction{
		ProgramID: p.ProgramID,
		Accounts: []ledger.AccountMeta{
			{PublicKey: payer, IsSigner: true, IsWritable: true},
			{PublicKey: p.ModelAccount},
			{PublicKey: p.StateAccount, IsWritable: true},
			{PublicKey: p.ResultAccount(), IsWritable: true},
		},
		Data: data,
	}, nil
}

// DecodeInstruction parses instruction data built by this package.
func DecodeInstruction(data []byte) (InstructionData, error) {
	var decoded InstructionData
	if err := ledger.Unmarshal(data, &decoded); err != nil {
		return decoded, fmt.Errorf("decode instruction: %w", err)
	}
	return decoded, nil
}
