package ledger

import "encoding/binary"

// ComputeBudgetProgramID is the built-in program that sets per-transaction
// compute limits and priority fees.
var ComputeBudgetProgramID = MustParsePublicKey("ComputeBudget111111111111111111111111111111")

const (
	computeUnitLimitTag = 2
	computeUnitPriceTag = 3
)

// SetComputeUnitLimit caps the compute units the transaction may consume.
func SetComputeUnitLimit(units uint32) Instruction {
	data := make([]byte, 5)
	data[0] = computeUnitLimitTag
	binary.LittleEndian.PutUint32(data[1:], units)
	return Instruction{ProgramID: ComputeBudgetProgramID, Data: data}
}

// SetComputeUnitPrice sets the priority fee in micro-lamports per compute unit.
func SetComputeUnitPrice(microLamports uint64) Instruction {
	data := make([]byte, 9)
	data[0] = computeUnitPriceTag
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return Instruction{ProgramID: ComputeBudgetProgramID, Data: data}
}

// ComputeBudget returns the instructions to prepend for the given limits.
// Zero values are omitted.
func ComputeBudget(units uint32, microLamports uint64) []Instruction {
	var out []Instruction
	if units > 0 {
		out = append(out, SetComputeUnitLimit(units))
	}
	if microLamports > 0 {
		out = append(out, SetComputeUnitPrice(microLamports))
	}
	return out
}
