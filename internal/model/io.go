package model

import (
	"encoding/json"
	"fmt"

	"github.com/solanago/solanago/internal/ledger"
)

// Board geometry for the Go network.
const (
	BoardSize  = 19
	Planes     = 17
	Points     = BoardSize * BoardSize
	InputSize  = Points * Planes
	PolicySize = Points + 1
)

// PassMove is the policy index of the pass move.
const PassMove = Points

// Input is a flattened board feature stack of InputSize booleans, plane by
// plane.
type Input []bool

// Validate checks the input length.
func (in Input) Validate() error {
	if len(in) != InputSize {
		return fmt.Errorf("input has %d features, want %d", len(in), InputSize)
	}
	return nil
}

// Pack bit-packs the input, most significant bit first.
func (in Input) Pack() []byte {
	out := make([]byte, (len(in)+7)/8)
	for i, set := range in {
		if set {
			out[i/8] |= 0x80 >> (i % 8)
		}
	}
	return out
}

// UnpackInput reverses Pack for a full-size input.
func UnpackInput(packed []byte) (Input, error) {
	if len(packed) != (InputSize+7)/8 {
		return nil, fmt.Errorf("packed input has %d bytes, want %d", len(packed), (InputSize+7)/8)
	}
	in := make(Input, InputSize)
	for i := range in {
		in[i] = packed[i/8]&(0x80>>(i%8)) != 0
	}
	return in, nil
}

// ParseInput reads a JSON array of booleans or 0/1 integers.
func ParseInput(data []byte) (Input, error) {
	var bools []bool
	if err := json.Unmarshal(data, &bools); err == nil {
		in := Input(bools)
		return in, in.Validate()
	}

	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return nil, fmt.Errorf("input must be a JSON array of booleans or 0/1 values: %w", err)
	}
	in := make(Input, len(ints))
	for i, v := range ints {
		switch v {
		case 0:
		case 1:
			in[i] = true
		default:
			return nil, fmt.Errorf("input feature %d is %d, want 0 or 1", i, v)
		}
	}
	return in, in.Validate()
}

// Output is the network result read back from the output account.
type Output struct {
	Policy []float32 `cbor:"1,keyasint" json:"policy"`
	Value  float32   `cbor:"2,keyasint" json:"value"`
}

// Validate checks the policy length.
func (o Output) Validate() error {
	if len(o.Policy) != PolicySize {
		return fmt.Errorf("policy has %d entries, want %d", len(o.Policy), PolicySize)
	}
	return nil
}

// BestMove returns the policy index with the highest probability and that
// probability. Index PassMove means pass.
func (o Output) BestMove() (int, float32) {
	best := -1
	var prob float32
	for i, p := range o.Policy {
		if best < 0 || p > prob {
			best, prob = i, p
		}
	}
	return best, prob
}

// MoveName renders a policy index as board coordinates ("D4", "pass").
func MoveName(index int) string {
	if index == PassMove {
		return "pass"
	}
	if index < 0 || index > PassMove {
		return ""
	}
	const columns = "ABCDEFGHJKLMNOPQRST"
	return fmt.Sprintf("%c%d", columns[index%BoardSize], BoardSize-index/BoardSize)
}

// EncodeOutput serializes an output the way the program stores it.
func EncodeOutput(o Output) ([]byte, error) {
	return ledger.Marshal(o)
}

// DecodeOutput parses output account data.
func DecodeOutput(data []byte) (*Output, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("output account is empty")
	}
	var out Output
	if err := ledger.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode model output: %w", err)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}
