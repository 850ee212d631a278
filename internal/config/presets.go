package config

import (
	"fmt"
	"sort"
	"strings"
)

// Network names accepted by the network key.
const (
	NetworkDevnet  = "devnet"
	NetworkTestnet = "testnet"
	NetworkMainnet = "mainnet-beta"
)

// Preset carries the network-dependent defaults. Explicit config values
// always win over the preset.
type Preset struct {
	Endpoint      string
	Commitment    string
	ComputeBudget uint32
	PriorityFee   uint64
}

var presets = map[string]Preset{
	NetworkDevnet: {
		Endpoint:      "https://api.devnet.solana.com",
		Commitment:    "confirmed",
		ComputeBudget: 200_000,
		PriorityFee:   0,
	},
	NetworkTestnet: {
		Endpoint:      "https://api.testnet.solana.com",
		Commitment:    "confirmed",
		ComputeBudget: 200_000,
		PriorityFee:   0,
	},
	NetworkMainnet: {
		Endpoint:      "https://api.mainnet-beta.solana.com",
		Commitment:    "finalized",
		ComputeBudget: 1_400_000,
		PriorityFee:   1_000,
	},
}

// PresetFor returns the preset for a network name.
func PresetFor(network string) (Preset, error) {
	preset, ok := presets[strings.ToLower(strings.TrimSpace(network))]
	if !ok {
		return Preset{}, fmt.Errorf("unknown network %q (valid: %s)", network, strings.Join(Networks(), ", "))
	}
	return preset, nil
}

// Networks lists the known network names.
func Networks() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
