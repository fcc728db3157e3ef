// Package params defines the hardfork schedule and the EIP activation table
// used by the executor and the transaction pool.
package params

import (
	"fmt"
	"strings"
)

// Hardfork identifies an Ethereum protocol upgrade. Values are ordered: a
// later hardfork compares greater than an earlier one.
type Hardfork uint8

const (
	// Unset means no hardfork was specified; callers substitute a default.
	Unset Hardfork = iota
	Chainstart
	Homestead
	TangerineWhistle
	SpuriousDragon
	Byzantium
	Constantinople
	Petersburg
	Istanbul
	MuirGlacier
	Berlin
	London
	ArrowGlacier
	GrayGlacier
	Paris
	Shanghai
	Cancun
	Prague
)

var hardforkNames = map[Hardfork]string{
	Chainstart:       "chainstart",
	Homestead:        "homestead",
	TangerineWhistle: "tangerineWhistle",
	SpuriousDragon:   "spuriousDragon",
	Byzantium:        "byzantium",
	Constantinople:   "constantinople",
	Petersburg:       "petersburg",
	Istanbul:         "istanbul",
	MuirGlacier:      "muirGlacier",
	Berlin:           "berlin",
	London:           "london",
	ArrowGlacier:     "arrowGlacier",
	GrayGlacier:      "grayGlacier",
	Paris:            "paris",
	Shanghai:         "shanghai",
	Cancun:           "cancun",
	Prague:           "prague",
}

// String returns the canonical camel-cased hardfork name.
func (h Hardfork) String() string {
	if name, ok := hardforkNames[h]; ok {
		return name
	}
	if h == Unset {
		return "unset"
	}
	return fmt.Sprintf("hardfork(%d)", uint8(h))
}

// ParseHardfork resolves a hardfork name case-insensitively. "merge" is
// accepted as an alias of paris.
func ParseHardfork(name string) (Hardfork, error) {
	lower := strings.ToLower(strings.TrimSpace(name))
	if lower == "merge" {
		return Paris, nil
	}
	for h, n := range hardforkNames {
		if strings.ToLower(n) == lower {
			return h, nil
		}
	}
	return Unset, fmt.Errorf("unknown hardfork %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (h Hardfork) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hardfork) UnmarshalText(text []byte) error {
	parsed, err := ParseHardfork(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Gte reports whether h is at or past other.
func (h Hardfork) Gte(other Hardfork) bool {
	return h >= other
}

// PreMerge maps paris onto the hardfork that preceded it. Paris changes
// consensus, not execution, so execution rules compare equal across it.
func (h Hardfork) PreMerge() Hardfork {
	if h == Paris {
		return GrayGlacier
	}
	return h
}

// eipActivation lists the hardfork at which each supported EIP activates.
var eipActivation = map[int]Hardfork{
	155:  SpuriousDragon,
	158:  SpuriousDragon,
	658:  Byzantium,
	2028: Istanbul,
	2929: Berlin,
	2930: Berlin,
	1559: London,
	3198: London,
	3529: London,
	3541: London,
	3607: London,
	3651: Shanghai,
	3855: Shanghai,
	3860: Shanghai,
	1153: Cancun,
	4788: Cancun,
	4844: Cancun,
	5656: Cancun,
	6780: Cancun,
	7516: Cancun,
	2537: Prague,
	2935: Prague,
	7702: Prague,
}

// IsActivated reports whether the given EIP is active at hardfork h.
// Unknown EIPs are never active.
func (h Hardfork) IsActivated(eip int) bool {
	fork, ok := eipActivation[eip]
	if !ok {
		return false
	}
	return h >= fork
}
