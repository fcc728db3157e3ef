package vm

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/eth2030/txcore/params"
)

// Precompile address ranges by activation fork.
var (
	frontierPrecompiles  = precompileRange(0x01, 0x04)
	byzantiumPrecompiles = precompileRange(0x05, 0x08)
	istanbulPrecompiles  = precompileRange(0x09, 0x09)
	cancunPrecompiles    = precompileRange(0x0a, 0x0a)
	praguePrecompiles    = precompileRange(0x0b, 0x11)
)

func precompileRange(first, last byte) []common.Address {
	out := make([]common.Address, 0, last-first+1)
	for b := first; b <= last; b++ {
		out = append(out, common.BytesToAddress([]byte{b}))
	}
	return out
}

// ActivePrecompiles returns the precompile addresses active at h.
func ActivePrecompiles(h params.Hardfork) []common.Address {
	out := append([]common.Address(nil), frontierPrecompiles...)
	if h.Gte(params.Byzantium) {
		out = append(out, byzantiumPrecompiles...)
	}
	if h.Gte(params.Istanbul) {
		out = append(out, istanbulPrecompiles...)
	}
	if h.Gte(params.Cancun) {
		out = append(out, cancunPrecompiles...)
	}
	if h.Gte(params.Prague) {
		out = append(out, praguePrecompiles...)
	}
	return out
}

// IsPrecompile reports whether addr is a precompile at h.
func IsPrecompile(addr common.Address, h params.Hardfork) bool {
	for _, p := range ActivePrecompiles(h) {
		if p == addr {
			return true
		}
	}
	return false
}
