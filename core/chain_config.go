package core

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/eth2030/txcore/params"
)

// Consensus identifies how a chain selects its fee recipient.
type Consensus uint8

const (
	ProofOfWork Consensus = iota
	ProofOfStake
	Clique
)

func (c Consensus) String() string {
	switch c {
	case ProofOfWork:
		return "pow"
	case ProofOfStake:
		return "pos"
	case Clique:
		return "clique"
	default:
		return fmt.Sprintf("consensus(%d)", uint8(c))
	}
}

// ParseConsensus accepts pow/ethash, pos/casper and clique/poa.
func ParseConsensus(s string) (Consensus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pow", "ethash":
		return ProofOfWork, nil
	case "pos", "casper", "":
		return ProofOfStake, nil
	case "clique", "poa":
		return Clique, nil
	default:
		return 0, fmt.Errorf("unknown consensus %q", s)
	}
}

// ChainConfig holds the chain parameters the executor runs under.
type ChainConfig struct {
	ChainID   *big.Int
	Hardfork  params.Hardfork
	Consensus Consensus
}

// DefaultChainConfig is mainnet at Cancun.
func DefaultChainConfig() *ChainConfig {
	return &ChainConfig{ChainID: big.NewInt(1), Hardfork: params.Cancun, Consensus: ProofOfStake}
}

// RefundQuotient returns the divisor bounding gas refunds at h.
func RefundQuotient(h params.Hardfork) uint64 {
	if h.IsActivated(3529) {
		return params.RefundQuotientEIP3529
	}
	return params.RefundQuotient
}
