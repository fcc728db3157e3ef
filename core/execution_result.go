package core

import (
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/eth2030/txcore/core/types"
	"github.com/eth2030/txcore/core/vm"
)

// RunTxResult holds the outcome of a transaction execution.
type RunTxResult struct {
	*vm.ExecResult

	Bloom types.Bloom
	// TotalGasSpent is intrinsic plus execution gas, net of the capped
	// refund. Blob gas is accounted separately in BlobGasUsed.
	TotalGasSpent uint64
	// AmountSpent is TotalGasSpent times the effective gas price.
	AmountSpent *uint256.Int
	// MinerValue is what the fee recipient was credited.
	MinerValue *uint256.Int
	Receipt    *types.Receipt

	AccessList  gethtypes.AccessList   // set when requested
	Preimages   map[common.Hash][]byte // set when requested
	BlobGasUsed uint64
}

// Unwrap returns the execution error, if any.
func (r *RunTxResult) Unwrap() error {
	return r.Err
}

// Return returns the return data from a successful execution.
func (r *RunTxResult) Return() []byte {
	if r.Failed() {
		return nil
	}
	return r.ReturnValue
}
