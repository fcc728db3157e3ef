// Package vm defines the contract between the transaction executor and the
// virtual machine that runs a message, plus a value-transfer machine.
package vm

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/eth2030/txcore/core/state"
	"github.com/eth2030/txcore/params"
)

// Execution outcomes reported in ExecResult.Err. They consume gas but are
// not executor failures.
var (
	ErrOutOfGas                 = errors.New("out of gas")
	ErrExecutionReverted        = errors.New("execution reverted")
	ErrInsufficientBalance      = errors.New("insufficient balance for transfer")
	ErrContractAddressCollision = errors.New("contract address collision")
)

// BlockContext provides the EVM with block-level information.
type BlockContext struct {
	Number      *big.Int
	Time        uint64
	Coinbase    common.Address
	GasLimit    uint64
	BaseFee     *uint256.Int
	BlobBaseFee *uint256.Int
	PrevRandao  common.Hash
	Hardfork    params.Hardfork
}

// RunCallOpts describes one top-level message.
type RunCallOpts struct {
	Block       BlockContext
	Caller      common.Address
	Origin      common.Address
	To          *common.Address
	Value       *uint256.Int
	Data        []byte
	GasLimit    uint64
	GasPrice    *uint256.Int
	BlobHashes  []common.Hash
	SkipBalance bool
}

// IsCreate reports whether the message deploys a contract.
func (o *RunCallOpts) IsCreate() bool { return o.To == nil }

// ExecResult is the outcome of a message. Err is nil on success and carries
// the exceptional halt reason otherwise.
type ExecResult struct {
	ExecutionGasUsed uint64
	GasRefund        uint64
	ReturnValue      []byte
	Logs             []*gethtypes.Log
	Err              error
	CreatedAddress   *common.Address
	SelfDestruct     map[common.Address]struct{}
	CreatedAddresses map[common.Address]struct{}
}

// Failed reports whether execution halted exceptionally.
func (r *ExecResult) Failed() bool { return r.Err != nil }

// Revert returns the revert reason when execution reverted.
func (r *ExecResult) Revert() []byte {
	if !errors.Is(r.Err, ErrExecutionReverted) {
		return nil
	}
	return common.CopyBytes(r.ReturnValue)
}

// EVM runs a message against journaled state. A non-nil error means the
// machine itself failed (state read error, invariant violation) and the
// transaction must be reverted; exceptional halts are reported in
// ExecResult.Err instead.
type EVM interface {
	RunCall(ctx context.Context, j *state.Journal, opts *RunCallOpts) (*ExecResult, error)
}
