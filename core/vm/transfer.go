package vm

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/eth2030/txcore/core/state"
	"github.com/eth2030/txcore/core/types"
	"github.com/eth2030/txcore/log"
)

// Transfer is an EVM that moves value and creates accounts without running
// bytecode. Calls to contracts only transfer value; creations deploy no
// code. It is the machine used when no interpreter is plugged in.
type Transfer struct {
	log *log.Logger
}

// NewTransfer returns a Transfer machine logging under l.
func NewTransfer(l *log.Logger) *Transfer {
	if l == nil {
		l = log.Default()
	}
	return &Transfer{log: l.Module("evm")}
}

func (t *Transfer) RunCall(ctx context.Context, j *state.Journal, opts *RunCallOpts) (*ExecResult, error) {
	res := &ExecResult{
		SelfDestruct:     make(map[common.Address]struct{}),
		CreatedAddresses: make(map[common.Address]struct{}),
	}
	store := j.Store()
	caller, err := store.GetAccount(ctx, opts.Caller)
	if err != nil {
		return nil, err
	}
	if caller == nil {
		caller = types.NewAccount()
	}
	value := opts.Value
	if value == nil {
		value = new(uint256.Int)
	}

	target := opts.To
	if opts.IsCreate() {
		// The executor has already bumped the caller nonce.
		nonce := caller.Nonce
		if nonce > 0 {
			nonce--
		}
		addr := crypto.CreateAddress(opts.Caller, nonce)
		existing, err := store.GetAccount(ctx, addr)
		if err != nil {
			return nil, err
		}
		if existing != nil && (existing.Nonce != 0 || existing.IsContract()) {
			res.Err = ErrContractAddressCollision
			res.ExecutionGasUsed = opts.GasLimit
			return res, nil
		}
		target = &addr
		res.CreatedAddress = &addr
		res.CreatedAddresses[addr] = struct{}{}
	}

	if caller.Balance.Lt(value) {
		if !opts.SkipBalance {
			res.Err = ErrInsufficientBalance
			return res, nil
		}
		caller.Balance = value.Clone()
	}

	if opts.Block.Hardfork.IsActivated(2929) && !j.IsWarmedAddress(*target) {
		j.AddWarmedAddress(*target)
	}

	caller.Balance = new(uint256.Int).Sub(caller.Balance, value)
	j.PutAccount(opts.Caller, caller)

	recipient, err := store.GetAccount(ctx, *target)
	if err != nil {
		return nil, err
	}
	if recipient == nil {
		recipient = types.NewAccount()
	}
	if opts.IsCreate() && opts.Block.Hardfork.IsActivated(158) {
		recipient.Nonce = 1
	}
	recipient.Balance = new(uint256.Int).Add(recipient.Balance, value)
	j.PutAccount(*target, recipient)

	t.log.Debug("transfer", "from", opts.Caller, "to", *target, "value", value, "create", opts.IsCreate())
	return res, nil
}

var _ EVM = (*Transfer)(nil)
