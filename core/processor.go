package core

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/eth2030/txcore/core/types"
	"github.com/eth2030/txcore/core/vm"
	"github.com/eth2030/txcore/metrics"
	"github.com/eth2030/txcore/params"
)

// RunTxOpts controls a single RunTx call.
type RunTxOpts struct {
	Tx *types.Transaction
	// Block is the execution context. Nil means an empty block at the VM
	// hardfork.
	Block *types.Block

	SkipBalance                 bool
	SkipNonce                   bool
	SkipHardForkValidation      bool
	SkipBlockGasLimitValidation bool

	ReportAccessList bool
	ReportPreimages  bool

	// BlockGasUsed is the gas already used by earlier transactions of the
	// block; it seeds the receipt's cumulative gas.
	BlockGasUsed uint64
}

// RunTx executes one transaction against the VM state. Either every state
// change of the transaction is committed or none is: on error the state is
// exactly what it was before the call.
func (v *VM) RunTx(ctx context.Context, opts RunTxOpts) (*RunTxResult, error) {
	start := time.Now()
	v.mu.Lock()
	defer v.mu.Unlock()

	res, err := v.runTx(ctx, opts)
	switch {
	case err != nil:
		metrics.TxExecuted.WithLabelValues("invalid").Inc()
	case res.Failed():
		metrics.TxExecuted.WithLabelValues("failed").Inc()
	default:
		metrics.TxExecuted.WithLabelValues("success").Inc()
	}
	if err == nil {
		metrics.TxGasUsed.Observe(float64(res.TotalGasSpent))
	}
	metrics.TxExecTime.Observe(time.Since(start).Seconds())
	return res, err
}

func (v *VM) runTx(ctx context.Context, opts RunTxOpts) (*RunTxResult, error) {
	tx := opts.Tx
	if tx == nil {
		return nil, fmt.Errorf("%w: no transaction", ErrInvalidParams)
	}
	block := opts.Block
	if block == nil {
		block = types.NewEmptyBlock(v.chain.Hardfork)
	}
	if block.Hardfork == params.Unset {
		cpy := *block
		cpy.Hardfork = v.chain.Hardfork
		block = &cpy
	}

	if !opts.SkipHardForkValidation {
		blockFork := block.Hardfork.PreMerge()
		if tx.Hardfork().PreMerge() != blockFork {
			tx = tx.WithHardfork(block.Hardfork)
		}
		if vmFork := v.chain.Hardfork.PreMerge(); blockFork != vmFork {
			return nil, fmt.Errorf("%w: block hardfork %s does not match vm hardfork %s", ErrMisconfiguredClient, block.Hardfork, v.chain.Hardfork)
		}
	}
	if !opts.SkipBlockGasLimitValidation && block.GasLimit() < tx.Gas() {
		return nil, fmt.Errorf("%w: block gas limit %d, tx gas limit %d", ErrBlockGasLimitExceeded, block.GasLimit(), tx.Gas())
	}

	// The transaction's hardfork selects the EIPs it runs under. After
	// reconciliation it is the block's.
	rules := tx.Hardfork()
	if rules == params.Unset {
		rules = v.chain.Hardfork
	}
	j := v.journal
	// Warm sets, touched accounts and reports never outlive the transaction.
	defer j.Cleanup()

	if opts.ReportAccessList {
		j.StartAccessListReport()
	}
	if opts.ReportPreimages {
		j.StartPreimageReport()
	}
	j.Checkpoint()

	var res *RunTxResult
	err := v.prepareAccessList(tx, rules)
	if err == nil {
		res, err = v.execute(ctx, tx, block, rules, opts)
	}
	if err != nil {
		if rerr := j.Revert(); rerr != nil {
			err = errors.Join(err, rerr)
		}
		v.log.Debug("transaction reverted", "hash", tx.Hash(), "err", err)
		return nil, err
	}
	if err := j.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}

// prepareAccessList checks that a typed transaction's features are enabled
// and pre-warms its declared access list.
func (v *VM) prepareAccessList(tx *types.Transaction, rules params.Hardfork) error {
	if !tx.SupportsAccessList() {
		return nil
	}
	if !rules.IsActivated(2930) {
		return fmt.Errorf("%w: cannot run transaction: EIP 2930 is not activated", ErrEIPNotEnabled)
	}
	if tx.IsFeeMarket() && !rules.IsActivated(1559) {
		return fmt.Errorf("%w: cannot run transaction: EIP 1559 is not activated", ErrEIPNotEnabled)
	}
	for _, tuple := range tx.AccessList() {
		v.journal.AddAlwaysWarmAddress(tuple.Address, true)
		for _, key := range tuple.StorageKeys {
			v.journal.AddAlwaysWarmSlot(tuple.Address, key, true)
		}
	}
	return nil
}

func (v *VM) execute(ctx context.Context, tx *types.Transaction, block *types.Block, rules params.Hardfork, opts RunTxOpts) (*RunTxResult, error) {
	j := v.journal
	store := j.Store()

	for _, o := range v.observers {
		if err := o.BeforeTx(ctx, tx); err != nil {
			return nil, err
		}
	}

	caller, err := tx.Sender()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTransaction, err)
	}

	if rules.IsActivated(2929) {
		for _, addr := range vm.ActivePrecompiles(rules) {
			j.AddAlwaysWarmAddress(addr, false)
		}
		j.AddAlwaysWarmAddress(caller, false)
		if to := tx.To(); to != nil {
			j.AddAlwaysWarmAddress(*to, false)
		}
		if rules.IsActivated(3651) {
			j.AddAlwaysWarmAddress(block.Coinbase(), false)
		}
	}

	intrinsic, err := IntrinsicGas(tx, rules)
	if err != nil {
		return nil, err
	}
	if tx.Gas() < intrinsic {
		return nil, fmt.Errorf("%w: gasLimit is too low, given %d, need at least %d", ErrInvalidGasLimit, tx.Gas(), intrinsic)
	}
	gasLeft := tx.Gas() - intrinsic

	var baseFee *uint256.Int
	if rules.IsActivated(1559) {
		baseFee = block.BaseFee()
		if baseFee == nil {
			baseFee = new(uint256.Int)
		}
		if maxFee := tx.MaxFeePerGas(); maxFee.Lt(baseFee) {
			return nil, fmt.Errorf("%w: maxFeePerGas %s is less than the block's baseFeePerGas %s", ErrInvalidGasPrice, maxFee, baseFee)
		}
	}

	from, err := store.GetAccount(ctx, caller)
	if err != nil {
		return nil, err
	}
	if from == nil {
		from = types.NewAccount()
	}
	if rules.IsActivated(3607) && from.IsContract() {
		return nil, fmt.Errorf("%w: sender %s has deployed code", ErrInvalidTransaction, caller)
	}

	gasPrice, inclusionFee := EffectiveGasPrice(tx, baseFee)

	upfront := tx.UpfrontGasCost(gasPrice)
	if from.Balance.Lt(upfront) {
		switch {
		case !opts.SkipBalance:
			return nil, fmt.Errorf("%w: sender %s has %s, upfront cost is %s", ErrInsufficientFunds, caller, from.Balance, upfront)
		case !tx.IsFeeMarket():
			from.Balance = upfront
			j.PutAccount(caller, from)
		}
	}

	maxCost := tx.UpfrontGasCost(tx.MaxFeePerGas())
	var (
		blobGasUsed  uint64
		blobGasPrice *uint256.Int
	)
	if tx.Kind() == types.Blob {
		if !rules.IsActivated(4844) {
			return nil, fmt.Errorf("%w: blob transactions require EIP 4844", ErrEIPNotEnabled)
		}
		excess, _ := block.ExcessBlobGas()
		blobGasPrice = BlobGasPrice(excess)
		if maxBlobFee := tx.MaxFeePerBlobGas(); maxBlobFee.Lt(blobGasPrice) {
			return nil, fmt.Errorf("%w: maxFeePerBlobGas %s is less than the block blob gas price %s", ErrInvalidGasPrice, maxBlobFee, blobGasPrice)
		}
		blobGasUsed = tx.BlobGas()
		maxCost.Add(maxCost, mulGas(blobGasUsed, tx.MaxFeePerBlobGas()))
	}
	if from.Balance.Lt(maxCost) {
		if !opts.SkipBalance {
			return nil, fmt.Errorf("%w: sender %s has %s, max cost is %s", ErrInsufficientFunds, caller, from.Balance, maxCost)
		}
		from.Balance = maxCost
		j.PutAccount(caller, from)
	}

	if !opts.SkipNonce {
		switch {
		case tx.Nonce() < from.Nonce:
			return nil, fmt.Errorf("%w: address %s, tx nonce %d, state nonce %d", ErrNonceTooLow, caller, tx.Nonce(), from.Nonce)
		case tx.Nonce() > from.Nonce:
			return nil, fmt.Errorf("%w: address %s, tx nonce %d, state nonce %d", ErrNonceTooHigh, caller, tx.Nonce(), from.Nonce)
		}
	}

	txCost := mulGas(tx.Gas(), gasPrice)
	debit := txCost.Clone()
	if blobGasUsed > 0 {
		debit.Add(debit, mulGas(blobGasUsed, blobGasPrice))
	}
	from.Nonce++
	if bal, underflow := new(uint256.Int).SubOverflow(from.Balance, debit); underflow {
		if !opts.SkipBalance {
			return nil, fmt.Errorf("%w: balance underflow debiting %s", ErrInternal, debit)
		}
		from.Balance = new(uint256.Int)
	} else {
		from.Balance = bal
	}
	j.PutAccount(caller, from)

	exec, err := v.evm.RunCall(ctx, j, &vm.RunCallOpts{
		Block: vm.BlockContext{
			Number:      new(big.Int).SetUint64(block.Number()),
			Time:        block.Header.Time,
			Coinbase:    block.Coinbase(),
			GasLimit:    block.GasLimit(),
			BaseFee:     baseFee,
			BlobBaseFee: blobGasPrice,
			PrevRandao:  block.Header.MixDigest,
			Hardfork:    rules,
		},
		Caller:      caller,
		Origin:      caller,
		To:          tx.To(),
		Value:       tx.Value(),
		Data:        tx.Data(),
		GasLimit:    gasLeft,
		GasPrice:    gasPrice,
		BlobHashes:  tx.BlobHashes(),
		SkipBalance: opts.SkipBalance,
	})
	if err != nil {
		return nil, err
	}

	res := &RunTxResult{
		ExecResult:  exec,
		Bloom:       types.LogsBloom(exec.Logs),
		BlobGasUsed: blobGasUsed,
	}
	res.TotalGasSpent = exec.ExecutionGasUsed + intrinsic

	refund := exec.GasRefund
	if maxRefund := res.TotalGasSpent / RefundQuotient(rules); refund > maxRefund {
		refund = maxRefund
	}
	exec.GasRefund = refund
	res.TotalGasSpent -= refund

	res.AmountSpent = mulGas(res.TotalGasSpent, gasPrice)
	from, err = store.GetAccount(ctx, caller)
	if err != nil {
		return nil, err
	}
	if from == nil {
		from = types.NewAccount()
	}
	if txCost.Gt(res.AmountSpent) {
		from.Balance = new(uint256.Int).Add(from.Balance, new(uint256.Int).Sub(txCost, res.AmountSpent))
	}
	j.PutAccount(caller, from)

	recipient, err := v.feeRecipient(block)
	if err != nil {
		return nil, err
	}
	if rules.IsActivated(1559) {
		res.MinerValue = mulGas(res.TotalGasSpent, inclusionFee)
	} else {
		res.MinerValue = res.AmountSpent.Clone()
	}
	miner, err := store.GetAccount(ctx, recipient)
	if err != nil {
		return nil, err
	}
	if miner == nil {
		miner = types.NewAccount()
	}
	miner.Balance = new(uint256.Int).Add(miner.Balance, res.MinerValue)
	if !miner.Balance.IsZero() {
		j.PutAccount(recipient, miner)
	}

	for addr := range exec.SelfDestruct {
		if rules.IsActivated(6780) {
			if _, created := exec.CreatedAddresses[addr]; !created {
				continue
			}
		}
		j.DeleteAccount(addr)
	}
	if rules.IsActivated(158) {
		if err := j.DeleteTouchedEmpty(ctx); err != nil {
			return nil, err
		}
	}

	if opts.ReportAccessList && rules.IsActivated(2930) {
		res.AccessList = j.AccessListReport()
	}
	if opts.ReportPreimages {
		res.Preimages = j.Preimages()
	}

	if rules.IsActivated(2929) {
		j.CleanJournal()
	}

	res.Receipt, err = v.buildReceipt(ctx, tx, rules, res, opts.BlockGasUsed, blobGasPrice)
	if err != nil {
		return nil, err
	}

	ev := &AfterTxEvent{Transaction: tx, RunTxResult: res}
	for _, o := range v.observers {
		o.AfterTx(ctx, ev)
	}
	v.afterFeed.Send(ev)

	v.log.Debug("executed transaction", "hash", tx.Hash(), "sender", caller,
		"gasUsed", res.TotalGasSpent, "failed", exec.Failed())
	return res, nil
}

// feeRecipient is the clique signer on proof-of-authority chains, the
// header coinbase otherwise.
func (v *VM) feeRecipient(block *types.Block) (common.Address, error) {
	if v.chain.Consensus != Clique {
		return block.Coinbase(), nil
	}
	return v.signers.signer(block.Header)
}

func (v *VM) buildReceipt(ctx context.Context, tx *types.Transaction, rules params.Hardfork, res *RunTxResult, blockGasUsed uint64, blobGasPrice *uint256.Int) (*types.Receipt, error) {
	cumulative := blockGasUsed + res.TotalGasSpent
	status := types.ReceiptStatusSuccessful
	if res.Failed() {
		status = types.ReceiptStatusFailed
	}
	txType := tx.Inner().Type()

	switch {
	case tx.Kind() == types.Blob:
		return types.NewBlobReceipt(cumulative, res.Bloom, res.Logs, status, res.BlobGasUsed, blobGasPrice), nil
	case !tx.IsTyped() && !rules.IsActivated(658):
		root, err := v.store.StateRoot(ctx)
		if err != nil {
			return nil, err
		}
		return types.NewPreByzantiumReceipt(txType, cumulative, res.Bloom, res.Logs, root), nil
	default:
		return types.NewPostByzantiumReceipt(txType, cumulative, res.Bloom, res.Logs, status), nil
	}
}

// RunBlockOpts controls RunBlock.
type RunBlockOpts struct {
	SkipBalance bool
	SkipNonce   bool
}

// RunBlock executes every transaction of block in order, threading the
// cumulative gas through the receipts, and makes block the new head.
func (v *VM) RunBlock(ctx context.Context, block *types.Block, opts RunBlockOpts) ([]*RunTxResult, error) {
	var (
		results = make([]*RunTxResult, 0, len(block.Transactions))
		gasUsed uint64
	)
	for i, tx := range block.Transactions {
		res, err := v.RunTx(ctx, RunTxOpts{
			Tx:           tx,
			Block:        block,
			SkipBalance:  opts.SkipBalance,
			SkipNonce:    opts.SkipNonce,
			BlockGasUsed: gasUsed,
		})
		if err != nil {
			return nil, fmt.Errorf("could not apply tx %d [%v]: %w", i, tx.Hash().Hex(), err)
		}
		gasUsed = res.Receipt.CumulativeGasUsed()
		results = append(results, res)
	}
	v.SetHead(block)
	return results, nil
}
