package txpool

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/eth2030/txcore/core/types"
)

// gasPrice is the fee a transaction offers: the cap it pays per gas and the
// tip the block producer keeps. Legacy and access-list transactions offer
// their gas price as both.
type gasPrice struct {
	maxFee *uint256.Int
	tip    *uint256.Int
}

func txGasPrice(tx *types.Transaction) gasPrice {
	if tx.IsFeeMarket() {
		return gasPrice{maxFee: tx.MaxFeePerGas(), tip: tx.MaxPriorityFeePerGas()}
	}
	price := tx.GasPrice()
	return gasPrice{maxFee: price, tip: price}
}

// bumped returns v raised by percent.
func bumped(v *uint256.Int, percent uint64) *uint256.Int {
	inc := new(uint256.Int).Mul(v, uint256.NewInt(percent))
	inc.Div(inc, uint256.NewInt(100))
	return inc.Add(inc, v)
}

// validate runs every admission rule against a private copy of the state.
// The pool lock is only held while inspecting pooled transactions.
func (p *TxPool) validate(ctx context.Context, tx *types.Transaction, opts AddOptions) error {
	if opts.RequireSignature && !tx.IsSigned() {
		return ErrMissingSignature
	}
	if size := len(tx.Data()); size > p.config.MaxDataBytes {
		return fmt.Errorf("%w: size %d, limit %d", ErrOversizedData, size, p.config.MaxDataBytes)
	}
	from, err := tx.Sender()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSender, err)
	}
	price := txGasPrice(tx)

	if !opts.Local {
		if n := p.Len(); n >= p.config.MaxPoolSize {
			return fmt.Errorf("%w: %d transactions", ErrTxPoolFull, n)
		}
		if price.tip.Lt(p.config.MinGasPrice) {
			return fmt.Errorf("%w: tip %s, minimum %s", ErrUnderpriced, price.tip, p.config.MinGasPrice)
		}
	}
	if err := p.validatePooled(tx, from, opts.Local); err != nil {
		return err
	}
	if err := p.validateBlobs(tx); err != nil {
		return err
	}

	head := p.backend.CurrentBlock()
	if baseFee := head.BaseFee(); baseFee != nil && !baseFee.IsZero() && !opts.Local {
		floor := new(uint256.Int).Rsh(baseFee, 1)
		if price.maxFee.Lt(floor) {
			return fmt.Errorf("%w: base fee %s, max fee %s", ErrFeeCapBelowBaseFee, baseFee, price.maxFee)
		}
	}
	if tx.Gas() > head.GasLimit() {
		return fmt.Errorf("%w: tx gas %d, block gas limit %d", ErrGasLimit, tx.Gas(), head.GasLimit())
	}

	st, err := p.backend.State().DeepCopy(ctx)
	if err != nil {
		return fmt.Errorf("txpool: copy state: %w", err)
	}
	acct, err := st.GetAccount(ctx, from)
	if err != nil {
		return fmt.Errorf("txpool: load sender %s: %w", from, err)
	}
	if acct == nil {
		acct = types.NewAccount()
	}
	if acct.Nonce > tx.Nonce() {
		return fmt.Errorf("%w: address %s, tx nonce %d, state nonce %d", ErrNonceTooLow, from, tx.Nonce(), acct.Nonce)
	}
	if opts.SkipBalance {
		return nil
	}
	cost, overflow := new(uint256.Int).MulOverflow(price.maxFee, uint256.NewInt(tx.Gas()))
	if !overflow {
		_, overflow = cost.AddOverflow(cost, tx.Value())
	}
	if overflow || acct.Balance.Lt(cost) {
		return fmt.Errorf("%w: address %s, balance %s, need %s", ErrInsufficientFunds, from, acct.Balance, cost)
	}
	return nil
}

// validatePooled checks tx against what the sender already has pooled: the
// per-account limit and the replace-by-fee bump.
func (p *TxPool) validatePooled(tx *types.Transaction, from common.Address, local bool) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	list, ok := p.pool[senderKey(from)]
	if !ok {
		return nil
	}
	if !local && list.Len() >= p.config.MaxTxsPerAccount {
		return fmt.Errorf("%w: address %s has %d", ErrSenderLimitExceeded, from, list.Len())
	}
	existing, ok := list.Get(&PoolEntry{Tx: tx})
	if !ok {
		return nil
	}
	if existing.Hash == tx.Hash() {
		return fmt.Errorf("%w: %s", ErrAlreadyKnown, existing.Hash)
	}
	return checkReplacement(existing.Tx, tx, p.config.PriceBumpPercent)
}

// checkReplacement requires newTx to raise both the tip and the fee cap of
// oldTx by percent. Between two blob transactions the blob fee cap must
// rise too.
func checkReplacement(oldTx, newTx *types.Transaction, percent uint64) error {
	oldPrice, newPrice := txGasPrice(oldTx), txGasPrice(newTx)
	minTip := bumped(oldPrice.tip, percent)
	minFee := bumped(oldPrice.maxFee, percent)
	if newPrice.tip.Lt(minTip) || newPrice.maxFee.Lt(minFee) {
		return fmt.Errorf("%w: tip %s, min %s, fee %s, min %s",
			ErrReplacementUnderpriced, newPrice.tip, minTip, newPrice.maxFee, minFee)
	}
	if oldTx.Kind() == types.Blob && newTx.Kind() == types.Blob {
		minBlobFee := bumped(oldTx.MaxFeePerBlobGas(), percent)
		if newTx.MaxFeePerBlobGas().Lt(minBlobFee) {
			return fmt.Errorf("%w: blob fee %s, min %s",
				ErrReplacementUnderpriced, newTx.MaxFeePerBlobGas(), minBlobFee)
		}
	}
	return nil
}

// validateBlobs checks a blob transaction's versioned hashes and, when the
// network form carries a sidecar, its commitments and proofs.
func (p *TxPool) validateBlobs(tx *types.Transaction) error {
	if tx.Kind() != types.Blob {
		return nil
	}
	if tx.NumBlobs() == 0 {
		return ErrBlobTxMissingHashes
	}
	sidecar := tx.BlobSidecar()
	if sidecar == nil {
		return nil
	}
	if err := sidecar.ValidateBlobCommitmentHashes(tx.BlobHashes()); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBlobSidecar, err)
	}
	if p.config.Verifier == nil {
		return nil
	}
	if err := p.config.Verifier.VerifySidecar(sidecar); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBlobSidecar, err)
	}
	return nil
}
