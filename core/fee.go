package core

import (
	"github.com/holiman/uint256"

	"github.com/eth2030/txcore/core/types"
)

// EffectiveGasPrice returns the per-gas price the sender pays and the part
// of it the fee recipient keeps. A nil baseFee means a pre-London block:
// the whole price goes to the fee recipient.
//
// Fee-market variants pay min(maxPriorityFee, maxFee - baseFee) + baseFee.
// Legacy and access-list variants pay gasPrice and tip gasPrice - baseFee.
func EffectiveGasPrice(tx *types.Transaction, baseFee *uint256.Int) (price, inclusionFee *uint256.Int) {
	if baseFee == nil {
		if tx.IsFeeMarket() {
			price = tx.MaxFeePerGas()
		} else {
			price = tx.GasPrice()
		}
		return price, price.Clone()
	}
	if tx.IsFeeMarket() {
		inclusionFee = new(uint256.Int)
		maxFee := tx.MaxFeePerGas()
		if maxFee.Gt(baseFee) {
			inclusionFee.Sub(maxFee, baseFee)
		}
		if tip := tx.MaxPriorityFeePerGas(); tip.Lt(inclusionFee) {
			inclusionFee.Set(tip)
		}
		return new(uint256.Int).Add(inclusionFee, baseFee), inclusionFee
	}
	price = tx.GasPrice()
	inclusionFee = new(uint256.Int)
	if price.Gt(baseFee) {
		inclusionFee.Sub(price, baseFee)
	}
	return price, inclusionFee
}

// mulGas returns gas * price.
func mulGas(gas uint64, price *uint256.Int) *uint256.Int {
	return new(uint256.Int).Mul(new(uint256.Int).SetUint64(gas), price)
}
