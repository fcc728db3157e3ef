package core

import (
	"math/big"

	"github.com/holiman/uint256"

	"github.com/eth2030/txcore/core/types"
	"github.com/eth2030/txcore/params"
)

// BlobGasPrice returns the price per unit of blob gas for a block with the
// given excess blob gas.
func BlobGasPrice(excessBlobGas uint64) *uint256.Int {
	price := fakeExponential(
		new(big.Int).SetUint64(params.MinBlobGasPrice),
		new(big.Int).SetUint64(excessBlobGas),
		new(big.Int).SetUint64(params.BlobGasPriceUpdateFraction),
	)
	out, overflow := uint256.FromBig(price)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return out
}

// BlockBlobGasPrice returns the blob gas price of b, or nil if the block
// carries no excess blob gas.
func BlockBlobGasPrice(b *types.Block) *uint256.Int {
	excess, ok := b.ExcessBlobGas()
	if !ok {
		return nil
	}
	return BlobGasPrice(excess)
}

// fakeExponential approximates factor * e ** (numerator / denominator)
// using a Taylor expansion.
func fakeExponential(factor, numerator, denominator *big.Int) *big.Int {
	var (
		output = new(big.Int)
		accum  = new(big.Int).Mul(factor, denominator)
	)
	for i := 1; accum.Sign() > 0; i++ {
		output.Add(output, accum)

		accum.Mul(accum, numerator)
		accum.Div(accum, denominator)
		accum.Div(accum, big.NewInt(int64(i)))
	}
	return output.Div(output, denominator)
}
