package core

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"

	"github.com/eth2030/txcore/core/types"
)

func TestEffectiveGasPrice(t *testing.T) {
	to := common.HexToAddress("0x01")
	legacy := types.MustNewTx(gethtypes.NewTx(&gethtypes.LegacyTx{GasPrice: big.NewInt(30), To: &to}))
	dynamic := types.MustNewTx(gethtypes.NewTx(&gethtypes.DynamicFeeTx{
		ChainID: big.NewInt(1), GasTipCap: big.NewInt(5), GasFeeCap: big.NewInt(30), To: &to,
	}))

	tests := []struct {
		name          string
		tx            *types.Transaction
		baseFee       *uint256.Int
		price, tipped uint64
	}{
		{"legacy pre-london", legacy, nil, 30, 30},
		{"legacy london", legacy, uint256.NewInt(10), 30, 20},
		{"legacy below base fee", legacy, uint256.NewInt(40), 30, 0},
		{"dynamic pre-london", dynamic, nil, 30, 30},
		{"dynamic tip bound", dynamic, uint256.NewInt(10), 15, 5},
		{"dynamic fee cap bound", dynamic, uint256.NewInt(28), 30, 2},
	}
	for _, tt := range tests {
		price, tip := EffectiveGasPrice(tt.tx, tt.baseFee)
		assert.Equal(t, tt.price, price.Uint64(), tt.name)
		assert.Equal(t, tt.tipped, tip.Uint64(), tt.name)
	}
}
