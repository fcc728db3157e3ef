package core

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/eth2030/txcore/core/types"
	"github.com/eth2030/txcore/params"
)

func unsignedLegacy(to *common.Address, data []byte) *types.Transaction {
	return types.MustNewTx(gethtypes.NewTx(&gethtypes.LegacyTx{Gas: 1_000_000, To: to, Data: data, GasPrice: new(big.Int), Value: new(big.Int)}))
}

func TestIntrinsicGas(t *testing.T) {
	to := common.HexToAddress("0x01")
	accessList := types.MustNewTx(gethtypes.NewTx(&gethtypes.AccessListTx{
		ChainID: big.NewInt(1),
		To:      &to,
		AccessList: gethtypes.AccessList{
			{Address: to, StorageKeys: []common.Hash{{0x01}, {0x02}}},
		},
	}))
	initcode := bytes.Repeat([]byte{0xff}, 33)

	tests := []struct {
		name string
		tx   *types.Transaction
		fork params.Hardfork
		want uint64
	}{
		{"transfer", unsignedLegacy(&to, nil), params.Cancun, 21000},
		{"create frontier", unsignedLegacy(nil, nil), params.Chainstart, 21000},
		{"create homestead", unsignedLegacy(nil, nil), params.Homestead, 53000},
		{"calldata frontier", unsignedLegacy(&to, []byte{0x00, 0x01}), params.Chainstart, 21000 + 4 + 68},
		{"calldata istanbul", unsignedLegacy(&to, []byte{0x00, 0x01}), params.Istanbul, 21000 + 4 + 16},
		{"access list", accessList, params.Berlin, 21000 + 2400 + 2*1900},
		{"initcode london", unsignedLegacy(nil, initcode), params.London, 53000 + 33*16},
		{"initcode shanghai", unsignedLegacy(nil, initcode), params.Shanghai, 53000 + 33*16 + 2*2},
	}
	for _, tt := range tests {
		got, err := IntrinsicGas(tt.tx, tt.fork)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("%s: IntrinsicGas = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestIntrinsicGasInitcodeLimit(t *testing.T) {
	tx := unsignedLegacy(nil, make([]byte, params.MaxInitCodeSize+1))
	if _, err := IntrinsicGas(tx, params.Shanghai); !errors.Is(err, ErrInvalidTransaction) {
		t.Fatalf("expected ErrInvalidTransaction, got %v", err)
	}
	if _, err := IntrinsicGas(tx, params.London); err != nil {
		t.Fatalf("initcode limit applied before Shanghai: %v", err)
	}
}

func TestRefundQuotient(t *testing.T) {
	if q := RefundQuotient(params.Berlin); q != 2 {
		t.Errorf("Berlin refund quotient = %d, want 2", q)
	}
	if q := RefundQuotient(params.London); q != 5 {
		t.Errorf("London refund quotient = %d, want 5", q)
	}
}
