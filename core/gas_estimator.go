package core

import (
	"errors"
	"fmt"
	"math"

	"github.com/eth2030/txcore/core/types"
	"github.com/eth2030/txcore/params"
)

// ErrGasUint64Overflow is returned when intrinsic gas overflows uint64.
var ErrGasUint64Overflow = errors.New("gas uint64 overflow")

// IntrinsicGas returns the gas charged before execution: the base cost, the
// contract-creation surcharge, calldata and the access list.
func IntrinsicGas(tx *types.Transaction, rules params.Hardfork) (uint64, error) {
	data := tx.Data()
	isCreate := tx.To() == nil

	gas := params.TxGas
	if isCreate && rules.Gte(params.Homestead) {
		gas = params.TxGasContractCreation
	}

	if len(data) > 0 {
		var zeros uint64
		for _, b := range data {
			if b == 0 {
				zeros++
			}
		}
		nonZeros := uint64(len(data)) - zeros

		nonZeroGas := params.TxDataNonZeroGasFrontier
		if rules.IsActivated(2028) {
			nonZeroGas = params.TxDataNonZeroGasEIP2028
		}
		if (math.MaxUint64-gas)/nonZeroGas < nonZeros {
			return 0, ErrGasUint64Overflow
		}
		gas += nonZeros * nonZeroGas

		if (math.MaxUint64-gas)/params.TxDataZeroGas < zeros {
			return 0, ErrGasUint64Overflow
		}
		gas += zeros * params.TxDataZeroGas
	}

	if isCreate && rules.IsActivated(3860) {
		if len(data) > params.MaxInitCodeSize {
			return 0, fmt.Errorf("%w: initcode size %d exceeds limit %d", ErrInvalidTransaction, len(data), params.MaxInitCodeSize)
		}
		words := (uint64(len(data)) + 31) / 32
		if (math.MaxUint64-gas)/params.InitCodeWordGas < words {
			return 0, ErrGasUint64Overflow
		}
		gas += words * params.InitCodeWordGas
	}

	if tx.SupportsAccessList() {
		for _, tuple := range tx.AccessList() {
			gas += params.TxAccessListAddressGas
			if gas < params.TxAccessListAddressGas {
				return 0, ErrGasUint64Overflow
			}
			keys := uint64(len(tuple.StorageKeys))
			if (math.MaxUint64-gas)/params.TxAccessListStorageKeyGas < keys {
				return 0, ErrGasUint64Overflow
			}
			gas += keys * params.TxAccessListStorageKeyGas
		}
	}
	return gas, nil
}
