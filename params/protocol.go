package params

import gethparams "github.com/ethereum/go-ethereum/params"

// Gas schedule values. Values that go-ethereum publishes are re-exported so
// callers need a single import.
const (
	TxGas                     = gethparams.TxGas
	TxGasContractCreation     = gethparams.TxGasContractCreation
	TxDataZeroGas             = gethparams.TxDataZeroGas
	TxDataNonZeroGasFrontier  = gethparams.TxDataNonZeroGasFrontier
	TxDataNonZeroGasEIP2028   = gethparams.TxDataNonZeroGasEIP2028
	TxAccessListAddressGas    = gethparams.TxAccessListAddressGas
	TxAccessListStorageKeyGas = gethparams.TxAccessListStorageKeyGas
	InitCodeWordGas           = gethparams.InitCodeWordGas
	MaxInitCodeSize           = gethparams.MaxInitCodeSize

	// RefundQuotient bounds the refund before EIP-3529.
	RefundQuotient = gethparams.RefundQuotient
	// RefundQuotientEIP3529 bounds the refund from London on.
	RefundQuotientEIP3529 = gethparams.RefundQuotientEIP3529

	// BlobGasPerBlob is the blob gas consumed by a single blob (EIP-4844).
	BlobGasPerBlob = gethparams.BlobTxBlobGasPerBlob
)

// EIP-4844 blob fee market parameters (Cancun schedule).
const (
	MinBlobGasPrice            uint64 = 1
	BlobGasPriceUpdateFraction uint64 = 3338477
	MaxBlobsPerBlock           uint64 = 6
)

// DefaultBlockGasLimit is used for the synthetic empty block when the caller
// supplies none.
const DefaultBlockGasLimit uint64 = 30_000_000
