package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// ReceiptKind tags the receipt variant.
type ReceiptKind uint8

const (
	// PreByzantiumReceipt commits to the post-transaction state root.
	PreByzantiumReceipt ReceiptKind = iota
	// PostByzantiumReceipt carries a status bit.
	PostByzantiumReceipt
	// BlobReceipt carries a status bit plus blob gas accounting.
	BlobReceipt
)

// Receipt status values.
const (
	ReceiptStatusFailed     = uint8(0)
	ReceiptStatusSuccessful = uint8(1)
)

// Receipt is the immutable outcome of one transaction. Construct with
// NewPreByzantiumReceipt, NewPostByzantiumReceipt or NewBlobReceipt.
type Receipt struct {
	kind              ReceiptKind
	txType            uint8
	cumulativeGasUsed uint64
	bloom             Bloom
	logs              []*gethtypes.Log
	stateRoot         common.Hash
	status            uint8
	blobGasUsed       uint64
	blobGasPrice      *uint256.Int
}

// NewPreByzantiumReceipt builds a state-root receipt.
func NewPreByzantiumReceipt(txType uint8, cumulativeGasUsed uint64, bloom Bloom, logs []*gethtypes.Log, root common.Hash) *Receipt {
	return &Receipt{
		kind:              PreByzantiumReceipt,
		txType:            txType,
		cumulativeGasUsed: cumulativeGasUsed,
		bloom:             bloom,
		logs:              logs,
		stateRoot:         root,
	}
}

// NewPostByzantiumReceipt builds a status receipt.
func NewPostByzantiumReceipt(txType uint8, cumulativeGasUsed uint64, bloom Bloom, logs []*gethtypes.Log, status uint8) *Receipt {
	return &Receipt{
		kind:              PostByzantiumReceipt,
		txType:            txType,
		cumulativeGasUsed: cumulativeGasUsed,
		bloom:             bloom,
		logs:              logs,
		status:            status,
	}
}

// NewBlobReceipt builds a status receipt with EIP-4844 blob gas fields.
func NewBlobReceipt(cumulativeGasUsed uint64, bloom Bloom, logs []*gethtypes.Log, status uint8, blobGasUsed uint64, blobGasPrice *uint256.Int) *Receipt {
	return &Receipt{
		kind:              BlobReceipt,
		txType:            gethtypes.BlobTxType,
		cumulativeGasUsed: cumulativeGasUsed,
		bloom:             bloom,
		logs:              logs,
		status:            status,
		blobGasUsed:       blobGasUsed,
		blobGasPrice:      blobGasPrice.Clone(),
	}
}

func (r *Receipt) Kind() ReceiptKind          { return r.kind }
func (r *Receipt) TxType() uint8              { return r.txType }
func (r *Receipt) CumulativeGasUsed() uint64  { return r.cumulativeGasUsed }
func (r *Receipt) Bloom() Bloom               { return r.bloom }
func (r *Receipt) Logs() []*gethtypes.Log     { return r.logs }
func (r *Receipt) BlobGasUsed() uint64        { return r.blobGasUsed }
func (r *Receipt) StateRoot() (common.Hash, bool) {
	return r.stateRoot, r.kind == PreByzantiumReceipt
}

// Status returns the status bit and whether the receipt carries one.
func (r *Receipt) Status() (uint8, bool) {
	return r.status, r.kind != PreByzantiumReceipt
}

// BlobGasPrice returns the blob gas price for blob receipts, nil otherwise.
func (r *Receipt) BlobGasPrice() *uint256.Int {
	if r.blobGasPrice == nil {
		return nil
	}
	return r.blobGasPrice.Clone()
}

// ToGeth converts to a go-ethereum receipt carrying the consensus fields.
func (r *Receipt) ToGeth() *gethtypes.Receipt {
	out := &gethtypes.Receipt{
		Type:              r.txType,
		CumulativeGasUsed: r.cumulativeGasUsed,
		Bloom:             r.bloom,
		Logs:              r.logs,
	}
	switch r.kind {
	case PreByzantiumReceipt:
		out.PostState = r.stateRoot.Bytes()
	case PostByzantiumReceipt:
		out.Status = uint64(r.status)
	case BlobReceipt:
		out.Status = uint64(r.status)
		out.BlobGasUsed = r.blobGasUsed
		if r.blobGasPrice != nil {
			out.BlobGasPrice = r.blobGasPrice.ToBig()
		}
	}
	return out
}

// MarshalBinary returns the consensus encoding of the receipt.
func (r *Receipt) MarshalBinary() ([]byte, error) {
	return r.ToGeth().MarshalBinary()
}

func (r *Receipt) String() string {
	switch r.kind {
	case PreByzantiumReceipt:
		return fmt.Sprintf("receipt{root=%s cumulativeGas=%d logs=%d}", r.stateRoot.Hex(), r.cumulativeGasUsed, len(r.logs))
	default:
		return fmt.Sprintf("receipt{status=%d cumulativeGas=%d logs=%d blobGas=%d}", r.status, r.cumulativeGasUsed, len(r.logs), r.blobGasUsed)
	}
}
