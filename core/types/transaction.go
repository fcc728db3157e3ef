// Package types defines the transaction, block, account and receipt types
// shared by the state store, the transaction pool and the executor. Signed
// transaction variants wrap go-ethereum transactions so that hashing,
// signing and RLP encoding follow consensus rules exactly.
package types

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/eth2030/txcore/params"
)

// Kind tags the transaction variant.
type Kind uint8

const (
	Legacy Kind = iota
	AccessList
	FeeMarket
	Blob
	Impersonated
)

func (k Kind) String() string {
	switch k {
	case Legacy:
		return "legacy"
	case AccessList:
		return "accessList"
	case FeeMarket:
		return "feeMarket"
	case Blob:
		return "blob"
	case Impersonated:
		return "impersonated"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

var (
	ErrUnsupportedTxType = errors.New("unsupported transaction type")
	ErrMissingSignature  = errors.New("transaction is not signed")
)

// Transaction is a tagged union over the supported transaction variants.
// Signed variants delegate to the wrapped go-ethereum transaction; the
// impersonated variant carries its sender explicitly and has no signature.
type Transaction struct {
	kind     Kind
	inner    *gethtypes.Transaction
	from     *common.Address // impersonated sender
	sender   *senderCache
	hardfork params.Hardfork
}

// senderCache holds the sender recovered from the signature. Copies made by
// WithHardfork share it, so recovery runs at most once per transaction.
type senderCache struct {
	once sync.Once
	addr common.Address
	err  error
}

// NewTx wraps a go-ethereum transaction. The variant is derived from its
// EIP-2718 type byte.
func NewTx(tx *gethtypes.Transaction) (*Transaction, error) {
	var kind Kind
	switch tx.Type() {
	case gethtypes.LegacyTxType:
		kind = Legacy
	case gethtypes.AccessListTxType:
		kind = AccessList
	case gethtypes.DynamicFeeTxType:
		kind = FeeMarket
	case gethtypes.BlobTxType:
		kind = Blob
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedTxType, tx.Type())
	}
	return &Transaction{kind: kind, inner: tx, sender: new(senderCache)}, nil
}

// MustNewTx is NewTx for callers that construct known-good transactions.
func MustNewTx(tx *gethtypes.Transaction) *Transaction {
	t, err := NewTx(tx)
	if err != nil {
		panic(err)
	}
	return t
}

// NewImpersonatedTx builds an unsigned fee-market transaction that executes
// as if it were sent by from.
func NewImpersonatedTx(from common.Address, inner *gethtypes.DynamicFeeTx) *Transaction {
	return &Transaction{
		kind:  Impersonated,
		inner: gethtypes.NewTx(inner),
		from:  &from,
	}
}

// DecodeTx decodes a consensus-encoded (typed envelope or legacy RLP)
// transaction.
func DecodeTx(raw []byte) (*Transaction, error) {
	tx := new(gethtypes.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	return NewTx(tx)
}

// Kind returns the variant tag.
func (tx *Transaction) Kind() Kind { return tx.kind }

// Inner returns the wrapped go-ethereum transaction.
func (tx *Transaction) Inner() *gethtypes.Transaction { return tx.inner }

// Hardfork returns the hardfork the transaction was built against, or Unset.
func (tx *Transaction) Hardfork() params.Hardfork { return tx.hardfork }

// WithHardfork returns a shallow copy bound to the given hardfork.
func (tx *Transaction) WithHardfork(h params.Hardfork) *Transaction {
	cpy := *tx
	cpy.hardfork = h
	return &cpy
}

// Hash returns the transaction hash. Impersonated transactions hash the
// unsigned payload together with the sender so that identical payloads from
// different senders do not collide.
func (tx *Transaction) Hash() common.Hash {
	if tx.kind == Impersonated {
		h := tx.inner.Hash()
		return crypto.Keccak256Hash(h[:], tx.from[:])
	}
	return tx.inner.Hash()
}

func (tx *Transaction) Nonce() uint64       { return tx.inner.Nonce() }
func (tx *Transaction) Gas() uint64         { return tx.inner.Gas() }
func (tx *Transaction) To() *common.Address { return tx.inner.To() }
func (tx *Transaction) Data() []byte        { return tx.inner.Data() }

// Value returns the transferred amount in wei.
func (tx *Transaction) Value() *uint256.Int { return toU256(tx.inner.Value()) }

// AccessList returns the EIP-2930 access list (nil for legacy).
func (tx *Transaction) AccessList() gethtypes.AccessList { return tx.inner.AccessList() }

// GasPrice returns the legacy gas price. For fee-market variants it equals
// the max fee per gas.
func (tx *Transaction) GasPrice() *uint256.Int { return toU256(tx.inner.GasPrice()) }

// MaxFeePerGas returns the fee cap (gas price for legacy variants).
func (tx *Transaction) MaxFeePerGas() *uint256.Int { return toU256(tx.inner.GasFeeCap()) }

// MaxPriorityFeePerGas returns the tip cap (gas price for legacy variants).
func (tx *Transaction) MaxPriorityFeePerGas() *uint256.Int { return toU256(tx.inner.GasTipCap()) }

// MaxFeePerBlobGas returns the blob fee cap, zero for non-blob variants.
func (tx *Transaction) MaxFeePerBlobGas() *uint256.Int { return toU256(tx.inner.BlobGasFeeCap()) }

// BlobHashes returns the versioned blob hashes.
func (tx *Transaction) BlobHashes() []common.Hash { return tx.inner.BlobHashes() }

// NumBlobs returns the number of blobs referenced by the transaction.
func (tx *Transaction) NumBlobs() uint64 { return uint64(len(tx.inner.BlobHashes())) }

// BlobGas returns the total blob gas the transaction consumes.
func (tx *Transaction) BlobGas() uint64 { return tx.NumBlobs() * params.BlobGasPerBlob }

// BlobSidecar returns the attached blob sidecar, if any.
func (tx *Transaction) BlobSidecar() *gethtypes.BlobTxSidecar { return tx.inner.BlobTxSidecar() }

// ChainID returns the chain id the transaction commits to.
func (tx *Transaction) ChainID() *big.Int { return tx.inner.ChainId() }

// IsTyped reports whether the transaction is an EIP-2718 typed envelope.
func (tx *Transaction) IsTyped() bool { return tx.kind != Legacy }

// SupportsAccessList reports whether the variant carries an access list.
func (tx *Transaction) SupportsAccessList() bool { return tx.kind != Legacy }

// IsFeeMarket reports whether the variant prices gas with
// maxFeePerGas/maxPriorityFeePerGas.
func (tx *Transaction) IsFeeMarket() bool {
	switch tx.kind {
	case FeeMarket, Blob, Impersonated:
		return true
	default:
		return false
	}
}

// IsSigned reports whether the transaction carries a signature.
// Impersonated transactions never do.
func (tx *Transaction) IsSigned() bool {
	if tx.kind == Impersonated {
		return false
	}
	_, r, s := tx.inner.RawSignatureValues()
	return r != nil && s != nil && r.Sign() != 0 && s.Sign() != 0
}

// Sender returns the sender address, recovering it from the signature for
// signed variants. It is safe for concurrent use.
func (tx *Transaction) Sender() (common.Address, error) {
	if tx.from != nil {
		return *tx.from, nil
	}
	if !tx.IsSigned() {
		return common.Address{}, ErrMissingSignature
	}
	c := tx.sender
	c.once.Do(func() {
		c.addr, c.err = gethtypes.Sender(gethtypes.LatestSignerForChainID(tx.inner.ChainId()), tx.inner)
	})
	if c.err != nil {
		return common.Address{}, c.err
	}
	return c.addr, nil
}

// MarshalBinary returns the consensus encoding of the wrapped transaction.
func (tx *Transaction) MarshalBinary() ([]byte, error) {
	return tx.inner.MarshalBinary()
}

// UpfrontGasCost returns gasLimit * price + value for the given gas price.
func (tx *Transaction) UpfrontGasCost(price *uint256.Int) *uint256.Int {
	cost := new(uint256.Int).Mul(new(uint256.Int).SetUint64(tx.Gas()), price)
	return cost.Add(cost, tx.Value())
}

func (tx *Transaction) String() string {
	return fmt.Sprintf("%s tx %s nonce=%d", tx.kind, tx.Hash().Hex(), tx.Nonce())
}

func toU256(b *big.Int) *uint256.Int {
	if b == nil || b.Sign() <= 0 {
		return new(uint256.Int)
	}
	u, overflow := uint256.FromBig(b)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return u
}
