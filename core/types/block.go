package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/eth2030/txcore/params"
)

// Header is the consensus block header supplied by the caller.
type Header = gethtypes.Header

// Block is the execution context for transactions: a header, the hardfork
// its rules follow, and the transactions it includes.
type Block struct {
	Header       *Header
	Hardfork     params.Hardfork
	Transactions []*Transaction
}

// NewBlock assembles a block from its parts.
func NewBlock(header *Header, hardfork params.Hardfork, txs []*Transaction) *Block {
	return &Block{Header: header, Hardfork: hardfork, Transactions: txs}
}

// NewEmptyBlock returns a transactionless block at the given hardfork with
// the default gas limit. Blocks from London on carry a zero base fee; from
// Cancun on a zero excess blob gas.
func NewEmptyBlock(hardfork params.Hardfork) *Block {
	header := &Header{
		Number:     new(big.Int),
		Difficulty: new(big.Int),
		GasLimit:   params.DefaultBlockGasLimit,
	}
	if hardfork.IsActivated(1559) {
		header.BaseFee = new(big.Int)
	}
	if hardfork.IsActivated(4844) {
		var excess uint64
		header.ExcessBlobGas = &excess
	}
	return &Block{Header: header, Hardfork: hardfork}
}

// GasLimit returns the header gas limit.
func (b *Block) GasLimit() uint64 { return b.Header.GasLimit }

// Coinbase returns the fee recipient named in the header.
func (b *Block) Coinbase() common.Address { return b.Header.Coinbase }

// BaseFee returns the header base fee, or nil before London.
func (b *Block) BaseFee() *uint256.Int {
	if b.Header.BaseFee == nil {
		return nil
	}
	return toU256(b.Header.BaseFee)
}

// ExcessBlobGas returns the header excess blob gas, if present.
func (b *Block) ExcessBlobGas() (uint64, bool) {
	if b.Header.ExcessBlobGas == nil {
		return 0, false
	}
	return *b.Header.ExcessBlobGas, true
}

// Number returns the block number.
func (b *Block) Number() uint64 {
	if b.Header.Number == nil {
		return 0
	}
	return b.Header.Number.Uint64()
}
