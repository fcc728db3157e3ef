package state

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/eth2030/txcore/core/types"
)

// Source is the remote state backend a Store falls back to on cache misses.
// A nil block number means "latest".
type Source interface {
	BlockNumber(ctx context.Context) (uint64, error)
	GetProof(ctx context.Context, addr common.Address, keys []common.Hash, block *big.Int) (*AccountProof, error)
	StorageAt(ctx context.Context, addr common.Address, key common.Hash, block *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, addr common.Address, block *big.Int) ([]byte, error)
}

// AccountProof is an EIP-1186 eth_getProof response with decoded proof
// nodes.
type AccountProof struct {
	Address      common.Address
	AccountProof [][]byte
	Balance      *uint256.Int
	CodeHash     common.Hash
	Nonce        uint64
	StorageHash  common.Hash
	StorageProof []StorageProof
}

// StorageProof is the proof of a single storage slot.
type StorageProof struct {
	Key   common.Hash
	Value *uint256.Int
	Proof [][]byte
}

// Account returns the account described by the proof.
func (p *AccountProof) Account() *types.Account {
	acct := &types.Account{
		Nonce:       p.Nonce,
		Balance:     new(uint256.Int),
		StorageRoot: p.StorageHash,
		CodeHash:    p.CodeHash,
	}
	if p.Balance != nil {
		acct.Balance.Set(p.Balance)
	}
	if acct.StorageRoot == (common.Hash{}) {
		acct.StorageRoot = types.EmptyRootHash
	}
	if acct.CodeHash == (common.Hash{}) {
		acct.CodeHash = types.EmptyCodeHash
	}
	return acct
}
