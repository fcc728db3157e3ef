package types

import (
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

var (
	// EmptyRootHash is the root of an empty storage trie.
	EmptyRootHash = gethtypes.EmptyRootHash
	// EmptyCodeHash is keccak256 of empty code.
	EmptyCodeHash = gethtypes.EmptyCodeHash
)

// Account is the state of a single address.
type Account struct {
	Nonce       uint64
	Balance     *uint256.Int
	StorageRoot common.Hash
	CodeHash    common.Hash
}

// NewAccount returns a zero account with empty storage and code.
func NewAccount() *Account {
	return &Account{
		Balance:     new(uint256.Int),
		StorageRoot: EmptyRootHash,
		CodeHash:    EmptyCodeHash,
	}
}

// Copy returns a deep copy.
func (a *Account) Copy() *Account {
	cpy := *a
	if a.Balance != nil {
		cpy.Balance = a.Balance.Clone()
	} else {
		cpy.Balance = new(uint256.Int)
	}
	return &cpy
}

// IsEmpty reports EIP-161 emptiness: zero nonce, zero balance, no code.
func (a *Account) IsEmpty() bool {
	return a.Nonce == 0 && (a.Balance == nil || a.Balance.IsZero()) && a.CodeHash == EmptyCodeHash
}

// IsContract reports whether the account has code.
func (a *Account) IsContract() bool {
	return a.CodeHash != EmptyCodeHash && a.CodeHash != (common.Hash{})
}

// StateAccount converts to the go-ethereum trie representation.
func (a *Account) StateAccount() *gethtypes.StateAccount {
	return &gethtypes.StateAccount{
		Nonce:    a.Nonce,
		Balance:  a.Balance.Clone(),
		Root:     a.StorageRoot,
		CodeHash: a.CodeHash.Bytes(),
	}
}

// Serialize returns the trie encoding [nonce, balance, root, codeHash].
func (a *Account) Serialize() ([]byte, error) {
	return rlp.EncodeToBytes(a.StateAccount())
}

// DecodeAccount parses a trie-encoded account.
func DecodeAccount(enc []byte) (*Account, error) {
	var sa gethtypes.StateAccount
	if err := rlp.DecodeBytes(enc, &sa); err != nil {
		return nil, err
	}
	acct := &Account{
		Nonce:       sa.Nonce,
		Balance:     sa.Balance,
		StorageRoot: sa.Root,
		CodeHash:    common.BytesToHash(sa.CodeHash),
	}
	if acct.Balance == nil {
		acct.Balance = new(uint256.Int)
	}
	return acct, nil
}
