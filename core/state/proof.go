package state

import (
	"errors"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/trie"

	"github.com/eth2030/txcore/core/types"
)

var (
	// ErrEmptyProof is returned when a proof carries no nodes.
	ErrEmptyProof = errors.New("state: empty account proof")
	// ErrProofMismatch is returned when the proven leaf disagrees with the
	// account fields declared alongside the proof.
	ErrProofMismatch = errors.New("state: proven account does not match declared fields")
)

// VerifyAccountProof checks the membership of proof.Address in the trie
// whose root is the hash of the first proof node. It returns true only when
// the proof resolves to an account leaf that matches the declared fields;
// a valid exclusion proof returns false with a nil error.
func VerifyAccountProof(proof *AccountProof) (bool, error) {
	if len(proof.AccountProof) == 0 {
		return false, ErrEmptyProof
	}
	root := crypto.Keccak256Hash(proof.AccountProof[0])

	db := memorydb.New()
	for _, node := range proof.AccountProof {
		if err := db.Put(crypto.Keccak256(node), node); err != nil {
			return false, err
		}
	}
	leaf, err := trie.VerifyProof(root, crypto.Keccak256(proof.Address.Bytes()), db)
	if err != nil {
		return false, err
	}
	if leaf == nil {
		return false, nil
	}
	acct, err := types.DecodeAccount(leaf)
	if err != nil {
		return false, err
	}
	declared := proof.Account()
	if acct.Nonce != declared.Nonce || !acct.Balance.Eq(declared.Balance) ||
		acct.CodeHash != declared.CodeHash || acct.StorageRoot != declared.StorageRoot {
		return false, ErrProofMismatch
	}
	return true, nil
}
