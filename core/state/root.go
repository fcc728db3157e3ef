package state

import (
	"bytes"
	"context"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"

	"github.com/eth2030/txcore/core/types"
)

type trieLeaf struct {
	key   []byte
	value []byte
}

// hashLeaves builds a secure trie (keys hashed with keccak256) over leaves.
func hashLeaves(leaves []trieLeaf) (common.Hash, error) {
	if len(leaves) == 0 {
		return types.EmptyRootHash, nil
	}
	slices.SortFunc(leaves, func(a, b trieLeaf) int { return bytes.Compare(a.key, b.key) })
	st := trie.NewStackTrie(nil)
	for _, l := range leaves {
		if err := st.Update(l.key, l.value); err != nil {
			return common.Hash{}, err
		}
	}
	return st.Hash(), nil
}

// StateRoot computes the Merkle-Patricia root over the locally known state.
// Accounts with cached storage get their storage root recomputed from the
// cache; others keep the root they were fetched or written with. For a
// forked store this is a root over the touched subset only.
func (s *Store) StateRoot(ctx context.Context) (common.Hash, error) {
	var accounts []trieLeaf
	for _, addr := range s.Addresses() {
		acct, err := s.GetAccount(ctx, addr)
		if err != nil {
			return common.Hash{}, err
		}
		if acct == nil {
			continue
		}
		if slots := s.DumpStorage(addr); len(slots) > 0 {
			leaves := make([]trieLeaf, 0, len(slots))
			for k, v := range slots {
				enc, err := rlp.EncodeToBytes(v)
				if err != nil {
					return common.Hash{}, err
				}
				leaves = append(leaves, trieLeaf{key: crypto.Keccak256(k[:]), value: enc})
			}
			root, err := hashLeaves(leaves)
			if err != nil {
				return common.Hash{}, err
			}
			acct.StorageRoot = root
		}
		enc, err := acct.Serialize()
		if err != nil {
			return common.Hash{}, err
		}
		accounts = append(accounts, trieLeaf{key: crypto.Keccak256(addr[:]), value: enc})
	}
	return hashLeaves(accounts)
}
