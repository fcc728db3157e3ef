package state

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/eth2030/txcore/core/types"
)

// GenesisAccount is the JSON form of one account in a state dump.
type GenesisAccount struct {
	Nonce       hexutil.Uint64                `json:"nonce"`
	Balance     *hexutil.Big                  `json:"balance"`
	StorageRoot common.Hash                   `json:"storageRoot"`
	CodeHash    common.Hash                   `json:"codeHash"`
	Code        hexutil.Bytes                 `json:"deployedBytecode,omitempty"`
	Storage     map[common.Hash]hexutil.Bytes `json:"storage,omitempty"`
}

// Genesis is a full state dump keyed by address.
type Genesis map[common.Address]GenesisAccount

// DumpCanonicalGenesis dumps every locally known account with its code and
// cached storage. Code missing from the cache is fetched from the source.
func (s *Store) DumpCanonicalGenesis(ctx context.Context) (Genesis, error) {
	out := make(Genesis)
	for _, addr := range s.Addresses() {
		acct, err := s.GetAccount(ctx, addr)
		if err != nil {
			return nil, err
		}
		if acct == nil {
			continue
		}
		code, err := s.GetContractCode(ctx, addr)
		if err != nil {
			return nil, err
		}
		ga := GenesisAccount{
			Nonce:       hexutil.Uint64(acct.Nonce),
			Balance:     (*hexutil.Big)(acct.Balance.ToBig()),
			StorageRoot: acct.StorageRoot,
			CodeHash:    acct.CodeHash,
			Code:        code,
		}
		if slots := s.DumpStorage(addr); len(slots) > 0 {
			ga.Storage = make(map[common.Hash]hexutil.Bytes, len(slots))
			for k, v := range slots {
				ga.Storage[k] = v
			}
		}
		out[addr] = ga
	}
	return out, nil
}

// GenerateCanonicalGenesis loads a dump into the store. A non-empty Code
// overrides CodeHash.
func (s *Store) GenerateCanonicalGenesis(ctx context.Context, g Genesis) error {
	for addr, ga := range g {
		acct := types.NewAccount()
		acct.Nonce = uint64(ga.Nonce)
		if ga.Balance != nil {
			bal, overflow := uint256.FromBig((*big.Int)(ga.Balance))
			if overflow {
				return ErrBalanceOverflow
			}
			acct.Balance = bal
		}
		if ga.StorageRoot != (common.Hash{}) {
			acct.StorageRoot = ga.StorageRoot
		}
		if ga.CodeHash != (common.Hash{}) {
			acct.CodeHash = ga.CodeHash
		}
		if len(ga.Code) > 0 {
			acct.CodeHash = crypto.Keccak256Hash(ga.Code)
			s.putCode(acct.CodeHash, ga.Code)
		}
		s.PutAccount(addr, acct)
		for k, v := range ga.Storage {
			if err := s.PutContractStorage(addr, k.Bytes(), v); err != nil {
				return err
			}
		}
	}
	return nil
}
