// Package state implements a checkpointed account and storage store that can
// lazily fetch missing state from a remote Ethereum node.
package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"

	"github.com/eth2030/txcore/core/types"
	"github.com/eth2030/txcore/log"
	"github.com/eth2030/txcore/metrics"
)

// DefaultCodeCacheSize is the number of remotely fetched contract codes kept
// by default.
const DefaultCodeCacheSize = 1024

var (
	ErrInvalidStorageKey  = errors.New("state: storage key must be 32 bytes")
	ErrNonExistingAccount = errors.New("state: account does not exist")
	ErrNoSource           = errors.New("state: no remote source configured")
	ErrNoCheckpoint       = errors.New("state: commit or revert without checkpoint")
	ErrCommitHook         = errors.New("state: commit hook failed")
	ErrBalanceOverflow    = errors.New("state: balance exceeds 256 bits")
)

// Options configures a Store.
type Options struct {
	// Source is the remote backend. A nil Source makes the store purely local.
	Source Source
	// BlockNumber pins every remote read to a fixed block. When nil, reads
	// float on "latest" until Lock pins them.
	BlockNumber *big.Int
	Policy      BlockTimePolicy
	// CodeCacheSize bounds the cache of code fetched from Source. Locally
	// written code is never evicted. Zero selects the default.
	CodeCacheSize int
	// OnCommit runs after every successful Commit.
	OnCommit func(*Store) error
	Logger   *log.Logger
}

type storageKey struct {
	addr common.Address
	slot common.Hash
}

// AccountFields is a partial account update. Nil fields are left unchanged.
type AccountFields struct {
	Nonce       *uint64
	Balance     *uint256.Int
	StorageRoot *common.Hash
	CodeHash    *common.Hash
}

// Store is the world state used by the executor and the pool. Account and
// storage caches are checkpointed. Code is keyed by hash: locally written code
// lives in a plain map, code fetched from the source in an LRU.
type Store struct {
	opts   Options
	source Source
	log    *log.Logger

	mu        sync.Mutex
	accounts  *diffCache[common.Address, *types.Account]
	storage   *diffCache[storageKey, []byte]
	code      map[common.Hash][]byte
	remote    *lru.Cache[common.Hash, []byte]
	locked    bool
	block     uint64
	hasBlock  bool
	lastCheck time.Time
}

// New creates a Store. It fails only if the code cache cannot be built.
func New(opts Options) (*Store, error) {
	if opts.CodeCacheSize <= 0 {
		opts.CodeCacheSize = DefaultCodeCacheSize
	}
	if opts.Policy.ExpectedBlockTime == 0 {
		opts.Policy.ExpectedBlockTime = DefaultExpectedBlockTime
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	remote, err := lru.New[common.Hash, []byte](opts.CodeCacheSize)
	if err != nil {
		return nil, err
	}
	return &Store{
		opts:     opts,
		source:   opts.Source,
		log:      opts.Logger.Module("state"),
		accounts: newDiffCache[common.Address, *types.Account](),
		storage:  newDiffCache[storageKey, []byte](),
		code:     make(map[common.Hash][]byte),
		remote:   remote,
	}, nil
}

// NewMemory returns a local-only Store with default options.
func NewMemory() *Store {
	s, err := New(Options{})
	if err != nil {
		panic(err)
	}
	return s
}

// Forked reports whether the store reads through to a remote source.
func (s *Store) Forked() bool { return s.source != nil }

// target returns the block remote reads are made against, nil for latest.
func (s *Store) target() *big.Int {
	if s.opts.BlockNumber != nil {
		return new(big.Int).Set(s.opts.BlockNumber)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked && s.hasBlock {
		return new(big.Int).SetUint64(s.block)
	}
	return nil
}

// Lock pins remote reads to the current remote block number. The number is
// re-queried only when the policy's expected block time has elapsed since
// the last check. If it moved, cached state is dropped. Stores pinned at
// construction and local stores ignore Lock.
func (s *Store) Lock(ctx context.Context) error {
	if s.source == nil || s.opts.BlockNumber != nil {
		return nil
	}
	s.mu.Lock()
	stale := s.opts.Policy.stale(s.lastCheck)
	s.mu.Unlock()

	if stale {
		n, err := s.source.BlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("state: lock: %w", err)
		}
		s.mu.Lock()
		if s.hasBlock && n != s.block {
			s.log.Debug("remote head moved, clearing caches", "from", s.block, "to", n)
			s.accounts.clear()
			s.storage.clear()
		}
		s.block, s.hasBlock = n, true
		s.lastCheck = s.opts.Policy.now()
		s.mu.Unlock()
	}
	s.mu.Lock()
	s.locked = true
	s.mu.Unlock()
	return nil
}

// Unlock lets remote reads float on "latest" again.
func (s *Store) Unlock() {
	s.mu.Lock()
	s.locked = false
	s.mu.Unlock()
}

// GetAccount returns a copy of the account, or nil if it does not exist.
func (s *Store) GetAccount(ctx context.Context, addr common.Address) (*types.Account, error) {
	s.mu.Lock()
	e, ok := s.accounts.get(addr)
	s.mu.Unlock()
	if ok {
		metrics.StateCacheHits.WithLabelValues("account").Inc()
		if e.deleted {
			return nil, nil
		}
		return e.value.Copy(), nil
	}
	if s.source == nil {
		return nil, nil
	}

	metrics.StateFetches.WithLabelValues("account").Inc()
	proof, err := s.source.GetProof(ctx, addr, nil, s.target())
	if err != nil {
		return nil, fmt.Errorf("state: fetch account %s: %w", addr, err)
	}
	acct := proof.Account()

	s.mu.Lock()
	defer s.mu.Unlock()
	// A local write may have landed while the fetch was in flight.
	if e, ok := s.accounts.get(addr); ok {
		if e.deleted {
			return nil, nil
		}
		return e.value.Copy(), nil
	}
	if acct.IsEmpty() {
		s.accounts.del(addr)
		return nil, nil
	}
	s.accounts.put(addr, acct)
	return acct.Copy(), nil
}

// PutAccount stores a copy of acct.
func (s *Store) PutAccount(addr common.Address, acct *types.Account) {
	s.mu.Lock()
	s.accounts.put(addr, acct.Copy())
	s.mu.Unlock()
}

// DeleteAccount tombstones the account and its cached storage.
func (s *Store) DeleteAccount(addr common.Address) {
	s.mu.Lock()
	s.accounts.del(addr)
	s.clearStorageLocked(addr)
	s.mu.Unlock()
}

// ModifyAccountFields applies a partial update, creating the account if it
// does not exist.
func (s *Store) ModifyAccountFields(ctx context.Context, addr common.Address, fields AccountFields) error {
	acct, err := s.GetAccount(ctx, addr)
	if err != nil {
		return err
	}
	if acct == nil {
		acct = types.NewAccount()
	}
	if fields.Nonce != nil {
		acct.Nonce = *fields.Nonce
	}
	if fields.Balance != nil {
		acct.Balance = new(uint256.Int).Set(fields.Balance)
	}
	if fields.StorageRoot != nil {
		acct.StorageRoot = *fields.StorageRoot
	}
	if fields.CodeHash != nil {
		acct.CodeHash = *fields.CodeHash
	}
	s.PutAccount(addr, acct)
	return nil
}

// AccountExists reports whether the account exists. Cached entries answer
// directly. Otherwise the remote proof is fetched and the account exists
// only if the proof verifies.
func (s *Store) AccountExists(ctx context.Context, addr common.Address) (bool, error) {
	s.mu.Lock()
	e, ok := s.accounts.get(addr)
	s.mu.Unlock()
	if ok {
		return !e.deleted, nil
	}
	if s.source == nil {
		return false, nil
	}
	metrics.StateFetches.WithLabelValues("proof").Inc()
	proof, err := s.source.GetProof(ctx, addr, nil, s.target())
	if err != nil {
		return false, fmt.Errorf("state: fetch proof %s: %w", addr, err)
	}
	ok, err = VerifyAccountProof(proof)
	if err != nil {
		s.log.Debug("account proof rejected", "addr", addr, "err", err)
		return false, nil
	}
	return ok, nil
}

// GetProof returns the remote EIP-1186 proof for addr and keys.
func (s *Store) GetProof(ctx context.Context, addr common.Address, keys []common.Hash) (*AccountProof, error) {
	if s.source == nil {
		return nil, ErrNoSource
	}
	metrics.StateFetches.WithLabelValues("proof").Inc()
	return s.source.GetProof(ctx, addr, keys, s.target())
}

// GetContractCode returns the code of addr, nil for accounts without code.
func (s *Store) GetContractCode(ctx context.Context, addr common.Address) ([]byte, error) {
	acct, err := s.GetAccount(ctx, addr)
	if err != nil || acct == nil || !acct.IsContract() {
		return nil, err
	}
	if code, ok := s.cachedCode(acct.CodeHash); ok {
		metrics.StateCacheHits.WithLabelValues("code").Inc()
		return common.CopyBytes(code), nil
	}
	if s.source == nil {
		return nil, nil
	}
	metrics.StateFetches.WithLabelValues("code").Inc()
	code, err := s.source.CodeAt(ctx, addr, s.target())
	if err != nil {
		return nil, fmt.Errorf("state: fetch code %s: %w", addr, err)
	}
	s.remote.Add(crypto.Keccak256Hash(code), common.CopyBytes(code))
	return code, nil
}

func (s *Store) cachedCode(hash common.Hash) ([]byte, bool) {
	s.mu.Lock()
	code, ok := s.code[hash]
	s.mu.Unlock()
	if ok {
		return code, true
	}
	return s.remote.Get(hash)
}

func (s *Store) putCode(hash common.Hash, code []byte) {
	s.mu.Lock()
	s.code[hash] = common.CopyBytes(code)
	s.mu.Unlock()
}

// PutContractCode stores code and points the account's code hash at it.
func (s *Store) PutContractCode(ctx context.Context, addr common.Address, code []byte) error {
	hash := types.EmptyCodeHash
	if len(code) > 0 {
		hash = crypto.Keccak256Hash(code)
		s.putCode(hash, code)
	}
	return s.ModifyAccountFields(ctx, addr, AccountFields{CodeHash: &hash})
}

// GetContractStorage returns the slot value with leading zeros stripped.
// Unset slots read as an empty slice.
func (s *Store) GetContractStorage(ctx context.Context, addr common.Address, key []byte) ([]byte, error) {
	if len(key) != common.HashLength {
		return nil, ErrInvalidStorageKey
	}
	acct, err := s.GetAccount(ctx, addr)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, fmt.Errorf("%w: %s", ErrNonExistingAccount, addr)
	}
	sk := storageKey{addr: addr, slot: common.BytesToHash(key)}

	s.mu.Lock()
	e, ok := s.storage.get(sk)
	s.mu.Unlock()
	if ok {
		metrics.StateCacheHits.WithLabelValues("storage").Inc()
		if e.deleted {
			return []byte{}, nil
		}
		return common.CopyBytes(e.value), nil
	}
	if s.source == nil {
		return []byte{}, nil
	}
	metrics.StateFetches.WithLabelValues("storage").Inc()
	raw, err := s.source.StorageAt(ctx, addr, sk.slot, s.target())
	if err != nil {
		return nil, fmt.Errorf("state: fetch storage %s/%s: %w", addr, sk.slot, err)
	}
	value := stripZeros(raw)

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.storage.get(sk); ok {
		if e.deleted {
			return []byte{}, nil
		}
		return common.CopyBytes(e.value), nil
	}
	s.putStorageLocked(sk, value)
	return common.CopyBytes(value), nil
}

// PutContractStorage writes a slot. Empty or all-zero values delete it.
func (s *Store) PutContractStorage(addr common.Address, key, value []byte) error {
	if len(key) != common.HashLength {
		return ErrInvalidStorageKey
	}
	s.mu.Lock()
	s.putStorageLocked(storageKey{addr: addr, slot: common.BytesToHash(key)}, stripZeros(value))
	s.mu.Unlock()
	return nil
}

func (s *Store) putStorageLocked(sk storageKey, value []byte) {
	if len(value) == 0 {
		s.storage.del(sk)
		return
	}
	s.storage.put(sk, common.CopyBytes(value))
}

// ClearContractStorage deletes every cached slot of addr.
func (s *Store) ClearContractStorage(addr common.Address) {
	s.mu.Lock()
	s.clearStorageLocked(addr)
	s.mu.Unlock()
}

func (s *Store) clearStorageLocked(addr common.Address) {
	var keys []storageKey
	s.storage.forEach(func(k storageKey, e cacheEntry[[]byte]) {
		if k.addr == addr && !e.deleted {
			keys = append(keys, k)
		}
	})
	for _, k := range keys {
		s.storage.del(k)
	}
}

// DumpStorage returns the locally known, non-empty slots of addr.
func (s *Store) DumpStorage(addr common.Address) map[common.Hash][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[common.Hash][]byte)
	s.storage.forEach(func(k storageKey, e cacheEntry[[]byte]) {
		if k.addr == addr && !e.deleted {
			out[k.slot] = common.CopyBytes(e.value)
		}
	})
	return out
}

// Checkpoint opens a nested checkpoint on the account and storage caches.
func (s *Store) Checkpoint() {
	s.mu.Lock()
	s.accounts.checkpoint()
	s.storage.checkpoint()
	s.mu.Unlock()
}

// Commit folds the innermost checkpoint into its parent, then runs the
// OnCommit hook. A hook failure is logged and returned but the commit
// itself stands.
func (s *Store) Commit() error {
	s.mu.Lock()
	if s.accounts.depth() == 0 {
		s.mu.Unlock()
		return ErrNoCheckpoint
	}
	s.accounts.commit()
	s.storage.commit()
	s.mu.Unlock()

	if s.opts.OnCommit == nil {
		return nil
	}
	if err := s.opts.OnCommit(s); err != nil {
		s.log.Error("commit hook failed", "err", err)
		return fmt.Errorf("%w: %w", ErrCommitHook, err)
	}
	return nil
}

// Revert discards every change since the innermost checkpoint.
func (s *Store) Revert() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accounts.depth() == 0 {
		return ErrNoCheckpoint
	}
	s.accounts.revert()
	s.storage.revert()
	return nil
}

// Depth returns the number of open checkpoints.
func (s *Store) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts.depth()
}

// ShallowCopy returns a store with the same options and a copy of the known
// code, but empty account and storage caches. Remote-backed copies refetch
// on demand.
func (s *Store) ShallowCopy() *Store {
	cp, _ := New(s.opts)
	for _, hash := range s.remote.Keys() {
		if code, ok := s.remote.Peek(hash); ok {
			cp.remote.Add(hash, code)
		}
	}
	s.mu.Lock()
	for hash, code := range s.code {
		cp.code[hash] = code
	}
	cp.locked, cp.block, cp.hasBlock, cp.lastCheck = s.locked, s.block, s.hasBlock, s.lastCheck
	s.mu.Unlock()
	return cp
}

// DeepCopy returns an independent store holding the full locally known
// state of s.
func (s *Store) DeepCopy(ctx context.Context) (*Store, error) {
	genesis, err := s.DumpCanonicalGenesis(ctx)
	if err != nil {
		return nil, err
	}
	cp := s.ShallowCopy()
	cp.opts.OnCommit = nil
	cp.Checkpoint()
	if err := cp.GenerateCanonicalGenesis(ctx, genesis); err != nil {
		return nil, err
	}
	if err := cp.Commit(); err != nil {
		return nil, err
	}
	cp.opts.OnCommit = s.opts.OnCommit
	return cp, nil
}

// Addresses returns the locally known, non-deleted accounts.
func (s *Store) Addresses() []common.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]common.Address, 0, s.accounts.len())
	s.accounts.forEach(func(addr common.Address, e cacheEntry[*types.Account]) {
		if !e.deleted {
			out = append(out, addr)
		}
	})
	slices.SortFunc(out, func(a, b common.Address) int { return a.Cmp(b) })
	return out
}

func stripZeros(b []byte) []byte {
	return bytes.TrimLeft(b, "\x00")
}
