package state

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/eth2030/txcore/core/types"
)

// fakeSource serves state from maps and counts calls per method.
type fakeSource struct {
	mu       sync.Mutex
	accounts map[common.Address]*types.Account
	storage  map[common.Address]map[common.Hash][]byte
	code     map[common.Address][]byte
	block    uint64
	calls    map[string]int
	blocks   []*big.Int
	fail     error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		accounts: make(map[common.Address]*types.Account),
		storage:  make(map[common.Address]map[common.Hash][]byte),
		code:     make(map[common.Address][]byte),
		calls:    make(map[string]int),
		block:    100,
	}
}

func (f *fakeSource) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeSource) hit(method string, block *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	f.blocks = append(f.blocks, block)
	return f.fail
}

func (f *fakeSource) BlockNumber(ctx context.Context) (uint64, error) {
	if err := f.hit("blockNumber", nil); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.block, nil
}

func (f *fakeSource) GetProof(ctx context.Context, addr common.Address, keys []common.Hash, block *big.Int) (*AccountProof, error) {
	if err := f.hit("getProof", block); err != nil {
		return nil, err
	}
	acct, ok := f.accounts[addr]
	if !ok {
		// Prove exclusion against a trie holding a different account.
		other := common.HexToAddress("0xdead")
		p := singleLeafProof(other, types.NewAccount())
		return &AccountProof{Address: addr, AccountProof: p.AccountProof, Balance: new(uint256.Int), CodeHash: types.EmptyCodeHash, StorageHash: types.EmptyRootHash}, nil
	}
	return singleLeafProof(addr, acct), nil
}

func (f *fakeSource) StorageAt(ctx context.Context, addr common.Address, key common.Hash, block *big.Int) ([]byte, error) {
	if err := f.hit("storageAt", block); err != nil {
		return nil, err
	}
	return common.LeftPadBytes(f.storage[addr][key], 32), nil
}

func (f *fakeSource) CodeAt(ctx context.Context, addr common.Address, block *big.Int) ([]byte, error) {
	if err := f.hit("codeAt", block); err != nil {
		return nil, err
	}
	return f.code[addr], nil
}

// singleLeafProof proves acct in a trie whose only node is its leaf.
func singleLeafProof(addr common.Address, acct *types.Account) *AccountProof {
	enc, err := acct.Serialize()
	if err != nil {
		panic(err)
	}
	key := append([]byte{0x20}, crypto.Keccak256(addr.Bytes())...)
	node, err := rlp.EncodeToBytes([][]byte{key, enc})
	if err != nil {
		panic(err)
	}
	return &AccountProof{
		Address:      addr,
		AccountProof: [][]byte{node},
		Balance:      acct.Balance.Clone(),
		CodeHash:     acct.CodeHash,
		Nonce:        acct.Nonce,
		StorageHash:  acct.StorageRoot,
	}
}

func newAccount(nonce uint64, balance uint64) *types.Account {
	acct := types.NewAccount()
	acct.Nonce = nonce
	acct.Balance = uint256.NewInt(balance)
	return acct
}

func slot(n byte) []byte {
	return common.BytesToHash([]byte{n}).Bytes()
}

func TestLocalAccountLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	addr := common.HexToAddress("0x01")

	got, err := s.GetAccount(ctx, addr)
	require.NoError(t, err)
	require.Nil(t, got)

	s.PutAccount(addr, newAccount(1, 100))
	got, err = s.GetAccount(ctx, addr)
	require.NoError(t, err)
	require.Equal(t, uint64(1), got.Nonce)

	// Returned accounts are copies.
	got.Nonce = 99
	again, _ := s.GetAccount(ctx, addr)
	require.Equal(t, uint64(1), again.Nonce)

	exists, err := s.AccountExists(ctx, addr)
	require.NoError(t, err)
	require.True(t, exists)

	s.DeleteAccount(addr)
	got, err = s.GetAccount(ctx, addr)
	require.NoError(t, err)
	require.Nil(t, got)
	exists, _ = s.AccountExists(ctx, addr)
	require.False(t, exists)
}

func TestModifyAccountFields(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	addr := common.HexToAddress("0x02")
	nonce := uint64(5)
	require.NoError(t, s.ModifyAccountFields(ctx, addr, AccountFields{Nonce: &nonce}))
	bal := uint256.NewInt(7)
	require.NoError(t, s.ModifyAccountFields(ctx, addr, AccountFields{Balance: bal}))

	acct, err := s.GetAccount(ctx, addr)
	require.NoError(t, err)
	require.Equal(t, uint64(5), acct.Nonce)
	require.Equal(t, uint64(7), acct.Balance.Uint64())
	require.Equal(t, types.EmptyCodeHash, acct.CodeHash)
}

func TestCheckpointRevertCommit(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	a := common.HexToAddress("0x0a")
	b := common.HexToAddress("0x0b")
	s.PutAccount(a, newAccount(0, 10))

	s.Checkpoint()
	s.PutAccount(a, newAccount(1, 20))
	s.PutAccount(b, newAccount(0, 5))
	require.NoError(t, s.PutContractStorage(a, slot(1), []byte{0x42}))

	s.Checkpoint()
	s.DeleteAccount(b)
	require.NoError(t, s.Revert())

	got, _ := s.GetAccount(ctx, b)
	require.NotNil(t, got, "inner revert restores b")

	require.NoError(t, s.Revert())
	got, _ = s.GetAccount(ctx, a)
	require.Equal(t, uint64(10), got.Balance.Uint64())
	got, _ = s.GetAccount(ctx, b)
	require.Nil(t, got)
	v, err := s.GetContractStorage(ctx, a, slot(1))
	require.NoError(t, err)
	require.Empty(t, v)

	// Nested commit folds into the outer checkpoint, which still reverts.
	s.Checkpoint()
	s.Checkpoint()
	s.PutAccount(a, newAccount(3, 30))
	require.NoError(t, s.Commit())
	require.Equal(t, 1, s.Depth())
	require.NoError(t, s.Revert())
	got, _ = s.GetAccount(ctx, a)
	require.Equal(t, uint64(0), got.Nonce)

	require.ErrorIs(t, s.Commit(), ErrNoCheckpoint)
	require.ErrorIs(t, s.Revert(), ErrNoCheckpoint)
}

func TestContractStorage(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	addr := common.HexToAddress("0x03")

	_, err := s.GetContractStorage(ctx, addr, []byte{1})
	require.ErrorIs(t, err, ErrInvalidStorageKey)
	_, err = s.GetContractStorage(ctx, addr, slot(1))
	require.ErrorIs(t, err, ErrNonExistingAccount)

	s.PutAccount(addr, newAccount(0, 1))
	require.NoError(t, s.PutContractStorage(addr, slot(1), common.LeftPadBytes([]byte{0x01, 0x02}, 32)))
	v, err := s.GetContractStorage(ctx, addr, slot(1))
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02}, v)

	require.Len(t, s.DumpStorage(addr), 1)
	require.NoError(t, s.PutContractStorage(addr, slot(1), make([]byte, 32)))
	require.Empty(t, s.DumpStorage(addr))

	require.NoError(t, s.PutContractStorage(addr, slot(2), []byte{9}))
	s.ClearContractStorage(addr)
	v, _ = s.GetContractStorage(ctx, addr, slot(2))
	require.Empty(t, v)
}

func TestContractCode(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	addr := common.HexToAddress("0x04")
	code := []byte{0x60, 0x00, 0x60, 0x00, 0xf3}
	require.NoError(t, s.PutContractCode(ctx, addr, code))

	got, err := s.GetContractCode(ctx, addr)
	require.NoError(t, err)
	require.Equal(t, code, got)
	acct, _ := s.GetAccount(ctx, addr)
	require.Equal(t, crypto.Keccak256Hash(code), acct.CodeHash)
}

func TestForkedReadsAreCached(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	addr := common.HexToAddress("0x05")
	src.accounts[addr] = newAccount(2, 1000)
	src.storage[addr] = map[common.Hash][]byte{common.BytesToHash(slot(1)): {0x07}}

	s, err := New(Options{Source: src})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		acct, err := s.GetAccount(ctx, addr)
		require.NoError(t, err)
		require.Equal(t, uint64(2), acct.Nonce)
	}
	require.Equal(t, 1, src.count("getProof"))

	for i := 0; i < 2; i++ {
		v, err := s.GetContractStorage(ctx, addr, slot(1))
		require.NoError(t, err)
		require.Equal(t, []byte{0x07}, v)
	}
	require.Equal(t, 1, src.count("storageAt"))
}

func TestTombstoneSkipsRemote(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	addr := common.HexToAddress("0x06")
	src.accounts[addr] = newAccount(1, 1)

	s, err := New(Options{Source: src})
	require.NoError(t, err)
	s.DeleteAccount(addr)

	acct, err := s.GetAccount(ctx, addr)
	require.NoError(t, err)
	require.Nil(t, acct)
	exists, err := s.AccountExists(ctx, addr)
	require.NoError(t, err)
	require.False(t, exists)
	require.Zero(t, src.count("getProof"))
}

func TestAccountExistsVerifiesProof(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	present := common.HexToAddress("0x07")
	src.accounts[present] = newAccount(4, 44)
	s, err := New(Options{Source: src})
	require.NoError(t, err)

	ok, err := s.AccountExists(ctx, present)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.AccountExists(ctx, common.HexToAddress("0x08"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyAccountProofMismatch(t *testing.T) {
	addr := common.HexToAddress("0x09")
	proof := singleLeafProof(addr, newAccount(1, 1))
	proof.Nonce = 2
	ok, err := VerifyAccountProof(proof)
	require.ErrorIs(t, err, ErrProofMismatch)
	require.False(t, ok)

	_, err = VerifyAccountProof(&AccountProof{Address: addr})
	require.ErrorIs(t, err, ErrEmptyProof)
}

func TestGetProofWithoutSource(t *testing.T) {
	_, err := NewMemory().GetProof(context.Background(), common.Address{}, nil)
	require.ErrorIs(t, err, ErrNoSource)
}

func TestLockDebounce(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	addr := common.HexToAddress("0x0c")
	src.accounts[addr] = newAccount(1, 1)

	now := time.Unix(1_700_000_000, 0)
	s, err := New(Options{
		Source: src,
		Policy: BlockTimePolicy{ExpectedBlockTime: 12 * time.Second, Now: func() time.Time { return now }},
	})
	require.NoError(t, err)

	require.NoError(t, s.Lock(ctx))
	require.Equal(t, 1, src.count("blockNumber"))
	_, err = s.GetAccount(ctx, addr)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), src.blocks[len(src.blocks)-1])

	// Within the window the remote head is not re-queried.
	now = now.Add(5 * time.Second)
	require.NoError(t, s.Lock(ctx))
	require.Equal(t, 1, src.count("blockNumber"))

	// Past the window with a new head the caches are dropped.
	src.block = 101
	now = now.Add(20 * time.Second)
	require.NoError(t, s.Lock(ctx))
	require.Equal(t, 2, src.count("blockNumber"))
	_, err = s.GetAccount(ctx, addr)
	require.NoError(t, err)
	require.Equal(t, 2, src.count("getProof"))
	require.Equal(t, big.NewInt(101), src.blocks[len(src.blocks)-1])

	s.Unlock()
	_, err = s.GetAccount(ctx, common.HexToAddress("0x0e"))
	require.NoError(t, err)
	require.Nil(t, src.blocks[len(src.blocks)-1], "unlocked reads float on latest")
}

func TestPinnedStoreIgnoresLock(t *testing.T) {
	src := newFakeSource()
	s, err := New(Options{Source: src, BlockNumber: big.NewInt(50)})
	require.NoError(t, err)
	require.NoError(t, s.Lock(context.Background()))
	require.Zero(t, src.count("blockNumber"))
	_, err = s.GetAccount(context.Background(), common.HexToAddress("0x01"))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(50), src.blocks[0])
}

func TestRemoteErrorPropagates(t *testing.T) {
	src := newFakeSource()
	src.fail = errors.New("boom")
	s, err := New(Options{Source: src})
	require.NoError(t, err)
	_, err = s.GetAccount(context.Background(), common.HexToAddress("0x01"))
	require.ErrorIs(t, err, src.fail)
}

func TestCommitHook(t *testing.T) {
	hookErr := errors.New("hook")
	calls := 0
	s, err := New(Options{OnCommit: func(*Store) error {
		calls++
		return hookErr
	}})
	require.NoError(t, err)
	addr := common.HexToAddress("0x0f")

	s.Checkpoint()
	s.PutAccount(addr, newAccount(1, 1))
	err = s.Commit()
	require.ErrorIs(t, err, ErrCommitHook)
	require.ErrorIs(t, err, hookErr)
	require.Equal(t, 1, calls)

	// The commit stands despite the hook failure.
	acct, _ := s.GetAccount(context.Background(), addr)
	require.NotNil(t, acct)
	require.Zero(t, s.Depth())
}

func TestGenesisRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	a := common.HexToAddress("0x10")
	b := common.HexToAddress("0x11")
	s.PutAccount(a, newAccount(3, 300))
	require.NoError(t, s.PutContractCode(ctx, b, []byte{0x00}))
	require.NoError(t, s.PutContractStorage(b, slot(1), []byte{0x05}))

	g, err := s.DumpCanonicalGenesis(ctx)
	require.NoError(t, err)
	require.Len(t, g, 2)

	fresh := NewMemory()
	require.NoError(t, fresh.GenerateCanonicalGenesis(ctx, g))
	g2, err := fresh.DumpCanonicalGenesis(ctx)
	require.NoError(t, err)
	require.Equal(t, g, g2)
}

func TestDeepCopyIsIndependent(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	addr := common.HexToAddress("0x12")
	s.PutAccount(addr, newAccount(1, 10))
	require.NoError(t, s.PutContractStorage(addr, slot(1), []byte{1}))

	cp, err := s.DeepCopy(ctx)
	require.NoError(t, err)
	require.Zero(t, cp.Depth())

	cp.PutAccount(addr, newAccount(9, 90))
	require.NoError(t, cp.PutContractStorage(addr, slot(1), []byte{2}))

	orig, _ := s.GetAccount(ctx, addr)
	require.Equal(t, uint64(1), orig.Nonce)
	v, _ := s.GetContractStorage(ctx, addr, slot(1))
	require.Equal(t, []byte{1}, v)
}

func TestShallowCopySharesCodeOnly(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	s, err := New(Options{Source: src})
	require.NoError(t, err)
	addr := common.HexToAddress("0x13")
	code := []byte{0x60, 0x01}
	require.NoError(t, s.PutContractCode(ctx, addr, code))

	cp := s.ShallowCopy()
	require.Empty(t, cp.Addresses())
	_, ok := cp.cachedCode(crypto.Keccak256Hash(code))
	require.True(t, ok)
}

func TestLocalCodeSurvivesCodeCacheSize(t *testing.T) {
	ctx := context.Background()
	s, err := New(Options{CodeCacheSize: 4})
	require.NoError(t, err)

	first := common.HexToAddress("0x01")
	require.NoError(t, s.PutContractCode(ctx, first, []byte{0x60, 0x00}))
	for i := 0; i < 16; i++ {
		addr := common.BigToAddress(big.NewInt(int64(0x100 + i)))
		require.NoError(t, s.PutContractCode(ctx, addr, []byte{0x60, byte(i + 1)}))
	}

	got, err := s.GetContractCode(ctx, first)
	require.NoError(t, err)
	require.Equal(t, []byte{0x60, 0x00}, got)

	cp, err := s.DeepCopy(ctx)
	require.NoError(t, err)
	got, err = cp.GetContractCode(ctx, first)
	require.NoError(t, err)
	require.Equal(t, []byte{0x60, 0x00}, got)

	dump, err := cp.DumpCanonicalGenesis(ctx)
	require.NoError(t, err)
	require.Len(t, dump, 17)
	for addr, ga := range dump {
		require.NotEmpty(t, ga.Code, "code of %s", addr)
	}
}

func TestStateRoot(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	root, err := s.StateRoot(ctx)
	require.NoError(t, err)
	require.Equal(t, types.EmptyRootHash, root)

	addr := common.HexToAddress("0x14")
	acct := newAccount(1, 5)
	s.PutAccount(addr, acct)
	root, err = s.StateRoot(ctx)
	require.NoError(t, err)
	proof := singleLeafProof(addr, acct)
	require.Equal(t, crypto.Keccak256Hash(proof.AccountProof[0]), root)

	require.NoError(t, s.PutContractStorage(addr, slot(1), []byte{1}))
	withStorage, err := s.StateRoot(ctx)
	require.NoError(t, err)
	require.NotEqual(t, root, withStorage)
}
