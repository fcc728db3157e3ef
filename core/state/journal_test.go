package state

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/eth2030/txcore/core/types"
)

func TestJournalWarmRevert(t *testing.T) {
	j := NewJournal(NewMemory())
	a := common.HexToAddress("0xaa")
	b := common.HexToAddress("0xbb")
	key := common.HexToHash("0x01")

	j.Checkpoint()
	j.AddWarmedAddress(a)
	j.Checkpoint()
	j.AddWarmedStorage(b, key)
	require.True(t, j.IsWarmedAddress(b))
	require.True(t, j.IsWarmedStorage(b, key))
	require.NoError(t, j.Revert())

	require.True(t, j.IsWarmedAddress(a))
	require.False(t, j.IsWarmedAddress(b))
	require.False(t, j.IsWarmedStorage(b, key))
	require.NoError(t, j.Commit())
	require.True(t, j.IsWarmedAddress(a))

	j.CleanJournal()
	require.False(t, j.IsWarmedAddress(a))
}

func TestJournalAlwaysWarmSurvivesRevert(t *testing.T) {
	j := NewJournal(NewMemory())
	a := common.HexToAddress("0x01")
	j.Checkpoint()
	j.AddAlwaysWarmAddress(a, false)
	j.AddAlwaysWarmSlot(a, common.Hash{0x02}, false)
	require.NoError(t, j.Revert())
	require.True(t, j.IsWarmedAddress(a))
	require.True(t, j.IsWarmedStorage(a, common.Hash{0x02}))

	j.Cleanup()
	require.False(t, j.IsWarmedAddress(a))
}

func TestJournalRevertsStore(t *testing.T) {
	ctx := context.Background()
	j := NewJournal(NewMemory())
	addr := common.HexToAddress("0x01")
	acct := types.NewAccount()
	acct.Nonce = 1

	j.Checkpoint()
	j.PutAccount(addr, acct)
	require.NoError(t, j.Revert())
	got, err := j.Store().GetAccount(ctx, addr)
	require.NoError(t, err)
	require.Nil(t, got)
	require.ErrorIs(t, j.Revert(), ErrNoCheckpoint)
}

func TestJournalAccessListReport(t *testing.T) {
	j := NewJournal(NewMemory())
	a := common.HexToAddress("0x02")
	b := common.HexToAddress("0x01")
	hidden := common.HexToAddress("0x03")
	require.Nil(t, j.AccessListReport())

	j.StartAccessListReport()
	j.AddAlwaysWarmAddress(hidden, false)
	j.AddWarmedAddress(a)
	j.AddWarmedStorage(b, common.Hash{0x09})
	j.AddWarmedStorage(b, common.Hash{0x01})

	report := j.AccessListReport()
	require.Len(t, report, 2)
	require.Equal(t, b, report[0].Address)
	require.Equal(t, []common.Hash{{0x01}, {0x09}}, report[0].StorageKeys)
	require.Equal(t, a, report[1].Address)
	require.Empty(t, report[1].StorageKeys)
}

func TestJournalPreimages(t *testing.T) {
	j := NewJournal(NewMemory())
	addr := common.HexToAddress("0x44")
	j.AddWarmedAddress(addr)
	require.Nil(t, j.Preimages())

	j.StartPreimageReport()
	j.PutAccount(addr, types.NewAccount())
	pre := j.Preimages()
	require.Equal(t, addr.Bytes(), pre[crypto.Keccak256Hash(addr.Bytes())])
}

func TestJournalDeleteTouchedEmpty(t *testing.T) {
	ctx := context.Background()
	j := NewJournal(NewMemory())
	empty := common.HexToAddress("0x01")
	funded := common.HexToAddress("0x02")
	j.PutAccount(empty, types.NewAccount())
	j.PutAccount(funded, newAccount(0, 1))

	require.NoError(t, j.DeleteTouchedEmpty(ctx))
	exists, _ := j.Store().AccountExists(ctx, empty)
	require.False(t, exists)
	exists, _ = j.Store().AccountExists(ctx, funded)
	require.True(t, exists)
}
