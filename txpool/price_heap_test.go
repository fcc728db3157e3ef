package txpool

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/eth2030/txcore/core/types"
)

func hashes(txs []*types.Transaction) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = tx.Hash().Hex()
	}
	return out
}

func TestTxsByPriceAndNonce(t *testing.T) {
	pool, _, _ := newTestPool(t, Config{})
	keyA, _ := newKey(t)
	keyC, _ := newKey(t)

	a0 := legacyTx(t, keyA, 0, gwei(50))
	a1 := legacyTx(t, keyA, 1, gwei(200))
	c0 := legacyTx(t, keyC, 0, gwei(100))
	for _, tx := range []*types.Transaction{a1, c0, a0} {
		require.NoError(t, pool.AddUnverified(tx))
	}

	got := pool.TxsByPriceAndNonce(OrderOptions{})
	// C leads on price; A1 pays most but cannot precede A0.
	require.Equal(t, hashes([]*types.Transaction{c0, a0, a1}), hashes(got))
}

func TestTxsByPriceAndNonceBaseFee(t *testing.T) {
	pool, _, _ := newTestPool(t, Config{})
	keyA, _ := newKey(t)
	keyB, _ := newKey(t)

	a0 := dynamicTx(t, keyA, 0, gwei(30), gwei(100))
	a1 := dynamicTx(t, keyA, 1, gwei(40), gwei(50)) // cannot cover the base fee
	a2 := dynamicTx(t, keyA, 2, gwei(90), gwei(200))
	b0 := legacyTx(t, keyB, 0, gwei(80)) // tip 20
	b1 := legacyTx(t, keyB, 1, gwei(59))
	for _, tx := range []*types.Transaction{a0, a1, a2, b0, b1} {
		require.NoError(t, pool.AddUnverified(tx))
	}

	got := pool.TxsByPriceAndNonce(OrderOptions{BaseFee: gwei(60)})
	require.Equal(t, hashes([]*types.Transaction{a0, b0}), hashes(got))

	// A zero base fee compares raw offers.
	got = pool.TxsByPriceAndNonce(OrderOptions{BaseFee: new(uint256.Int)})
	require.Equal(t, hashes([]*types.Transaction{a0, b0, b1, a1, a2}), hashes(got))
}

func TestTxsByPriceAndNonceBlobBudget(t *testing.T) {
	pool, _, _ := newTestPool(t, Config{})
	keyA, _ := newKey(t)
	keyB, _ := newKey(t)
	keyC, _ := newKey(t)

	a0 := blobTx(t, keyA, 0, gwei(30), gwei(1), 2)
	b0 := blobTx(t, keyB, 0, gwei(20), gwei(1), 2)
	b1 := legacyTx(t, keyB, 1, gwei(500))
	c0 := legacyTx(t, keyC, 0, gwei(10))
	for _, tx := range []*types.Transaction{a0, b0, b1, c0} {
		require.NoError(t, pool.AddUnverified(tx))
	}

	allowed := uint64(3)
	got := pool.TxsByPriceAndNonce(OrderOptions{AllowedBlobs: &allowed})
	// B's blob does not fit; B1 goes with it.
	require.Equal(t, hashes([]*types.Transaction{a0, c0}), hashes(got))

	allowed = 4
	got = pool.TxsByPriceAndNonce(OrderOptions{AllowedBlobs: &allowed})
	require.Equal(t, hashes([]*types.Transaction{a0, b0, b1, c0}), hashes(got))

	got = pool.TxsByPriceAndNonce(OrderOptions{})
	require.Len(t, got, 4)
}

func TestNormalizedPrice(t *testing.T) {
	key, _ := newKey(t)
	legacy := legacyTx(t, key, 0, gwei(80))
	dynamic := dynamicTx(t, key, 0, gwei(3), gwei(90))

	tests := []struct {
		name    string
		tx      *types.Transaction
		baseFee *uint256.Int
		want    *uint256.Int
	}{
		{"legacy no base fee", legacy, nil, gwei(80)},
		{"legacy zero base fee", legacy, new(uint256.Int), gwei(80)},
		{"legacy base fee", legacy, gwei(60), gwei(20)},
		{"legacy under base fee", legacy, gwei(100), new(uint256.Int)},
		{"dynamic no base fee", dynamic, nil, gwei(90)},
		{"dynamic base fee", dynamic, gwei(60), gwei(3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, normalizedPrice(tt.tx, tt.baseFee))
		})
	}
}
