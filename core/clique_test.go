package core

import (
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/eth2030/txcore/core/types"
)

// sealHeader signs header as a clique sealer would.
func sealHeader(t *testing.T, header *types.Header, key *ecdsa.PrivateKey) {
	t.Helper()
	header.Extra = make([]byte, 32+cliqueExtraSeal)
	hash, err := CliqueSealHash(header)
	require.NoError(t, err)
	sig, err := crypto.Sign(hash.Bytes(), key)
	require.NoError(t, err)
	copy(header.Extra[32:], sig)
}

func TestCliqueSigner(t *testing.T) {
	key, _ := crypto.GenerateKey()
	header := &types.Header{
		Number:     big.NewInt(7),
		Difficulty: big.NewInt(2),
		GasLimit:   30_000_000,
		BaseFee:    big.NewInt(7),
	}
	sealHeader(t, header, key)

	signer, err := CliqueSigner(header)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), signer)

	cache := newCliqueSigners()
	cached, err := cache.signer(header)
	require.NoError(t, err)
	require.Equal(t, signer, cached)
	require.True(t, cache.cache.Contains(header.Hash()))

	// The seal covers the base fee.
	header.BaseFee = big.NewInt(8)
	other, err := CliqueSigner(header)
	require.NoError(t, err)
	require.NotEqual(t, signer, other)
}

func TestCliqueSignerShortExtra(t *testing.T) {
	header := &types.Header{Number: big.NewInt(1), Extra: make([]byte, 10)}
	_, err := CliqueSigner(header)
	require.ErrorIs(t, err, ErrInvalidParams)
}
