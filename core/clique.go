package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	lru "github.com/hashicorp/golang-lru/arc/v2"

	"github.com/eth2030/txcore/core/types"
)

const (
	// cliqueExtraSeal is the length of the signer seal at the end of extra.
	cliqueExtraSeal = crypto.SignatureLength
	// inmemorySignatures is the number of recent block signers to keep.
	inmemorySignatures = 4096
)

// cliqueSigners recovers and caches the sealer of proof-of-authority
// headers.
type cliqueSigners struct {
	cache *lru.ARCCache[common.Hash, common.Address]
}

func newCliqueSigners() *cliqueSigners {
	cache, err := lru.NewARC[common.Hash, common.Address](inmemorySignatures)
	if err != nil {
		panic(err)
	}
	return &cliqueSigners{cache: cache}
}

// signer extracts the account that sealed header.
func (c *cliqueSigners) signer(header *types.Header) (common.Address, error) {
	hash := header.Hash()
	if addr, ok := c.cache.Get(hash); ok {
		return addr, nil
	}
	addr, err := CliqueSigner(header)
	if err != nil {
		return common.Address{}, err
	}
	c.cache.Add(hash, addr)
	return addr, nil
}

// CliqueSigner recovers the sealer of a clique header from the 65-byte
// signature at the end of its extra data.
func CliqueSigner(header *types.Header) (common.Address, error) {
	if len(header.Extra) < cliqueExtraSeal {
		return common.Address{}, fmt.Errorf("%w: clique extra data is %d bytes, want at least %d", ErrInvalidParams, len(header.Extra), cliqueExtraSeal)
	}
	hash, err := CliqueSealHash(header)
	if err != nil {
		return common.Address{}, err
	}
	signature := header.Extra[len(header.Extra)-cliqueExtraSeal:]
	pubkey, err := crypto.Ecrecover(hash.Bytes(), signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: clique seal: %w", ErrInvalidParams, err)
	}
	var signer common.Address
	copy(signer[:], crypto.Keccak256(pubkey[1:])[12:])
	return signer, nil
}

// CliqueSealHash returns the hash a clique sealer signs: the header RLP with
// the seal stripped from extra.
func CliqueSealHash(header *types.Header) (common.Hash, error) {
	if len(header.Extra) < cliqueExtraSeal {
		return common.Hash{}, fmt.Errorf("%w: clique extra data too short", ErrInvalidParams)
	}
	enc := []any{
		header.ParentHash,
		header.UncleHash,
		header.Coinbase,
		header.Root,
		header.TxHash,
		header.ReceiptHash,
		header.Bloom,
		header.Difficulty,
		header.Number,
		header.GasLimit,
		header.GasUsed,
		header.Time,
		header.Extra[:len(header.Extra)-cliqueExtraSeal],
		header.MixDigest,
		header.Nonce,
	}
	if header.BaseFee != nil {
		enc = append(enc, header.BaseFee)
	}
	raw, err := rlp.EncodeToBytes(enc)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(raw), nil
}
