package types

import (
	"encoding/binary"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/crypto/sha3"
)

// Bloom is the 2048-bit log bloom filter.
type Bloom = gethtypes.Bloom

// bloomBits returns the bit indexes set for data: the low 11 bits of the
// first three big-endian uint16 words of keccak256(data).
func bloomBits(data []byte) (bits [3]uint) {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(data)
	sum := hasher.Sum(nil)
	for i := range bits {
		bits[i] = uint(binary.BigEndian.Uint16(sum[2*i:])) & 2047
	}
	return
}

// BloomAdd sets the 3 bloom bits derived from data.
func BloomAdd(bloom *Bloom, data []byte) {
	for _, bit := range bloomBits(data) {
		// Bit 0 is the least significant bit of the last byte.
		bloom[gethtypes.BloomByteLength-1-bit/8] |= 1 << (bit % 8)
	}
}

// BloomContains reports whether all 3 bits for data are set.
func BloomContains(bloom Bloom, data []byte) bool {
	for _, bit := range bloomBits(data) {
		if bloom[gethtypes.BloomByteLength-1-bit/8]&(1<<(bit%8)) == 0 {
			return false
		}
	}
	return true
}

// LogsBloom computes the bloom over each log's address and topics.
func LogsBloom(logs []*gethtypes.Log) Bloom {
	var b Bloom
	for _, l := range logs {
		BloomAdd(&b, l.Address.Bytes())
		for _, t := range l.Topics {
			BloomAdd(&b, t.Bytes())
		}
	}
	return b
}
