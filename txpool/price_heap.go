package txpool

import (
	"container/heap"
	"time"

	"github.com/holiman/uint256"

	"github.com/eth2030/txcore/core/types"
)

// OrderOptions controls TxsByPriceAndNonce.
type OrderOptions struct {
	// BaseFee normalizes prices to the tip actually paid. Nil or zero
	// compares raw offered prices.
	BaseFee *uint256.Int
	// AllowedBlobs caps the blobs of the result. Nil means unlimited.
	AllowedBlobs *uint64
}

// normalizedPrice is the per-gas amount a transaction offers the block
// producer. With a non-zero base fee that is the priority fee for fee-market
// transactions and gasPrice-baseFee (floored at zero) otherwise. Without one
// it is the fee cap or the gas price.
func normalizedPrice(tx *types.Transaction, baseFee *uint256.Int) *uint256.Int {
	if baseFee != nil && !baseFee.IsZero() {
		if tx.IsFeeMarket() {
			return tx.MaxPriorityFeePerGas()
		}
		price, underflow := new(uint256.Int).SubOverflow(tx.GasPrice(), baseFee)
		if underflow {
			return new(uint256.Int)
		}
		return price
	}
	if tx.IsFeeMarket() {
		return tx.MaxFeePerGas()
	}
	return tx.GasPrice()
}

type priceEntry struct {
	tx      *types.Transaction
	sender  string
	price   *uint256.Int
	addedAt time.Time
	index   int
}

// maxPriceHeap pops the highest normalized price first. Equal prices pop in
// arrival order.
type maxPriceHeap []*priceEntry

func (h maxPriceHeap) Len() int { return len(h) }

func (h maxPriceHeap) Less(i, j int) bool {
	if c := h[i].price.Cmp(h[j].price); c != 0 {
		return c > 0
	}
	return h[i].addedAt.Before(h[j].addedAt)
}

func (h maxPriceHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *maxPriceHeap) Push(x interface{}) {
	entry := x.(*priceEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *maxPriceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]
	return entry
}

// TxsByPriceAndNonce returns the pooled transactions in block-inclusion
// order: the best-priced executable head of any sender first, never a
// sender's transaction ahead of a lower nonce of the same sender.
//
// With a non-zero base fee, a sender's transactions from the first one whose
// fee cap cannot cover the base fee onwards are left out. When AllowedBlobs
// is set, a blob transaction that would exceed the remaining budget is left
// out together with every later transaction of its sender.
func (p *TxPool) TxsByPriceAndNonce(opts OrderOptions) []*types.Transaction {
	baseFee := opts.BaseFee
	if baseFee != nil && baseFee.IsZero() {
		baseFee = nil
	}

	byNonce := make(map[string][]*PoolEntry)
	p.mu.RLock()
	for key, list := range p.pool {
		entries := make([]*PoolEntry, 0, list.Len())
		list.Ascend(func(e *PoolEntry) bool {
			if baseFee != nil && txGasPrice(e.Tx).maxFee.Lt(baseFee) {
				return false
			}
			entries = append(entries, e)
			return true
		})
		if len(entries) > 0 {
			byNonce[key] = entries
		}
	}
	p.mu.RUnlock()

	entryFor := func(key string, e *PoolEntry) *priceEntry {
		return &priceEntry{tx: e.Tx, sender: key, price: normalizedPrice(e.Tx, baseFee), addedAt: e.AddedAt}
	}
	h := make(maxPriceHeap, 0, len(byNonce))
	for key, entries := range byNonce {
		h = append(h, entryFor(key, entries[0]))
		byNonce[key] = entries[1:]
	}
	heap.Init(&h)

	var (
		txs   []*types.Transaction
		blobs uint64
	)
	for h.Len() > 0 {
		best := heap.Pop(&h).(*priceEntry)
		n := best.tx.NumBlobs()
		if best.tx.Kind() == types.Blob && opts.AllowedBlobs != nil && blobs+n > *opts.AllowedBlobs {
			delete(byNonce, best.sender)
			continue
		}
		txs = append(txs, best.tx)
		blobs += n
		if rest := byNonce[best.sender]; len(rest) > 0 {
			heap.Push(&h, entryFor(best.sender, rest[0]))
			byNonce[best.sender] = rest[1:]
		}
	}
	return txs
}
