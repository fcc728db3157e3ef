// Package txpool holds validated transactions that are not yet included in
// a block and orders them by price and nonce for block assembly.
package txpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/btree"
	"github.com/holiman/uint256"
	"github.com/jellydator/ttlcache/v3"

	"github.com/eth2030/txcore/core/state"
	"github.com/eth2030/txcore/core/types"
	"github.com/eth2030/txcore/log"
	"github.com/eth2030/txcore/metrics"
)

// Pool limits.
const (
	// MaxPoolSize is the maximum number of transactions the pool holds.
	MaxPoolSize = 5000

	// MaxTxsPerAccount is the maximum number of transactions per sender.
	MaxTxsPerAccount = 100

	// MaxDataBytes is the maximum calldata size (128 KiB).
	MaxDataBytes = 128 * 1024

	// PriceBumpPercent is the minimum fee bump for replace-by-fee.
	PriceBumpPercent = 10

	// PooledStorageTimeLimit is how long a transaction may stay pooled.
	PooledStorageTimeLimit = 20 * time.Minute

	// HandledCleanupTimeLimit is how long a handled record is kept.
	HandledCleanupTimeLimit = 60 * time.Minute
)

// MinGasPrice is the minimum tip a remote transaction must pay (0.1 gwei).
var MinGasPrice = uint256.NewInt(100_000_000)

// Rejection reasons. They are wrapped with the sender and the required and
// actual values.
var (
	ErrAlreadyKnown           = errors.New("already known")
	ErrMissingSignature       = errors.New("transaction is not signed")
	ErrOversizedData          = errors.New("oversized data")
	ErrTxPoolFull             = errors.New("transaction pool is full")
	ErrUnderpriced            = errors.New("transaction underpriced")
	ErrSenderLimitExceeded    = errors.New("per-sender transaction limit exceeded")
	ErrReplacementUnderpriced = errors.New("replacement transaction underpriced")
	ErrGasLimit               = errors.New("exceeds block gas limit")
	ErrFeeCapBelowBaseFee     = errors.New("max fee per gas too far below block base fee")
	ErrNonceTooLow            = errors.New("nonce too low")
	ErrInsufficientFunds      = errors.New("insufficient funds for gas * price + value")
	ErrInvalidSender          = errors.New("invalid sender")
	ErrBlobTxMissingHashes    = errors.New("blob transaction missing versioned hashes")
	ErrInvalidBlobSidecar     = errors.New("invalid blob sidecar")
)

// Config holds TxPool configuration. Zero fields take the package defaults.
type Config struct {
	MaxPoolSize      int
	MaxTxsPerAccount int
	MaxDataBytes     int
	MinGasPrice      *uint256.Int
	PriceBumpPercent uint64

	PooledStorageTimeLimit  time.Duration
	HandledCleanupTimeLimit time.Duration

	// Verifier checks blob sidecar proofs. Nil skips proof verification;
	// commitments are always checked against the versioned hashes.
	Verifier BlobVerifier
	// Clock returns the current time. Nil means time.Now.
	Clock  func() time.Time
	Logger *log.Logger
}

// DefaultConfig returns the default pool limits.
func DefaultConfig() Config {
	return Config{
		MaxPoolSize:             MaxPoolSize,
		MaxTxsPerAccount:        MaxTxsPerAccount,
		MaxDataBytes:            MaxDataBytes,
		MinGasPrice:             MinGasPrice.Clone(),
		PriceBumpPercent:        PriceBumpPercent,
		PooledStorageTimeLimit:  PooledStorageTimeLimit,
		HandledCleanupTimeLimit: HandledCleanupTimeLimit,
	}
}

func (c Config) sanitize() Config {
	def := DefaultConfig()
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = def.MaxPoolSize
	}
	if c.MaxTxsPerAccount <= 0 {
		c.MaxTxsPerAccount = def.MaxTxsPerAccount
	}
	if c.MaxDataBytes <= 0 {
		c.MaxDataBytes = def.MaxDataBytes
	}
	if c.MinGasPrice == nil {
		c.MinGasPrice = def.MinGasPrice
	}
	if c.PriceBumpPercent == 0 {
		c.PriceBumpPercent = def.PriceBumpPercent
	}
	if c.PooledStorageTimeLimit <= 0 {
		c.PooledStorageTimeLimit = def.PooledStorageTimeLimit
	}
	if c.HandledCleanupTimeLimit <= 0 {
		c.HandledCleanupTimeLimit = def.HandledCleanupTimeLimit
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	return c
}

// Backend supplies the state and canonical head the pool validates against.
type Backend interface {
	State() *state.Store
	CurrentBlock() *types.Block
}

// PoolEntry is a pooled transaction.
type PoolEntry struct {
	Tx      *types.Transaction
	Hash    common.Hash
	AddedAt time.Time
	Error   error
}

// HandledRecord remembers a transaction hash the pool has seen, accepted or
// not. Address is the lower-cased unprefixed sender.
type HandledRecord struct {
	Address string
	AddedAt time.Time
	Error   error
}

// AddOptions controls Add.
type AddOptions struct {
	// RequireSignature rejects unsigned (impersonated) transactions.
	RequireSignature bool
	// SkipBalance waives the sender balance check.
	SkipBalance bool
	// Local marks a transaction submitted by this node. Local transactions
	// bypass the pool-size, minimum-price, per-account and base-fee checks.
	Local bool
}

func byNonce(a, b *PoolEntry) bool { return a.Tx.Nonce() < b.Tx.Nonce() }

// TxPool is the transaction pool. All methods are safe for concurrent use.
type TxPool struct {
	config  Config
	backend Backend
	log     *log.Logger

	mu      sync.RWMutex
	pool    map[string]*btree.BTreeG[*PoolEntry] // sender -> nonce-ordered entries
	size    int
	handled *ttlcache.Cache[common.Hash, HandledRecord]
	swept   time.Time // last handled sweep
}

// New creates a transaction pool validating against backend.
func New(config Config, backend Backend) *TxPool {
	config = config.sanitize()
	handled := ttlcache.New[common.Hash, HandledRecord](
		ttlcache.WithTTL[common.Hash, HandledRecord](config.HandledCleanupTimeLimit),
		ttlcache.WithDisableTouchOnHit[common.Hash, HandledRecord](),
	)
	return &TxPool{
		config:  config,
		backend: backend,
		log:     config.Logger.Module("txpool"),
		pool:    make(map[string]*btree.BTreeG[*PoolEntry]),
		handled: handled,
		swept:   config.Clock(),
	}
}

// senderKey is the pool key of addr: lower-cased hex without 0x prefix.
func senderKey(addr common.Address) string {
	return common.Bytes2Hex(addr.Bytes())
}

// Add validates tx and inserts it. Rejections are recorded in the handled
// map together with their error.
func (p *TxPool) Add(ctx context.Context, tx *types.Transaction, opts AddOptions) error {
	hash := tx.Hash()
	err := p.validate(ctx, tx, opts)
	if err == nil {
		err = p.AddUnverified(tx)
	}
	if err != nil {
		var address string
		if from, serr := tx.Sender(); serr == nil {
			address = senderKey(from)
		}
		p.handled.Set(hash, HandledRecord{Address: address, AddedAt: p.config.Clock(), Error: err}, ttlcache.DefaultTTL)
		metrics.TxPoolAdded.WithLabelValues("rejected").Inc()
		metrics.TxPoolHandled.Set(float64(p.handled.Len()))
		p.log.Debug("rejected transaction", "hash", hash, "err", err)
		return err
	}
	metrics.TxPoolAdded.WithLabelValues("accepted").Inc()
	return nil
}

// AddUnverified inserts tx without validation, replacing any pooled
// transaction of the same sender and nonce.
func (p *TxPool) AddUnverified(tx *types.Transaction) error {
	from, err := tx.Sender()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSender, err)
	}
	key := senderKey(from)
	entry := &PoolEntry{Tx: tx, Hash: tx.Hash(), AddedAt: p.config.Clock()}

	p.mu.Lock()
	defer p.mu.Unlock()

	list, ok := p.pool[key]
	if !ok {
		list = btree.NewG[*PoolEntry](32, byNonce)
		p.pool[key] = list
	}
	if old, replaced := list.ReplaceOrInsert(entry); replaced {
		metrics.TxPoolDropped.WithLabelValues("replaced").Inc()
		p.log.Debug("replaced transaction", "sender", from, "nonce", tx.Nonce(), "old", old.Hash, "new", entry.Hash)
	} else {
		p.size++
	}
	p.handled.Set(entry.Hash, HandledRecord{Address: key, AddedAt: entry.AddedAt}, ttlcache.DefaultTTL)
	p.updateGauges()
	return nil
}

func (p *TxPool) updateGauges() {
	metrics.TxPoolPending.Set(float64(p.size))
	metrics.TxPoolHandled.Set(float64(p.handled.Len()))
}

// Handled returns the handled record for hash.
func (p *TxPool) Handled(hash common.Hash) (HandledRecord, bool) {
	item := p.handled.Get(hash)
	if item == nil {
		return HandledRecord{}, false
	}
	return item.Value(), true
}

// Len returns the number of pooled transactions.
func (p *TxPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.size
}

// lookupLocked finds the pooled entry for hash via the handled map.
func (p *TxPool) lookupLocked(hash common.Hash) (string, *PoolEntry) {
	item := p.handled.Get(hash)
	if item == nil {
		return "", nil
	}
	key := item.Value().Address
	list, ok := p.pool[key]
	if !ok {
		return key, nil
	}
	var found *PoolEntry
	list.Ascend(func(e *PoolEntry) bool {
		if e.Hash == hash {
			found = e
			return false
		}
		return true
	})
	return key, found
}

// GetByHash returns the pooled transactions among hashes, in order.
// Unknown or no longer pooled hashes are skipped.
func (p *TxPool) GetByHash(hashes ...common.Hash) []*types.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var found []*types.Transaction
	for _, hash := range hashes {
		if _, entry := p.lookupLocked(hash); entry != nil {
			found = append(found, entry.Tx)
		}
	}
	return found
}

// RemoveByHash drops the pooled transaction with the given hash. The
// handled record is kept.
func (p *TxPool) RemoveByHash(hash common.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(hash, "removed")
}

func (p *TxPool) removeLocked(hash common.Hash, reason string) bool {
	key, entry := p.lookupLocked(hash)
	if entry == nil {
		return false
	}
	list := p.pool[key]
	list.Delete(entry)
	if list.Len() == 0 {
		delete(p.pool, key)
	}
	p.size--
	metrics.TxPoolDropped.WithLabelValues(reason).Inc()
	p.updateGauges()
	return true
}

// RemoveNewBlockTxs drops every transaction included in blocks.
func (p *TxPool) RemoveNewBlockTxs(blocks []*types.Block) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var removed int
	for _, block := range blocks {
		for _, tx := range block.Transactions {
			if p.removeLocked(tx.Hash(), "included") {
				removed++
			}
		}
	}
	if removed > 0 {
		p.log.Debug("removed included transactions", "count", removed)
	}
}

// GetBySenderAddress returns the pooled entries of addr in nonce order.
func (p *TxPool) GetBySenderAddress(addr common.Address) []*PoolEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	list, ok := p.pool[senderKey(addr)]
	if !ok {
		return nil
	}
	out := make([]*PoolEntry, 0, list.Len())
	list.Ascend(func(e *PoolEntry) bool {
		out = append(out, e)
		return true
	})
	return out
}

// Cleanup drops pooled transactions older than PooledStorageTimeLimit. Once
// every HandledCleanupTimeLimit it also drops handled records older than
// that window.
func (p *TxPool) Cleanup() {
	now := p.config.Clock()
	poolCutoff := now.Add(-p.config.PooledStorageTimeLimit)
	handledCutoff := now.Add(-p.config.HandledCleanupTimeLimit)

	p.mu.Lock()
	defer p.mu.Unlock()

	var expired int
	for key, list := range p.pool {
		var stale []*PoolEntry
		list.Ascend(func(e *PoolEntry) bool {
			if e.AddedAt.Before(poolCutoff) {
				stale = append(stale, e)
			}
			return true
		})
		for _, e := range stale {
			list.Delete(e)
		}
		expired += len(stale)
		if list.Len() == 0 {
			delete(p.pool, key)
		}
	}
	p.size -= expired
	metrics.TxPoolDropped.WithLabelValues("expired").Add(float64(expired))

	var forgotten []common.Hash
	if now.Sub(p.swept) >= p.config.HandledCleanupTimeLimit {
		p.swept = now
		p.handled.Range(func(item *ttlcache.Item[common.Hash, HandledRecord]) bool {
			if item.Value().AddedAt.Before(handledCutoff) {
				forgotten = append(forgotten, item.Key())
			}
			return true
		})
		for _, hash := range forgotten {
			p.handled.Delete(hash)
		}
		p.handled.DeleteExpired()
	}
	p.updateGauges()

	if expired > 0 || len(forgotten) > 0 {
		p.log.Info("txpool cleanup", "expired", expired, "forgotten", len(forgotten), "pooled", p.size)
	}
}

// Start runs Cleanup every PooledStorageTimeLimit until ctx is done. Handled
// records are swept on the first tick at least HandledCleanupTimeLimit after
// the previous sweep.
func (p *TxPool) Start(ctx context.Context) error {
	ticker := time.NewTicker(p.config.PooledStorageTimeLimit)
	defer ticker.Stop()

	p.log.Info("txpool started", "interval", p.config.PooledStorageTimeLimit)
	for {
		select {
		case <-ctx.Done():
			p.log.Info("txpool stopped")
			return ctx.Err()
		case <-ticker.C:
			p.Cleanup()
		}
	}
}
