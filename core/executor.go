package core

import (
	"sync"

	"github.com/ethereum/go-ethereum/event"

	"github.com/eth2030/txcore/core/state"
	"github.com/eth2030/txcore/core/types"
	"github.com/eth2030/txcore/core/vm"
	"github.com/eth2030/txcore/log"
	"github.com/eth2030/txcore/params"
)

// Config configures a VM.
type Config struct {
	// Chain selects chain id, hardfork and consensus. Nil means
	// DefaultChainConfig.
	Chain *ChainConfig
	// EVM runs messages. Nil selects the value-transfer machine.
	EVM    vm.EVM
	Logger *log.Logger
}

// VM binds a state store, its journal, an EVM and the chain rules. RunTx
// calls on one VM are serialized.
type VM struct {
	chain   *ChainConfig
	store   *state.Store
	journal *state.Journal
	evm     vm.EVM
	signers *cliqueSigners
	log     *log.Logger

	mu        sync.Mutex
	observers []Observer
	afterFeed event.Feed

	headMu sync.RWMutex
	head   *types.Block
}

// NewVM returns a VM executing against store.
func NewVM(store *state.Store, cfg Config) *VM {
	if cfg.Chain == nil {
		cfg.Chain = DefaultChainConfig()
	}
	if cfg.Chain.Hardfork == params.Unset {
		cfg.Chain.Hardfork = params.Cancun
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.EVM == nil {
		cfg.EVM = vm.NewTransfer(cfg.Logger)
	}
	return &VM{
		chain:   cfg.Chain,
		store:   store,
		journal: state.NewJournal(store),
		evm:     cfg.EVM,
		signers: newCliqueSigners(),
		log:     cfg.Logger.Module("executor"),
	}
}

// State returns the live state store.
func (v *VM) State() *state.Store { return v.store }

// Journal returns the journal RunTx writes through.
func (v *VM) Journal() *state.Journal { return v.journal }

// ChainConfig returns the chain rules.
func (v *VM) ChainConfig() *ChainConfig { return v.chain }

// AddObserver registers o for before/after transaction notifications.
func (v *VM) AddObserver(o Observer) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.observers = append(v.observers, o)
}

// SubscribeAfterTx delivers every AfterTxEvent to ch.
func (v *VM) SubscribeAfterTx(ch chan<- *AfterTxEvent) event.Subscription {
	return v.afterFeed.Subscribe(ch)
}

// SetHead records the canonical head block.
func (v *VM) SetHead(b *types.Block) {
	v.headMu.Lock()
	v.head = b
	v.headMu.Unlock()
}

// CurrentBlock returns the canonical head, or an empty block at the
// configured hardfork when none was set.
func (v *VM) CurrentBlock() *types.Block {
	v.headMu.RLock()
	defer v.headMu.RUnlock()
	if v.head == nil {
		return types.NewEmptyBlock(v.chain.Hardfork)
	}
	return v.head
}
