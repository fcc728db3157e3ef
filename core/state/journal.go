package state

import (
	"context"
	"maps"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/crypto/sha3"

	"github.com/eth2030/txcore/core/types"
)

// journalEntry is a revertible change to journal-owned tracking state.
// Account and storage changes are reverted by the Store's own checkpoints.
type journalEntry interface {
	revert(j *Journal)
}

type warmAddressChange struct {
	addr common.Address
}

func (ch warmAddressChange) revert(j *Journal) { j.warm.DeleteAddress(ch.addr) }

type warmSlotChange struct {
	addr common.Address
	slot common.Hash
}

func (ch warmSlotChange) revert(j *Journal) { j.warm.DeleteSlot(ch.addr, ch.slot) }

type touchChange struct {
	addr common.Address
}

func (ch touchChange) revert(j *Journal) { delete(j.touched, ch.addr) }

// Journal is the executor's undo-log over a Store. Checkpoints are indices
// into a flat entry arena; the Store is checkpointed in lockstep.
type Journal struct {
	store *Store

	entries     []journalEntry
	checkpoints []int

	warm       *accessList
	alwaysWarm *accessList
	touched    map[common.Address]struct{}

	report    *accessList
	preimages map[common.Hash][]byte
}

// NewJournal returns a journal writing through to store.
func NewJournal(store *Store) *Journal {
	return &Journal{
		store:      store,
		warm:       newAccessList(),
		alwaysWarm: newAccessList(),
		touched:    make(map[common.Address]struct{}),
	}
}

// Store returns the underlying store.
func (j *Journal) Store() *Store { return j.store }

func (j *Journal) append(entry journalEntry) {
	j.entries = append(j.entries, entry)
}

// Checkpoint opens a nested checkpoint.
func (j *Journal) Checkpoint() {
	j.checkpoints = append(j.checkpoints, len(j.entries))
	j.store.Checkpoint()
}

// Commit keeps every change since the innermost checkpoint.
func (j *Journal) Commit() error {
	if len(j.checkpoints) == 0 {
		return ErrNoCheckpoint
	}
	j.checkpoints = j.checkpoints[:len(j.checkpoints)-1]
	if len(j.checkpoints) == 0 {
		j.entries = j.entries[:0]
	}
	return j.store.Commit()
}

// Revert undoes every change since the innermost checkpoint.
func (j *Journal) Revert() error {
	if len(j.checkpoints) == 0 {
		return ErrNoCheckpoint
	}
	idx := j.checkpoints[len(j.checkpoints)-1]
	j.checkpoints = j.checkpoints[:len(j.checkpoints)-1]
	for i := len(j.entries) - 1; i >= idx; i-- {
		j.entries[i].revert(j)
	}
	j.entries = j.entries[:idx]
	return j.store.Revert()
}

// Depth returns the number of open checkpoints.
func (j *Journal) Depth() int { return len(j.checkpoints) }

// PutAccount writes acct and marks addr touched.
func (j *Journal) PutAccount(addr common.Address, acct *types.Account) {
	j.Touch(addr)
	j.recordPreimage(addr.Bytes())
	j.store.PutAccount(addr, acct)
}

// DeleteAccount removes addr and marks it touched.
func (j *Journal) DeleteAccount(addr common.Address) {
	j.Touch(addr)
	j.recordPreimage(addr.Bytes())
	j.store.DeleteAccount(addr)
}

// Touch marks addr for EIP-161 empty-account cleanup.
func (j *Journal) Touch(addr common.Address) {
	if _, ok := j.touched[addr]; ok {
		return
	}
	j.touched[addr] = struct{}{}
	j.append(touchChange{addr: addr})
}

// AddAlwaysWarmAddress warms addr for the whole transaction, surviving
// reverts. If report is set the address is also added to the access-list
// report.
func (j *Journal) AddAlwaysWarmAddress(addr common.Address, report bool) {
	j.alwaysWarm.AddAddress(addr)
	if report && j.report != nil {
		j.report.AddAddress(addr)
	}
}

// AddAlwaysWarmSlot is AddAlwaysWarmAddress for a storage slot.
func (j *Journal) AddAlwaysWarmSlot(addr common.Address, slot common.Hash, report bool) {
	j.alwaysWarm.AddSlot(addr, slot)
	if report && j.report != nil {
		j.report.AddSlot(addr, slot)
	}
}

// AddWarmedAddress warms addr until the enclosing checkpoint is reverted.
func (j *Journal) AddWarmedAddress(addr common.Address) {
	if !j.warm.AddAddress(addr) {
		j.append(warmAddressChange{addr: addr})
	}
	if j.report != nil {
		j.report.AddAddress(addr)
	}
	j.recordPreimage(addr.Bytes())
}

// AddWarmedStorage warms a slot until the enclosing checkpoint is reverted.
func (j *Journal) AddWarmedStorage(addr common.Address, slot common.Hash) {
	addrPresent, slotPresent := j.warm.AddSlot(addr, slot)
	if !addrPresent {
		j.append(warmAddressChange{addr: addr})
	}
	if !slotPresent {
		j.append(warmSlotChange{addr: addr, slot: slot})
	}
	if j.report != nil {
		j.report.AddSlot(addr, slot)
	}
	j.recordPreimage(slot.Bytes())
}

func (j *Journal) IsWarmedAddress(addr common.Address) bool {
	return j.warm.ContainsAddress(addr) || j.alwaysWarm.ContainsAddress(addr)
}

func (j *Journal) IsWarmedStorage(addr common.Address, slot common.Hash) bool {
	return j.warm.ContainsSlot(addr, slot) || j.alwaysWarm.ContainsSlot(addr, slot)
}

// StartAccessListReport begins accumulating an access-list report.
func (j *Journal) StartAccessListReport() {
	j.report = newAccessList()
}

// AccessListReport returns the accumulated report, nil if not started.
func (j *Journal) AccessListReport() gethtypes.AccessList {
	if j.report == nil {
		return nil
	}
	return j.report.Export()
}

// StartPreimageReport begins recording keccak preimages of touched
// addresses and slots.
func (j *Journal) StartPreimageReport() {
	j.preimages = make(map[common.Hash][]byte)
}

// Preimages returns the recorded preimages, nil if not started.
func (j *Journal) Preimages() map[common.Hash][]byte {
	if j.preimages == nil {
		return nil
	}
	return maps.Clone(j.preimages)
}

// AddPreimage records key under its keccak256 hash when reporting.
func (j *Journal) AddPreimage(key []byte) { j.recordPreimage(key) }

func (j *Journal) recordPreimage(key []byte) {
	if j.preimages == nil {
		return
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(key)
	var hash common.Hash
	h.Sum(hash[:0])
	if _, ok := j.preimages[hash]; !ok {
		j.preimages[hash] = common.CopyBytes(key)
	}
}

// CleanJournal drops the per-transaction warm set. Undo entries are kept
// while an enclosing checkpoint is still open.
func (j *Journal) CleanJournal() {
	j.warm = newAccessList()
	if len(j.checkpoints) == 0 {
		j.entries = j.entries[:0]
	}
}

// DeleteTouchedEmpty removes touched accounts that are EIP-161 empty.
func (j *Journal) DeleteTouchedEmpty(ctx context.Context) error {
	for addr := range j.touched {
		acct, err := j.store.GetAccount(ctx, addr)
		if err != nil {
			return err
		}
		if acct != nil && acct.IsEmpty() {
			j.store.DeleteAccount(addr)
		}
	}
	return nil
}

// Cleanup resets all per-transaction tracking including reports and the
// always-warm set.
func (j *Journal) Cleanup() {
	j.CleanJournal()
	j.alwaysWarm = newAccessList()
	j.touched = make(map[common.Address]struct{})
	j.report = nil
	j.preimages = nil
}
