package state

import (
	"slices"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// accessList tracks warm addresses and storage slots per EIP-2929.
type accessList struct {
	addresses map[common.Address]int // address -> index into slots, or -1 if no slots
	slots     []map[common.Hash]struct{}
}

func newAccessList() *accessList {
	return &accessList{
		addresses: make(map[common.Address]int),
	}
}

// AddAddress adds an address. Returns true if it was already present.
func (al *accessList) AddAddress(addr common.Address) bool {
	if _, ok := al.addresses[addr]; ok {
		return true
	}
	al.addresses[addr] = -1
	return false
}

// AddSlot adds an (address, slot) pair, implicitly adding the address.
func (al *accessList) AddSlot(addr common.Address, slot common.Hash) (addrPresent bool, slotPresent bool) {
	idx, addrPresent := al.addresses[addr]
	if addrPresent && idx != -1 {
		if _, ok := al.slots[idx][slot]; ok {
			return true, true
		}
		al.slots[idx][slot] = struct{}{}
		return true, false
	}
	al.addresses[addr] = len(al.slots)
	al.slots = append(al.slots, map[common.Hash]struct{}{slot: {}})
	return addrPresent, false
}

func (al *accessList) ContainsAddress(addr common.Address) bool {
	_, ok := al.addresses[addr]
	return ok
}

func (al *accessList) ContainsSlot(addr common.Address, slot common.Hash) bool {
	idx, ok := al.addresses[addr]
	if !ok || idx == -1 {
		return false
	}
	_, ok = al.slots[idx][slot]
	return ok
}

// DeleteAddress removes an address added without slots.
func (al *accessList) DeleteAddress(addr common.Address) {
	delete(al.addresses, addr)
}

// DeleteSlot removes a slot. The address stays, with an emptied slot set.
func (al *accessList) DeleteSlot(addr common.Address, slot common.Hash) {
	idx, ok := al.addresses[addr]
	if !ok || idx == -1 {
		return
	}
	delete(al.slots[idx], slot)
}

// Export returns the list sorted by address, with sorted storage keys.
func (al *accessList) Export() gethtypes.AccessList {
	addrs := make([]common.Address, 0, len(al.addresses))
	for addr := range al.addresses {
		addrs = append(addrs, addr)
	}
	slices.SortFunc(addrs, func(a, b common.Address) int { return a.Cmp(b) })

	out := make(gethtypes.AccessList, 0, len(addrs))
	for _, addr := range addrs {
		tuple := gethtypes.AccessTuple{Address: addr, StorageKeys: []common.Hash{}}
		if idx := al.addresses[addr]; idx != -1 {
			for slot := range al.slots[idx] {
				tuple.StorageKeys = append(tuple.StorageKeys, slot)
			}
			slices.SortFunc(tuple.StorageKeys, func(a, b common.Hash) int { return a.Cmp(b) })
		}
		out = append(out, tuple)
	}
	return out
}
