package fleet

import (
	"fmt"
	"sync"

	"lego-hub-manager/internal/hub"
)

// Seed is a known device loaded from configuration at startup
type Seed struct {
	Address hub.Address
	Channel int
	Name    string
}

// SlotSnapshot is a read-only copy of one registry entry
type SlotSnapshot struct {
	Index     int         `json:"index"`
	Address   hub.Address `json:"address"`
	Name      string      `json:"name"`
	Channel   int         `json:"channel"`
	Color     string      `json:"color"`
	Connected bool        `json:"connected"`
	Battery   int         `json:"battery"`
	IsRemote  bool        `json:"is_remote"`
}

type slot struct {
	mu         sync.RWMutex
	address    hub.Address // written once under Registry.addrMu
	name       string
	channel    int
	peripheral hub.Peripheral
	battery    int
	isRemote   bool
}

// Registry is the fixed-capacity table binding peripheral addresses to
// channels. Address assignment is serialized across the table; every other
// field is guarded by its own slot lock.
type Registry struct {
	addrMu      sync.RWMutex
	slots       []*slot
	maxChannels int
}

// NewRegistry creates a registry with size slots, pre-assigning seeds in order
func NewRegistry(size, maxChannels int, seeds []Seed) (*Registry, error) {
	if size <= 0 {
		return nil, fmt.Errorf("registry size must be positive, got %d", size)
	}
	if maxChannels <= 0 {
		return nil, fmt.Errorf("channel count must be positive, got %d", maxChannels)
	}
	if len(seeds) > size {
		return nil, fmt.Errorf("%d known devices do not fit into %d slots", len(seeds), size)
	}

	r := &Registry{
		slots:       make([]*slot, size),
		maxChannels: maxChannels,
	}
	for i := range r.slots {
		r.slots[i] = &slot{channel: i % maxChannels}
	}

	for i, seed := range seeds {
		if seed.Address.IsZero() {
			return nil, fmt.Errorf("known device #%d has no address", i+1)
		}
		if seed.Channel < 0 || seed.Channel >= maxChannels {
			return nil, fmt.Errorf("known device %s: channel %d out of range [0,%d)", seed.Address, seed.Channel, maxChannels)
		}
		if _, dup := r.Find(seed.Address); dup {
			return nil, fmt.Errorf("known device %s listed twice", seed.Address)
		}
		r.slots[i].address = seed.Address
		r.slots[i].channel = seed.Channel
		r.slots[i].name = seed.Name
	}
	return r, nil
}

// Len returns the slot capacity
func (r *Registry) Len() int {
	return len(r.slots)
}

// MaxChannels returns the number of channels slots cycle through
func (r *Registry) MaxChannels() int {
	return r.maxChannels
}

// Find returns the slot bound to addr without allocating
func (r *Registry) Find(addr hub.Address) (int, bool) {
	r.addrMu.RLock()
	defer r.addrMu.RUnlock()
	return r.findLocked(addr)
}

func (r *Registry) findLocked(addr hub.Address) (int, bool) {
	if addr.IsZero() {
		return -1, false
	}
	for i, s := range r.slots {
		if s.address.Equal(addr) {
			return i, true
		}
	}
	return -1, false
}

// IsKnownOrAllocate returns the slot already bound to addr, or claims the
// first empty slot for it at the default channel equal to the slot index.
// It returns false when the address is unknown and the registry is full.
func (r *Registry) IsKnownOrAllocate(addr hub.Address) (int, bool) {
	if addr.IsZero() {
		return -1, false
	}

	r.addrMu.Lock()
	defer r.addrMu.Unlock()

	if idx, ok := r.findLocked(addr); ok {
		return idx, true
	}

	for i, s := range r.slots {
		if !s.address.IsZero() {
			continue
		}
		s.mu.Lock()
		s.address = addr
		s.channel = i % r.maxChannels
		s.mu.Unlock()
		return i, true
	}
	return -1, false
}

// Address returns the address assigned to a slot
func (r *Registry) Address(idx int) hub.Address {
	if !r.valid(idx) {
		return ""
	}
	r.addrMu.RLock()
	defer r.addrMu.RUnlock()
	return r.slots[idx].address
}

// Channel returns the slot's current channel
func (r *Registry) Channel(idx int) int {
	if !r.valid(idx) {
		return 0
	}
	s := r.slots[idx]
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channel
}

// AdvanceChannel moves the slot to the next channel, wrapping at the channel
// count, and returns the new channel.
func (r *Registry) AdvanceChannel(idx int) int {
	if !r.valid(idx) {
		return 0
	}
	s := r.slots[idx]
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channel = (s.channel + 1) % r.maxChannels
	return s.channel
}

// Bind attaches a live peripheral handle to the slot
func (r *Registry) Bind(idx int, p hub.Peripheral) error {
	if !r.valid(idx) {
		return fmt.Errorf("slot %d out of range", idx)
	}
	s := r.slots[idx]
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peripheral != nil {
		return fmt.Errorf("slot %d: %w", idx, ErrSlotBusy)
	}
	s.peripheral = p
	s.isRemote = p.Class() == hub.ClassRemote
	if name := p.Name(); name != "" {
		s.name = name
	}
	return nil
}

// Bound reports whether a session currently holds a handle for the slot
func (r *Registry) Bound(idx int) bool {
	if !r.valid(idx) {
		return false
	}
	s := r.slots[idx]
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peripheral != nil
}

// Unbind drops the slot's handle; address and channel are kept so a
// reconnecting hub returns to the same channel.
func (r *Registry) Unbind(idx int) {
	if !r.valid(idx) {
		return
	}
	s := r.slots[idx]
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peripheral = nil
}

// SetBattery stores a battery percentage, clamped to 0..100
func (r *Registry) SetBattery(idx, level int) {
	if !r.valid(idx) {
		return
	}
	s := r.slots[idx]
	s.mu.Lock()
	defer s.mu.Unlock()
	s.battery = max(0, min(100, level))
}

// Slot returns a snapshot of one slot
func (r *Registry) Slot(idx int) SlotSnapshot {
	if !r.valid(idx) {
		return SlotSnapshot{Index: idx}
	}
	addr := r.Address(idx)
	s := r.slots[idx]
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SlotSnapshot{
		Index:     idx,
		Address:   addr,
		Name:      s.name,
		Channel:   s.channel,
		Color:     hub.ChannelColor(s.channel).String(),
		Connected: s.peripheral != nil,
		Battery:   s.battery,
		IsRemote:  s.isRemote,
	}
}

// Snapshot returns every slot in index order
func (r *Registry) Snapshot() []SlotSnapshot {
	out := make([]SlotSnapshot, len(r.slots))
	for i := range r.slots {
		out[i] = r.Slot(i)
	}
	return out
}

func (r *Registry) valid(idx int) bool {
	return idx >= 0 && idx < len(r.slots)
}
