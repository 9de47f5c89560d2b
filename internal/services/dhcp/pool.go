package dhcp

import (
	"container/heap"
	"encoding/binary"
	"fmt"
	"net/netip"
	"sort"
)

// Pool owns address availability for a contiguous IPv4 range. Free
// addresses are handed out smallest first. Every address is either free or
// held by exactly one identity, and an identity holds at most one address.
type Pool struct {
	base uint32
	size int

	free       freeHeap
	held       map[int]string
	byIdentity map[string]int
}

// NewPool creates a pool covering start..end inclusive.
func NewPool(start, end netip.Addr) (*Pool, error) {
	if !start.Is4() || !end.Is4() {
		return nil, fmt.Errorf("pool %s-%s: only IPv4 ranges are supported", start, end)
	}
	lo, hi := toUint32(start), toUint32(end)
	if hi < lo {
		return nil, fmt.Errorf("pool %s-%s: end before start", start, end)
	}

	size := int(hi-lo) + 1
	p := &Pool{
		base:       lo,
		size:       size,
		held:       make(map[int]string),
		byIdentity: make(map[string]int),
		free: freeHeap{
			items: make([]int, size),
			pos:   make([]int, size),
		},
	}
	// Offsets in ascending order already satisfy the heap property.
	for i := 0; i < size; i++ {
		p.free.items[i] = i
		p.free.pos[i] = i
	}
	return p, nil
}

// Allocate returns the address held by identity, or takes the smallest
// free one for it.
func (p *Pool) Allocate(identity string) (string, error) {
	if off, ok := p.byIdentity[identity]; ok {
		return p.addr(off), nil
	}
	if p.free.Len() == 0 {
		return "", ErrPoolExhausted
	}
	off := heap.Pop(&p.free).(int)
	p.hold(off, identity)
	return p.addr(off), nil
}

// Claim takes a specific free address for identity. Claiming an address
// the identity already holds is a no-op.
func (p *Pool) Claim(address, identity string) error {
	off, err := p.offset(address)
	if err != nil {
		return err
	}
	if holder, ok := p.held[off]; ok {
		if holder == identity {
			return nil
		}
		return fmt.Errorf("%s: %w", address, ErrAddressHeld)
	}
	if cur, ok := p.byIdentity[identity]; ok {
		return fmt.Errorf("%s already holds %s: %w", identity, p.addr(cur), ErrAddressHeld)
	}
	heap.Remove(&p.free, p.free.pos[off])
	p.hold(off, identity)
	return nil
}

// Release returns address to the free set. It reports whether the address
// was held.
func (p *Pool) Release(address string) bool {
	off, err := p.offset(address)
	if err != nil {
		return false
	}
	identity, ok := p.held[off]
	if !ok {
		return false
	}
	delete(p.held, off)
	delete(p.byIdentity, identity)
	heap.Push(&p.free, off)
	return true
}

// Holder returns the identity holding address.
func (p *Pool) Holder(address string) (string, bool) {
	off, err := p.offset(address)
	if err != nil {
		return "", false
	}
	identity, ok := p.held[off]
	return identity, ok
}

// AddressOf returns the address held by identity.
func (p *Pool) AddressOf(identity string) (string, bool) {
	off, ok := p.byIdentity[identity]
	if !ok {
		return "", false
	}
	return p.addr(off), true
}

// Contains reports whether address is inside the pool's range.
func (p *Pool) Contains(address string) bool {
	_, err := p.offset(address)
	return err == nil
}

// Available returns the number of free addresses.
func (p *Pool) Available() int { return p.free.Len() }

// Size returns the number of addresses in the range.
func (p *Pool) Size() int { return p.size }

// FreeAddresses returns the free addresses in ascending order.
func (p *Pool) FreeAddresses() []string {
	offs := append([]int(nil), p.free.items...)
	sort.Ints(offs)
	out := make([]string, len(offs))
	for i, off := range offs {
		out[i] = p.addr(off)
	}
	return out
}

// HeldAddresses returns the held addresses in ascending order.
func (p *Pool) HeldAddresses() []string {
	offs := make([]int, 0, len(p.held))
	for off := range p.held {
		offs = append(offs, off)
	}
	sort.Ints(offs)
	out := make([]string, len(offs))
	for i, off := range offs {
		out[i] = p.addr(off)
	}
	return out
}

func (p *Pool) hold(off int, identity string) {
	p.held[off] = identity
	p.byIdentity[identity] = off
}

func (p *Pool) offset(address string) (int, error) {
	a, err := netip.ParseAddr(address)
	if err != nil || !a.Is4() {
		return 0, fmt.Errorf("%q: %w", address, ErrAddressNotInPool)
	}
	v := toUint32(a)
	if v < p.base || v-p.base >= uint32(p.size) {
		return 0, fmt.Errorf("%s: %w", address, ErrAddressNotInPool)
	}
	return int(v - p.base), nil
}

func (p *Pool) addr(off int) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], p.base+uint32(off))
	return netip.AddrFrom4(b).String()
}

func toUint32(a netip.Addr) uint32 {
	b := a.As4()
	return binary.BigEndian.Uint32(b[:])
}

// freeHeap is a min-heap of pool offsets that tracks each offset's index
// so a specific address can be removed in O(log n).
type freeHeap struct {
	items []int
	pos   []int // offset -> index in items, -1 when held
}

func (h freeHeap) Len() int           { return len(h.items) }
func (h freeHeap) Less(i, j int) bool { return h.items[i] < h.items[j] }
func (h freeHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.pos[h.items[i]] = i
	h.pos[h.items[j]] = j
}

func (h *freeHeap) Push(x any) {
	off := x.(int)
	h.pos[off] = len(h.items)
	h.items = append(h.items, off)
}

func (h *freeHeap) Pop() any {
	n := len(h.items)
	off := h.items[n-1]
	h.items = h.items[:n-1]
	h.pos[off] = -1
	return off
}
