// Package nexthop interns (gateway, output port) pairs into small integer
// ids with reference counting, so the lookup tables only ever carry a
// compact id rather than a full route attribute pair.
package nexthop

import (
	"errors"
	"net/netip"
)

// ErrOutOfCapacity is returned by Ref when the pool is full and no
// recycled id is available.
var ErrOutOfCapacity = errors.New("nexthop: out of capacity")

// DefaultID is the reserved id for the default route (prefix length 0).
// It is never reference-counted through Ref/Unref.
const DefaultID = 0

const noFree = -1

type entry struct {
	gw   netip.Addr
	port int // -1 when the slot is free
	refs uint32

	// intrusive index-based lists: allocated entries form a singly
	// linked list through next, the free list reuses the same field.
	next int32
}

// Pool interns (gateway, port) pairs to ids in [0, capacity).
type Pool struct {
	entries []entry
	maxSize int

	allocHead int32 // head of allocated list, -1 if empty
	freeHead  int32 // head of free list, -1 if empty
}

// New creates a pool that can hold at most maxSize ids, including the
// reserved default slot 0.
func New(maxSize int) *Pool {
	p := &Pool{
		maxSize:   maxSize,
		allocHead: noFree,
		freeHead:  noFree,
	}
	// slot 0 is reserved for the default route and is never on either list.
	p.entries = append(p.entries, entry{port: -1, next: noFree})
	return p
}

// Ref interns (gw, port), incrementing its refcount if already present,
// or allocating a new id otherwise. It never returns DefaultID.
func (p *Pool) Ref(gw netip.Addr, port int) (id int, err error) {
	for i := p.allocHead; i != noFree; i = p.entries[i].next {
		e := &p.entries[i]
		if e.port == port && e.gw == gw {
			e.refs++
			return int(i), nil
		}
	}

	var idx int32
	if p.freeHead != noFree {
		idx = p.freeHead
		p.freeHead = p.entries[idx].next
	} else {
		if len(p.entries) >= p.maxSize {
			return 0, ErrOutOfCapacity
		}
		idx = int32(len(p.entries))
		p.entries = append(p.entries, entry{})
	}

	p.entries[idx] = entry{gw: gw, port: port, refs: 1, next: p.allocHead}
	p.allocHead = idx
	return int(idx), nil
}

// Unref decrements the refcount of id, recycling it when it reaches zero.
// Unref on DefaultID or an unknown id is a no-op and returns 0.
func (p *Pool) Unref(id int) (remaining uint32) {
	if id == DefaultID || id <= 0 || id >= len(p.entries) {
		return 0
	}
	e := &p.entries[id]
	if e.refs == 0 {
		return 0
	}
	e.refs--
	if e.refs > 0 {
		return e.refs
	}

	p.unlinkAllocated(int32(id))
	e.port = -1
	e.next = p.freeHead
	p.freeHead = int32(id)
	return 0
}

func (p *Pool) unlinkAllocated(id int32) {
	prev := int32(noFree)
	for i := p.allocHead; i != noFree; i = p.entries[i].next {
		if i == id {
			if prev == noFree {
				p.allocHead = p.entries[i].next
			} else {
				p.entries[prev].next = p.entries[i].next
			}
			return
		}
		prev = i
	}
}

// Get returns the (gateway, port) pair for id, or (zero, -1, false) if the
// id is unallocated.
func (p *Pool) Get(id int) (gw netip.Addr, port int, ok bool) {
	if id < 0 || id >= len(p.entries) {
		return netip.Addr{}, -1, false
	}
	e := &p.entries[id]
	if id != DefaultID && e.refs == 0 {
		return netip.Addr{}, -1, false
	}
	return e.gw, e.port, true
}

// SetDefault updates the reserved default-route slot directly, bypassing
// refcounting. port == -1 clears the default route.
func (p *Pool) SetDefault(gw netip.Addr, port int) {
	p.entries[DefaultID] = entry{gw: gw, port: port, next: noFree}
}

// Capacity returns the maxSize the pool was created with.
func (p *Pool) Capacity() int { return p.maxSize }

// Count returns the number of currently interned non-default ids.
func (p *Pool) Count() int {
	n := 0
	for i := p.allocHead; i != noFree; i = p.entries[i].next {
		n++
	}
	return n
}
