// Package engine ties the Nexthop Pool, Radix Trie, Update Scheduler,
// Range Projector, and the DIR-24-8/DXR accelerators into the external
// interface a host framework consumes (spec.md §6): route mutation,
// lookup, dump, and status, for both IPv4 and IPv6 address families.
//
// IPv6 has no accelerator (spec.md §1's "accelerators are IPv4-only"
// non-goal): its family queries the trie directly on every lookup.
package engine

import (
	"net/netip"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kestrelnet/lpmcore/dir24"
	"github.com/kestrelnet/lpmcore/dxr"
	"github.com/kestrelnet/lpmcore/nexthop"
	"github.com/kestrelnet/lpmcore/radix"
	"github.com/kestrelnet/lpmcore/sched"
)

// AcceleratorKind selects which derived lookup table the IPv4 family
// maintains alongside its authoritative trie.
type AcceleratorKind int

const (
	AcceleratorNone  AcceleratorKind = iota // trie-only, no derived table
	AcceleratorDIR24                        // DIR-24-8 direct+secondary
	AcceleratorDXR                          // DXR direct+range
)

// Accelerator is the interface both derived IPv4 lookup tables satisfy,
// letting engine stay agnostic to which one backs a given instance
// (spec.md §4.E/§4.F are alternative accelerators over the same trie).
type Accelerator interface {
	UpdateChunk(trie *radix.Trie, chunk uint32) error
	Lookup(addr netip.Addr) (nexthopID int, ok bool)
	Flush()
	ChunkShift() uint

	// Prune runs the accelerator's backing chunk allocator's compaction
	// pass, if it has one (spec.md §4.C: every apply pass ends with a
	// prune pass). DIR-24-8 has no chunk-pool-backed sharing, so its
	// Prune is a no-op.
	Prune()
}

// DefaultNexthopCapacity bounds the Nexthop Pool when Options doesn't
// specify one; VPORTS_MAX in spec.md §3 is left to the caller, this is
// just a reasonable default for the common case.
const DefaultNexthopCapacity = 1 << 16

// Options configures a new Engine.
type Options struct {
	Accelerator     AcceleratorKind
	DXRDirectBits   uint // only consulted when Accelerator == AcceleratorDXR
	NexthopCapacity int  // per family; 0 uses DefaultNexthopCapacity
	ApplyDelay      time.Duration
	Logger          zerolog.Logger
}

// family bundles one address family's authoritative and derived state.
// v6 never sets sched/accel: there is no derived table to keep dirty.
type family struct {
	trie     *radix.Trie
	nexthops *nexthop.Pool

	haveDefault bool
	defaultGW   netip.Addr
	defaultPort int

	sched *sched.Scheduler
	accel Accelerator
}

// Engine is the core's external-facing value: a host process owns one
// per routing domain.
//
// mu is a RWMutex rather than a plain Mutex so that Lookup, Status, and
// DumpRoutes can run concurrently with each other (spec.md §5's
// "reader-writer with deferred updates" mode: many concurrent readers,
// a single writer batching mutations). Mutation methods and
// ApplyPending/Flush still take the exclusive write lock.
type Engine struct {
	mu sync.RWMutex

	v4, v6 family

	log       zerolog.Logger
	lastApply time.Duration
}

// New creates an Engine with an empty v4 and v6 trie and the
// accelerator selected by opts.
func New(opts Options) *Engine {
	cap := opts.NexthopCapacity
	if cap <= 0 {
		cap = DefaultNexthopCapacity
	}
	log := opts.Logger

	e := &Engine{
		v4: family{
			trie:     radix.NewV4(),
			nexthops: nexthop.New(cap),
		},
		v6: family{
			trie:     radix.NewV6(),
			nexthops: nexthop.New(cap),
		},
		log: log,
	}

	var accel Accelerator
	switch opts.Accelerator {
	case AcceleratorDIR24:
		accel = dir24.New()
	case AcceleratorDXR:
		accel = dxr.New(opts.DXRDirectBits)
	}
	if accel != nil {
		e.v4.accel = accel
		numChunks := uint32(1) << (32 - accel.ChunkShift())
		e.v4.sched = sched.New(numChunks, opts.ApplyDelay, log)
		e.v4.sched.Init(func(chunk uint32) {
			if err := accel.UpdateChunk(e.v4.trie, chunk); err != nil {
				e.log.Error().Err(err).Uint32("chunk", chunk).Msg("accelerator update failed")
			}
		}, accel.Prune)
	}

	return e
}

func familyFor(addr netip.Addr) bool { return addr.Is4() || addr.Is4In6() }

// famForPrefix returns the family (v4 or v6) that owns pfx, and whether it is v4.
func (e *Engine) famForPrefix(pfx netip.Prefix) (*family, bool) {
	if familyFor(pfx.Addr()) {
		return &e.v4, true
	}
	return &e.v6, false
}

// AddRoute inserts pfx with (gw, port), interning the nexthop. It fails
// with radix.ErrAlreadyExists if the exact prefix is already present.
func (e *Engine) AddRoute(pfx netip.Prefix, gw netip.Addr, port int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.upsert(pfx, gw, port, false)
}

// SetRoute inserts or overwrites pfx with (gw, port).
func (e *Engine) SetRoute(pfx netip.Prefix, gw netip.Addr, port int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.upsert(pfx, gw, port, true)
}

func (e *Engine) upsert(pfx netip.Prefix, gw netip.Addr, port int, overwrite bool) error {
	pfx = pfx.Masked()
	fam, isV4 := e.famForPrefix(pfx)

	if pfx.Bits() == 0 {
		if !overwrite && fam.haveDefault {
			return radix.ErrAlreadyExists
		}
		e.setDefault(fam, gw, port)
		return nil
	}

	id, err := fam.nexthops.Ref(gw, port)
	if err != nil {
		return err
	}

	var oldID int
	var hadOld bool
	var insertErr error
	if overwrite {
		oldID, hadOld, insertErr = fam.trie.Set(pfx, id)
	} else {
		insertErr = fam.trie.Add(pfx, id)
	}
	if insertErr != nil {
		fam.nexthops.Unref(id)
		return insertErr
	}

	if hadOld {
		fam.nexthops.Unref(oldID)
	}

	e.log.Debug().Stringer("prefix", pfx).Int("nexthop", id).Bool("v4", isV4).Msg("route installed")
	e.markDirty(fam, pfx)
	return nil
}

// RemoveRoute deletes the exact prefix, returning its former (gw, port).
// It fails with radix.ErrNotFound if absent.
func (e *Engine) RemoveRoute(pfx netip.Prefix) (gw netip.Addr, port int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pfx = pfx.Masked()
	fam, _ := e.famForPrefix(pfx)

	if pfx.Bits() == 0 {
		gw, port = fam.defaultGW, fam.defaultPort
		if !fam.haveDefault {
			return netip.Addr{}, 0, radix.ErrNotFound
		}
		e.setDefault(fam, netip.Addr{}, -1)
		fam.haveDefault = false
		return gw, port, nil
	}

	id, err := fam.trie.Remove(pfx)
	if err != nil {
		return netip.Addr{}, 0, err
	}
	gw, port, _ = fam.nexthops.Get(id)
	fam.nexthops.Unref(id)

	e.markDirty(fam, pfx)
	return gw, port, nil
}

func (e *Engine) setDefault(fam *family, gw netip.Addr, port int) {
	fam.nexthops.SetDefault(gw, port)
	fam.defaultGW, fam.defaultPort = gw, port
	fam.haveDefault = port >= 0
	// spec.md §4.C: default-route changes never mark lookup chunks dirty.
}

// markDirty marks the chunk range pfx covers as dirty in fam's
// scheduler, if this family maintains a derived table.
func (e *Engine) markDirty(fam *family, pfx netip.Prefix) {
	if fam.sched == nil {
		return
	}
	addr := pfx.Addr().As4()
	start := u32(addr)
	mask := maskFor(pfx.Bits())
	end := start | ^mask
	shift := fam.accel.ChunkShift()
	fam.sched.MarkRange(start>>shift, end>>shift)
}

func u32(b [4]byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func maskFor(bits int) uint32 {
	if bits == 0 {
		return 0
	}
	return ^uint32(0) << (32 - bits)
}

// Lookup resolves addr to (port, gw). port == -1 means discard (no
// route and no default). IPv4 addresses are served by the family's
// accelerator when one is configured; IPv6 always queries the trie.
func (e *Engine) Lookup(addr netip.Addr) (port int, gw netip.Addr) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if familyFor(addr) {
		return e.lookupFamily(&e.v4, addr)
	}
	return e.lookupFamily(&e.v6, addr)
}

func (e *Engine) lookupFamily(fam *family, addr netip.Addr) (port int, gw netip.Addr) {
	var id int
	var ok bool
	if fam.accel != nil {
		id, ok = fam.accel.Lookup(addr)
	} else {
		id, ok = fam.trie.Match(addr)
	}
	if !ok {
		id = nexthop.DefaultID
	}
	gw, port, found := fam.nexthops.Get(id)
	if !found || port < 0 {
		return -1, netip.Addr{}
	}
	return port, gw
}

// ApplyPending forces the IPv4 accelerator (if any) to rebuild every
// dirty chunk now rather than waiting for the scheduler's timer.
func (e *Engine) ApplyPending() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.v4.sched == nil {
		return
	}
	start := time.Now()
	e.v4.sched.ApplyPending()
	e.lastApply = time.Since(start)
}

// Flush clears both families' tries, nexthop pools, and (for v4) the
// accelerator, in one pass. Per spec.md §9, the accelerator's Flush is
// a fast reset rather than a re-mark-and-reproject pass.
func (e *Engine) Flush() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.v4.trie.Flush()
	e.v4.nexthops = nexthop.New(e.v4.nexthops.Capacity())
	e.v4.haveDefault = false
	if e.v4.accel != nil {
		e.v4.accel.Flush()
	}

	e.v6.trie.Flush()
	e.v6.nexthops = nexthop.New(e.v6.nexthops.Capacity())
	e.v6.haveDefault = false

	e.log.Warn().Msg("engine flushed")
}
