// Package sched accumulates per-chunk dirty bits from route mutations and
// batch-applies them after a short delay, decoupling the write-rate of
// route churn from the cost of rebuilding derived lookup tables.
package sched

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kestrelnet/lpmcore/internal/bitset"
)

// DefaultDelay is the coarse-grained apply delay used when none is given.
const DefaultDelay = 200 * time.Millisecond

// Scheduler tracks dirty chunks and batches their application.
//
// Create a Scheduler with New; the zero Scheduler{} has no dirty bitmap.
// Marks made before Init are retained and arm no timer until Init runs
// (see MarkChunk).
type Scheduler struct {
	mu sync.Mutex

	dirty    *bitset.Set
	numChunk uint32

	pendingStart, pendingEnd uint32
	pendingCount             uint32
	havePending              bool

	delay    time.Duration
	timer    *time.Timer
	applyFn  func()
	log      zerolog.Logger
	initDone bool

	// deferredApply records that ApplyPending/Flush was requested before
	// Init ran (e.g. during boot-time configuration); it is honored as
	// soon as Init completes.
	deferredApply bool
}

// New creates a Scheduler covering numChunk chunks with the given apply
// delay (DefaultDelay if zero).
func New(numChunk uint32, delay time.Duration, log zerolog.Logger) *Scheduler {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Scheduler{
		dirty:    bitset.New(uint(numChunk)),
		numChunk: numChunk,
		delay:    delay,
		log:      log,
	}
}

// Init wires the function invoked for each dirty chunk during an apply
// pass, an optional hook run once after every chunk in the pass has been
// applied (spec.md §4.C's post-apply prune pass), and arms any pending
// work that accumulated before Init ran.
func (s *Scheduler) Init(applyOneChunk func(chunk uint32), onApplyDone ...func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var done func()
	if len(onApplyDone) > 0 {
		done = onApplyDone[0]
	}
	s.applyFn = func() { s.applyLocked(applyOneChunk, done) }
	s.initDone = true

	if s.deferredApply {
		s.deferredApply = false
		s.applyFn()
	} else if s.havePending {
		s.armTimer()
	}
}

// MarkChunk marks chunk as dirty and arms the apply timer if this is the
// first pending chunk. Safe to call before Init; the mark is retained.
func (s *Scheduler) MarkChunk(chunk uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markLocked(chunk)
}

// MarkRange marks every chunk in [first,last] (inclusive) as dirty.
func (s *Scheduler) MarkRange(first, last uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := first; c <= last; c++ {
		s.markLocked(c)
		if c == ^uint32(0) {
			break // guard against wraparound at the address-space edge
		}
	}
}

func (s *Scheduler) markLocked(chunk uint32) {
	wasFirst := !s.havePending
	if !s.dirty.Test(uint(chunk)) {
		s.dirty.Set(uint(chunk))
		s.pendingCount++
	}
	if !s.havePending {
		s.havePending = true
		s.pendingStart, s.pendingEnd = chunk, chunk
	} else {
		if chunk < s.pendingStart {
			s.pendingStart = chunk
		}
		if chunk > s.pendingEnd {
			s.pendingEnd = chunk
		}
	}
	if wasFirst && s.initDone {
		s.armTimer()
	}
}

func (s *Scheduler) armTimer() {
	if s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		fn := s.applyFn
		s.timer = nil
		s.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}

// ApplyPending runs the apply callback registered with Init over every
// dirty chunk now, canceling any armed timer. If Init has not run yet,
// the request is deferred until it does.
func (s *Scheduler) ApplyPending() {
	s.mu.Lock()

	if !s.initDone {
		s.deferredApply = true
		s.mu.Unlock()
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	fn := s.applyFn
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (s *Scheduler) applyLocked(applyOneChunk func(chunk uint32), onApplyDone func()) {
	if applyOneChunk == nil {
		return
	}
	if !s.havePending {
		return
	}

	start := time.Now()
	n := 0
	for idx, ok := s.dirty.NextSet(uint(s.pendingStart)); ok && idx <= uint(s.pendingEnd); idx, ok = s.dirty.NextSet(idx + 1) {
		applyOneChunk(uint32(idx))
		n++
	}
	s.dirty.ClearAll()
	s.havePending = false
	s.pendingCount = 0

	if onApplyDone != nil {
		onApplyDone()
	}

	s.log.Debug().
		Int("chunks", n).
		Dur("took", time.Since(start)).
		Msg("apply pass complete")
}

// Pending reports the current dirty-set bounds and count.
func (s *Scheduler) Pending() (start, end, count uint32, have bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingStart, s.pendingEnd, s.pendingCount, s.havePending
}
