package sched

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPendingVisitsDirtyChunksOnce(t *testing.T) {
	s := New(1024, time.Hour, zerolog.Nop())

	var applied []uint32
	s.Init(func(chunk uint32) { applied = append(applied, chunk) })

	s.MarkChunk(5)
	s.MarkChunk(9)
	s.MarkChunk(5) // duplicate mark must not double-apply

	s.ApplyPending()
	assert.ElementsMatch(t, []uint32{5, 9}, applied)

	_, _, count, have := s.Pending()
	assert.False(t, have)
	assert.Zero(t, count)
}

func TestApplyDeferredBeforeInit(t *testing.T) {
	s := New(64, time.Hour, zerolog.Nop())
	s.MarkChunk(3)
	s.ApplyPending() // requested before Init; must not be lost

	var applied []uint32
	s.Init(func(chunk uint32) { applied = append(applied, chunk) })
	assert.Equal(t, []uint32{3}, applied)
}

func TestMarkRangeExpandsBounds(t *testing.T) {
	s := New(64, time.Hour, zerolog.Nop())
	var applied []uint32
	s.Init(func(chunk uint32) { applied = append(applied, chunk) })

	s.MarkRange(10, 13)
	s.ApplyPending()
	assert.ElementsMatch(t, []uint32{10, 11, 12, 13}, applied)
}

func TestApplyPendingRunsOnApplyDoneHook(t *testing.T) {
	s := New(64, time.Hour, zerolog.Nop())
	var pruned int
	s.Init(func(chunk uint32) {}, func() { pruned++ })

	s.MarkChunk(1)
	s.ApplyPending()
	assert.Equal(t, 1, pruned)

	// A no-op apply (nothing dirty) must not re-run the hook.
	s.ApplyPending()
	assert.Equal(t, 1, pruned)
}

func TestTimerFiresApply(t *testing.T) {
	s := New(64, 10*time.Millisecond, zerolog.Nop())
	done := make(chan struct{})
	s.Init(func(chunk uint32) { close(done) })

	s.MarkChunk(1)

	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "timer never fired")
	}
}
