package chunkpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocDedupsIdenticalContent(t *testing.T) {
	a := New()

	b1 := a.Alloc(1, []byte{0x00, 0x01, 0x40, 0x02})
	b2 := a.Alloc(2, []byte{0x00, 0x01, 0x40, 0x02})

	assert.Equal(t, b1, b2)

	refs, bump := a.Stats()
	assert.Equal(t, uint32(2), refs)
	assert.Equal(t, uint32(4), bump)
}

func TestAllocDistinctContentGetsDistinctBase(t *testing.T) {
	a := New()

	b1 := a.Alloc(1, []byte{0x00, 0x01})
	b2 := a.Alloc(2, []byte{0x00, 0x02})

	assert.NotEqual(t, b1, b2)
}

func TestUnrefToZeroFreesAndAllowsReuse(t *testing.T) {
	a := New()

	b1 := a.Alloc(1, []byte{0xaa, 0xbb})
	a.Unref(1, b1)

	refs, _ := a.Stats()
	assert.Zero(t, refs)

	b2 := a.Alloc(2, []byte{0xcc, 0xcc})
	require.Equal(t, b1, b2, "best-fit should not need to grow the pool")
}

func TestUnrefMergesAdjacentHoles(t *testing.T) {
	a := New()

	b1 := a.Alloc(1, []byte{0x01, 0x01})
	b2 := a.Alloc(2, []byte{0x02, 0x02})
	a.Unref(1, b1)
	a.Unref(2, b2)

	// After both 2-byte holes merge, a 4-byte allocation should fit
	// into the single merged hole rather than growing the bump cursor.
	before := a.bump
	a.Alloc(3, []byte{0x03, 0x03, 0x03, 0x03})
	assert.Equal(t, before, a.bump)
}

func TestPruneCompactsAndRelocates(t *testing.T) {
	a := New()

	b1 := a.Alloc(1, []byte{0x01, 0x01})
	b2 := a.Alloc(2, []byte{0x02, 0x02})
	_ = a.Alloc(3, []byte{0x03, 0x03})

	a.Unref(1, b1)

	relocations := map[uint32]uint32{}
	a.Prune(func(chunkID uint32, newBase uint32) {
		relocations[chunkID] = newBase
	})

	// chunk 1's hole is gone; chunk 2 and 3 slid down to close it, and
	// chunk 2's content must still read back correctly at its new base.
	_, bump := a.Stats()
	assert.Equal(t, uint32(4), bump)

	newBase, moved := relocations[2]
	require.True(t, moved)
	assert.NotEqual(t, b2, newBase)
	assert.Equal(t, []byte{0x02, 0x02}, a.Content(newBase, 2))
}

func TestStatsRefcountMatchesLiveReferences(t *testing.T) {
	a := New()

	b1 := a.Alloc(1, []byte{0x01})
	a.Alloc(2, []byte{0x01}) // dedup, shares b1's descriptor
	a.Alloc(3, []byte{0x02})

	refs, _ := a.Stats()
	assert.Equal(t, uint32(3), refs)

	a.Unref(1, b1)
	refs, _ = a.Stats()
	assert.Equal(t, uint32(2), refs)
}
