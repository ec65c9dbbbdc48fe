package dxr

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelnet/lpmcore/radix"
)

func p(s string) netip.Prefix { return netip.MustParsePrefix(s) }
func a(s string) netip.Addr   { return netip.MustParseAddr(s) }

func chunkOf(tbl *Table, addr netip.Addr) uint32 {
	b := addr.As4()
	v := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	return v >> tbl.rangeShift()
}

func TestSingleFragmentIsInlineDirectHit(t *testing.T) {
	tr := radix.NewV4()
	require.NoError(t, tr.Add(p("192.168.0.0/24"), 7))

	tbl := New(20)
	require.NoError(t, tbl.UpdateChunk(tr, chunkOf(tbl, a("192.168.0.1"))))

	id, ok := tbl.Lookup(a("192.168.0.1"))
	require.True(t, ok)
	assert.Equal(t, 7, id)

	directHits, chunksShort, chunksLong, _, _, poolBytes := tbl.Stats()
	assert.Greater(t, directHits, 0)
	assert.Zero(t, chunksShort)
	assert.Zero(t, chunksLong)
	assert.Zero(t, poolBytes)
}

func TestMultiFragmentUsesShortFormat(t *testing.T) {
	tr := radix.NewV4()
	require.NoError(t, tr.Add(p("10.0.0.0/16"), 1))
	require.NoError(t, tr.Add(p("10.0.64.0/24"), 2))

	tbl := New(16) // 16-bit direct table so the chunk is a /16, aligned to 256
	require.NoError(t, tbl.UpdateChunk(tr, chunkOf(tbl, a("10.0.0.1"))))

	id, ok := tbl.Lookup(a("10.0.0.1"))
	require.True(t, ok)
	assert.Equal(t, 1, id)

	id, ok = tbl.Lookup(a("10.0.64.5"))
	require.True(t, ok)
	assert.Equal(t, 2, id)

	_, chunksShort, chunksLong, _, _, poolBytes := tbl.Stats()
	assert.Equal(t, 1, chunksShort)
	assert.Zero(t, chunksLong)
	assert.Greater(t, poolBytes, uint32(0))
}

func TestDedupSharesDescriptor(t *testing.T) {
	tr := radix.NewV4()
	// Two non-adjacent /16 chunks with the identical fragment pattern.
	require.NoError(t, tr.Add(p("10.0.0.0/16"), 1))
	require.NoError(t, tr.Add(p("10.0.64.0/18"), 2))
	require.NoError(t, tr.Add(p("20.0.0.0/16"), 1))
	require.NoError(t, tr.Add(p("20.0.64.0/18"), 2))

	tbl := New(16)
	require.NoError(t, tbl.UpdateChunk(tr, chunkOf(tbl, a("10.0.0.1"))))
	_, poolBytesOne := tbl.pool.Stats()

	require.NoError(t, tbl.UpdateChunk(tr, chunkOf(tbl, a("20.0.0.1"))))
	_, poolBytesTwo := tbl.pool.Stats()

	assert.Equal(t, poolBytesOne, poolBytesTwo, "identical fragment pattern must dedup to one allocation")
}

func TestUnrefOnReprojectReleasesOldAllocation(t *testing.T) {
	tr := radix.NewV4()
	require.NoError(t, tr.Add(p("10.0.0.0/16"), 1))
	require.NoError(t, tr.Add(p("10.0.64.0/24"), 2))

	tbl := New(16)
	chunk := chunkOf(tbl, a("10.0.0.1"))
	require.NoError(t, tbl.UpdateChunk(tr, chunk))

	_, err := tr.Remove(p("10.0.64.0/24"))
	require.NoError(t, err)
	require.NoError(t, tbl.UpdateChunk(tr, chunk))

	id, ok := tbl.Lookup(a("10.0.64.5"))
	require.True(t, ok)
	assert.Equal(t, 1, id)

	_, chunksShort, chunksLong, _, _, _ := tbl.Stats()
	assert.Zero(t, chunksShort)
	assert.Zero(t, chunksLong)
}

func TestFlushFastResetsWithoutReprojecting(t *testing.T) {
	tr := radix.NewV4()
	require.NoError(t, tr.Add(p("10.0.0.0/16"), 1))
	require.NoError(t, tr.Add(p("10.0.64.0/24"), 2))

	tbl := New(16)
	require.NoError(t, tbl.UpdateChunk(tr, chunkOf(tbl, a("10.0.0.1"))))
	tbl.Flush()

	id, ok := tbl.Lookup(a("10.0.0.1"))
	require.True(t, ok)
	assert.Equal(t, 0, id)

	_, _, _, _, _, poolBytes := tbl.Stats()
	assert.Zero(t, poolBytes)
}

func TestBinarySearchFindsEveryFragment(t *testing.T) {
	tr := radix.NewV4()
	require.NoError(t, tr.Add(p("172.16.0.0/12"), 1))
	require.NoError(t, tr.Add(p("172.16.0.0/16"), 2))
	require.NoError(t, tr.Add(p("172.16.64.0/18"), 3))
	require.NoError(t, tr.Add(p("172.16.128.0/17"), 4))

	tbl := New(12)
	chunk := chunkOf(tbl, a("172.16.0.1"))
	require.NoError(t, tbl.UpdateChunk(tr, chunk))

	for _, tc := range []struct {
		addr string
		want int
	}{
		{"172.16.0.1", 2},
		{"172.16.64.5", 3},
		{"172.16.200.1", 4},
		{"172.31.255.255", 1},
	} {
		id, ok := tbl.Lookup(a(tc.addr))
		require.True(t, ok)
		assert.Equal(t, tc.want, id, tc.addr)
	}
}
