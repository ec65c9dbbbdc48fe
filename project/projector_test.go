package project

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelnet/lpmcore/radix"
)

func TestProjectSingleDirectHit(t *testing.T) {
	tr := radix.NewV4()
	require.NoError(t, tr.Add(netip.MustParsePrefix("192.168.0.0/24"), 7))

	chunkBase := uint32(0xc0a80000) &^ 0xfff // 192.168.0.0, chunk granularity 2^12 for the test
	frags, err := Project(tr, chunkBase, 1<<12)
	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, uint32(0), frags[0].Start)
	assert.Equal(t, 7, frags[0].Nexthop)
}

func TestProjectNestedMoreSpecific(t *testing.T) {
	tr := radix.NewV4()
	require.NoError(t, tr.Add(netip.MustParsePrefix("10.0.0.0/16"), 1))
	require.NoError(t, tr.Add(netip.MustParsePrefix("10.0.64.0/24"), 2))

	chunkBase := uint32(10)<<24 | 0
	frags, err := Project(tr, chunkBase, 1<<16)
	require.NoError(t, err)

	require.True(t, len(frags) >= 2)
	assert.Equal(t, uint32(0), frags[0].Start)
	assert.Equal(t, 1, frags[0].Nexthop)

	found2 := false
	for i, f := range frags {
		if f.Nexthop == 2 {
			found2 = true
			assert.Equal(t, uint32(0x4000), f.Start) // 10.0.64.0 offset within the /16
			if i+1 < len(frags) {
				assert.Equal(t, 1, frags[i+1].Nexthop)
			}
		}
	}
	assert.True(t, found2)
}

func TestProjectFragmentsStrictlyIncreasingAndDistinct(t *testing.T) {
	tr := radix.NewV4()
	require.NoError(t, tr.Add(netip.MustParsePrefix("10.0.0.0/16"), 1))
	require.NoError(t, tr.Add(netip.MustParsePrefix("10.0.32.0/20"), 2))
	require.NoError(t, tr.Add(netip.MustParsePrefix("10.0.48.0/20"), 3))

	chunkBase := uint32(10) << 24
	frags, err := Project(tr, chunkBase, 1<<16)
	require.NoError(t, err)

	for i := 1; i < len(frags); i++ {
		assert.Less(t, frags[i-1].Start, frags[i].Start)
		assert.NotEqual(t, frags[i-1].Nexthop, frags[i].Nexthop)
	}
}

func TestProjectMatchesTrieLPMEverywhere(t *testing.T) {
	tr := radix.NewV4()
	require.NoError(t, tr.Add(netip.MustParsePrefix("172.16.0.0/12"), 1))
	require.NoError(t, tr.Add(netip.MustParsePrefix("172.16.5.0/24"), 2))
	require.NoError(t, tr.Add(netip.MustParsePrefix("172.16.5.128/25"), 3))

	chunkBase := uint32(172)<<24 | uint32(16)<<16
	chunkSize := uint32(1 << 16)
	frags, err := Project(tr, chunkBase, chunkSize)
	require.NoError(t, err)

	lookup := func(offset uint32) int {
		best := 0
		for _, f := range frags {
			if f.Start <= offset {
				best = f.Nexthop
			}
		}
		return best
	}

	for offset := uint32(0); offset < chunkSize; offset += 997 {
		addr := netip.AddrFrom4([4]byte{172, 16, byte(offset >> 8), byte(offset)})
		want, _, ok := tr.MatchLPM(addr)
		if !ok {
			want = 0
		}
		assert.Equal(t, want, lookup(offset), "offset %d", offset)
	}
}

func TestFitsShort(t *testing.T) {
	assert.True(t, FitsShort([]Fragment{{Start: 0, Nexthop: 1}, {Start: 256, Nexthop: 2}}))
	assert.False(t, FitsShort([]Fragment{{Start: 5, Nexthop: 1}}))
	assert.False(t, FitsShort([]Fragment{{Start: 0, Nexthop: 300}}))
}
