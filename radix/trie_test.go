package radix

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func p(s string) netip.Prefix { return netip.MustParsePrefix(s) }
func a(s string) netip.Addr   { return netip.MustParseAddr(s) }

func TestLongestPrefixMatch(t *testing.T) {
	tr := NewV4()
	require.NoError(t, tr.Add(p("10.0.0.0/8"), 1))
	require.NoError(t, tr.Add(p("10.1.0.0/16"), 2))

	id, ok := tr.Match(a("10.0.0.1"))
	require.True(t, ok)
	assert.Equal(t, 1, id)

	id, ok = tr.Match(a("10.1.2.3"))
	require.True(t, ok)
	assert.Equal(t, 2, id)

	_, ok = tr.Match(a("11.0.0.1"))
	assert.False(t, ok)
}

func TestAddDuplicateFails(t *testing.T) {
	tr := NewV4()
	require.NoError(t, tr.Add(p("192.168.0.0/24"), 7))
	err := tr.Add(p("192.168.0.0/24"), 8)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, _, err = tr.Set(p("192.168.0.0/24"), 9)
	require.NoError(t, err)
	id, ok := tr.Match(a("192.168.0.1"))
	require.True(t, ok)
	assert.Equal(t, 9, id)
}

func TestRemoveNotFound(t *testing.T) {
	tr := NewV4()
	_, err := tr.Remove(p("1.2.3.0/24"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDefaultRouteRejected(t *testing.T) {
	tr := NewV4()
	assert.ErrorIs(t, tr.Add(p("0.0.0.0/0"), 1), ErrDefaultRoute)
	_, err := tr.Remove(p("0.0.0.0/0"))
	assert.ErrorIs(t, err, ErrDefaultRoute)
}

func TestRemoveThenLookupMatchesPreInsert(t *testing.T) {
	tr := NewV4()
	require.NoError(t, tr.Add(p("10.0.0.0/8"), 1))
	require.NoError(t, tr.Add(p("10.1.0.0/16"), 2))

	before, okBefore := tr.Match(a("10.1.2.3"))

	require.NoError(t, tr.Add(p("10.1.2.0/24"), 3))
	removedID, err := tr.Remove(p("10.1.2.0/24"))
	require.NoError(t, err)
	assert.Equal(t, 3, removedID)

	after, okAfter := tr.Match(a("10.1.2.3"))
	assert.Equal(t, okBefore, okAfter)
	assert.Equal(t, before, after)
}

func TestFullWidthPrefixMatchesExactlyOneAddress(t *testing.T) {
	tr := NewV4()
	require.NoError(t, tr.Add(p("10.0.0.0/8"), 1))
	require.NoError(t, tr.Add(p("10.0.0.5/32"), 99))

	id, ok := tr.Match(a("10.0.0.5"))
	require.True(t, ok)
	assert.Equal(t, 99, id)

	id, ok = tr.Match(a("10.0.0.6"))
	require.True(t, ok)
	assert.Equal(t, 1, id)
}

func TestWalkVisitsEveryPrefix(t *testing.T) {
	tr := NewV4()
	routes := []netip.Prefix{
		p("10.0.0.0/8"), p("10.1.0.0/16"), p("192.168.0.0/24"),
	}
	for i, r := range routes {
		require.NoError(t, tr.Add(r, i+1))
	}

	seen := map[netip.Prefix]int{}
	tr.Walk(func(pfx netip.Prefix, id int) int {
		seen[pfx] = id
		return WalkContinue
	})
	assert.Len(t, seen, len(routes))
	for i, r := range routes {
		assert.Equal(t, i+1, seen[r])
	}
}

func TestWalkFromRestrictsSubtree(t *testing.T) {
	tr := NewV4()
	require.NoError(t, tr.Add(p("10.0.0.0/8"), 1))
	require.NoError(t, tr.Add(p("10.1.0.0/16"), 2))
	require.NoError(t, tr.Add(p("192.168.0.0/24"), 3))

	var seen []netip.Prefix
	tr.WalkFrom(p("10.0.0.0/8"), func(pfx netip.Prefix, id int) int {
		seen = append(seen, pfx)
		return WalkContinue
	})
	assert.ElementsMatch(t, []netip.Prefix{p("10.0.0.0/8"), p("10.1.0.0/16")}, seen)
}

func TestWalkStopSentinel(t *testing.T) {
	tr := NewV4()
	require.NoError(t, tr.Add(p("10.0.0.0/8"), 1))
	require.NoError(t, tr.Add(p("10.1.0.0/16"), 2))

	calls := 0
	rc := tr.Walk(func(pfx netip.Prefix, id int) int {
		calls++
		return WalkStop
	})
	assert.Equal(t, WalkStop, rc)
	assert.Equal(t, 1, calls)
}

func TestFlushThenReinsertMatchesPreFlush(t *testing.T) {
	tr := NewV4()
	require.NoError(t, tr.Add(p("10.0.0.0/8"), 1))
	require.NoError(t, tr.Add(p("10.1.0.0/16"), 2))

	want := map[string]int{}
	for _, addr := range []string{"10.0.0.1", "10.1.2.3", "11.0.0.1"} {
		id, ok := tr.Match(a(addr))
		if ok {
			want[addr] = id
		}
	}

	tr.Flush()
	require.NoError(t, tr.Add(p("10.0.0.0/8"), 1))
	require.NoError(t, tr.Add(p("10.1.0.0/16"), 2))

	for _, addr := range []string{"10.0.0.1", "10.1.2.3", "11.0.0.1"} {
		id, ok := tr.Match(a(addr))
		if wantID, wantOK := want[addr]; wantOK {
			require.True(t, ok)
			assert.Equal(t, wantID, id)
		} else {
			assert.False(t, ok)
		}
	}
}

func TestIPv6Lookup(t *testing.T) {
	tr := NewV6()
	require.NoError(t, tr.Add(p("2001:db8::/32"), 5))
	require.NoError(t, tr.Add(p("2001:db8::1/128"), 9))

	id, ok := tr.Match(a("2001:db8::1"))
	require.True(t, ok)
	assert.Equal(t, 9, id)

	id, ok = tr.Match(a("2001:db8::2"))
	require.True(t, ok)
	assert.Equal(t, 5, id)

	_, ok = tr.Match(a("2002::1"))
	assert.False(t, ok)
}

func TestWidthMismatchRejected(t *testing.T) {
	tr := NewV4()
	err := tr.Add(p("2001:db8::/32"), 1)
	assert.Error(t, err)
}
