package nexthop

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefDedups(t *testing.T) {
	p := New(8)
	gw := netip.MustParseAddr("10.0.0.1")

	id1, err := p.Ref(gw, 3)
	require.NoError(t, err)

	id2, err := p.Ref(gw, 3)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	gotGW, gotPort, ok := p.Get(id1)
	require.True(t, ok)
	assert.Equal(t, gw, gotGW)
	assert.Equal(t, 3, gotPort)
}

func TestUnrefRecycles(t *testing.T) {
	p := New(4)
	gw := netip.MustParseAddr("192.168.0.1")

	id, err := p.Ref(gw, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), p.Unref(id))

	_, _, ok := p.Get(id)
	assert.False(t, ok)

	// a fresh Ref should reuse the recycled slot
	id2, err := p.Ref(netip.MustParseAddr("192.168.0.2"), 2)
	require.NoError(t, err)
	assert.Equal(t, id, id2)
}

func TestOutOfCapacity(t *testing.T) {
	p := New(2) // slot 0 reserved, one usable slot
	_, err := p.Ref(netip.MustParseAddr("10.0.0.1"), 1)
	require.NoError(t, err)

	_, err = p.Ref(netip.MustParseAddr("10.0.0.2"), 2)
	assert.ErrorIs(t, err, ErrOutOfCapacity)
}

func TestDefaultIDNeverRefcounted(t *testing.T) {
	p := New(4)
	p.SetDefault(netip.Addr{}, -1)
	assert.Equal(t, uint32(0), p.Unref(DefaultID))

	p.SetDefault(netip.MustParseAddr("1.2.3.4"), 3)
	gw, port, ok := p.Get(DefaultID)
	require.True(t, ok)
	assert.Equal(t, 3, port)
	assert.Equal(t, "1.2.3.4", gw.String())
}
