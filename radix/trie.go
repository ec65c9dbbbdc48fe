// Package radix implements the authoritative PATRICIA-style routing
// trie: insert, delete, longest-prefix-match lookup, and ordered/ranged
// walks over IPv4 and IPv6 prefixes.
//
// The default route (prefix length 0) is never stored in the trie; the
// caller (the engine, which also owns the Nexthop Pool) special-cases it.
package radix

import (
	"errors"
	"fmt"
	"net/netip"
)

// ErrAlreadyExists is returned by Add when the exact (address, mask) is
// already present.
var ErrAlreadyExists = errors.New("radix: prefix already exists")

// ErrNotFound is returned by Remove when the exact (address, mask) is not
// present.
var ErrNotFound = errors.New("radix: prefix not found")

// ErrDefaultRoute is returned by Add/Remove/Set for prefix length 0; the
// default route does not live in the trie.
var ErrDefaultRoute = errors.New("radix: default route is not stored in the trie")

// Walk callback return values.
const (
	WalkContinue = 0  // keep walking
	WalkStop     = -1 // stop the walk, not an error
	WalkEscalate = -2 // abandon the walk; the caller must retry with a fallback strategy
)

// Trie is a PATRICIA-style longest-prefix-match routing trie for a single
// address family.
type Trie struct {
	width int // 4 for IPv4, 16 for IPv6
	root  *node
	size  int
}

// NewV4 creates an empty IPv4 trie.
func NewV4() *Trie { return &Trie{width: 4, root: newNode()} }

// NewV6 creates an empty IPv6 trie.
func NewV6() *Trie { return &Trie{width: 16, root: newNode()} }

// Width returns the address width in bytes (4 or 16).
func (t *Trie) Width() int { return t.width }

// Size returns the number of non-default prefixes currently stored.
func (t *Trie) Size() int { return t.size }

func (t *Trie) checkWidth(pfx netip.Prefix) error {
	addr := pfx.Addr()
	var got int
	switch {
	case addr.Is4() || addr.Is4In6():
		got = 4
	default:
		got = 16
	}
	if got != t.width {
		return fmt.Errorf("radix: prefix %s does not match trie width %d", pfx, t.width*8)
	}
	return nil
}

// Add inserts pfx with the given nexthop id. It fails with
// ErrAlreadyExists if the exact (address, mask) is already present, and
// with ErrDefaultRoute for prefix length 0.
func (t *Trie) Add(pfx netip.Prefix, nexthopID int) error {
	_, _, err := t.insert(pfx, nexthopID, false)
	return err
}

// Set inserts or overwrites pfx with the given nexthop id, returning the
// nexthop id it replaced (if any) so the caller can release its
// reference. It fails with ErrDefaultRoute for prefix length 0.
func (t *Trie) Set(pfx netip.Prefix, nexthopID int) (oldNexthopID int, hadOld bool, err error) {
	return t.insert(pfx, nexthopID, true)
}

func (t *Trie) insert(pfx netip.Prefix, nexthopID int, overwrite bool) (oldNexthopID int, hadOld bool, err error) {
	pfx = pfx.Masked()
	if pfx.Bits() == 0 {
		return 0, false, ErrDefaultRoute
	}
	if err := t.checkWidth(pfx); err != nil {
		return 0, false, err
	}

	bits := pfx.Bits()
	bs := pfx.Addr().AsSlice()

	n := t.root
	depth := 0
	for {
		octet := bs[depth]
		if bits <= stride {
			old, existed := n.insertPrefix(octet, bits, int32(nexthopID))
			if existed && !overwrite {
				return 0, false, ErrAlreadyExists
			}
			if !existed {
				t.size++
			}
			return int(old), existed, nil
		}

		child := n.getChild(octet)
		if child == nil {
			child = newNode()
			n.insertChild(octet, child)
		}
		n = child
		depth++
		bits -= stride
	}
}

// Remove deletes the exact (address, mask) pfx, returning its nexthop id.
// It fails with ErrNotFound if absent, and with ErrDefaultRoute for
// prefix length 0.
func (t *Trie) Remove(pfx netip.Prefix) (nexthopID int, err error) {
	pfx = pfx.Masked()
	if pfx.Bits() == 0 {
		return 0, ErrDefaultRoute
	}
	if err := t.checkWidth(pfx); err != nil {
		return 0, err
	}

	bits := pfx.Bits()
	bs := pfx.Addr().AsSlice()

	path := make([]*node, 0, t.width)
	octets := make([]byte, 0, t.width)

	n := t.root
	depth := 0
	for {
		octet := bs[depth]
		path = append(path, n)
		octets = append(octets, octet)

		if bits <= stride {
			nexthop, ok := n.deletePrefix(octet, bits)
			if !ok {
				return 0, ErrNotFound
			}
			t.size--
			t.purgeDanglingPath(path, octets)
			return int(nexthop), nil
		}

		child := n.getChild(octet)
		if child == nil {
			return 0, ErrNotFound
		}
		n = child
		depth++
		bits -= stride
	}
}

// purgeDanglingPath removes now-empty intermediate nodes left behind by a
// deletion, walking from the leaf back to (but not including) the root.
func (t *Trie) purgeDanglingPath(path []*node, octets []byte) {
	for i := len(path) - 1; i > 0; i-- {
		if !path[i].isEmpty() {
			return
		}
		path[i-1].deleteChild(octets[i-1])
	}
}

// Match returns the nexthop id of the longest prefix matching addr, or
// ok=false if nothing in the trie matches (the caller substitutes the
// default route).
func (t *Trie) Match(addr netip.Addr) (nexthopID int, ok bool) {
	bs := addr.AsSlice()
	if len(bs) != t.width {
		return 0, false
	}

	n := t.root
	var best int32
	haveBest := false

	for depth := 0; depth < t.width; depth++ {
		octet := bs[depth]
		if _, val, found := n.lpmByIndex(childIndex(octet)); found {
			best, haveBest = val, true
		}
		child := n.getChild(octet)
		if child == nil {
			break
		}
		n = child
	}
	return int(best), haveBest
}

// MatchLPM is Match plus the matched prefix length, used by the Range
// Projector to reconstruct the matched prefix's covering address range.
func (t *Trie) MatchLPM(addr netip.Addr) (nexthopID int, prefixLen int, ok bool) {
	bs := addr.AsSlice()
	if len(bs) != t.width {
		return 0, 0, false
	}

	n := t.root
	var best int32
	bestLen := 0

	for depth := 0; depth < t.width; depth++ {
		octet := bs[depth]
		if idx, val, found := n.lpmByIndex(childIndex(octet)); found {
			_, plenInStride := idxToPrefix(idx)
			best, bestLen, ok = val, depth*stride+plenInStride, true
		}
		child := n.getChild(octet)
		if child == nil {
			break
		}
		n = child
	}
	return int(best), bestLen, ok
}

// WalkFunc is invoked for each leaf visited by Walk/WalkFrom. Its return
// value is one of WalkContinue, WalkStop, or WalkEscalate.
type WalkFunc func(pfx netip.Prefix, nexthopID int) int

// Walk performs an ordered traversal of every stored prefix.
func (t *Trie) Walk(fn WalkFunc) int {
	return t.walkNode(t.root, nil, 0, fn)
}

// WalkFrom restricts the traversal to the subtree whose keys begin with
// start's masked address.
func (t *Trie) WalkFrom(start netip.Prefix, fn WalkFunc) int {
	start = start.Masked()
	bs := start.Addr().AsSlice()
	bits := start.Bits()

	// The node reached below also holds prefixes outside start (siblings
	// within the same octet, and shorter covering prefixes); skip those.
	visit := fn
	fn = func(pfx netip.Prefix, nexthopID int) int {
		if pfx.Bits() < start.Bits() || !start.Contains(pfx.Addr()) {
			return WalkContinue
		}
		return visit(pfx, nexthopID)
	}

	n := t.root
	prefixOctets := make([]byte, 0, t.width)
	depth := 0
	for bits > stride {
		octet := bs[depth]
		prefixOctets = append(prefixOctets, octet)
		child := n.getChild(octet)
		if child == nil {
			return WalkContinue
		}
		n = child
		depth++
		bits -= stride
	}
	return t.walkNode(n, prefixOctets, depth, fn)
}

func (t *Trie) walkNode(n *node, prefixOctets []byte, depth int, fn WalkFunc) int {
	var rc int
	n.prefixSlots(func(octet byte, plen int, nexthop int32) {
		if rc != WalkContinue {
			return
		}
		addrBytes := make([]byte, t.width)
		copy(addrBytes, prefixOctets)
		if depth < t.width {
			addrBytes[depth] = octet
		}
		addr := addrFromBytes(addrBytes)
		pfx := netip.PrefixFrom(addr, depth*stride+plen)
		rc = fn(pfx, int(nexthop))
	})
	if rc != WalkContinue {
		return rc
	}

	for idx := uint(256); ; {
		next, ok := n.childrenBitset.NextSet(idx)
		if !ok {
			break
		}
		octet := byte(next - 256)
		child := n.getChild(octet)
		childOctets := append(append([]byte{}, prefixOctets...), octet)
		rc = t.walkNode(child, childOctets, depth+1, fn)
		if rc != WalkContinue {
			return rc
		}
		idx = next + 1
	}
	return WalkContinue
}

func addrFromBytes(b []byte) netip.Addr {
	if len(b) == 4 {
		return netip.AddrFrom4([4]byte(b))
	}
	return netip.AddrFrom16([16]byte(b))
}

// Flush removes every stored prefix in one pass.
func (t *Trie) Flush() {
	t.root = newNode()
	t.size = 0
}
