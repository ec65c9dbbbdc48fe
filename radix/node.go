package radix

import (
	"slices"

	"github.com/bits-and-blooms/bitset"
)

const stride = 8 // bits consumed per trie level (one address octet)

// node is one 8-bit stride of the trie: a popcount-compressed complete
// binary tree of prefix slots (depths 0..8 within this octet) plus a
// popcount-compressed array of child nodes for the next octet.
//
// This is the mask-refinement mechanism of the PATRICIA trie expressed
// without an explicit per-node mask list: every prefix length that
// terminates within this stride occupies a distinct baseIndex slot, and
// longest-match backtracks within the stride by halving the index, which
// walks from the most specific to the least specific prefix sharing this
// octet's bit pattern.
type node struct {
	prefixesBitset *bitset.BitSet
	childrenBitset *bitset.BitSet

	prefixes []int32 // nexthop ids, rank-ordered by prefixesBitset
	children []*node // rank-ordered by childrenBitset
}

func newNode() *node {
	return &node{
		prefixesBitset: bitset.New(0),
		childrenBitset: bitset.New(0),
	}
}

func (n *node) isEmpty() bool {
	return len(n.prefixes) == 0 && len(n.children) == 0
}

// baseIndex maps octet/prefixLen (prefixLen in [0,8]) to a slot in the
// complete binary tree covering this stride: [1, 511].
func baseIndex(octet byte, prefixLen int) uint {
	return uint(octet>>(stride-prefixLen)) + uint(1<<prefixLen)
}

// childIndex maps a full octet to its slot in the child array, [256, 511],
// matching baseIndex(octet, 8).
func childIndex(octet byte) uint {
	return uint(octet) + 256
}

func (n *node) prefixRank(idx uint) int {
	return int(n.prefixesBitset.Rank(idx)) - 1
}

func (n *node) childRank(idx uint) int {
	return int(n.childrenBitset.Rank(idx)) - 1
}

// insertPrefix sets the nexthop id for octet/prefixLen, returning the
// nexthop id it replaced and existed=true if a route already occupied
// that exact slot (caller decides whether that is an error or an
// overwrite).
func (n *node) insertPrefix(octet byte, prefixLen int, nexthop int32) (old int32, existed bool) {
	idx := baseIndex(octet, prefixLen)
	if n.prefixesBitset.Test(idx) {
		rnk := n.prefixRank(idx)
		old = n.prefixes[rnk]
		n.prefixes[rnk] = nexthop
		return old, true
	}
	n.prefixesBitset.Set(idx)
	rnk := n.prefixRank(idx)
	n.prefixes = slices.Insert(n.prefixes, rnk, nexthop)
	return 0, false
}

// deletePrefix removes octet/prefixLen, returning the nexthop id that was
// removed, or ok=false if the slot was empty.
func (n *node) deletePrefix(octet byte, prefixLen int) (nexthop int32, ok bool) {
	idx := baseIndex(octet, prefixLen)
	if !n.prefixesBitset.Test(idx) {
		return 0, false
	}
	rnk := n.prefixRank(idx)
	nexthop = n.prefixes[rnk]
	n.prefixes = slices.Delete(n.prefixes, rnk, rnk+1)
	n.prefixesBitset.Clear(idx)
	n.prefixesBitset.Compact()
	return nexthop, true
}

// lpmByIndex backtracks from idx toward the root of this stride's complete
// binary tree, returning the first (most specific) occupied slot.
func (n *node) lpmByIndex(idx uint) (baseIdx uint, nexthop int32, ok bool) {
	for {
		if n.prefixesBitset.Test(idx) {
			return idx, n.prefixes[n.prefixRank(idx)], true
		}
		if idx == 0 {
			return 0, 0, false
		}
		idx >>= 1
	}
}

func (n *node) getChild(octet byte) *node {
	idx := childIndex(octet)
	if !n.childrenBitset.Test(idx) {
		return nil
	}
	return n.children[n.childRank(idx)]
}

func (n *node) insertChild(octet byte, c *node) {
	idx := childIndex(octet)
	n.childrenBitset.Set(idx)
	n.children = slices.Insert(n.children, n.childRank(idx), c)
}

func (n *node) deleteChild(octet byte) {
	idx := childIndex(octet)
	if !n.childrenBitset.Test(idx) {
		return
	}
	rnk := n.childRank(idx)
	n.children = slices.Delete(n.children, rnk, rnk+1)
	n.childrenBitset.Clear(idx)
	n.childrenBitset.Compact()
}

// prefixSlots calls visit with the (left-justified octet, prefix length,
// nexthop) of every slot present in this node's prefix set, in ascending
// baseIndex order, used by Walk.
func (n *node) prefixSlots(visit func(octet byte, prefixLen int, nexthop int32)) {
	for rnk, idx := uint(0), uint(0); ; {
		next, found := n.prefixesBitset.NextSet(idx)
		if !found {
			return
		}
		octet, plen := idxToPrefix(next)
		visit(octet, plen, n.prefixes[rnk])
		rnk++
		idx = next + 1
	}
}

// idxToPrefix is the inverse of baseIndex: given a slot in [1,511],
// returns the octet (left-justified) and prefix length that produced it.
func idxToPrefix(idx uint) (octet byte, prefixLen int) {
	prefixLen = bitlen(idx)
	shifted := idx - (1 << prefixLen)
	return byte(shifted << (stride - prefixLen)), prefixLen
}

func bitlen(idx uint) int {
	n := 0
	for v := idx; v > 1; v >>= 1 {
		n++
	}
	return n
}
