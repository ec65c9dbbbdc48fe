// Package project rebuilds the ordered fragment sequence representing
// the longest-prefix-match result across one DXR/DIR-24-8 chunk's key
// range, by walking the trie subtree the chunk covers and layering
// matches from least to most specific — the same "paint the range,
// then overwrite with anything more specific" technique the other
// retrieved LPM trie (sakateka/lpm's propagateValue) uses over its
// 256-wide blocks, generalized here to arbitrary chunk sizes and backed
// by an explicit preference-length stack of candidate frames rather than
// in-place array writes.
package project

import (
	"fmt"
	"math/bits"
	"net/netip"
	"sort"

	"github.com/kestrelnet/lpmcore/radix"
)

// Fragment is one (start, nexthop) pair, start relative to the chunk
// base, in effect until the next fragment's start or the chunk's end.
type Fragment struct {
	Start   uint32
	Nexthop int
}

// frame is one candidate interval on the preference-length stack: the
// range it covers (clipped to the chunk), its prefix length, and the
// nexthop in effect over that range.
type frame struct {
	start, end uint32 // absolute, inclusive, already clipped to the chunk
	preflen    int
	nexthop    int
}

// ErrFatalInvariant indicates trie/projection state corruption; spec.md
// §7 treats these as fatal rather than recoverable.
type ErrFatalInvariant struct{ Detail string }

func (e *ErrFatalInvariant) Error() string { return "project: invariant violation: " + e.Detail }

// Project computes the minimal fragment sequence for the chunk
// [chunkBase, chunkBase+chunkSize-1]. chunkSize must be a power of two.
// Fragments are returned in ascending Start order with no two adjacent
// fragments sharing a Nexthop.
func Project(trie *radix.Trie, chunkBase uint32, chunkSize uint32) ([]Fragment, error) {
	if chunkSize == 0 || chunkSize&(chunkSize-1) != 0 {
		return nil, fmt.Errorf("project: chunkSize %d is not a power of two", chunkSize)
	}
	chunkEnd := chunkBase + chunkSize - 1

	frames, err := collectFrames(trie, chunkBase, chunkEnd, chunkSize)
	if err != nil {
		return nil, err
	}

	// Stack discipline: paint from least specific (bottom of stack) to
	// most specific (top), each more specific frame overwriting the
	// range it covers. Frames are sorted ascending by preflen so the
	// paint order matches bottom-to-top stack order.
	sort.SliceStable(frames, func(i, j int) bool { return frames[i].preflen < frames[j].preflen })

	runs := []frame{{start: chunkBase, end: chunkEnd, preflen: 0, nexthop: frames[0].nexthop}}
	for _, f := range frames {
		runs = paint(runs, f)
	}

	return coalesce(runs, chunkBase), nil
}

// collectFrames gathers the background LPM frame for the chunk's first
// address plus every more-specific prefix nested within the chunk,
// clipped to the chunk's bounds.
func collectFrames(trie *radix.Trie, chunkBase, chunkEnd, chunkSize uint32) ([]frame, error) {
	baseAddr := addrFromU32(chunkBase)

	bg := frame{start: chunkBase, end: chunkEnd, preflen: 0, nexthop: 0}
	if nexthop, preflen, ok := trie.MatchLPM(baseAddr); ok {
		mask := maskFor(preflen)
		start := chunkBase & mask
		end := start | ^mask
		bg = frame{start: clampLo(start, chunkBase), end: clampHi(end, chunkEnd), preflen: preflen, nexthop: nexthop}
	}

	directBits := 32 - bits.TrailingZeros32(chunkSize)
	chunkPfx := netip.PrefixFrom(baseAddr, directBits)

	frames := []frame{bg}
	escalated := false
	trie.WalkFrom(chunkPfx, func(pfx netip.Prefix, nexthop int) int {
		start := addrToU32(pfx.Addr())
		mask := maskFor(pfx.Bits())
		end := start | ^mask
		if start < chunkBase && !escalated {
			escalated = true
			return radix.WalkEscalate
		}
		frames = append(frames, frame{
			start:   clampLo(start, chunkBase),
			end:     clampHi(end, chunkEnd),
			preflen: pfx.Bits(),
			nexthop: nexthop,
		})
		return radix.WalkContinue
	})
	if escalated {
		panic(&ErrFatalInvariant{Detail: "walkFrom yielded a leaf starting before the chunk base"})
	}
	return frames, nil
}

// paint overwrites the sub-range [f.start,f.end] of runs with f.nexthop,
// splitting boundary runs as needed. runs must be sorted, contiguous,
// and cover at least [f.start,f.end].
func paint(runs []frame, f frame) []frame {
	if f.start > f.end {
		return runs
	}

	out := make([]frame, 0, len(runs)+2)
	for _, r := range runs {
		if r.end < f.start || r.start > f.end {
			out = append(out, r)
			continue
		}
		if r.start < f.start {
			out = append(out, frame{start: r.start, end: f.start - 1, preflen: r.preflen, nexthop: r.nexthop})
		}
		if r.end > f.end {
			out = append(out, frame{start: max32(r.start, f.start), end: f.end, preflen: f.preflen, nexthop: f.nexthop})
			out = append(out, frame{start: f.end + 1, end: r.end, preflen: r.preflen, nexthop: r.nexthop})
			continue
		}
		out = append(out, frame{start: max32(r.start, f.start), end: min32(r.end, f.end), preflen: f.preflen, nexthop: f.nexthop})
	}
	return mergeConsecutiveEqual(out)
}

// mergeConsecutiveEqual folds adjacent runs with identical nexthop to
// keep the run list from growing unbounded across repeated paints.
func mergeConsecutiveEqual(runs []frame) []frame {
	if len(runs) == 0 {
		return runs
	}
	out := runs[:1]
	for _, r := range runs[1:] {
		last := &out[len(out)-1]
		if last.nexthop == r.nexthop && last.end+1 == r.start {
			last.end = r.end
			continue
		}
		out = append(out, r)
	}
	return out
}

func coalesce(runs []frame, chunkBase uint32) []Fragment {
	frags := make([]Fragment, 0, len(runs))
	var lastNexthop int
	for i, r := range runs {
		if i > 0 && r.nexthop == lastNexthop {
			continue
		}
		frags = append(frags, Fragment{Start: r.start - chunkBase, Nexthop: r.nexthop})
		lastNexthop = r.nexthop
	}
	return frags
}

func maskFor(preflen int) uint32 {
	if preflen == 0 {
		return 0
	}
	return ^uint32(0) << (32 - preflen)
}

func clampLo(v, lo uint32) uint32 {
	if v < lo {
		return lo
	}
	return v
}

func clampHi(v, hi uint32) uint32 {
	if v > hi {
		return hi
	}
	return v
}

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func addrFromU32(v uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

func addrToU32(a netip.Addr) uint32 {
	b := a.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// FitsShort reports whether fragments can be encoded in the short
// (byte-aligned, 8-bit nexthop) format: every start is a multiple of
// 256 and every nexthop fits in 8 bits.
func FitsShort(frags []Fragment) bool {
	for _, f := range frags {
		if f.Start&0xff != 0 {
			return false
		}
		if f.Nexthop > 0xff {
			return false
		}
	}
	return true
}
