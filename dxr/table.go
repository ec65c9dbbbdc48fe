// Package dxr implements the DXR direct+range lookup accelerator: a
// 2^DIRECT_BITS direct table of bit-packed descriptors, most of which
// point at a compact, content-addressed range array (chunkpool) that a
// fixed-iteration binary search walks to resolve a chunk with more than
// one nexthop in effect across its range.
//
// Grounded in the original Click DXRIPLookup element
// (original_source/elements/ip/dxriplookup.hh/.cc): DESC_BASE_BITS=19,
// FRAG_BITS=12 in the original but simplified here to the spec.md §4.F
// widths (base 19 bits, fragments 11 bits, FRAG_MAX sentinel marking a
// direct hit), short/long range-entry formats, and chunk deduplication
// delegated to chunkpool (the original's chunk_ref/chunk_unref/
// prune_empty_chunks, split into its own package here per spec.md §4.G).
package dxr

import (
	"encoding/binary"
	"net/netip"

	"github.com/kestrelnet/lpmcore/chunkpool"
	"github.com/kestrelnet/lpmcore/project"
	"github.com/kestrelnet/lpmcore/radix"
)

const (
	// DefaultDirectBits is the compile-time-in-spirit direct table
	// width; DXR's "D20R" sweet spot per the original paper/element.
	DefaultDirectBits = 20

	baseBits = 19
	fragBits = 11

	// FragMax is the sentinel fragments value marking a direct hit: the
	// nexthop id is then stored inline in the base field.
	FragMax = (1 << fragBits) - 1

	longFormatBit = 1 << (baseBits + fragBits)

	shortEntrySize = 2 // packed (start>>8, nexthop) byte pair
	longEntrySize  = 4 // packed (nexthop, start) uint16 pair

	// shortFormatMaxShift bounds chunk size so a short entry's start
	// (scaled by 256 into a single byte) cannot truncate; the original
	// element's #elif branches select wider range_entry_long fields for
	// small DIRECT_BITS, which this module does not need because it
	// simply refuses the short format below this width.
	shortFormatMaxShift = 16
)

// directEntry is a bit-packed descriptor: base (19 bits into the range
// pool, or the inline nexthop id for a direct hit), fragments (11 bits;
// FragMax marks a direct hit), and a long-format flag. Packed into a
// uint32 with explicit encode/decode accessors rather than a native
// bitfield, per the "no implementation-defined bitfield layouts" design
// note.
type directEntry uint32

func encodeDirect(base, fragments uint32, long bool) directEntry {
	v := base&((1<<baseBits)-1) | (fragments&((1<<fragBits)-1))<<baseBits
	if long {
		v |= longFormatBit
	}
	return directEntry(v)
}

func (e directEntry) base() uint32      { return uint32(e) & ((1 << baseBits) - 1) }
func (e directEntry) fragments() uint32 { return (uint32(e) >> baseBits) & ((1 << fragBits) - 1) }
func (e directEntry) long() bool        { return uint32(e)&longFormatBit != 0 }
func (e directEntry) isHit() bool       { return e.fragments() == FragMax }

// directHitZero is the table's reset state: every chunk a direct hit to
// the default nexthop (id 0).
var directHitZero = encodeDirect(0, FragMax, false)

// Table is a DXR lookup accelerator.
type Table struct {
	directBits uint
	direct     []directEntry
	pool       *chunkpool.Allocator
}

// New creates an empty table with the given direct-table width
// (DefaultDirectBits if zero).
func New(directBits uint) *Table {
	if directBits == 0 {
		directBits = DefaultDirectBits
	}
	t := &Table{
		directBits: directBits,
		direct:     make([]directEntry, 1<<directBits),
		pool:       chunkpool.New(),
	}
	t.resetDirect()
	return t
}

func (t *Table) resetDirect() {
	for i := range t.direct {
		t.direct[i] = directHitZero
	}
}

func (t *Table) rangeShift() uint { return 32 - t.directBits }

// DirectSize returns the number of entries in the direct table
// (1<<directBits), for callers computing ratios like direct-hit rate.
func (t *Table) DirectSize() int { return len(t.direct) }

// ChunkShift reports the log2 of the update granularity in addresses.
func (t *Table) ChunkShift() uint { return t.rangeShift() }

// UpdateChunk rebuilds chunk's direct-table entry from trie's current
// contents. Any prior range-pool allocation the chunk held is released
// first; the projector's short format is preferred, falling back to
// long format when fragments don't fit the short format's constraints
// (byte-aligned starts, 8-bit nexthops, a chunk width the format can
// represent without truncating).
func (t *Table) UpdateChunk(trie *radix.Trie, chunk uint32) error {
	shift := t.rangeShift()
	chunkSize := uint32(1) << shift
	base := chunk << shift

	old := t.direct[chunk]
	if !old.isHit() {
		entrySize := uint32(shortEntrySize)
		if old.long() {
			entrySize = longEntrySize
		}
		t.pool.Unref(chunk, old.base()*entrySize)
	}

	frags, err := project.Project(trie, base, chunkSize)
	if err != nil {
		return err
	}

	if len(frags) == 1 {
		t.direct[chunk] = encodeDirect(uint32(frags[0].Nexthop), FragMax, false)
		return nil
	}

	if shift <= shortFormatMaxShift && project.FitsShort(frags) {
		content := encodeShort(frags)
		byteBase := t.pool.Alloc(chunk, content)
		entries := uint32(len(content) / shortEntrySize)
		t.direct[chunk] = encodeDirect(byteBase/shortEntrySize, entries-1, false)
		return nil
	}

	content := encodeLong(frags)
	byteBase := t.pool.Alloc(chunk, content)
	t.direct[chunk] = encodeDirect(byteBase/longEntrySize, uint32(len(frags))-1, true)
	return nil
}

// encodeShort packs fragments into (start>>8, nexthop) byte pairs,
// duplicating the last fragment if the count is odd so the pool
// allocation stays 32-bit aligned.
func encodeShort(frags []project.Fragment) []byte {
	n := len(frags)
	if n%2 != 0 {
		dup := frags[n-1]
		frags = append(append([]project.Fragment{}, frags...), dup)
		n++
	}
	buf := make([]byte, n*shortEntrySize)
	for i, f := range frags {
		buf[i*shortEntrySize] = byte(f.Start >> 8)
		buf[i*shortEntrySize+1] = byte(f.Nexthop)
	}
	return buf
}

func encodeLong(frags []project.Fragment) []byte {
	buf := make([]byte, len(frags)*longEntrySize)
	for i, f := range frags {
		binary.LittleEndian.PutUint16(buf[i*longEntrySize:], uint16(f.Nexthop))
		binary.LittleEndian.PutUint16(buf[i*longEntrySize+2:], uint16(f.Start))
	}
	return buf
}

// Lookup returns the nexthop id for addr. ok is always true: an address
// in a chunk with no installed route resolves to the default nexthop.
func (t *Table) Lookup(addr netip.Addr) (nexthopID int, ok bool) {
	a4 := addr.As4()
	dst := binary.BigEndian.Uint32(a4[:])
	shift := t.rangeShift()

	e := t.direct[dst>>shift]
	if e.isHit() {
		return int(e.base()), true
	}

	key := dst & ((uint32(1) << shift) - 1)
	n := e.fragments() + 1

	if e.long() {
		content := t.pool.Content(e.base()*longEntrySize, n*longEntrySize)
		idx := searchLong(content, uint16(key))
		return int(binary.LittleEndian.Uint16(content[idx*longEntrySize:])), true
	}
	content := t.pool.Content(e.base()*shortEntrySize, n*shortEntrySize)
	idx := searchShort(content, byte(key>>8))
	return int(content[idx*shortEntrySize+1]), true
}

// searchIterations is a fixed unroll count covering log2(FragMax+1)
// stages, so the binary search below compiles to straight-line code
// with an early break, matching spec.md §4.F's "unrolled binary search"
// contract without a text-substituted macro.
const searchIterations = 11 // 2^11 == FragMax+1

// searchShort returns the index of the entry with the largest start <=
// key among short-format entries packed two bytes apiece.
func searchShort(entries []byte, key byte) uint32 {
	n := uint32(len(entries) / shortEntrySize)
	lower, upper := uint32(0), n-1
	for i := 0; i < searchIterations; i++ {
		if lower == upper {
			break
		}
		mid := (lower + upper + 1) / 2
		if entries[mid*shortEntrySize] <= key {
			lower = mid
		} else {
			upper = mid - 1
		}
	}
	return lower
}

// searchLong is searchShort's long-format counterpart: start is stored
// as the second uint16 of each 4-byte entry.
func searchLong(entries []byte, key uint16) uint32 {
	n := uint32(len(entries) / longEntrySize)
	lower, upper := uint32(0), n-1
	for i := 0; i < searchIterations; i++ {
		if lower == upper {
			break
		}
		mid := (lower + upper + 1) / 2
		if binary.LittleEndian.Uint16(entries[mid*longEntrySize+2:]) <= key {
			lower = mid
		} else {
			upper = mid - 1
		}
	}
	return lower
}

// Flush resets every direct-table entry to the default-nexthop direct
// hit and discards the range pool, without walking the trie (spec.md
// §9's open question, resolved in favor of the fast reset).
func (t *Table) Flush() {
	t.resetDirect()
	t.pool = chunkpool.New()
}

// Prune compacts the range pool, discarding descriptors no chunk refers
// to any longer and sliding live content down to close the holes (spec.md
// §4.C's end-of-apply-pass prune). Every chunk whose descriptor moves has
// its direct-table entry re-pointed at the new byte offset, converted
// back to the entry unit (short or long) that chunk's format uses.
func (t *Table) Prune() {
	t.pool.Prune(func(chunkID uint32, newBase uint32) {
		old := t.direct[chunkID]
		if old.isHit() {
			return
		}
		entrySize := uint32(shortEntrySize)
		if old.long() {
			entrySize = longEntrySize
		}
		t.direct[chunkID] = encodeDirect(newBase/entrySize, old.fragments(), old.long())
	})
}

// Stats reports direct-hit count, short/long chunk and fragment
// counts, and the range pool's live byte count, for status().
func (t *Table) Stats() (directHits, chunksShort, chunksLong, fragmentsShort, fragmentsLong int, rangePoolBytes uint32) {
	for _, e := range t.direct {
		switch {
		case e.isHit():
			directHits++
		case e.long():
			chunksLong++
			fragmentsLong += int(e.fragments()) + 1
		default:
			chunksShort++
			fragmentsShort += int(e.fragments()) + 1
		}
	}
	_, rangePoolBytes = t.pool.Stats()
	return
}
