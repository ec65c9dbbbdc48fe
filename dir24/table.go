// Package dir24 implements the DIR-24-8 direct+secondary lookup
// accelerator: a 2^24-entry primary table indexed by the top 24 bits of
// an IPv4 address, falling back to 256-entry secondary blocks for
// chunks whose prefix structure doesn't align to whole /24s.
//
// Grounded in the original Click DirectIPLookup element
// (original_source/elements/ip/directiplookup.cc): DIRECT_BITS=24,
// SECONDARY_BITS=8, update granularity is a /16 "chunk" (DIR_CHUNK_PREFLEN
// = 16) covering 256 primary slots, and the secondary free list is
// intrusive, linked through each block's own first 16-bit slot.
package dir24

import (
	"encoding/binary"
	"errors"
	"net/netip"

	"github.com/kestrelnet/lpmcore/project"
	"github.com/kestrelnet/lpmcore/radix"
)

const (
	// PrimaryBits is the width of the direct index (spec.md §4.E: 2^24
	// primary slots).
	PrimaryBits = 24
	PrimarySize = 1 << PrimaryBits

	// SecondaryBits is the width of a secondary block (256 entries).
	SecondaryBits = 32 - PrimaryBits
	SecondarySize = 1 << SecondaryBits
	secondaryMask = SecondarySize - 1

	// MaxSecondaryBlocks bounds the number of /24-and-finer chunks the
	// table can hold at once; exhaustion is a structural limitation
	// (spec.md §4.E).
	MaxSecondaryBlocks = 1 << 15

	// chunkBits is the update granularity: one chunk covers 256 primary
	// slots, i.e. a /16.
	chunkBits  = 16
	ChunkShift = 32 - chunkBits
	NumChunks  = 1 << chunkBits

	directBit = uint16(0x8000)
)

// ErrOutOfCapacity is returned by UpdateChunk when every secondary block
// is already in use and the chunk's range needs a new one.
var ErrOutOfCapacity = errors.New("dir24: secondary block pool exhausted")

// Table is a DIR-24-8 lookup accelerator.
type Table struct {
	primary   []uint16
	secondary []uint16 // MaxSecondaryBlocks * SecondarySize entries
	freeHead  uint32
	used      uint32
}

// New creates an empty table; every address resolves to the default
// nexthop (id 0) until UpdateChunk populates it.
func New() *Table {
	t := &Table{
		primary:   make([]uint16, PrimarySize),
		secondary: make([]uint16, MaxSecondaryBlocks*SecondarySize),
	}
	t.resetPrimary()
	t.resetSecondaryFreelist()
	return t
}

func (t *Table) resetPrimary() {
	for i := range t.primary {
		t.primary[i] = 0xffff // direct hit, nexthop 0 (0xffff ^ 0xffff == 0)
	}
}

func (t *Table) resetSecondaryFreelist() {
	for i := uint32(0); i < MaxSecondaryBlocks; i++ {
		t.secondary[i<<SecondaryBits] = uint16(i + 1)
	}
	t.freeHead = 0
	t.used = 0
}

// ChunkShift reports the log2 of the update granularity in addresses,
// i.e. addr>>ChunkShift gives the chunk id.
func (t *Table) ChunkShift() uint { return ChunkShift }

// Lookup returns the nexthop id for addr. ok is always true: an address
// with no installed route resolves to the default nexthop (id 0).
func (t *Table) Lookup(addr netip.Addr) (nexthopID int, ok bool) {
	a4 := addr.As4()
	dst := binary.BigEndian.Uint32(a4[:])
	pri := t.primary[dst>>SecondaryBits]
	if pri&directBit != 0 {
		return int(pri ^ 0xffff), true
	}
	return int(t.secondary[(uint32(pri)<<SecondaryBits)+(dst&secondaryMask)]), true
}

// UpdateChunk rebuilds the 256 primary slots covered by chunk (a /16)
// from trie's current contents. It first releases any secondary blocks
// the chunk currently owns, then reprojects the range and installs
// direct or secondary entries per run.
func (t *Table) UpdateChunk(trie *radix.Trie, chunk uint32) error {
	base := chunk << ChunkShift
	priFirst := base >> SecondaryBits

	for i := priFirst; i < priFirst+256; i++ {
		pri := t.primary[i]
		if pri&directBit == 0 {
			t.freeSecondary(uint32(pri))
			t.primary[i] = 0xffff
		}
	}

	frags, err := project.Project(trie, base, 1<<ChunkShift)
	if err != nil {
		return err
	}

	end := base | ((uint32(1) << ChunkShift) - 1)
	for i, f := range frags {
		segStart := base + f.Start
		segEnd := end
		if i+1 < len(frags) {
			segEnd = base + frags[i+1].Start - 1
		}
		if err := t.fillRun(segStart, segEnd, f.Nexthop); err != nil {
			return err
		}
	}
	return nil
}

// fillRun installs nexthop over [start,end] (both inclusive). It uses a
// uint64 remaining-count rather than comparing against end directly so
// the loop terminates correctly even when end is the top of the address
// space (0xffffffff), where incrementing start would otherwise wrap to
// zero and never satisfy a "cur > end" exit test.
func (t *Table) fillRun(start, end uint32, nexthopID int) error {
	remaining := uint64(end) - uint64(start) + 1
	cur := start
	nh := uint16(nexthopID)

	for remaining > 0 {
		if cur&secondaryMask == 0 && remaining >= SecondarySize {
			t.primary[cur>>SecondaryBits] = nh ^ 0xffff
			cur += SecondarySize
			remaining -= SecondarySize
			continue
		}
		if cur&secondaryMask == 0 {
			blk, err := t.allocSecondary()
			if err != nil {
				return err
			}
			t.primary[cur>>SecondaryBits] = uint16(blk)
		}
		blk := uint32(t.primary[cur>>SecondaryBits])
		t.secondary[(blk<<SecondaryBits)+(cur&secondaryMask)] = nh
		cur++
		remaining--
	}
	return nil
}

func (t *Table) allocSecondary() (uint32, error) {
	if t.used >= MaxSecondaryBlocks {
		return 0, ErrOutOfCapacity
	}
	blk := t.freeHead
	t.freeHead = uint32(t.secondary[blk<<SecondaryBits])
	t.used++
	return blk, nil
}

func (t *Table) freeSecondary(blk uint32) {
	t.secondary[blk<<SecondaryBits] = uint16(t.freeHead)
	t.freeHead = blk
	t.used--
}

// Flush resets every primary slot to the default-nexthop direct hit and
// recycles every secondary block, without walking the trie.
func (t *Table) Flush() {
	t.resetPrimary()
	t.resetSecondaryFreelist()
}

// Prune is a no-op: DIR-24-8's secondary blocks are freed and recycled
// directly by UpdateChunk/freeSecondary, with no content-addressed pool
// to compact, unlike dxr.Table.
func (t *Table) Prune() {}

// Stats reports the direct-hit count (primary slots resolved without a
// secondary access) and secondary-block utilization, for status().
func (t *Table) Stats() (directHits int, secondaryUsed, secondaryCapacity uint32) {
	for _, pri := range t.primary {
		if pri&directBit != 0 {
			directHits++
		}
	}
	return directHits, t.used, MaxSecondaryBlocks
}
