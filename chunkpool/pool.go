// Package chunkpool is a content-addressed bump allocator for the
// byte-encoded fragment descriptors backing DXR chunks: identical
// encodings are deduplicated to a single descriptor, unused descriptors
// are recycled by best fit before growing the pool, and Prune compacts
// away dead space, relocating every surviving descriptor's owners.
package chunkpool

import "hash/maphash"

const noIdx = -1

// descriptor is one allocation in the pool: a byte range
// [base, base+curSize) living inside a reservation of maxSize bytes.
// When curSize < maxSize the trailing slack was left behind by a
// best-fit reuse that didn't need the whole reservation.
type descriptor struct {
	base, maxSize, curSize uint32
	hash                   uint64
	refcount               uint32

	// chunk ids currently pointing their direct-table/secondary-block
	// entries at this descriptor's base; Prune relocates all of them
	// when the descriptor's base moves.
	users map[uint32]struct{}

	// global allocation-order list, ordered ascending by base.
	prevG, nextG int32
	// singly linked hash-bucket chain, for dedup lookup.
	nextH int32
	// unused (refcount == 0) list, ordered ascending by base.
	prevU, nextU int32
	inUnused     bool
}

// Allocator is a content-addressed chunk pool.
type Allocator struct {
	pool []byte
	bump uint32

	descs   []descriptor
	buckets map[uint64]int32

	globalHead, globalTail int32
	unusedHead             int32

	seed maphash.Seed
}

// New creates an empty allocator.
func New() *Allocator {
	return &Allocator{
		buckets:    make(map[uint64]int32),
		globalHead: noIdx,
		globalTail: noIdx,
		unusedHead: noIdx,
		seed:       maphash.MakeSeed(),
	}
}

func (a *Allocator) hashContent(b []byte) uint64 {
	var h maphash.Hash
	h.SetSeed(a.seed)
	h.Write(b)
	return h.Sum64()
}

// Alloc registers content in the pool and returns the base offset at
// which it can be read back. Byte-identical content previously passed
// to Alloc is deduplicated to the same base and its descriptor's
// refcount is incremented rather than growing the pool again.
func (a *Allocator) Alloc(chunkID uint32, content []byte) (base uint32) {
	h := a.hashContent(content)

	if d := a.findDedup(h, content); d != noIdx {
		a.descs[d].refcount++
		a.descs[d].users[chunkID] = struct{}{}
		return a.descs[d].base
	}

	if d := a.bestFitUnused(uint32(len(content))); d != noIdx {
		copy(a.growPool(a.descs[d].base, uint32(len(content))), content)
		a.descs[d].curSize = uint32(len(content))
		a.descs[d].hash = h
		a.descs[d].refcount = 1
		a.descs[d].users = map[uint32]struct{}{chunkID: {}}
		a.removeFromUnused(d)
		a.linkHash(d, h)
		return a.descs[d].base
	}

	origBump := a.bump
	copy(a.growPool(origBump, uint32(len(content))), content)
	a.bump = origBump + uint32(len(content))

	id := a.newDescriptor(origBump, uint32(len(content)), h)
	a.descs[id].refcount = 1
	a.descs[id].users = map[uint32]struct{}{chunkID: {}}
	a.linkHash(id, h)
	return origBump
}

// Content returns the bytes stored at base, for a descriptor of the
// given length (callers already know the length they allocated).
func (a *Allocator) Content(base, length uint32) []byte {
	return a.pool[base : base+length]
}

// Unref drops chunkID's reference to the descriptor at base. When the
// descriptor's refcount reaches zero it moves to the unused list and is
// merged with any adjacent (in global base order) unused neighbor.
func (a *Allocator) Unref(chunkID uint32, base uint32) {
	id := a.findByBase(base)
	if id == noIdx {
		return
	}
	d := &a.descs[id]
	delete(d.users, chunkID)
	if d.refcount == 0 {
		return
	}
	d.refcount--
	if d.refcount > 0 {
		return
	}

	a.unlinkHash(id)
	a.insertUnused(id)
	a.mergeWithUnusedNeighbors(id)
}

// Stats reports the live refcount total and the current bump cursor
// position (the high-water mark of bytes the pool has ever committed,
// minus whatever Prune has reclaimed).
func (a *Allocator) Stats() (totalRefcount uint32, bumpCursor uint32) {
	for i := a.globalHead; i != noIdx; i = a.descs[i].nextG {
		totalRefcount += a.descs[i].refcount
	}
	return totalRefcount, a.bump
}

// bucketHead returns the first descriptor chained under hash h, or noIdx
// when no descriptor carries that hash.
func (a *Allocator) bucketHead(h uint64) int32 {
	if id, ok := a.buckets[h]; ok {
		return id
	}
	return noIdx
}

func (a *Allocator) findDedup(h uint64, content []byte) int32 {
	for id := a.bucketHead(h); id != noIdx; id = a.descs[id].nextH {
		d := &a.descs[id]
		if d.curSize != uint32(len(content)) {
			continue
		}
		if string(a.pool[d.base:d.base+d.curSize]) == string(content) {
			return id
		}
	}
	return noIdx
}

func (a *Allocator) bestFitUnused(size uint32) int32 {
	best := int32(noIdx)
	for id := a.unusedHead; id != noIdx; id = a.descs[id].nextU {
		d := &a.descs[id]
		if d.maxSize >= size && (best == noIdx || d.maxSize < a.descs[best].maxSize) {
			best = id
		}
	}
	if best == noIdx {
		return noIdx
	}
	if a.descs[best].maxSize > size {
		a.splitUnused(best, size)
	}
	return best
}

// splitUnused shrinks d to exactly size and inserts a fresh unused
// descriptor covering the trailing remainder, immediately after d in
// global order.
func (a *Allocator) splitUnused(id int32, size uint32) {
	d := &a.descs[id]
	remBase := d.base + size
	remSize := d.maxSize - size
	d.maxSize = size

	rem := descriptor{
		base: remBase, maxSize: remSize, curSize: 0,
		prevG: id, nextG: d.nextG,
		nextH: noIdx,
		prevU: noIdx, nextU: noIdx,
	}
	remID := int32(len(a.descs))
	a.descs = append(a.descs, rem)

	if d.nextG != noIdx {
		a.descs[d.nextG].prevG = remID
	} else {
		a.globalTail = remID
	}
	a.descs[id].nextG = remID

	a.insertUnused(remID)
}

func (a *Allocator) newDescriptor(base, size uint32, h uint64) int32 {
	id := int32(len(a.descs))
	a.descs = append(a.descs, descriptor{
		base: base, maxSize: size, curSize: size, hash: h,
		prevG: a.globalTail, nextG: noIdx,
		nextH: noIdx,
		prevU: noIdx, nextU: noIdx,
	})
	if a.globalTail == noIdx {
		a.globalHead = id
	} else {
		a.descs[a.globalTail].nextG = id
	}
	a.globalTail = id
	return id
}

func (a *Allocator) findByBase(base uint32) int32 {
	for id := a.globalHead; id != noIdx; id = a.descs[id].nextG {
		if a.descs[id].base == base {
			return id
		}
	}
	return noIdx
}

func (a *Allocator) linkHash(id int32, h uint64) {
	a.descs[id].nextH = a.bucketHead(h)
	a.buckets[h] = id
}

func (a *Allocator) unlinkHash(id int32) {
	h := a.descs[id].hash
	prev := int32(noIdx)
	for i := a.bucketHead(h); i != noIdx; i = a.descs[i].nextH {
		if i == id {
			if prev == noIdx {
				a.buckets[h] = a.descs[i].nextH
			} else {
				a.descs[prev].nextH = a.descs[i].nextH
			}
			return
		}
		prev = i
	}
}

// insertUnused threads id into the unused list keeping ascending base
// order, so mergeWithUnusedNeighbors can test adjacency against its
// immediate prevU/nextU links.
func (a *Allocator) insertUnused(id int32) {
	d := &a.descs[id]
	var prev int32 = noIdx
	cur := a.unusedHead
	for cur != noIdx && a.descs[cur].base < d.base {
		prev = cur
		cur = a.descs[cur].nextU
	}
	d.prevU, d.nextU = prev, cur
	d.inUnused = true
	if prev == noIdx {
		a.unusedHead = id
	} else {
		a.descs[prev].nextU = id
	}
	if cur != noIdx {
		a.descs[cur].prevU = id
	}
}

func (a *Allocator) removeFromUnused(id int32) {
	d := &a.descs[id]
	if !d.inUnused {
		return
	}
	if d.prevU != noIdx {
		a.descs[d.prevU].nextU = d.nextU
	} else {
		a.unusedHead = d.nextU
	}
	if d.nextU != noIdx {
		a.descs[d.nextU].prevU = d.prevU
	}
	d.inUnused = false
}

// mergeWithUnusedNeighbors absorbs a global-order-adjacent unused
// neighbor (predecessor or successor) into id's reservation, so holes
// don't fragment into many small unused descriptors over time.
func (a *Allocator) mergeWithUnusedNeighbors(id int32) {
	d := &a.descs[id]
	if next := d.nextG; next != noIdx && a.descs[next].inUnused && d.base+d.maxSize == a.descs[next].base {
		a.absorb(id, next)
	}
	d = &a.descs[id]
	if prev := d.prevG; prev != noIdx && a.descs[prev].inUnused && a.descs[prev].base+a.descs[prev].maxSize == d.base {
		a.absorb(prev, id)
	}
}

// absorb merges the global-order-adjacent pair (lo, hi) into lo,
// removing hi from the global and unused lists.
func (a *Allocator) absorb(lo, hi int32) {
	a.removeFromUnused(hi)
	a.descs[lo].maxSize += a.descs[hi].maxSize
	a.descs[lo].curSize = 0

	if a.descs[hi].nextG != noIdx {
		a.descs[a.descs[hi].nextG].prevG = lo
	} else {
		a.globalTail = lo
	}
	a.descs[lo].nextG = a.descs[hi].nextG

	if !a.descs[lo].inUnused {
		a.insertUnused(lo)
	}
}

func (a *Allocator) growPool(base, length uint32) []byte {
	need := base + length
	if need > uint32(len(a.pool)) {
		grown := make([]byte, need)
		copy(grown, a.pool)
		a.pool = grown
	}
	return a.pool[base : base+length]
}

// Prune compacts the pool by discarding every unused descriptor and
// sliding live content down to close the holes it leaves behind. relocate
// is called once per (chunkID, newBase) pair for every surviving
// descriptor whose base moved, so the caller can update its direct-table
// and secondary-block entries to match.
func (a *Allocator) Prune(relocate func(chunkID uint32, newBase uint32)) {
	newPool := make([]byte, 0, a.bump)
	newDescs := make([]descriptor, 0, len(a.descs))
	newBuckets := make(map[uint64]int32, len(a.buckets))

	prevG := int32(noIdx)
	for id := a.globalHead; id != noIdx; id = a.descs[id].nextG {
		d := a.descs[id]
		if d.refcount == 0 {
			continue
		}

		newBase := uint32(len(newPool))
		newPool = append(newPool, a.pool[d.base:d.base+d.curSize]...)

		if newBase != d.base && relocate != nil {
			for chunkID := range d.users {
				relocate(chunkID, newBase)
			}
		}

		newID := int32(len(newDescs))
		newDescs = append(newDescs, descriptor{
			base: newBase, maxSize: d.curSize, curSize: d.curSize, hash: d.hash,
			refcount: d.refcount, users: d.users,
			prevG: prevG, nextG: noIdx,
			nextH: noIdx, prevU: noIdx, nextU: noIdx,
		})
		if prevG != noIdx {
			newDescs[prevG].nextG = newID
		}
		prevG = newID
	}

	// rebuild hash chains fresh, since descriptor ids changed.
	for i := range newDescs {
		h := newDescs[i].hash
		newDescs[i].nextH = noIdx
		if head, ok := newBuckets[h]; ok {
			newDescs[i].nextH = head
		}
		newBuckets[h] = int32(i)
	}

	a.pool = newPool
	a.bump = uint32(len(newPool))
	a.descs = newDescs
	a.buckets = newBuckets
	a.globalHead = 0
	a.globalTail = prevG
	if len(newDescs) == 0 {
		a.globalHead = noIdx
		a.globalTail = noIdx
	}
	a.unusedHead = noIdx
}
