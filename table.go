// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package qhash implements real-time hash tables: open-addressing hash maps
// and sets that never stop the world to grow.
//
// # Generations
//
// A conventional open-addressing table grows by allocating a larger slot
// array and re-inserting every entry before the insert that triggered the
// growth returns. That single insert costs O(n). A qhash Table instead keeps
// the old slot arrays around as the "previous" generation next to a freshly
// allocated, empty "current" generation, and moves entries across a few at a
// time during later operations. At any moment a table is either Stable
// (current generation only) or Migrating (current plus previous). A new
// resize never begins while a previous generation exists. The current
// generation is sized to absorb the previous one plus every insert that can
// arrive before migration finishes, so no resize is due until then. This
// bounds memory to roughly twice the live data and every lookup to at most
// two probe sequences.
//
// Every key lives in exactly one generation. Inserts always go to the
// current generation, after checking that the key is not already present in
// the previous one. Entries leave the previous generation in three ways:
//
//   - Find, and the insert family, migrate the entry they hit in the
//     previous generation into the current one, returning its new slot.
//   - Every such mutating call additionally migrates up to migrateBatch
//     entries found by a forward cursor over the previous generation (the
//     sweep), so that migration finishes within a bounded number of calls
//     regardless of which keys are accessed.
//   - DeleteAt removes entries in place.
//
// When the previous generation holds no more entries it is released and the
// table is Stable again. It takes at most ceil(len(previous)/migrateBatch)
// mutating calls after the resize, and no call migrates more than
// migrateBatch+1 entries, so no single call costs more than a probe sequence
// plus a constant amount of migration work.
//
// # Slots and probing
//
// Generation capacities are primes taken from a fixed, roughly doubling
// sequence, chosen such that a generation is at most half full. Keys are
// located with double hashing (see probeSeq). A slot is vacant, occupied or a
// tombstone. Vacant slots end a probe sequence; tombstones, left behind by
// deletions and migrations, do not, but they never match a key and inserts
// reuse them. Tombstones count against the load factor and disappear when the
// generation is replaced.
//
// Slot states are kept in a separate bitmap with 2 bits per slot which allows
// enumeration to skip 32 vacant slots with a single word test.
//
// # Keys
//
// A Table is parameterized by a KeyKind: Uint32Keys, Uint64Keys,
// PointerKeys (user supplied hash and equality on the pointee) or BlobKeys
// (fixed width byte strings stored inline). Tables whose value type has zero
// size, e.g. Table[K, struct{}], are sets and allocate no value storage.
// Tables can optionally cache the hash of every key (WithCachedHashes).
//
// # Safe and mutating lookups
//
// Find moves entries, so it invalidates the order of an ongoing enumeration.
// While enumerating with Slots or All only FindSafe, Key, Value and DeleteAt
// may be used. FindSafe probes both generations without moving anything and
// may return a slot of the previous generation.
//
// A Table is NOT goroutine-safe.
package qhash

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/cockroachdb/errors"
)

const (
	debug = false

	// migrateBatch is the number of entries of the previous generation that
	// each mutating call moves to the current generation. resizeTarget
	// reserves room for one insert per batch.
	migrateBatch = 4
)

// ErrDuplicateKey is returned by Table.Add when the key is already present.
var ErrDuplicateKey = errors.New("qhash: duplicate key")

// Slot identifies the storage of an entry: an index into the slot arrays of
// the current generation, or of the previous one. Slots returned by mutating
// calls always belong to the current generation. A Slot is invalidated by
// any call other than FindSafe, Key, Value and DeleteAt of another slot.
type Slot struct {
	index    uint32
	previous bool
}

// Index returns the index of the slot within its generation.
func (s Slot) Index() int {
	return int(s.index)
}

// InPrevious reports whether the slot belongs to the previous generation.
func (s Slot) InPrevious() bool {
	return s.previous
}

func (s Slot) String() string {
	if s.previous {
		return fmt.Sprintf("prev:%d", s.index)
	}
	return fmt.Sprintf("cur:%d", s.index)
}

// Table is an unordered real-time hash table from keys to values with Find,
// Reserve, Put, Add, Replace, DeleteAt and Slots operations. See the package
// documentation for the design.
//
// A Table is NOT goroutine-safe.
type Table[K, V any] struct {
	kind KeyKind[K]
	// The allocator to use for the storage of generations.
	allocator Allocator[K, V]
	// cur is the generation receiving inserts.
	cur generation[K, V]
	// prev is the generation being migrated, if any.
	prev *generation[K, V]
	// sweep is the index of the next slot of prev to examine for
	// background migration. Slots of prev below sweep hold no entries.
	sweep uint32
	// The number of entries in the table, across both generations.
	used int
	// The capacity below which the table does not shrink.
	minCapacity uint32
	cacheHashes bool

	resizes  uint64
	migrated uint64
}

// New constructs a new Table using the specified kind of keys. The table
// starts out with zero capacity, unless WithMinSize is given, and grows on
// the first insert.
func New[K, V any](kind KeyKind[K], options ...Option[K, V]) *Table[K, V] {
	t := &Table[K, V]{}
	t.Init(kind, options...)
	return t
}

// Init initializes a Table, as New does. Any storage held by the table is
// dropped without being returned to its allocator; call Close first when
// using an allocator that must see every allocation freed.
func (t *Table[K, V]) Init(kind KeyKind[K], options ...Option[K, V]) {
	*t = Table[K, V]{
		kind:      kind,
		allocator: defaultAllocator[K, V]{},
	}
	for _, op := range options {
		op.apply(t)
	}
	if invariants && t.cacheHashes && kind.scalar() {
		panic(errors.AssertionFailedf("qhash: caching hashes of %T keys", kind))
	}
	if t.minCapacity > 0 {
		t.resize(t.resizeTarget())
	}
	t.checkInvariants()
}

// Close releases the storage of the table back to its configured allocator.
// It is unnecessary to close a table using the default allocator. It is
// invalid to use a Table after it has been closed, until it is initialized
// again. Close itself is idempotent.
func (t *Table[K, V]) Close() {
	if t.prev != nil {
		t.freeGeneration(t.prev)
		t.prev = nil
	}
	t.freeGeneration(&t.cur)
	t.sweep = 0
	t.used = 0
	t.allocator = nil
}

// Clear removes all entries. The table keeps the larger of its current and
// previous generations as its (empty) current generation and releases the
// other one.
func (t *Table[K, V]) Clear() {
	if t.prev != nil {
		if t.prev.capacity > t.cur.capacity {
			t.cur, *t.prev = *t.prev, t.cur
		}
		t.freeGeneration(t.prev)
		t.prev = nil
		t.sweep = 0
	}
	if t.cur.capacity > 0 {
		t.cur.keys.reset()
		clear(t.cur.values)
		clear(t.cur.hashes)
		t.cur.bits.reset(t.cur.capacity)
	}
	t.cur.live = 0
	t.cur.tombstones = 0
	t.used = 0
	t.checkInvariants()
}

// SetMinSize sets the number of entries the table is sized for at least.
// The table never shrinks below that capacity, avoiding resizes for a known
// working set. If the table is smaller, it is resized right away unless a
// migration is in progress, in which case the next resize picks the floor up.
// A minSize of 0 removes the floor.
func (t *Table[K, V]) SetMinSize(minSize int) {
	t.minCapacity = minCapacityFor(minSize)
	if t.prev == nil && t.cur.capacity < t.minCapacity {
		t.resize(t.resizeTarget())
	}
	t.checkInvariants()
}

// Len returns the number of entries in the table.
func (t *Table[K, V]) Len() int {
	return t.used
}

// Hash returns the hash of key, for use with the WithHash variants.
func (t *Table[K, V]) Hash(key K) uint32 {
	return t.kind.Hash(key)
}

// Find looks up key and returns its slot. If the entry lives in the previous
// generation it is moved to the current one first, and a bounded amount of
// background migration is performed. Find must not be used while enumerating
// the table; use FindSafe instead.
func (t *Table[K, V]) Find(key K) (Slot, bool) {
	return t.FindWithHash(t.kind.Hash(key), key)
}

// FindWithHash is Find for a precomputed h == Hash(key).
func (t *Table[K, V]) FindWithHash(h uint32, key K) (Slot, bool) {
	t.migrateSome()
	s, ok := t.findMigrating(h, key)
	t.checkInvariants()
	return s, ok
}

// FindSafe looks up key without modifying the table. The returned slot may
// belong to the previous generation.
func (t *Table[K, V]) FindSafe(key K) (Slot, bool) {
	return t.FindSafeWithHash(t.kind.Hash(key), key)
}

// FindSafeWithHash is FindSafe for a precomputed h == Hash(key).
func (t *Table[K, V]) FindSafeWithHash(h uint32, key K) (Slot, bool) {
	if i, ok := t.probe(&t.cur, h, key); ok {
		return Slot{index: i}, true
	}
	if t.prev != nil {
		if i, ok := t.probe(t.prev, h, key); ok {
			return Slot{index: i, previous: true}, true
		}
	}
	return Slot{}, false
}

// Reserve locates or creates the slot for key. If key is already present,
// Reserve returns its slot and collided=true, and replaces the stored key
// with key if overwrite is set. Otherwise it stores key in a fresh slot and
// returns collided=false. The value of the slot is left to the caller (see
// Value), which avoids building a value that is discarded on collision:
//
//	s, collided := t.Reserve(key, false)
//	if !collided {
//		*t.Value(s) = expensiveValue()
//	}
//
// Reserve grows the table when needed and performs a bounded amount of
// background migration.
func (t *Table[K, V]) Reserve(key K, overwrite bool) (s Slot, collided bool) {
	return t.ReserveWithHash(t.kind.Hash(key), key, overwrite)
}

// ReserveWithHash is Reserve for a precomputed h == Hash(key).
func (t *Table[K, V]) ReserveWithHash(h uint32, key K, overwrite bool) (s Slot, collided bool) {
	t.migrateSome()

	i, found := t.probe(&t.cur, h, key)
	if !found && t.prev != nil {
		if j, ok := t.probe(t.prev, h, key); ok {
			i, found = t.migrate(j), true
		}
	}
	if found {
		if overwrite {
			t.cur.keys.set(i, key)
		}
		if debug {
			fmt.Printf("reserve(%v): collided index=%d overwrite=%t\n", key, i, overwrite)
		}
		t.checkInvariants()
		return Slot{index: i}, true
	}

	// The key is absent from both generations. Before performing the
	// insertion we may decide the current generation is getting overcrowded
	// (or mostly empty) and replace it, in which case the slot found by the
	// probe above is stale.
	if t.needsResize() {
		t.resize(t.resizeTarget())
		i = t.uncheckedSlot(&t.cur, h)
	}
	t.cur.keys.set(i, key)
	if t.cur.hashes != nil {
		t.cur.hashes[i] = h
	}
	t.cur.occupy(i)
	t.used++
	if debug {
		fmt.Printf("reserve(%v): index=%d used=%d capacity=%d\n", key, i, t.used, t.cur.capacity)
	}
	t.checkInvariants()
	return Slot{index: i}, false
}

// Put reserves the slot of key and stores value in it, unless the key was
// already present and overwrite is false. It returns the slot and whether
// the key was already present.
func (t *Table[K, V]) Put(key K, value V, overwrite bool) (s Slot, collided bool) {
	s, collided = t.Reserve(key, overwrite)
	if !collided || overwrite {
		if t.cur.values != nil {
			t.cur.values[s.index] = value
		}
	}
	return s, collided
}

// Add inserts key and value. If key is already present the table is left
// unchanged and ErrDuplicateKey is returned.
func (t *Table[K, V]) Add(key K, value V) error {
	if _, collided := t.Put(key, value, false); collided {
		return ErrDuplicateKey
	}
	return nil
}

// Replace inserts key and value, overwriting an existing entry with the same
// key. It reports whether an existing entry was overwritten.
func (t *Table[K, V]) Replace(key K, value V) (replaced bool) {
	_, replaced = t.Put(key, value, true)
	return replaced
}

// DeleteAt deletes the entry stored in slot s. It is a noop if s does not
// hold an entry. DeleteAt never moves other entries and may be used while
// enumerating the table.
func (t *Table[K, V]) DeleteAt(s Slot) {
	g := &t.cur
	if s.previous {
		if g = t.prev; g == nil {
			return
		}
	}
	if s.index >= g.capacity || !g.bits.isOccupied(s.index) {
		return
	}
	g.release(s.index)
	t.used--
	if debug {
		fmt.Printf("delete-at(%s): used=%d\n", s, t.used)
	}
	if s.previous && g.live == 0 {
		t.retire()
	}
	t.checkInvariants()
}

// DeleteKey deletes the entry corresponding to key, reporting whether it was
// present. Like Find, it migrates entries and must not be used while
// enumerating the table.
func (t *Table[K, V]) DeleteKey(key K) bool {
	s, ok := t.Find(key)
	if ok {
		t.DeleteAt(s)
	}
	return ok
}

// Key returns the key stored in slot s. Keys of BlobKeys tables alias table
// storage and are only valid until the table is next modified.
func (t *Table[K, V]) Key(s Slot) K {
	return t.generation(s).keys.at(s.index)
}

// Value returns a pointer to the value stored in slot s. The pointer is only
// valid until the table is next modified. For sets, it points to a zero
// value that is not stored.
func (t *Table[K, V]) Value(s Slot) *V {
	g := t.generation(s)
	if g.values == nil {
		return new(V)
	}
	return &g.values[s.index]
}

// Slots calls yield sequentially for the slot of every entry in the table:
// the slots of the current generation in index order, followed by the slots
// of the previous generation. If yield returns false, iteration stops.
//
// While enumerating, the table may only be accessed with FindSafe, Key,
// Value and DeleteAt.
func (t *Table[K, V]) Slots(yield func(s Slot) bool) {
	for i, ok := t.cur.bits.scan(0, t.cur.capacity); ok; i, ok = t.cur.bits.scan(i+1, t.cur.capacity) {
		if !yield(Slot{index: i}) {
			return
		}
	}
	// DeleteAt may retire the previous generation from under us, in which
	// case nothing is left to visit.
	for i := uint32(0); t.prev != nil; i++ {
		var ok bool
		if i, ok = t.prev.bits.scan(i, t.prev.capacity); !ok {
			return
		}
		if !yield(Slot{index: i, previous: true}) {
			return
		}
	}
}

// All calls yield sequentially for each key and value present in the table,
// following the same order and rules as Slots.
func (t *Table[K, V]) All(yield func(key K, value V) bool) {
	t.Slots(func(s Slot) bool {
		return yield(t.Key(s), *t.Value(s))
	})
}

// Stats describes the current shape of a Table.
type Stats struct {
	// Len is the number of entries.
	Len int
	// Capacity is the number of slots of the current generation.
	Capacity int
	// Tombstones is the number of tombstones in the current generation.
	Tombstones int
	// PrevCapacity and PrevLen describe the previous generation. Both are
	// zero when the table is not migrating.
	PrevCapacity int
	PrevLen      int
	// Resizes counts the generations allocated since Init.
	Resizes uint64
	// Migrated counts the entries moved between generations since Init.
	Migrated uint64
}

// Stats returns statistics about the table.
func (t *Table[K, V]) Stats() Stats {
	s := Stats{
		Len:        t.used,
		Capacity:   int(t.cur.capacity),
		Tombstones: t.cur.tombstones,
		Resizes:    t.resizes,
		Migrated:   t.migrated,
	}
	if t.prev != nil {
		s.PrevCapacity = int(t.prev.capacity)
		s.PrevLen = t.prev.live
	}
	return s
}

// generation returns the generation owning slot s.
func (t *Table[K, V]) generation(s Slot) *generation[K, V] {
	if !s.previous {
		return &t.cur
	}
	if t.prev == nil {
		panic(fmt.Sprintf("qhash: stale slot %s: no previous generation", s))
	}
	return t.prev
}

// findMigrating returns the slot of key in the current generation, moving
// the entry there from the previous generation if needed.
func (t *Table[K, V]) findMigrating(h uint32, key K) (Slot, bool) {
	if i, ok := t.probe(&t.cur, h, key); ok {
		return Slot{index: i}, true
	}
	if t.prev != nil {
		if i, ok := t.probe(t.prev, h, key); ok {
			return Slot{index: t.migrate(i)}, true
		}
	}
	return Slot{}, false
}

// probe looks key up in g. If key is present it returns its slot and true.
// Otherwise it returns the slot an insert of key into g should use: the first
// tombstone on the probe sequence if any, else the vacant slot that ended
// it. The load factor of a generation guarantees the probe sequence reaches a
// vacant slot.
func (t *Table[K, V]) probe(g *generation[K, V], h uint32, key K) (uint32, bool) {
	if g.capacity == 0 {
		return 0, false
	}

	// To find the location of a key in a generation, we construct a probeSeq
	// from hash(key) and walk the slots it visits. An occupied slot is a
	// candidate: if hashes are cached, a mismatching hash rules it out
	// without calling Equal. A vacant slot means the key is not present.
	// Tombstones behave like occupied slots that never match.
	seq := makeProbeSeq(h, g.capacity)
	if debug {
		fmt.Printf("probe(%v): %s\n", key, seq)
	}

	var tombstone uint32
	haveTombstone := false
	for {
		i := seq.offset
		switch g.bits.state(i) {
		case slotVacant:
			if debug {
				fmt.Printf("probe(not-found): index=%d\n", i)
			}
			if haveTombstone {
				return tombstone, false
			}
			return i, false

		case slotTombstone:
			if !haveTombstone {
				tombstone, haveTombstone = i, true
			}

		default:
			if (g.hashes == nil || g.hashes[i] == h) && t.kind.Equal(g.keys.at(i), key) {
				if debug {
					fmt.Printf("probe(found): index=%d\n", i)
				}
				return i, true
			}
		}
		seq = seq.next()
	}
}

// uncheckedSlot returns the first free slot on the probe sequence of h in g,
// for a key known not to be in g.
func (t *Table[K, V]) uncheckedSlot(g *generation[K, V], h uint32) uint32 {
	seq := makeProbeSeq(h, g.capacity)
	for g.bits.isOccupied(seq.offset) {
		seq = seq.next()
	}
	return seq.offset
}

// migrate moves the entry at index i of the previous generation into the
// current generation and returns its new index. The previous generation is
// retired if this was its last entry.
func (t *Table[K, V]) migrate(i uint32) uint32 {
	p := t.prev
	key := p.keys.at(i)
	var h uint32
	if p.hashes != nil {
		h = p.hashes[i]
	} else {
		h = t.kind.Hash(key)
	}

	// The key cannot be in the current generation: every key lives in
	// exactly one generation.
	j := t.uncheckedSlot(&t.cur, h)
	t.cur.keys.set(j, key)
	if t.cur.values != nil {
		t.cur.values[j] = p.values[i]
	}
	if t.cur.hashes != nil {
		t.cur.hashes[j] = h
	}
	t.cur.occupy(j)
	p.release(i)
	t.migrated++

	if debug {
		fmt.Printf("migrate(%v): prev=%d -> cur=%d prev-left=%d\n", key, i, j, p.live)
	}
	if p.live == 0 {
		t.retire()
	}
	return j
}

// migrateSome performs the background migration step of a mutating call: it
// moves up to migrateBatch entries of the previous generation, in slot order.
func (t *Table[K, V]) migrateSome() {
	for n := 0; n < migrateBatch && t.prev != nil; n++ {
		i, ok := t.prev.bits.scan(t.sweep, t.prev.capacity)
		if !ok {
			// Entries only ever leave the previous generation, so none can
			// be hiding behind the cursor.
			panic(errors.AssertionFailedf("qhash: %d entries behind the migration cursor %d",
				t.prev.live, t.sweep))
		}
		t.sweep = i + 1
		t.migrate(i)
	}
}

// retire releases the previous generation, returning the table to Stable.
func (t *Table[K, V]) retire() {
	if debug {
		fmt.Printf("retire: capacity=%d\n", t.prev.capacity)
	}
	t.freeGeneration(t.prev)
	t.prev = nil
	t.sweep = 0
}

// needsResize reports whether inserting one more entry calls for a new
// generation: the current one would be more than half full, counting
// tombstones, or it is mostly empty and allowed to shrink. A migrating table
// never needs one (see resizeTarget).
func (t *Table[K, V]) needsResize() bool {
	if t.prev != nil {
		return false
	}
	capacity := uint64(t.cur.capacity)
	if (uint64(t.used)+uint64(t.cur.tombstones)+1)*2 > capacity {
		return true
	}
	return t.cur.capacity > t.minCapacity && uint64(t.used) < capacity/16
}

// resizeTarget returns the minimum capacity of the next generation.
//
// The used entries move to the previous generation. Every mutating call
// migrates migrateBatch of them, so they are gone after
// ceil(used/migrateBatch) calls, and at most that many inserts reach the new
// generation in the meantime. Migrations may fill tombstones but never create
// them in the new generation, and deletions turn entries into tombstones
// one for one, so its entries plus tombstones stay below
// used + ceil(used/migrateBatch) until migration finishes. The target keeps
// that at a load factor of 1/2 with room to spare, and is no less than a
// quarter of the current capacity (so shrinking is gradual) and no less than
// the floor.
func (t *Table[K, V]) resizeTarget() uint64 {
	used := uint64(t.used)
	target := 2 * (used + 2 + (used+migrateBatch-1)/migrateBatch)
	if quarter := uint64(t.cur.capacity / 4); target < quarter {
		target = quarter
	}
	if target < uint64(t.minCapacity) {
		target = uint64(t.minCapacity)
	}
	return target
}

// resize replaces the current generation with an empty one of capacity
// sizeFor(target). The old current generation becomes the previous one if it
// holds any entries. The table must be Stable.
func (t *Table[K, V]) resize(target uint64) {
	if t.prev != nil {
		panic(errors.AssertionFailedf("qhash: resize while migrating %d entries", t.prev.live))
	}

	newCapacity := sizeFor(target)
	old := t.cur
	t.cur = t.newGeneration(newCapacity)
	t.resizes++

	if debug {
		fmt.Printf("resize: capacity=%d->%d used=%d\n", old.capacity, newCapacity, t.used)
	}

	if old.live == 0 {
		t.freeGeneration(&old)
		return
	}
	t.prev = &old
	t.sweep = 0
}

// newGeneration allocates an empty generation of the given capacity.
func (t *Table[K, V]) newGeneration(capacity uint32) generation[K, V] {
	g := generation[K, V]{capacity: capacity}
	g.keys = t.kind.newKeys(t.allocator, int(capacity))
	var v V
	if unsafe.Sizeof(v) != 0 {
		g.values = t.allocator.AllocValues(int(capacity))
	}
	if t.cacheHashes {
		g.hashes = t.allocator.AllocHashes(int(capacity))
	}
	g.bits = slotBits(t.allocator.AllocWords(slotBitsWords(capacity)))
	g.bits.reset(capacity)
	return g
}

// freeGeneration releases the storage of g to the allocator and zeroes g.
func (t *Table[K, V]) freeGeneration(g *generation[K, V]) {
	if g.capacity == 0 {
		return
	}
	g.keys.free(t.allocator)
	if g.values != nil {
		t.allocator.FreeValues(g.values)
	}
	if g.hashes != nil {
		t.allocator.FreeHashes(g.hashes)
	}
	t.allocator.FreeWords(g.bits)
	*g = generation[K, V]{}
}

// occupy marks the free slot i occupied.
func (g *generation[K, V]) occupy(i uint32) {
	if g.bits.state(i) == slotTombstone {
		g.tombstones--
	}
	g.bits.setOccupied(i)
	g.live++
}

// release turns the occupied slot i into a tombstone, dropping the
// references held by its key and value.
func (g *generation[K, V]) release(i uint32) {
	g.bits.setTombstone(i)
	g.keys.zero(i)
	if g.values != nil {
		var v V
		g.values[i] = v
	}
	g.live--
	g.tombstones++
}

func (t *Table[K, V]) checkInvariants() {
	if invariants {
		if t.prev != nil && t.cur.capacity == 0 {
			panic(errors.AssertionFailedf("invariant failed: previous generation without current\n%s",
				t.debugString()))
		}
		if uint64(t.used)*2 > uint64(t.cur.capacity) {
			panic(errors.AssertionFailedf("invariant failed: %d entries in %d slots\n%s",
				t.used, t.cur.capacity, t.debugString()))
		}
		used := t.checkGeneration(&t.cur, false)
		if t.prev != nil {
			if t.prev.live == 0 {
				panic(errors.AssertionFailedf("invariant failed: empty previous generation not retired\n%s",
					t.debugString()))
			}
			used += t.checkGeneration(t.prev, true)
			if i, ok := t.prev.bits.scan(0, t.prev.capacity); ok && i < t.sweep {
				panic(errors.AssertionFailedf("invariant failed: slot %d behind migration cursor %d\n%s",
					i, t.sweep, t.debugString()))
			}
		}
		if used != t.used {
			panic(errors.AssertionFailedf("invariant failed: found %d entries, but used count is %d\n%s",
				used, t.used, t.debugString()))
		}
	}
}

// checkGeneration verifies the slot counts of g, the guard bit and that
// every entry of g can be found in g, and only in g. It returns the number
// of entries.
func (t *Table[K, V]) checkGeneration(g *generation[K, V], previous bool) int {
	if g.capacity == 0 {
		if g.live != 0 || g.tombstones != 0 {
			panic(errors.AssertionFailedf("invariant failed: empty generation with %d entries, %d tombstones",
				g.live, g.tombstones))
		}
		return 0
	}
	if !g.bits.isOccupied(g.capacity) {
		panic(errors.AssertionFailedf("invariant failed: guard bit of %d slots cleared", g.capacity))
	}

	var live, tombstones int
	for i := uint32(0); i < g.capacity; i++ {
		switch g.bits.state(i) {
		case slotVacant:
		case slotTombstone:
			tombstones++
		case slotOccupied:
			live++
			key := g.keys.at(i)
			h := t.kind.Hash(key)
			if g.hashes != nil && g.hashes[i] != h {
				panic(errors.AssertionFailedf("invariant failed: slot(%d): cached hash %08x, expected %08x\n%s",
					i, g.hashes[i], h, t.debugString()))
			}
			s, ok := t.FindSafeWithHash(h, key)
			if !ok || s.index != i || s.previous != previous {
				panic(errors.AssertionFailedf("invariant failed: slot(%d): %v found at %s (%t)\n%s",
					i, key, s, ok, t.debugString()))
			}
		default:
			panic(errors.AssertionFailedf("invariant failed: slot(%d): invalid state %02b", i, g.bits.state(i)))
		}
	}
	if live != g.live || tombstones != g.tombstones {
		panic(errors.AssertionFailedf("invariant failed: found %d entries and %d tombstones, expected %d and %d\n%s",
			live, tombstones, g.live, g.tombstones, t.debugString()))
	}
	if !previous && uint64(g.live+g.tombstones)*2 > uint64(g.capacity) {
		panic(errors.AssertionFailedf("invariant failed: %d entries and %d tombstones in %d slots\n%s",
			g.live, g.tombstones, g.capacity, t.debugString()))
	}
	return live
}

func (t *Table[K, V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "used=%d  min-capacity=%d  resizes=%d  migrated=%d\n",
		t.used, t.minCapacity, t.resizes, t.migrated)
	dump := func(name string, g *generation[K, V]) {
		fmt.Fprintf(&buf, "%s: capacity=%d  live=%d  tombstones=%d\n", name, g.capacity, g.live, g.tombstones)
		if g.capacity == 0 {
			return
		}
		fmt.Fprintf(&buf, "  [%s]\n", g.bits.String(g.capacity))
		for i := uint32(0); i < g.capacity; i++ {
			switch g.bits.state(i) {
			case slotVacant:
			case slotTombstone:
				fmt.Fprintf(&buf, "  %4d: tombstone\n", i)
			default:
				fmt.Fprintf(&buf, "  %4d: %v\n", i, g.keys.at(i))
			}
		}
	}
	dump("cur", &t.cur)
	if t.prev != nil {
		fmt.Fprintf(&buf, "sweep=%d\n", t.sweep)
		dump("prev", t.prev)
	}
	return buf.String()
}
