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

package qhash

import (
	"fmt"
	"math/bits"
	"strings"
)

// Each slot of a generation has a 2-bit state. The low bit of the pair is
// set when the slot is occupied and the high bit when it holds a tombstone:
//
//	   vacant: 0 0
//	 occupied: 0 1
//	tombstone: 1 0
//
// Deleting an occupied slot flips both bits, turning it into a tombstone.
// Tombstones keep probe sequences going but never match a key. They are only
// cleared when the generation is reset or replaced.
type slotState uint8

const (
	slotVacant    slotState = 0b00
	slotOccupied  slotState = 0b01
	slotTombstone slotState = 0b10

	// occupiedMask selects the occupied bit of every slot in a word.
	occupiedMask = 0x5555555555555555
)

// slotBits is the slot state bitmap of a generation of capacity C. It holds
// 2*C+1 bits: the state of every slot followed by a guard bit that is always
// set. The guard bit sits where the occupied bit of slot C would be, so scan
// stops on it without a bounds check on every word.
type slotBits []uint64

// slotBitsWords returns the number of words needed for capacity slots.
func slotBitsWords(capacity uint32) int {
	return int((2*uint64(capacity) + 1 + 63) / 64)
}

func (b slotBits) state(i uint32) slotState {
	off := 2 * uint64(i)
	return slotState((b[off/64] >> (off % 64)) & 3)
}

func (b slotBits) isOccupied(i uint32) bool {
	off := 2 * uint64(i)
	return b[off/64]&(1<<(off%64)) != 0
}

// setOccupied marks slot i, which must be vacant or a tombstone, occupied.
func (b slotBits) setOccupied(i uint32) {
	off := 2 * uint64(i)
	w := &b[off/64]
	*w = (*w &^ (3 << (off % 64))) | (1 << (off % 64))
}

// setTombstone turns the occupied slot i into a tombstone.
func (b slotBits) setTombstone(i uint32) {
	off := 2 * uint64(i)
	b[off/64] ^= 3 << (off % 64)
}

// reset marks every slot vacant and sets the guard bit.
func (b slotBits) reset(capacity uint32) {
	clear(b)
	off := 2 * uint64(capacity)
	b[off/64] |= 1 << (off % 64)
}

// scan returns the first occupied slot at an index >= i. It examines a whole
// word at a time, so enumerating a generation of capacity C holding L
// entries costs O(C/64 + L).
func (b slotBits) scan(i, capacity uint32) (uint32, bool) {
	if i >= capacity {
		return 0, false
	}
	end := 2 * uint64(capacity)
	pos := 2 * uint64(i)
	for {
		w := pos / 64
		word := b[w] & (occupiedMask << (pos % 64))
		if word != 0 {
			pos = w*64 + uint64(bits.TrailingZeros64(word))
			if pos >= end {
				// The guard bit.
				return 0, false
			}
			return uint32(pos / 2), true
		}
		pos = (w + 1) * 64
	}
}

func (b slotBits) String(capacity uint32) string {
	var buf strings.Builder
	buf.Grow(int(capacity))
	for i := uint32(0); i < capacity; i++ {
		switch b.state(i) {
		case slotVacant:
			buf.WriteByte('.')
		case slotOccupied:
			buf.WriteByte('x')
		case slotTombstone:
			buf.WriteByte('-')
		default:
			buf.WriteByte('?')
		}
	}
	return buf.String()
}

// generation is one complete backing allocation of a Table: keys, optional
// values, optional cached hashes and the slot state bitmap, all indexed by
// slot.
type generation[K, V any] struct {
	// The number of slots. Always 0 or an entry of primes.
	capacity uint32
	keys     keyStore[K]
	// values is nil when V has zero size.
	values []V
	// hashes is nil unless the table caches hashes.
	hashes []uint32
	bits   slotBits
	// The number of occupied slots.
	live int
	// The number of tombstones.
	tombstones int
}

// probeSeq is a double hashing probe sequence over a generation of prime
// capacity:
//
//	p(i) := (hash + i*step) mod capacity,  step := 1 + hash mod (capacity-1)
//
// step is never a multiple of the prime capacity, so the sequence visits
// every slot exactly once before repeating. Keys that collide on their first
// slot usually follow different sequences.
type probeSeq struct {
	capacity uint32
	offset   uint32
	step     uint32
}

func makeProbeSeq(hash, capacity uint32) probeSeq {
	return probeSeq{
		capacity: capacity,
		offset:   hash % capacity,
		step:     1 + hash%(capacity-1),
	}
}

func (s probeSeq) next() probeSeq {
	// offset and step are both < capacity, so a single subtraction
	// suffices. The largest capacity exceeds 2^31, hence the widening.
	o := uint64(s.offset) + uint64(s.step)
	if o >= uint64(s.capacity) {
		o -= uint64(s.capacity)
	}
	s.offset = uint32(o)
	return s
}

func (s probeSeq) String() string {
	return fmt.Sprintf("capacity=%d offset=%d step=%d", s.capacity, s.offset, s.step)
}
