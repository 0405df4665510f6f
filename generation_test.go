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
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlotBits(t *testing.T) {
	for _, capacity := range []uint32{11, 31, 32, 33, 53, 97} {
		t.Run(fmt.Sprint(capacity), func(t *testing.T) {
			b := slotBits(make([]uint64, slotBitsWords(capacity)))
			b.reset(capacity)
			require.Equal(t, strings.Repeat(".", int(capacity)), b.String(capacity))
			require.True(t, b.isOccupied(capacity), "guard bit")

			_, ok := b.scan(0, capacity)
			require.False(t, ok)

			b.setOccupied(0)
			b.setOccupied(capacity - 1)
			b.setOccupied(capacity / 2)
			require.Equal(t, slotOccupied, b.state(0))
			require.Equal(t, slotVacant, b.state(1))

			var found []uint32
			for i, ok := b.scan(0, capacity); ok; i, ok = b.scan(i+1, capacity) {
				found = append(found, i)
			}
			require.Equal(t, []uint32{0, capacity / 2, capacity - 1}, found)

			b.setTombstone(capacity / 2)
			require.Equal(t, slotTombstone, b.state(capacity/2))
			require.False(t, b.isOccupied(capacity/2))
			i, ok := b.scan(1, capacity)
			require.True(t, ok)
			require.EqualValues(t, capacity-1, i)

			b.setOccupied(capacity / 2)
			require.Equal(t, slotOccupied, b.state(capacity/2))

			_, ok = b.scan(capacity, capacity)
			require.False(t, ok)

			b.reset(capacity)
			_, ok = b.scan(0, capacity)
			require.False(t, ok)
			require.True(t, b.isOccupied(capacity))
		})
	}
}

func TestSlotBitsString(t *testing.T) {
	b := slotBits(make([]uint64, slotBitsWords(11)))
	b.reset(11)
	b.setOccupied(1)
	b.setOccupied(4)
	b.setTombstone(4)
	b.setOccupied(10)
	require.Equal(t, ".x..-.....x", b.String(11))
}

func TestProbeSeq(t *testing.T) {
	genSeq := func(hash, capacity uint32) []uint32 {
		seq := makeProbeSeq(hash, capacity)
		vals := make([]uint32, capacity)
		for i := range vals {
			vals[i] = seq.offset
			seq = seq.next()
		}
		return vals
	}

	require.Equal(t, []uint32{2, 6, 10, 3, 7, 0, 4, 8, 1, 5, 9}, genSeq(13, 11))

	// Every sequence visits every slot exactly once.
	for _, capacity := range primes[:12] {
		for _, h := range []uint32{0, 1, 7, capacity - 1, capacity, 0xdeadbeef, ^uint32(0)} {
			vals := genSeq(h, capacity)
			sort.Slice(vals, func(i, j int) bool {
				return vals[i] < vals[j]
			})
			for i := range vals {
				require.EqualValues(t, i, vals[i], "capacity=%d hash=%d", capacity, h)
			}
		}
	}
}

func TestProbeSeqLargeCapacity(t *testing.T) {
	capacity := primes[len(primes)-1]
	seq := makeProbeSeq(^uint32(0), capacity)
	for i := 0; i < 1000; i++ {
		require.Less(t, seq.offset, capacity)
		seq = seq.next()
	}
}
