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
	"math"
	"math/bits"

	"github.com/cockroachdb/errors"
)

// primes is the sequence of table capacities. Each entry roughly doubles the
// previous one and primes[i] > 2^i, which lets sizeFor start its search at
// the index given by the bit length of the target. Prime capacities make the
// double hashing probe sequence visit every slot.
var primes = [32]uint32{
	11, 11, 11, 11,
	23, 53, 97, 193,
	389, 769, 1543, 3079,
	6151, 12289, 24593, 49157,
	98317, 196613, 393241, 786433,
	1572869, 3145739, 6291469, 12582917,
	25165843, 50331653, 100663319, 201326611,
	402653189, 805306457, 1610612741, 3221225473,
}

// sizeFor returns the smallest capacity in primes that is >= target. It
// panics if target cannot be satisfied, which is treated like an allocation
// failure.
func sizeFor(target uint64) uint32 {
	if target >= math.MaxInt32 {
		panic(errors.Newf("qhash: out of memory: no capacity for %d slots", target))
	}
	if target <= uint64(primes[0]) {
		return primes[0]
	}
	b := bits.Len64(target) - 1
	for uint64(primes[b]) < target {
		b++
	}
	return primes[b]
}

// nextCapacity returns the capacity of a generation that holds minLive
// entries and still has room for one more without exceeding a load factor
// of 1/2.
func nextCapacity(minLive int) uint32 {
	return sizeFor(2 * (uint64(minLive) + 1))
}

// minCapacityFor returns the capacity floor of a table that should hold
// minSize entries without resizing, or 0 if minSize is not positive.
func minCapacityFor(minSize int) uint32 {
	if minSize <= 0 {
		return 0
	}
	return sizeFor(2 * uint64(minSize))
}
