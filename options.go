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

// Option configures a Table while it is being initialized.
type Option[K, V any] interface {
	apply(t *Table[K, V])
}

type cachedHashesOption[K, V any] struct{}

func (cachedHashesOption[K, V]) apply(t *Table[K, V]) {
	t.cacheHashes = true
}

// WithCachedHashes is an option to store the hash of every key next to it.
// Probes then compare hashes before calling KeyKind.Equal, and migrating an
// entry to a new generation does not rehash its key. It costs 4 bytes per
// slot and is pointless for Uint32Keys and Uint64Keys.
func WithCachedHashes[K, V any]() Option[K, V] {
	return cachedHashesOption[K, V]{}
}

type minSizeOption[K, V any] struct {
	minSize int
}

func (op minSizeOption[K, V]) apply(t *Table[K, V]) {
	t.minCapacity = minCapacityFor(op.minSize)
}

// WithMinSize is an option to never shrink the table below the capacity
// needed to hold minSize entries. See Table.SetMinSize.
func WithMinSize[K, V any](minSize int) Option[K, V] {
	return minSizeOption[K, V]{minSize}
}

// Allocator specifies an interface for allocating and releasing the memory
// used by the generations of a Table. The default allocator utilizes Go's
// builtin make() and allows the GC to reclaim memory.
//
// If the allocator is manually managing memory and requires that storage be
// freed then Table.Close must be called in order to ensure the Free methods
// are called for the live generations. Storage of retired generations is
// freed as soon as they retire.
type Allocator[K, V any] interface {
	// AllocKeys should return a slice equivalent to make([]K, n).
	AllocKeys(n int) []K

	// AllocValues should return a slice equivalent to make([]V, n).
	AllocValues(n int) []V

	// AllocHashes should return a slice equivalent to make([]uint32, n).
	AllocHashes(n int) []uint32

	// AllocWords should return a slice equivalent to make([]uint64, n). It
	// backs slot state bitmaps and inline blob keys.
	AllocWords(n int) []uint64

	// FreeKeys can optional release the memory associated with the supplied
	// slice that is guaranteed to have been allocated by AllocKeys.
	FreeKeys(v []K)

	// FreeValues can optional release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocValues.
	FreeValues(v []V)

	// FreeHashes can optional release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocHashes.
	FreeHashes(v []uint32)

	// FreeWords can optional release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocWords.
	FreeWords(v []uint64)
}

type defaultAllocator[K, V any] struct{}

func (defaultAllocator[K, V]) AllocKeys(n int) []K {
	return make([]K, n)
}

func (defaultAllocator[K, V]) AllocValues(n int) []V {
	return make([]V, n)
}

func (defaultAllocator[K, V]) AllocHashes(n int) []uint32 {
	return make([]uint32, n)
}

func (defaultAllocator[K, V]) AllocWords(n int) []uint64 {
	return make([]uint64, n)
}

func (defaultAllocator[K, V]) FreeKeys(v []K) {
}

func (defaultAllocator[K, V]) FreeValues(v []V) {
}

func (defaultAllocator[K, V]) FreeHashes(v []uint32) {
}

func (defaultAllocator[K, V]) FreeWords(v []uint64) {
}

type allocatorOption[K, V any] struct {
	allocator Allocator[K, V]
}

func (op allocatorOption[K, V]) apply(t *Table[K, V]) {
	t.allocator = op.allocator
}

// WithAllocator is an option for specify the Allocator to use for a
// Table[K,V].
func WithAllocator[K, V any](allocator Allocator[K, V]) Option[K, V] {
	return allocatorOption[K, V]{allocator}
}
