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
	"bytes"
	"fmt"
	"unsafe"

	"github.com/cespare/xxhash/v2"
)

// KeyKind describes how the keys of a Table are hashed, compared and stored.
// A table is parameterized by exactly one KeyKind, fixed when it is
// initialized. The set of kinds is closed: Uint32Keys, Uint64Keys,
// PointerKeys and BlobKeys.
//
// Equal(a, b) must imply Hash(a) == Hash(b).
type KeyKind[K any] interface {
	Hash(key K) uint32
	Equal(a, b K) bool

	// newKeys allocates storage for n keys.
	newKeys(a keyAllocator[K], n int) keyStore[K]
	// scalar reports whether hashing a key is as cheap as loading a cached
	// hash, in which case caching hashes only wastes memory.
	scalar() bool
}

// keyAllocator is the subset of Allocator used by key storage.
type keyAllocator[K any] interface {
	AllocKeys(n int) []K
	FreeKeys(v []K)
	AllocWords(n int) []uint64
	FreeWords(v []uint64)
}

// keyStore holds the keys of one generation, indexed by slot.
type keyStore[K any] interface {
	at(i uint32) K
	set(i uint32, key K)
	// zero clears the key at i so the table does not retain references.
	zero(i uint32)
	reset()
	free(a keyAllocator[K])
}

// Uint32Keys stores 32-bit keys by value. The key is its own hash.
type Uint32Keys struct{}

// Hash implements KeyKind.
func (Uint32Keys) Hash(key uint32) uint32 { return key }

// Equal implements KeyKind.
func (Uint32Keys) Equal(a, b uint32) bool { return a == b }

func (Uint32Keys) newKeys(a keyAllocator[uint32], n int) keyStore[uint32] {
	return sliceKeys[uint32](a.AllocKeys(n))
}

func (Uint32Keys) scalar() bool { return true }

// Uint64Keys stores 64-bit keys by value. Keys are hashed with an avalanche
// mix so that both the high and low halves contribute to the hash.
type Uint64Keys struct{}

// Hash implements KeyKind.
func (Uint64Keys) Hash(key uint64) uint32 { return mix64(key) }

// Equal implements KeyKind.
func (Uint64Keys) Equal(a, b uint64) bool { return a == b }

func (Uint64Keys) newKeys(a keyAllocator[uint64], n int) keyStore[uint64] {
	return sliceKeys[uint64](a.AllocKeys(n))
}

func (Uint64Keys) scalar() bool { return true }

// PointerKeys stores *T keys. Only the pointer is stored: the table does not
// own the pointee, and the pointee must not change in a way that affects
// HashFn or EqualFn while it is in the table.
type PointerKeys[T any] struct {
	HashFn  func(key *T) uint32
	EqualFn func(a, b *T) bool
}

// Hash implements KeyKind.
func (k PointerKeys[T]) Hash(key *T) uint32 { return k.HashFn(key) }

// Equal implements KeyKind.
func (k PointerKeys[T]) Equal(a, b *T) bool { return k.EqualFn(a, b) }

func (PointerKeys[T]) newKeys(a keyAllocator[*T], n int) keyStore[*T] {
	return sliceKeys[*T](a.AllocKeys(n))
}

func (PointerKeys[T]) scalar() bool { return false }

// StringPointers returns a PointerKeys hashing and comparing the pointed-to
// strings.
func StringPointers() PointerKeys[string] {
	return PointerKeys[string]{
		HashFn: func(key *string) uint32 {
			return fold64(xxhash.Sum64String(*key))
		},
		EqualFn: func(a, b *string) bool {
			return *a == *b
		},
	}
}

// IdentityPointers returns a PointerKeys where two keys are equal only if
// they are the same pointer.
func IdentityPointers[T any]() PointerKeys[T] {
	return PointerKeys[T]{
		HashFn: func(key *T) uint32 {
			return mix64(uint64(uintptr(unsafe.Pointer(key))))
		},
		EqualFn: func(a, b *T) bool {
			return a == b
		},
	}
}

// BlobKeys stores []byte keys of exactly Width bytes inline in the table.
// Keys returned by Table.Key alias table storage and are only valid until the
// next mutation. If HashFn is nil keys are hashed with xxhash, and if EqualFn
// is nil they are compared with bytes.Equal.
type BlobKeys struct {
	Width   int
	HashFn  func(key []byte) uint32
	EqualFn func(a, b []byte) bool
}

// Hash implements KeyKind.
func (k BlobKeys) Hash(key []byte) uint32 {
	if k.HashFn == nil {
		return HashBytes(key)
	}
	return k.HashFn(key)
}

// Equal implements KeyKind.
func (k BlobKeys) Equal(a, b []byte) bool {
	if k.EqualFn == nil {
		return bytes.Equal(a, b)
	}
	return k.EqualFn(a, b)
}

func (k BlobKeys) newKeys(a keyAllocator[[]byte], n int) keyStore[[]byte] {
	if k.Width <= 0 {
		panic(fmt.Sprintf("qhash: invalid blob key width %d", k.Width))
	}
	stride := (k.Width + 7) &^ 7
	words := a.AllocWords(n * stride / 8)
	return &blobKeys{
		words:  words,
		bytes:  unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(words))), len(words)*8),
		width:  k.Width,
		stride: stride,
	}
}

func (BlobKeys) scalar() bool { return false }

// CStringKeys returns a BlobKeys of the given width holding NUL-terminated
// strings (see PadCString). If fold is true, keys compare ASCII
// case-insensitively.
func CStringKeys(width int, fold bool) BlobKeys {
	if fold {
		return BlobKeys{Width: width, HashFn: HashCStringFold, EqualFn: EqualCStringFold}
	}
	return BlobKeys{Width: width, HashFn: HashCString, EqualFn: EqualCString}
}

// HashBytes is the default BlobKeys hash.
func HashBytes(b []byte) uint32 {
	return fold64(xxhash.Sum64(b))
}

// HashCString hashes b up to its first NUL byte.
func HashCString(b []byte) uint32 {
	return HashBytes(cstring(b))
}

// EqualCString compares a and b up to their first NUL byte.
func EqualCString(a, b []byte) bool {
	return bytes.Equal(cstring(a), cstring(b))
}

// HashCStringFold hashes b up to its first NUL byte, ignoring ASCII case.
func HashCStringFold(b []byte) uint32 {
	b = cstring(b)
	var buf [64]byte
	d := xxhash.New()
	for len(b) > 0 {
		n := copy(buf[:], b)
		for i := 0; i < n; i++ {
			buf[i] = lowerASCII(buf[i])
		}
		_, _ = d.Write(buf[:n])
		b = b[n:]
	}
	return fold64(d.Sum64())
}

// EqualCStringFold compares a and b up to their first NUL byte, ignoring
// ASCII case.
func EqualCStringFold(a, b []byte) bool {
	a, b = cstring(a), cstring(b)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if lowerASCII(a[i]) != lowerASCII(b[i]) {
			return false
		}
	}
	return true
}

// PadCString returns s as a width byte NUL-padded key. s is truncated if it
// does not fit.
func PadCString(width int, s string) []byte {
	b := make([]byte, width)
	copy(b, s)
	return b
}

func cstring(b []byte) []byte {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return b[:i]
	}
	return b
}

func lowerASCII(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c + 'a' - 'A'
	}
	return c
}

// mix64 is the murmur3 finalizer folded to 32 bits.
func mix64(k uint64) uint32 {
	k ^= k >> 33
	k *= 0xff51afd7ed558ccd
	k ^= k >> 33
	k *= 0xc4ceb9fe1a85ec53
	k ^= k >> 33
	return fold64(k)
}

func fold64(h uint64) uint32 {
	return uint32(h) ^ uint32(h>>32)
}

// sliceKeys stores keys by value.
type sliceKeys[K any] []K

func (s sliceKeys[K]) at(i uint32) K { return s[i] }

func (s sliceKeys[K]) set(i uint32, key K) { s[i] = key }

func (s sliceKeys[K]) zero(i uint32) {
	var k K
	s[i] = k
}

func (s sliceKeys[K]) reset() { clear(s) }

func (s sliceKeys[K]) free(a keyAllocator[K]) {
	if s != nil {
		a.FreeKeys(s)
	}
}

// blobKeys stores fixed width byte keys in word aligned strides.
type blobKeys struct {
	words  []uint64
	bytes  []byte
	width  int
	stride int
}

func (b *blobKeys) at(i uint32) []byte {
	off := int(i) * b.stride
	return b.bytes[off : off+b.width : off+b.width]
}

func (b *blobKeys) set(i uint32, key []byte) {
	if len(key) != b.width {
		panic(fmt.Sprintf("qhash: blob key of %d bytes, expected %d", len(key), b.width))
	}
	off := int(i) * b.stride
	copy(b.bytes[off:off+b.width], key)
}

func (b *blobKeys) zero(i uint32) {
	off := int(i) * b.stride
	clear(b.bytes[off : off+b.stride])
}

func (b *blobKeys) reset() { clear(b.words) }

func (b *blobKeys) free(a keyAllocator[[]byte]) {
	if b.words != nil {
		a.FreeWords(b.words)
	}
}
