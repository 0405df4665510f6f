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

package workload

import (
	"encoding/binary"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/qhash"
)

// tableOps is the interface workers drive. Keys are indexes into a keyspace
// built once per worker; the value stored for key index k is k.
type tableOps interface {
	// insert adds k, reporting whether it was already present.
	insert(k int) (collided bool)
	// find looks k up, returning its value.
	find(k int) (value uint64, ok bool)
	// delete removes k, reporting whether it was present.
	delete(k int) bool
	len() int
	// stats returns the table statistics, if the implementation has any.
	stats() (qhash.Stats, bool)
	close()
}

type qhashOps[K any] struct {
	t    *qhash.Table[K, uint64]
	keys []K
}

func newQhashOps[K any](kind qhash.KeyKind[K], keys []K, cfg Config) *qhashOps[K] {
	var opts []qhash.Option[K, uint64]
	if cfg.CacheHashes {
		opts = append(opts, qhash.WithCachedHashes[K, uint64]())
	}
	if cfg.MinSize > 0 {
		opts = append(opts, qhash.WithMinSize[K, uint64](cfg.MinSize))
	}
	return &qhashOps[K]{t: qhash.New[K, uint64](kind, opts...), keys: keys}
}

func (o *qhashOps[K]) insert(k int) bool {
	_, collided := o.t.Put(o.keys[k], uint64(k), false)
	return collided
}

func (o *qhashOps[K]) find(k int) (uint64, bool) {
	s, ok := o.t.Find(o.keys[k])
	if !ok {
		return 0, false
	}
	return *o.t.Value(s), true
}

func (o *qhashOps[K]) delete(k int) bool {
	return o.t.DeleteKey(o.keys[k])
}

func (o *qhashOps[K]) len() int {
	return o.t.Len()
}

func (o *qhashOps[K]) stats() (qhash.Stats, bool) {
	return o.t.Stats(), true
}

func (o *qhashOps[K]) close() {
	o.t.Close()
}

type builtinOps[K comparable] struct {
	m    map[K]uint64
	keys []K
}

func newBuiltinOps[K comparable](keys []K, cfg Config) *builtinOps[K] {
	return &builtinOps[K]{m: make(map[K]uint64, cfg.MinSize), keys: keys}
}

func (o *builtinOps[K]) insert(k int) bool {
	key := o.keys[k]
	if _, ok := o.m[key]; ok {
		return true
	}
	o.m[key] = uint64(k)
	return false
}

func (o *builtinOps[K]) find(k int) (uint64, bool) {
	v, ok := o.m[o.keys[k]]
	return v, ok
}

func (o *builtinOps[K]) delete(k int) bool {
	key := o.keys[k]
	if _, ok := o.m[key]; !ok {
		return false
	}
	delete(o.m, key)
	return true
}

func (o *builtinOps[K]) len() int {
	return len(o.m)
}

func (o *builtinOps[K]) stats() (qhash.Stats, bool) {
	return qhash.Stats{}, false
}

func (o *builtinOps[K]) close() {
	o.m = nil
}

// spread maps a key index to a 64-bit key using both halves of the word.
func spread(k int) uint64 {
	return uint64(k) * 0x9e3779b97f4a7c15
}

func stringKey(k int) string {
	return "key-" + strconv.Itoa(k)
}

func blobKey(width, k int) []byte {
	b := make([]byte, width)
	binary.BigEndian.PutUint64(b, uint64(k))
	return b
}

// newOps builds the keyspace of cfg and a table of implementation impl over
// it.
func newOps(cfg Config, impl string) (tableOps, error) {
	builtin := impl == ImplBuiltin
	if !builtin && impl != ImplQhash {
		return nil, errors.Newf("unknown implementation %q", impl)
	}

	switch cfg.Kind {
	case KindU32:
		keys := make([]uint32, cfg.Keys)
		for i := range keys {
			keys[i] = uint32(i)
		}
		if builtin {
			return newBuiltinOps(keys, cfg), nil
		}
		return newQhashOps[uint32](qhash.Uint32Keys{}, keys, cfg), nil

	case KindU64:
		keys := make([]uint64, cfg.Keys)
		for i := range keys {
			keys[i] = spread(i)
		}
		if builtin {
			return newBuiltinOps(keys, cfg), nil
		}
		return newQhashOps[uint64](qhash.Uint64Keys{}, keys, cfg), nil

	case KindString:
		strs := make([]string, cfg.Keys)
		for i := range strs {
			strs[i] = stringKey(i)
		}
		if builtin {
			return newBuiltinOps(strs, cfg), nil
		}
		keys := make([]*string, len(strs))
		for i := range strs {
			keys[i] = &strs[i]
		}
		return newQhashOps[*string](qhash.StringPointers(), keys, cfg), nil

	case KindBlob:
		if builtin {
			keys := make([]string, cfg.Keys)
			for i := range keys {
				keys[i] = string(blobKey(cfg.BlobWidth, i))
			}
			return newBuiltinOps(keys, cfg), nil
		}
		keys := make([][]byte, cfg.Keys)
		for i := range keys {
			keys[i] = blobKey(cfg.BlobWidth, i)
		}
		return newQhashOps[[]byte](qhash.BlobKeys{Width: cfg.BlobWidth}, keys, cfg), nil

	default:
		return nil, errors.Newf("invalid kind %q", cfg.Kind)
	}
}
