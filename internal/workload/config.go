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
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// The key kinds a workload can run against. Each maps to one qhash.KeyKind.
const (
	KindU32    = "u32"
	KindU64    = "u64"
	KindString = "string"
	KindBlob   = "blob"
)

// The implementations a workload runs against.
const (
	ImplQhash   = "qhash"
	ImplBuiltin = "builtin"
)

// minBlobWidth is the smallest blob key width, enough for a 64-bit key index.
const minBlobWidth = 8

// Mix is the operation mix of a workload in percent. The fields add up to
// 100.
type Mix struct {
	Insert int
	Find   int
	Delete int
}

// ParseMix parses a mix given as "insert,find,delete" percentages, e.g.
// "50,30,20".
func ParseMix(s string) (Mix, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Mix{}, errors.Newf("invalid mix %q: expected insert,find,delete percentages", s)
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Mix{}, errors.Wrapf(err, "invalid mix %q", s)
		}
		v[i] = n
	}
	m := Mix{Insert: v[0], Find: v[1], Delete: v[2]}
	return m, m.validate()
}

func (m Mix) validate() error {
	if m.Insert < 0 || m.Find < 0 || m.Delete < 0 {
		return errors.Newf("invalid mix %s: negative percentage", m)
	}
	if sum := m.Insert + m.Find + m.Delete; sum != 100 {
		return errors.Newf("invalid mix %s: percentages add up to %d, not 100", m, sum)
	}
	return nil
}

func (m Mix) String() string {
	return fmt.Sprintf("%d,%d,%d", m.Insert, m.Find, m.Delete)
}

// Config describes a stress workload.
type Config struct {
	// Keys is the size of the keyspace operations draw keys from.
	Keys int
	// Ops is the number of operations each worker performs.
	Ops int
	// Workers is the number of concurrent workers. Each owns its own table.
	Workers     int
	Kind        string
	BlobWidth   int
	CacheHashes bool
	// MinSize is passed to qhash.WithMinSize when positive.
	MinSize int
	Mix     Mix
	Seed    int64
	// Verify cross-checks every result against a builtin map.
	Verify bool
	// Baseline additionally runs the same operations against a builtin map.
	Baseline bool
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Keys:      100000,
		Ops:       1000000,
		Workers:   4,
		Kind:      KindU64,
		BlobWidth: 16,
		Mix:       Mix{Insert: 50, Find: 30, Delete: 20},
		Seed:      1,
		Baseline:  true,
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.Keys <= 0 {
		return errors.Newf("keys must be positive, got %d", c.Keys)
	}
	if c.Ops < 0 {
		return errors.Newf("ops must not be negative, got %d", c.Ops)
	}
	if c.Workers <= 0 {
		return errors.Newf("workers must be positive, got %d", c.Workers)
	}
	switch c.Kind {
	case KindU32, KindU64:
		if c.CacheHashes {
			return errors.Newf("cache-hashes is not supported for %s keys", c.Kind)
		}
		if c.Kind == KindU32 && uint64(c.Keys) > 1<<32 {
			return errors.Newf("keys %d exceeds the u32 keyspace", c.Keys)
		}
	case KindString:
	case KindBlob:
		if c.BlobWidth < minBlobWidth {
			return errors.Newf("blob-width must be at least %d, got %d", minBlobWidth, c.BlobWidth)
		}
	default:
		return errors.Newf("invalid kind %q: must be one of %s, %s, %s, %s",
			c.Kind, KindU32, KindU64, KindString, KindBlob)
	}
	if c.MinSize < 0 {
		return errors.Newf("min-size must not be negative, got %d", c.MinSize)
	}
	return errors.Wrap(c.Mix.validate(), "invalid config")
}

// Impls returns the implementations the workload runs against.
func (c Config) Impls() []string {
	if c.Baseline {
		return []string{ImplQhash, ImplBuiltin}
	}
	return []string{ImplQhash}
}

func (c Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Keys: %d\n", c.Keys)
	fmt.Fprintf(&b, "Ops: %d per worker\n", c.Ops)
	fmt.Fprintf(&b, "Workers: %d\n", c.Workers)
	fmt.Fprintf(&b, "Kind: %s", c.Kind)
	if c.Kind == KindBlob {
		fmt.Fprintf(&b, " (width %d)", c.BlobWidth)
	}
	fmt.Fprintf(&b, "\nCache hashes: %t\n", c.CacheHashes)
	fmt.Fprintf(&b, "Min size: %d\n", c.MinSize)
	fmt.Fprintf(&b, "Mix (insert,find,delete): %s\n", c.Mix)
	fmt.Fprintf(&b, "Seed: %d\n", c.Seed)
	fmt.Fprintf(&b, "Verify: %t\n", c.Verify)
	fmt.Fprintf(&b, "Baseline: %t", c.Baseline)
	return b.String()
}
