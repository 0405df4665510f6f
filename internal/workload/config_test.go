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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMix(t *testing.T) {
	testCases := []struct {
		s        string
		expected Mix
		err      string
	}{
		{s: "50,30,20", expected: Mix{50, 30, 20}},
		{s: " 100, 0 ,0", expected: Mix{100, 0, 0}},
		{s: "50,30", err: "expected insert,find,delete"},
		{s: "50,x,50", err: "invalid mix"},
		{s: "50,30,30", err: "add up to 110"},
		{s: "-10,60,50", err: "negative"},
	}
	for _, c := range testCases {
		t.Run(c.s, func(t *testing.T) {
			m, err := ParseMix(c.s)
			if c.err != "" {
				require.ErrorContains(t, err, c.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, c.expected, m)
		})
	}
}

func TestMixPick(t *testing.T) {
	m := Mix{Insert: 50, Find: 30, Delete: 20}
	var counts [numOps]int
	for r := 0; r < 100; r++ {
		counts[m.pick(r)]++
	}
	require.Equal(t, [numOps]int{50, 30, 20}, counts)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	testCases := []struct {
		name   string
		modify func(c *Config)
		err    string
	}{
		{"keys", func(c *Config) { c.Keys = 0 }, "keys must be positive"},
		{"ops", func(c *Config) { c.Ops = -1 }, "ops must not be negative"},
		{"workers", func(c *Config) { c.Workers = 0 }, "workers must be positive"},
		{"kind", func(c *Config) { c.Kind = "float" }, "invalid kind"},
		{"cache-scalar", func(c *Config) { c.CacheHashes = true }, "cache-hashes is not supported"},
		{"blob-width", func(c *Config) { c.Kind, c.BlobWidth = KindBlob, 4 }, "blob-width"},
		{"min-size", func(c *Config) { c.MinSize = -1 }, "min-size"},
		{"mix", func(c *Config) { c.Mix = Mix{1, 2, 3} }, "invalid config"},
	}
	for _, c := range testCases {
		t.Run(c.name, func(t *testing.T) {
			cfg := DefaultConfig()
			c.modify(&cfg)
			require.ErrorContains(t, cfg.Validate(), c.err)
		})
	}

	cfg := DefaultConfig()
	cfg.Kind, cfg.CacheHashes = KindString, true
	require.NoError(t, cfg.Validate())
}

func TestConfigImpls(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, []string{ImplQhash, ImplBuiltin}, cfg.Impls())
	cfg.Baseline = false
	require.Equal(t, []string{ImplQhash}, cfg.Impls())
	require.Contains(t, cfg.String(), "Baseline: false")
}
