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
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func testConfig(kind string) Config {
	cfg := DefaultConfig()
	cfg.Keys = 500
	cfg.Ops = 5000
	cfg.Workers = 3
	cfg.Kind = kind
	cfg.Verify = true
	return cfg
}

func TestRun(t *testing.T) {
	for _, kind := range []string{KindU32, KindU64, KindString, KindBlob} {
		t.Run(kind, func(t *testing.T) {
			cfg := testConfig(kind)
			cfg.CacheHashes = kind == KindString || kind == KindBlob
			r, err := Run(context.Background(), cfg, NewLogger("workload", io.Discard))
			require.NoError(t, err)

			require.Len(t, r.Workers, 2*cfg.Workers)
			for i, w := range r.Workers {
				require.Equal(t, i/2, w.Worker)
				require.EqualValues(t, cfg.Ops, w.TotalOps())
				require.Equal(t, w.Impl == ImplQhash, w.HasStats)
				if w.HasStats {
					require.Equal(t, w.FinalLen, w.Stats.Len)
					require.LessOrEqual(t, 2*w.Stats.Len, w.Stats.Capacity)
				}
			}
			// Both implementations saw the same operations with the same
			// outcomes.
			for i := 0; i < len(r.Workers); i += 2 {
				a, b := r.Workers[i], r.Workers[i+1]
				require.Equal(t, ImplBuiltin, a.Impl)
				require.Equal(t, ImplQhash, b.Impl)
				require.Equal(t, a.Ops, b.Ops)
				require.Equal(t, a.Hits, b.Hits)
				require.Equal(t, a.FinalLen, b.FinalLen)
			}

			s, ok := r.Summary(ImplQhash)
			require.True(t, ok)
			require.Len(t, s.Ops, int(numOps))
			var total int64
			for _, o := range s.Ops {
				total += o.Count
				require.LessOrEqual(t, int64(o.P50), int64(o.Max))
			}
			require.EqualValues(t, cfg.Workers*cfg.Ops, total)
			require.Greater(t, s.OpsPerSec, 0.0)
		})
	}
}

func TestRunNoBaseline(t *testing.T) {
	cfg := testConfig(KindU64)
	cfg.Baseline = false
	cfg.MinSize = 1000
	r, err := Run(context.Background(), cfg, NewLogger("workload", io.Discard))
	require.NoError(t, err)
	require.Len(t, r.Workers, cfg.Workers)
	_, ok := r.Summary(ImplBuiltin)
	require.False(t, ok)
	for _, w := range r.Workers {
		require.GreaterOrEqual(t, w.Stats.Capacity, 2000)
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, testConfig(KindU32), NewLogger("workload", io.Discard))
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestRunInvalidConfig(t *testing.T) {
	cfg := testConfig(KindU32)
	cfg.Workers = 0
	_, err := Run(context.Background(), cfg, NewLogger("workload", io.Discard))
	require.ErrorContains(t, err, "workers must be positive")
}

func TestVerify(t *testing.T) {
	shadow := make(map[int]bool)
	require.NoError(t, verify(shadow, opInsert, 1, false, 0))
	require.NoError(t, verify(shadow, opFind, 1, true, 1))
	require.Error(t, verify(shadow, opFind, 1, true, 2))
	require.Error(t, verify(shadow, opInsert, 2, true, 0))
	require.NoError(t, verify(shadow, opDelete, 1, true, 0))
	require.Error(t, verify(shadow, opFind, 1, true, 1))
}

func TestReportOutput(t *testing.T) {
	cfg := testConfig(KindU64)
	r, err := Run(context.Background(), cfg, NewLogger("workload", io.Discard))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.WriteText(&buf))
	out := buf.String()
	for _, s := range []string{"impl", "p99.9", "qhash", "builtin", "insert", "find", "delete", "resizes", "ops/sec"} {
		require.Contains(t, out, s)
	}

	buf.Reset()
	r.WritePrometheus(&buf)
	out = buf.String()
	require.Contains(t, out, `qhash_ops_total{impl="qhash",op="insert"}`)
	require.Contains(t, out, `qhash_op_duration_seconds_bucket{impl="builtin",op="find"`)
	require.Contains(t, out, `qhash_table_resizes_total{worker="0"}`)
	require.True(t, strings.Contains(out, `qhash_table_capacity{worker="2"}`))
}
