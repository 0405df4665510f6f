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
	"cmp"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"
)

// OpSummary summarizes the latencies of one operation of one implementation
// across all workers.
type OpSummary struct {
	Op    string
	Count int64
	Hits  int64
	Mean  time.Duration
	P50   time.Duration
	P99   time.Duration
	P999  time.Duration
	// Max is exact. The percentiles are estimated from a uniform sample.
	Max time.Duration
}

// ImplSummary summarizes one implementation.
type ImplSummary struct {
	Impl string
	Ops  []OpSummary
	// OpsPerSec is the sum of the throughput of the individual workers.
	OpsPerSec float64
}

// Report is the outcome of Run.
type Report struct {
	Config  Config
	Elapsed time.Duration
	// Workers is sorted by worker, then by implementation.
	Workers []WorkerResult
	Impls   []ImplSummary

	metrics *metrics.Set
}

func newReport(
	cfg Config, results *xsync.MapOf[int, WorkerResult], rec *recorder, elapsed time.Duration,
) *Report {
	r := &Report{
		Config:  cfg,
		Elapsed: elapsed,
		metrics: rec.set,
	}
	results.Range(func(_ int, res WorkerResult) bool {
		r.Workers = append(r.Workers, res)
		return true
	})
	slices.SortFunc(r.Workers, func(a, b WorkerResult) int {
		if c := cmp.Compare(a.Worker, b.Worker); c != 0 {
			return c
		}
		return cmp.Compare(a.Impl, b.Impl)
	})

	for _, impl := range cfg.Impls() {
		s := ImplSummary{Impl: impl}
		ir := rec.impls[impl]
		for op := opKind(0); op < numOps; op++ {
			h := ir.latency[op].Snapshot()
			p := h.Percentiles([]float64{0.5, 0.99, 0.999})
			o := OpSummary{
				Op:    op.String(),
				Count: h.Count(),
				Mean:  time.Duration(h.Mean()),
				P50:   time.Duration(p[0]),
				P99:   time.Duration(p[1]),
				P999:  time.Duration(p[2]),
			}
			for _, w := range r.Workers {
				if w.Impl == impl {
					o.Hits += w.Hits[op]
					o.Max = max(o.Max, w.Max[op])
				}
			}
			s.Ops = append(s.Ops, o)
		}
		for _, w := range r.Workers {
			if w.Impl == impl && w.Elapsed > 0 {
				s.OpsPerSec += float64(w.TotalOps()) / w.Elapsed.Seconds()
			}
		}
		r.Impls = append(r.Impls, s)
	}
	return r
}

// Summary returns the summary of implementation impl.
func (r *Report) Summary(impl string) (ImplSummary, bool) {
	for _, s := range r.Impls {
		if s.Impl == impl {
			return s, true
		}
	}
	return ImplSummary{}, false
}

// WriteText writes a human readable report to w.
func (r *Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "impl\top\tcount\thits\tmean\tp50\tp99\tp99.9\tmax\t\n")
	for _, s := range r.Impls {
		for _, o := range s.Ops {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\t%s\t%s\t%s\t\n",
				s.Impl, o.Op, o.Count, o.Hits, o.Mean, o.P50, o.P99, o.P999, o.Max)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	for _, s := range r.Impls {
		fmt.Fprintf(w, "%s: %.0f ops/sec\n", s.Impl, s.OpsPerSec)
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 8, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "worker\tlen\tcapacity\ttombstones\tresizes\tmigrated\telapsed\t\n")
	for _, res := range r.Workers {
		if !res.HasStats {
			continue
		}
		s := res.Stats
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%d\t%s\t\n",
			res.Worker, s.Len, s.Capacity, s.Tombstones, s.Resizes, s.Migrated, res.Elapsed)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\ntotal: %s\n", r.Elapsed)
	return err
}

// WritePrometheus writes the metrics of the run in Prometheus text format.
func (r *Report) WritePrometheus(w io.Writer) {
	r.metrics.WritePrometheus(w)
}
