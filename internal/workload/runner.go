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

// Package workload drives qhash tables with randomized operation streams,
// measuring per-operation latency and optionally comparing against Go's
// builtin map.
package workload

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/qhash"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	gometrics "github.com/rcrowley/go-metrics"
)

type opKind int

const (
	opInsert opKind = iota
	opFind
	opDelete
	numOps
)

var opNames = [numOps]string{"insert", "find", "delete"}

func (op opKind) String() string {
	return opNames[op]
}

// pick maps r in [0, 100) to an operation.
func (m Mix) pick(r int) opKind {
	switch {
	case r < m.Insert:
		return opInsert
	case r < m.Insert+m.Find:
		return opFind
	default:
		return opDelete
	}
}

const (
	// checkEvery is the number of operations between context checks.
	checkEvery = 1024
	// sampleSize is the reservoir size of the latency histograms.
	sampleSize = 4096
)

// WorkerResult is the outcome of one worker against one implementation.
type WorkerResult struct {
	Worker int
	Impl   string
	// Per operation counts, indexed like opNames.
	Ops [numOps]int64
	// Hits counts colliding inserts, successful finds and deletes.
	Hits    [numOps]int64
	Max     [numOps]time.Duration
	Elapsed time.Duration
	// FinalLen is the number of entries left in the table.
	FinalLen int
	// Stats is only set for qhash tables.
	Stats    qhash.Stats
	HasStats bool
}

// TotalOps returns the number of operations the worker performed.
func (r WorkerResult) TotalOps() int64 {
	var n int64
	for _, c := range r.Ops {
		n += c
	}
	return n
}

// implRecorder aggregates latencies of one implementation across workers.
type implRecorder struct {
	latency   [numOps]gometrics.Histogram
	vmLatency [numOps]*metrics.Histogram
	ops       [numOps]*metrics.Counter
}

// recorder collects the metrics of a run. It is safe for concurrent use.
type recorder struct {
	set   *metrics.Set
	impls map[string]*implRecorder
}

func newRecorder(impls []string) *recorder {
	r := &recorder{
		set:   metrics.NewSet(),
		impls: make(map[string]*implRecorder, len(impls)),
	}
	for _, impl := range impls {
		ir := &implRecorder{}
		for op := opKind(0); op < numOps; op++ {
			ir.latency[op] = gometrics.NewHistogram(gometrics.NewUniformSample(sampleSize))
			ir.vmLatency[op] = r.set.NewHistogram(
				fmt.Sprintf("qhash_op_duration_seconds{impl=%q,op=%q}", impl, op))
			ir.ops[op] = r.set.NewCounter(fmt.Sprintf("qhash_ops_total{impl=%q,op=%q}", impl, op))
		}
		r.impls[impl] = ir
	}
	return r
}

func (r *recorder) record(ir *implRecorder, op opKind, d time.Duration) {
	ir.latency[op].Update(d.Nanoseconds())
	ir.vmLatency[op].Update(d.Seconds())
	ir.ops[op].Inc()
}

// recordTable exports the final table statistics of a qhash worker.
func (r *recorder) recordTable(res WorkerResult) {
	if !res.HasStats {
		return
	}
	s := res.Stats
	r.set.GetOrCreateCounter(fmt.Sprintf("qhash_table_resizes_total{worker=\"%d\"}", res.Worker)).Set(s.Resizes)
	r.set.GetOrCreateCounter(fmt.Sprintf("qhash_table_migrated_total{worker=\"%d\"}", res.Worker)).Set(s.Migrated)
	capacity, length := float64(s.Capacity), float64(s.Len)
	r.set.GetOrCreateGauge(fmt.Sprintf("qhash_table_capacity{worker=\"%d\"}", res.Worker),
		func() float64 { return capacity })
	r.set.GetOrCreateGauge(fmt.Sprintf("qhash_table_len{worker=\"%d\"}", res.Worker),
		func() float64 { return length })
}

// Run runs the workload described by cfg. Every worker runs its operation
// stream against each implementation in turn, with a table of its own.
func Run(ctx context.Context, cfg Config, log logger.ILogger) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	impls := cfg.Impls()
	rec := newRecorder(impls)
	results := xsync.NewMapOf[int, WorkerResult]()
	errs := make(chan error, cfg.Workers)

	log.Infof("starting %d workers, %d ops each, against %v", cfg.Workers, cfg.Ops, impls)
	start := time.Now()

	var wg sync.WaitGroup
	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i, impl := range impls {
				res, err := runWorker(ctx, cfg, w, impl, rec, log)
				if err != nil {
					errs <- errors.Wrapf(err, "worker %d (%s)", w, impl)
					return
				}
				results.Store(w*len(impls)+i, res)
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	var err error
	for e := range errs {
		err = errors.CombineErrors(err, e)
	}
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	log.Infof("finished in %s", elapsed)
	return newReport(cfg, results, rec, elapsed), nil
}

func runWorker(
	ctx context.Context, cfg Config, w int, impl string, rec *recorder, log logger.ILogger,
) (WorkerResult, error) {
	ops, err := newOps(cfg, impl)
	if err != nil {
		return WorkerResult{}, err
	}
	defer ops.close()

	// Every implementation sees the same operation stream.
	rng := rand.New(rand.NewSource(cfg.Seed + int64(w)))
	var shadow map[int]bool
	if cfg.Verify {
		shadow = make(map[int]bool)
	}

	ir := rec.impls[impl]
	res := WorkerResult{Worker: w, Impl: impl}
	log.Debugf("worker %d (%s): started", w, impl)
	begin := time.Now()
	for n := 0; n < cfg.Ops; n++ {
		if n%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return res, err
			}
		}
		k := rng.Intn(cfg.Keys)
		op := cfg.Mix.pick(rng.Intn(100))

		var hit bool
		var v uint64
		start := time.Now()
		switch op {
		case opInsert:
			hit = ops.insert(k)
		case opFind:
			v, hit = ops.find(k)
		case opDelete:
			hit = ops.delete(k)
		}
		d := time.Since(start)

		rec.record(ir, op, d)
		res.Ops[op]++
		if hit {
			res.Hits[op]++
		}
		if d > res.Max[op] {
			res.Max[op] = d
		}
		if shadow != nil {
			if err := verify(shadow, op, k, hit, v); err != nil {
				log.Errorf("worker %d (%s): %v", w, impl, err)
				return res, errors.Wrapf(err, "operation %d", n)
			}
		}
	}
	res.Elapsed = time.Since(begin)
	res.FinalLen = ops.len()
	res.Stats, res.HasStats = ops.stats()
	if shadow != nil && len(shadow) != res.FinalLen {
		return res, errors.AssertionFailedf("table holds %d entries, expected %d", res.FinalLen, len(shadow))
	}
	rec.recordTable(res)

	if res.HasStats {
		log.Infof("worker %d (%s): %d ops in %s, len=%d capacity=%d resizes=%d migrated=%d",
			w, impl, res.TotalOps(), res.Elapsed, res.FinalLen, res.Stats.Capacity,
			res.Stats.Resizes, res.Stats.Migrated)
	} else {
		log.Infof("worker %d (%s): %d ops in %s, len=%d", w, impl, res.TotalOps(), res.Elapsed, res.FinalLen)
	}
	return res, nil
}

// verify checks the result of an operation on key k against the shadow set
// of present keys, and updates the shadow.
func verify(shadow map[int]bool, op opKind, k int, hit bool, v uint64) error {
	if present := shadow[k]; hit != present {
		return errors.AssertionFailedf("%s(%d): hit=%t, expected %t", op, k, hit, present)
	}
	switch op {
	case opInsert:
		shadow[k] = true
	case opFind:
		if hit && v != uint64(k) {
			return errors.AssertionFailedf("find(%d): value %d", k, v)
		}
	case opDelete:
		delete(shadow, k)
	}
	return nil
}
