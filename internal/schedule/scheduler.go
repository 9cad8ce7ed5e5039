// Package schedule runs one peak detection task per gene on a bounded worker pool.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/inodb/clipper/internal/metrics"
	"github.com/inodb/clipper/internal/peak"
)

// Detector finds candidate clusters for one gene. Returning a nil result and
// a nil error means nothing was found.
type Detector interface {
	Detect(ctx context.Context, task peak.Task) (*peak.GeneResult, error)
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context, task peak.Task) (*peak.GeneResult, error)

// Detect implements Detector.
func (f DetectorFunc) Detect(ctx context.Context, task peak.Task) (*peak.GeneResult, error) {
	return f(ctx, task)
}

// Options configures a Scheduler.
type Options struct {
	// Workers is the pool width. If 0, runtime.NumCPU() is used.
	Workers int
	// Timeout bounds each task's wall-clock time. Zero means no limit.
	//
	// A pooled task that overruns is abandoned: its worker moves on, but the
	// detector call keeps running until it returns, since a blocking read
	// cannot be interrupted. While abandoned calls are outstanding, more than
	// Workers detector calls may run at once. The gene_tasks_in_flight and
	// gene_tasks_abandoned gauges report them.
	Timeout time.Duration
	// Sequential runs tasks one at a time on the calling goroutine without
	// recovering panics, so failures surface with their original stack.
	Sequential bool
}

// Scheduler dispatches gene tasks to a Detector.
type Scheduler struct {
	detector Detector
	opts     Options
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// New creates a scheduler for the given detector.
func New(d Detector, opts Options) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Scheduler{
		detector: d,
		opts:     opts,
		logger:   zap.NewNop(),
	}
}

// SetLogger sets the logger for per-task events.
func (s *Scheduler) SetLogger(l *zap.Logger) {
	s.logger = l
}

// SetMetrics sets the metrics that task outcomes are recorded on.
func (s *Scheduler) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Workers returns the configured pool width.
func (s *Scheduler) Workers() int {
	return s.opts.Workers
}

// WorkItem holds a task with its submission index.
type WorkItem struct {
	Seq  int
	Task peak.Task
}

// WorkResult holds the outcome of one task.
type WorkResult struct {
	Seq     int
	Gene    string
	Result  *peak.GeneResult
	Outcome string
	Err     error
	Elapsed time.Duration
}

// Run executes every task and returns exactly one slot per task, in
// submission order. A nil slot is an absence: the task failed, timed out,
// or found nothing. Failures never abort sibling tasks.
func (s *Scheduler) Run(ctx context.Context, tasks []peak.Task) []*peak.GeneResult {
	results := make([]*peak.GeneResult, len(tasks))

	collect := func(r WorkResult) {
		s.record(r)
		results[r.Seq] = r.Result
	}

	if s.opts.Sequential {
		for i, task := range tasks {
			collect(s.runSequential(ctx, i, task))
		}
		return results
	}

	items := make(chan WorkItem, len(tasks))
	for i, task := range tasks {
		items <- WorkItem{Seq: i, Task: task}
	}
	close(items)

	OrderedCollect(s.parallel(ctx, items), collect)
	return results
}

// parallel runs work items on the worker pool. Results are sent in arrival
// order; the channel is closed once every item has resolved.
func (s *Scheduler) parallel(ctx context.Context, items <-chan WorkItem) <-chan WorkResult {
	workers := s.opts.Workers
	results := make(chan WorkResult, 2*workers)

	var wg sync.WaitGroup
	wg.Add(workers)

	for range workers {
		go func() {
			defer wg.Done()
			for item := range items {
				results <- s.runPooled(ctx, item.Seq, item.Task)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// Detector call states, see runPooled.
const (
	callRunning int32 = iota
	callReturned
	callAbandoned
)

// runPooled runs one task on its own goroutine and waits for it or its
// deadline. A task that overruns is abandoned; its late result is dropped.
func (s *Scheduler) runPooled(ctx context.Context, seq int, task peak.Task) WorkResult {
	tctx, cancel := s.taskContext(ctx)
	defer cancel()

	var state atomic.Int32
	if s.metrics != nil {
		s.metrics.TasksInFlight.Inc()
	}

	start := time.Now()
	done := make(chan WorkResult, 1)
	go func() {
		defer func() {
			if s.metrics == nil {
				return
			}
			s.metrics.TasksInFlight.Dec()
			if !state.CompareAndSwap(callRunning, callReturned) {
				s.metrics.Abandoned.Dec()
			}
		}()
		defer func() {
			if p := recover(); p != nil {
				done <- WorkResult{Err: fmt.Errorf("panic: %v", p)}
			}
		}()
		res, err := s.detector.Detect(tctx, task)
		done <- WorkResult{Result: res, Err: err}
	}()

	var r WorkResult
	select {
	case r = <-done:
	case <-tctx.Done():
		r = WorkResult{Err: tctx.Err()}
		if state.CompareAndSwap(callRunning, callAbandoned) && s.metrics != nil {
			s.metrics.Abandoned.Inc()
		}
	}
	return classify(seq, task, r, time.Since(start))
}

// runSequential runs one task on the calling goroutine.
func (s *Scheduler) runSequential(ctx context.Context, seq int, task peak.Task) WorkResult {
	tctx, cancel := s.taskContext(ctx)
	defer cancel()

	start := time.Now()
	res, err := s.detector.Detect(tctx, task)
	if err == nil && tctx.Err() != nil {
		res, err = nil, tctx.Err()
	}
	return classify(seq, task, WorkResult{Result: res, Err: err}, time.Since(start))
}

func (s *Scheduler) taskContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.Timeout > 0 {
		return context.WithTimeout(ctx, s.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

func classify(seq int, task peak.Task, r WorkResult, elapsed time.Duration) WorkResult {
	r.Seq = seq
	r.Gene = task.Gene.ID
	r.Elapsed = elapsed

	switch {
	case r.Err == nil && r.Result != nil:
		r.Outcome = metrics.OutcomeOK
	case r.Err == nil:
		r.Outcome = metrics.OutcomeAbsent
	case errors.Is(r.Err, context.DeadlineExceeded):
		r.Outcome = metrics.OutcomeTimeout
		r.Result = nil
	default:
		r.Outcome = metrics.OutcomeFailed
		r.Result = nil
	}
	return r
}

// record logs and counts a resolved task.
func (s *Scheduler) record(r WorkResult) {
	clusters := 0
	if r.Result != nil {
		clusters = len(r.Result.Clusters)
	}
	s.metrics.Observe(r.Outcome, r.Elapsed, clusters)

	switch r.Outcome {
	case metrics.OutcomeTimeout:
		s.logger.Error("gene timed out",
			zap.String("gene", r.Gene),
			zap.Duration("timeout", s.opts.Timeout))
	case metrics.OutcomeFailed:
		s.logger.Error("gene failed",
			zap.String("gene", r.Gene),
			zap.Error(r.Err))
	default:
		s.logger.Debug("gene finished",
			zap.String("gene", r.Gene),
			zap.String("outcome", r.Outcome),
			zap.Int("clusters", clusters),
			zap.Duration("elapsed", r.Elapsed))
	}
}

// OrderedCollect calls fn for each result in sequence-number order, so task
// logs and metrics come out in submission order whatever order tasks finish
// in. Results that arrive early wait in a pending map. Every result is
// delivered; it blocks until the results channel is closed.
func OrderedCollect(results <-chan WorkResult, fn func(WorkResult)) {
	pending := make(map[int]WorkResult)
	nextSeq := 0

	for r := range results {
		pending[r.Seq] = r
		for rr, ok := pending[nextSeq]; ok; rr, ok = pending[nextSeq] {
			delete(pending, nextSeq)
			nextSeq++
			fn(rr)
		}
	}
}
