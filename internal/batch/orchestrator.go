package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/case-review/backend/internal/metrics"
	"github.com/case-review/backend/pkg/logger"
)

const (
	DefaultAnalysisWindow = 3
	DefaultImportWindow   = 5
)

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// ErrSkip lets a case function report that there was nothing to do.
var ErrSkip = errors.New("case skipped")

// ResultStore reports whether a case already has a persisted result.
type ResultStore interface {
	Exists(ctx context.Context, caseNumber string) (bool, error)
}

type CaseFunc func(ctx context.Context, caseNumber string) error

type Failure struct {
	CaseNumber string `json:"caseNumber"`
	Error      string `json:"error"`
}

type Progress struct {
	RunID      string  `json:"runId"`
	CaseNumber string  `json:"caseNumber"`
	Outcome    Outcome `json:"outcome"`
	Error      string  `json:"error,omitempty"`
	Done       int     `json:"done"`
	Total      int     `json:"total"`
}

type Options struct {
	Name        string
	Concurrency int
	Force       bool
	OnProgress  func(Progress)
}

// Orchestrator runs batches and remembers them in its registry.
type Orchestrator struct {
	store    ResultStore
	registry *Registry
}

func NewOrchestrator(store ResultStore, registry *Registry) *Orchestrator {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Orchestrator{store: store, registry: registry}
}

func (o *Orchestrator) Registry() *Registry { return o.registry }

// Start registers a run so callers can hand its ID out before Execute.
func (o *Orchestrator) Start(caseNumbers []string, opts Options) *Run {
	run := newRun(opts.Name, len(caseNumbers), normalizeWindow(opts.Concurrency))
	o.registry.add(run)
	return run
}

// Run processes caseNumbers and returns the finished run.
func (o *Orchestrator) Run(ctx context.Context, caseNumbers []string, fn CaseFunc, opts Options) *Run {
	run := o.Start(caseNumbers, opts)
	o.Execute(ctx, run, caseNumbers, fn, opts)
	return run
}

// Execute drives a run created by Start. Every case ends up in exactly one of
// the run's succeeded, failed or skipped lists.
func (o *Orchestrator) Execute(ctx context.Context, run *Run, caseNumbers []string, fn CaseFunc, opts Options) {
	window := normalizeWindow(opts.Concurrency)

	logger.Info("Batch started",
		zap.String("run_id", run.ID),
		zap.String("name", run.Name),
		zap.Int("cases", len(caseNumbers)),
		zap.Int("window", window),
		zap.Bool("force", opts.Force),
	)

	var progressMu sync.Mutex
	done := 0

	RunWindows(ctx, caseNumbers, window, func(ctx context.Context, caseNumber string) error {
		outcome, err := o.runCase(ctx, caseNumber, fn, opts.Force)
		run.record(caseNumber, outcome, err)
		metrics.BatchCases.WithLabelValues(string(outcome)).Inc()

		progressMu.Lock()
		done++
		p := Progress{RunID: run.ID, CaseNumber: caseNumber, Outcome: outcome, Done: done, Total: len(caseNumbers)}
		if err != nil {
			p.Error = err.Error()
		}
		if opts.OnProgress != nil {
			opts.OnProgress(p)
		}
		o.registry.publish(p)
		progressMu.Unlock()
		return err
	})

	run.finish()
	o.registry.close(run.ID)
	metrics.BatchDuration.Observe(run.Snapshot().Duration.Seconds())

	s := run.Snapshot()
	logger.Info("Batch finished",
		zap.String("run_id", run.ID),
		zap.Int("succeeded", len(s.Succeeded)),
		zap.Int("failed", len(s.Failed)),
		zap.Int("skipped", len(s.Skipped)),
		zap.Duration("duration", s.Duration),
	)
}

func (o *Orchestrator) runCase(ctx context.Context, caseNumber string, fn CaseFunc, force bool) (Outcome, error) {
	if !force && o.store != nil {
		exists, err := o.store.Exists(ctx, caseNumber)
		if err != nil {
			logger.Warn("Existence check failed, processing case anyway",
				zap.String("case_number", caseNumber),
				zap.Error(err),
			)
		} else if exists {
			return OutcomeSkipped, nil
		}
	}

	err := safeCall(ctx, caseNumber, fn)
	switch {
	case err == nil:
		return OutcomeSucceeded, nil
	case errors.Is(err, ErrSkip):
		return OutcomeSkipped, nil
	default:
		logger.CaseFailure(caseNumber, err)
		return OutcomeFailed, err
	}
}

func normalizeWindow(n int) int {
	if n <= 0 {
		return DefaultAnalysisWindow
	}
	return n
}

type Run struct {
	ID          string        `json:"id"`
	Name        string        `json:"name,omitempty"`
	Total       int           `json:"total"`
	Concurrency int           `json:"concurrency"`
	Succeeded   []string      `json:"succeeded"`
	Failed      []Failure     `json:"failed"`
	Skipped     []string      `json:"skipped"`
	StartedAt   time.Time     `json:"startedAt"`
	FinishedAt  *time.Time    `json:"finishedAt,omitempty"`
	Duration    time.Duration `json:"durationNs"`

	mu sync.Mutex
}

func newRun(name string, total, concurrency int) *Run {
	return &Run{
		ID:          uuid.NewString(),
		Name:        name,
		Total:       total,
		Concurrency: concurrency,
		Succeeded:   []string{},
		Failed:      []Failure{},
		Skipped:     []string{},
		StartedAt:   time.Now().UTC(),
	}
}

func (r *Run) record(caseNumber string, outcome Outcome, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch outcome {
	case OutcomeSucceeded:
		r.Succeeded = append(r.Succeeded, caseNumber)
	case OutcomeSkipped:
		r.Skipped = append(r.Skipped, caseNumber)
	default:
		msg := "unknown error"
		if err != nil {
			msg = err.Error()
		}
		r.Failed = append(r.Failed, Failure{CaseNumber: caseNumber, Error: msg})
	}
}

func (r *Run) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	r.FinishedAt = &now
	r.Duration = now.Sub(r.StartedAt)
}

// Snapshot returns a copy safe to read while the run is in progress.
func (r *Run) Snapshot() *Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := &Run{
		ID:          r.ID,
		Name:        r.Name,
		Total:       r.Total,
		Concurrency: r.Concurrency,
		Succeeded:   append([]string{}, r.Succeeded...),
		Failed:      append([]Failure{}, r.Failed...),
		Skipped:     append([]string{}, r.Skipped...),
		StartedAt:   r.StartedAt,
		Duration:    r.Duration,
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		cp.FinishedAt = &t
	} else {
		cp.Duration = time.Since(r.StartedAt)
	}
	return cp
}

func (r *Run) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.FinishedAt != nil
}

func (r *Run) finishedBefore(t time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.FinishedAt != nil && r.FinishedAt.Before(t)
}
