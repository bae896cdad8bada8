package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu     sync.Mutex
	exists map[string]bool
	err    error
}

func (m *memStore) Exists(_ context.Context, caseNumber string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	return m.exists[caseNumber], nil
}

func TestRunWindowsCompletesWindowBeforeNext(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5, 6}

	var (
		mu       sync.Mutex
		active   int
		maxSeen  int
		finished []int
	)
	settlements := RunWindows(context.Background(), items, 3, func(_ context.Context, item int) error {
		mu.Lock()
		active++
		if active > maxSeen {
			maxSeen = active
		}
		// every earlier window must be fully settled
		for w := 0; w < item/3*3; w++ {
			assert.Contains(t, finished, w)
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		active--
		finished = append(finished, item)
		mu.Unlock()
		if item == 4 {
			return errors.New("boom")
		}
		return nil
	})

	require.Len(t, settlements, len(items))
	assert.LessOrEqual(t, maxSeen, 3)
	for i, s := range settlements {
		assert.Equal(t, i, s.Index)
		assert.Equal(t, items[i], s.Item)
		if i == 4 {
			assert.EqualError(t, s.Err, "boom")
		} else {
			assert.NoError(t, s.Err)
		}
	}
}

func TestRunWindowsRecoversPanics(t *testing.T) {
	settlements := RunWindows(context.Background(), []string{"a", "b"}, 2, func(_ context.Context, item string) error {
		if item == "a" {
			panic("kaboom")
		}
		return nil
	})
	require.Error(t, settlements[0].Err)
	assert.Contains(t, settlements[0].Err.Error(), "kaboom")
	assert.NoError(t, settlements[1].Err)
}

func TestRunWindowsEmptyInput(t *testing.T) {
	assert.Empty(t, RunWindows(context.Background(), nil, 3, func(context.Context, int) error { return nil }))
}

func TestOrchestratorPartitionsInput(t *testing.T) {
	store := &memStore{exists: map[string]bool{"003": true, "007": true}}
	o := NewOrchestrator(store, nil)

	var input []string
	for i := 1; i <= 10; i++ {
		input = append(input, fmt.Sprintf("%03d", i))
	}

	var invoked sync.Map
	run := o.Run(context.Background(), input, func(_ context.Context, cn string) error {
		invoked.Store(cn, true)
		if cn == "005" || cn == "009" {
			return fmt.Errorf("llm transport error for %s", cn)
		}
		if cn == "010" {
			panic("unexpected nil")
		}
		return nil
	}, Options{Concurrency: 3})

	s := run.Snapshot()
	assert.Equal(t, len(input), len(s.Succeeded)+len(s.Failed)+len(s.Skipped))
	assert.Equal(t, len(input), s.Total)
	assert.Equal(t, 3, s.Concurrency)
	assert.NotNil(t, s.FinishedAt)

	seen := map[string]int{}
	for _, cn := range s.Succeeded {
		seen[cn]++
	}
	for _, cn := range s.Skipped {
		seen[cn]++
	}
	for _, f := range s.Failed {
		seen[f.CaseNumber]++
	}
	for _, cn := range input {
		assert.Equal(t, 1, seen[cn], "case %s must land in exactly one bucket", cn)
	}

	sort.Strings(s.Skipped)
	assert.Equal(t, []string{"003", "007"}, s.Skipped)
	require.Len(t, s.Failed, 3)

	_, skippedInvoked := invoked.Load("003")
	assert.False(t, skippedInvoked, "skipped case must not reach the analyzer")

	got, ok := o.Registry().Get(run.ID)
	require.True(t, ok)
	assert.Equal(t, run, got)
}

func TestOrchestratorForceReprocesses(t *testing.T) {
	store := &memStore{exists: map[string]bool{"001": true}}
	var calls atomic.Int32

	run := NewOrchestrator(store, nil).Run(context.Background(), []string{"001"}, func(context.Context, string) error {
		calls.Add(1)
		return nil
	}, Options{Force: true})

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []string{"001"}, run.Snapshot().Succeeded)
}

func TestOrchestratorExistenceErrorStillProcesses(t *testing.T) {
	store := &memStore{err: errors.New("mongo unavailable")}
	run := NewOrchestrator(store, nil).Run(context.Background(), []string{"001"}, func(context.Context, string) error {
		return nil
	}, Options{})
	assert.Equal(t, []string{"001"}, run.Snapshot().Succeeded)
}

func TestOrchestratorErrSkip(t *testing.T) {
	run := NewOrchestrator(nil, nil).Run(context.Background(), []string{"001"}, func(context.Context, string) error {
		return fmt.Errorf("already imported: %w", ErrSkip)
	}, Options{Concurrency: DefaultImportWindow})
	assert.Equal(t, []string{"001"}, run.Snapshot().Skipped)
}

func TestOrchestratorReportsProgress(t *testing.T) {
	o := NewOrchestrator(nil, nil)
	input := []string{"1", "2", "3", "4"}

	run := o.Start(input, Options{Concurrency: 2})
	events, cancel := o.Registry().Subscribe(run.ID)
	defer cancel()

	var progress []Progress
	o.Execute(context.Background(), run, input, func(_ context.Context, cn string) error {
		if cn == "2" {
			return errors.New("bad case")
		}
		return nil
	}, Options{Concurrency: 2, OnProgress: func(p Progress) { progress = append(progress, p) }})

	require.Len(t, progress, 4)
	assert.Equal(t, 4, progress[3].Done)
	assert.Equal(t, 4, progress[3].Total)

	var streamed []Progress
	for p := range events {
		streamed = append(streamed, p)
	}
	assert.Len(t, streamed, 4)

	closed, _ := o.Registry().Subscribe(run.ID)
	_, open := <-closed
	assert.False(t, open)
}
