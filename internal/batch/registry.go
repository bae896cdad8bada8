package batch

import (
	"sync"
	"time"
)

// DefaultRetention is how long a finished run stays queryable.
const DefaultRetention = time.Hour

// Registry keeps runs by ID and fans their progress out to subscribers.
// Finished runs are evicted once they are older than the retention period.
type Registry struct {
	mu          sync.RWMutex
	runs        map[string]*Run
	subscribers map[string][]chan Progress
	retention   time.Duration
	now         func() time.Time
}

func NewRegistry() *Registry {
	return NewRegistryWithRetention(DefaultRetention)
}

// NewRegistryWithRetention is NewRegistry with a custom retention period.
// A non-positive retention falls back to DefaultRetention.
func NewRegistryWithRetention(retention time.Duration) *Registry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Registry{
		runs:        make(map[string]*Run),
		subscribers: make(map[string][]chan Progress),
		retention:   retention,
		now:         time.Now,
	}
}

func (r *Registry) add(run *Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	r.runs[run.ID] = run
}

// Len reports how many runs are currently held.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs)
}

// pruneLocked drops finished runs past retention. Caller holds r.mu.
func (r *Registry) pruneLocked() {
	cutoff := r.now().Add(-r.retention)
	for id, run := range r.runs {
		if run.finishedBefore(cutoff) {
			delete(r.runs, id)
		}
	}
}

func (r *Registry) Get(id string) (*Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	return run, ok
}

// Subscribe returns a channel of progress events for a run. The channel is
// closed when the run finishes; for a finished or unknown run it is closed
// immediately. Slow subscribers miss events rather than stall the batch.
func (r *Registry) Subscribe(id string) (<-chan Progress, func()) {
	ch := make(chan Progress, 64)

	r.mu.Lock()
	run, ok := r.runs[id]
	if !ok || run.Done() {
		r.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	r.subscribers[id] = append(r.subscribers[id], ch)
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		subs := r.subscribers[id]
		for i, s := range subs {
			if s == ch {
				r.subscribers[id] = append(subs[:i], subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

func (r *Registry) publish(p Progress) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ch := range r.subscribers[p.RunID] {
		select {
		case ch <- p:
		default:
		}
	}
}

func (r *Registry) close(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subscribers[id] {
		close(ch)
	}
	delete(r.subscribers, id)
	r.pruneLocked()
}
