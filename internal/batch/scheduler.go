// Package batch drives many cases through a per-case function in fixed
// windows: every case of window N settles before window N+1 starts.
package batch

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// Settlement is the outcome of one item.
type Settlement[T any] struct {
	Index int
	Item  T
	Err   error
}

// RunWindows calls fn for every item, window items at a time. It returns one
// settlement per item, in input order. A panic in fn settles that item with
// an error. Failures never cancel the other items.
func RunWindows[T any](ctx context.Context, items []T, window int, fn func(ctx context.Context, item T) error) []Settlement[T] {
	if window <= 0 {
		window = 1
	}

	settlements := make([]Settlement[T], len(items))
	for start := 0; start < len(items); start += window {
		end := start + window
		if end > len(items) {
			end = len(items)
		}

		var g errgroup.Group
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				settlements[i] = Settlement[T]{Index: i, Item: items[i], Err: safeCall(ctx, items[i], fn)}
				return nil
			})
		}
		_ = g.Wait()
	}
	return settlements
}

func safeCall[T any](ctx context.Context, item T, fn func(ctx context.Context, item T) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx, item)
}
