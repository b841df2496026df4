// Package pool provides the fixed-size worker pool that fans blocking
// cloud API calls out across a batch of work items.
package pool

import "sync"

// Run dispatches every item to fn through a fixed number of worker
// goroutines and blocks until all items have been processed. All items are
// queued up front; workers drain the queue and exit when it is empty. The
// worker count is clamped to [1, len(items)]. Execution order across
// workers is undefined.
//
// fn must record its own failures onto shared state; a panic in fn takes
// the process down, so workers wrap errors instead of throwing them.
func Run[T any](items []T, workers int, fn func(T)) {
	if len(items) == 0 {
		return
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}

	queue := make(chan T, len(items))
	for _, item := range items {
		queue <- item
	}
	close(queue)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range queue {
				fn(item)
			}
		}()
	}
	wg.Wait()
}
