// Package parallel provides the fork-join helpers used by the simulation
// loops. Work is split into contiguous chunks, one per worker, and joined
// with a WaitGroup before returning.
package parallel

import (
	"runtime"
	"sync"
)

// Workers is the number of goroutines For splits work across.
var Workers = runtime.NumCPU()

// DefaultGrain is the smallest range For hands to its own goroutine.
const DefaultGrain = 64

// For calls fn over [0, n) split into contiguous [start, end) chunks and
// returns once every chunk has finished. Chunks never overlap, so fn may
// write to per-index slots without locking.
func For(n int, fn func(start, end int)) {
	ForGrain(n, DefaultGrain, fn)
}

// ForGrain is For with chunks of at least grain items. Use a small grain
// when each item is expensive, such as one tree traversal per index.
func ForGrain(n, grain int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	if grain < 1 {
		grain = 1
	}
	workers := Workers
	if workers < 1 {
		workers = 1
	}
	if limit := (n + grain - 1) / grain; workers > limit {
		workers = limit
	}
	if workers == 1 {
		fn(0, n)
		return
	}

	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}

// Each calls fn for every index in [0, n), in parallel chunks.
func Each(n int, fn func(i int)) {
	EachGrain(n, DefaultGrain, fn)
}

// EachGrain is Each with chunks of at least grain items.
func EachGrain(n, grain int, fn func(i int)) {
	ForGrain(n, grain, func(start, end int) {
		for i := start; i < end; i++ {
			fn(i)
		}
	})
}

// Do runs every function concurrently and waits for all of them.
func Do(fns ...func()) {
	switch len(fns) {
	case 0:
		return
	case 1:
		fns[0]()
		return
	}
	var wg sync.WaitGroup
	wg.Add(len(fns) - 1)
	for _, fn := range fns[1:] {
		go func(f func()) {
			defer wg.Done()
			f()
		}(fn)
	}
	fns[0]()
	wg.Wait()
}
