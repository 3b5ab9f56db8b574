// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

// Package workerpool provides a persistent pool of goroutines for fork-join
// loops over an index range. Workers are spawned once and reused by every
// call, so a batch of rows costs channel sends instead of goroutine spawns.
package workerpool

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool is a fixed set of workers fed from a shared channel.
type Pool struct {
	numWorkers int
	workC      chan workItem
	closeOnce  sync.Once

	// mu is held for reading while a call sends to workC and for writing
	// while Close closes it.
	mu     sync.RWMutex
	closed bool
}

type workItem struct {
	fn      func()
	barrier *sync.WaitGroup
}

var (
	defaultOnce sync.Once
	defaultPool *Pool
)

// Default returns the process-wide pool sized to GOMAXPROCS. It is created on
// first use and never closed.
func Default() *Pool {
	defaultOnce.Do(func() {
		defaultPool = New(0)
	})
	return defaultPool
}

// New spawns numWorkers workers. numWorkers <= 0 means GOMAXPROCS.
func New(numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}

	p := &Pool{
		numWorkers: numWorkers,
		workC:      make(chan workItem, numWorkers*2),
	}
	for range numWorkers {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	for item := range p.workC {
		item.fn()
		item.barrier.Done()
	}
}

func (p *Pool) NumWorkers() int {
	return p.numWorkers
}

// Close stops the workers after queued work drains. Later calls on a closed
// pool run sequentially on the caller's goroutine. Close is idempotent and
// safe to call while other goroutines are inside ParallelFor; it waits for
// their work to be queued.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.workC)
		p.mu.Unlock()
	})
}

// ParallelFor splits [0, n) into one contiguous chunk per worker and blocks
// until fn has run on every chunk.
func (p *Pool) ParallelFor(n int, fn func(start, end int)) {
	if n <= 0 {
		return
	}

	workers := min(p.numWorkers, n)
	if workers == 1 {
		fn(0, n)
		return
	}
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		fn(0, n)
		return
	}

	chunkSize := (n + workers - 1) / workers

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := range workers {
		start := i * chunkSize
		end := min(start+chunkSize, n)
		if start >= n {
			wg.Done()
			continue
		}
		p.workC <- workItem{
			fn:      func() { fn(start, end) },
			barrier: &wg,
		}
	}
	p.mu.RUnlock()
	wg.Wait()
}

// ParallelForBatched hands out [start, end) ranges of at most batchSize
// indices through an atomic cursor, so faster workers take more batches.
// It blocks until the whole range is done.
func (p *Pool) ParallelForBatched(n, batchSize int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	if batchSize <= 0 {
		batchSize = 1
	}

	numBatches := (n + batchSize - 1) / batchSize
	workers := min(p.numWorkers, numBatches)
	if workers == 1 {
		fn(0, n)
		return
	}
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		fn(0, n)
		return
	}

	var next atomic.Int64
	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		p.workC <- workItem{
			fn: func() {
				for {
					start := int(next.Add(1)-1) * batchSize
					if start >= n {
						return
					}
					fn(start, min(start+batchSize, n))
				}
			},
			barrier: &wg,
		}
	}
	p.mu.RUnlock()
	wg.Wait()
}
