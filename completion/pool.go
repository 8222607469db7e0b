/*
 * MIT License
 *
 * Copyright (c) 2022 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package completion implements the engine's CompletionPool (spec.md §4.8):
// a fixed-size worker pool that dispatches AsyncOp completions to their
// owning connection. The original C library drove this off an OS completion
// queue and a literal thread pool; the idiomatic Go rendition is a weighted
// semaphore bounding how many completion goroutines may run at once, which
// preserves every invariant spec.md asks for (per-connection serialization
// is the owner's job via its own lock; cross-connection parallelism is
// bounded by NumThreads; no ordering across stream/datagram).
package completion

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Pool is the fixed worker-thread pool of spec.md §4.8. NumThreads==0 is
// legal and means "caller-driven": Submit runs its job synchronously on the
// calling goroutine, which is what the test suites use so completions are
// deterministic.
type Pool struct {
	ctx    context.Context
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	n      int64
	prog   *mpb.Progress
	bar    *mpb.Bar
	closed chan struct{}
	once   sync.Once
}

// New builds a Pool with numThreads worker slots. When withProgress is set
// (profile.ProfileConfig.Progress), an mpb bar tracks jobs dispatched, the
// same debug aid the teacher's semaphore package offers.
func New(ctx context.Context, numThreads int, withProgress bool) *Pool {
	if ctx == nil {
		ctx = context.Background()
	}
	p := &Pool{
		ctx:    ctx,
		n:      int64(numThreads),
		closed: make(chan struct{}),
	}
	if numThreads > 0 {
		p.sem = semaphore.NewWeighted(int64(numThreads))
	}
	if withProgress && numThreads > 0 {
		p.prog = mpb.NewWithContext(ctx)
		p.bar = p.prog.AddBar(0,
			mpb.PrependDecorators(decor.Name("completion pool")),
			mpb.AppendDecorators(decor.CurrentNoUnit("%d jobs")),
		)
	}
	return p
}

// NumThreads returns the configured worker-slot count (0 means caller-driven).
func (p *Pool) NumThreads() int {
	return int(p.n)
}

// Submit runs fn as one completion. With NumThreads==0 it runs inline;
// otherwise it blocks until a worker slot is free, then runs fn on a fresh
// goroutine and releases the slot when fn returns.
func (p *Pool) Submit(fn func()) {
	if p.sem == nil {
		fn()
		return
	}
	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		// Context cancelled: run inline so the completion is not silently
		// dropped during shutdown ordering (spec.md §5 finish()).
		fn()
		return
	}
	p.wg.Add(1)
	if p.bar != nil {
		p.bar.SetTotal(p.bar.Current()+1, false)
	}
	go func() {
		defer p.sem.Release(1)
		defer p.wg.Done()
		fn()
	}()
}

// Wait blocks until every submitted job has completed. finish(instance_id)
// calls this after all connections reach DEAD (spec.md §5).
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Close releases pool resources. Safe to call more than once.
func (p *Pool) Close() {
	p.once.Do(func() {
		close(p.closed)
		if p.prog != nil {
			p.prog.Wait()
		}
	})
}
