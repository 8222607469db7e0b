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

// Package registry replaces the original library's opaque pointer-to-integer
// instance handles (spec.md §9) with a generic dense-integer table. The
// instance constructors take their int id from the caller and do not
// register themselves here; a caller that wants id-based lookup stores its
// instances in a Registry.
package registry

import (
	"sync"

	"github.com/sabouaram/netengine/errs"
)

// Registry is a generic dense-integer handle table. Ids are reused (the
// lowest free slot) so a long-running process doesn't grow the table
// unbounded across create/destroy churn.
type Registry[T any] struct {
	mu    sync.RWMutex
	slots []*T
	free  []int
}

// New returns an empty Registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{}
}

// Add inserts v and returns its id.
func (r *Registry[T]) Add(v *T) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := len(r.free); n > 0 {
		lo := 0
		for i := 1; i < n; i++ {
			if r.free[i] < r.free[lo] {
				lo = i
			}
		}
		id := r.free[lo]
		r.free[lo] = r.free[n-1]
		r.free = r.free[:n-1]
		r.slots[id] = v
		return id
	}
	r.slots = append(r.slots, v)
	return len(r.slots) - 1
}

// Get looks up id. The read path takes only RLock, so lookups never block
// each other (spec.md §9's "cheap, lock-light instance resolution").
func (r *Registry[T]) Get(id int) (*T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id < 0 || id >= len(r.slots) || r.slots[id] == nil {
		return nil, errs.New(errs.CodeInvalidInstance, "registry: no such instance id", nil)
	}
	return r.slots[id], nil
}

// Remove frees id for reuse by a later Add.
func (r *Registry[T]) Remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 0 || id >= len(r.slots) || r.slots[id] == nil {
		return
	}
	r.slots[id] = nil
	r.free = append(r.free, id)
}

// Len reports the number of live (non-freed) entries.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots) - len(r.free)
}
