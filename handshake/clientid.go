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

// Package handshake implements the server handshake protocol of spec.md
// §4.5: HELLO/HELLO_ACK/REJECT/READY frame encoding, ClientId allocation, and
// a ConnectionToken used to correlate a client's TCP and UDP legs.
package handshake

import (
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/sabouaram/netengine/errs"
)

// ClientIDAllocator hands out the lowest-numbered free ClientId in
// [1, max_clients] (spec.md §3: "0 is reserved to mean 'the server' or 'not
// a client'"; §4.5: "dense from low, freed ids are reused before the
// allocator grows"), grounded on the teacher's bitset-backed allocators. The
// bitset itself is indexed from 0 and tracks bit (id-1) for id.
type ClientIDAllocator struct {
	mu        sync.Mutex
	used      *bitset.BitSet
	maxIssued uint64
	capacity  uint64
}

// NewClientIDAllocator builds an allocator that refuses to issue an id
// outside [1, capacity] (spec.md's "max_clients" server knob; 0 means
// unbounded).
func NewClientIDAllocator(capacity uint64) *ClientIDAllocator {
	hint := capacity
	if hint == 0 || hint > 4096 {
		hint = 256
	}
	return &ClientIDAllocator{
		used:     bitset.New(uint(hint)),
		capacity: capacity,
	}
}

// Allocate returns the lowest free ClientId (never 0), or CodeServerFull if
// capacity is already exhausted.
func (a *ClientIDAllocator) Allocate() (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	next, found := a.used.NextClear(0)
	if !found {
		next = a.used.Len()
	}
	id := uint64(next) + 1
	if a.capacity > 0 && id > a.capacity {
		return 0, errs.New(errs.CodeServerFull, "handshake: max_clients reached", nil)
	}
	a.used.Set(next)
	if id > a.maxIssued {
		a.maxIssued = id
	}
	return id, nil
}

// Free releases id for reuse by a later Allocate.
func (a *ClientIDAllocator) Free(id uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id == 0 {
		return
	}
	a.used.Clear(uint(id - 1))
}

// InUse reports whether id is currently allocated.
func (a *ClientIDAllocator) InUse(id uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id == 0 {
		return false
	}
	return a.used.Test(uint(id - 1))
}

// Count returns the number of currently allocated ids.
func (a *ClientIDAllocator) Count() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used.Count()
}
