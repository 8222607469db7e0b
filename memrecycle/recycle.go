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

// Package memrecycle implements the bounded Packet free-list described in
// spec.md §4.2: a pure reuse cache, never a correctness dependency.
package memrecycle

import (
	"sync"

	"github.com/sabouaram/netengine/packet"
)

// Pool is a bounded stack of preallocated Packets of a fixed memory size.
type Pool struct {
	mu          sync.Mutex
	free        []*packet.Packet
	cap         int
	packetBytes int
}

// New builds a Pool that holds at most capCount packets, each expected to
// be sized around packetBytes (release rejects anything larger).
func New(capCount, packetBytes int) *Pool {
	if capCount < 0 {
		capCount = 0
	}
	return &Pool{cap: capCount, packetBytes: packetBytes}
}

// Acquire returns a recycled Packet reset to empty, or a freshly allocated
// one if the pool is empty.
func (p *Pool) Acquire() *packet.Packet {
	p.mu.Lock()
	n := len(p.free)
	if n == 0 {
		p.mu.Unlock()
		return packet.New(p.packetBytes)
	}
	pkt := p.free[n-1]
	p.free = p.free[:n-1]
	p.mu.Unlock()

	_ = pkt.Clear()
	return pkt
}

// Release returns pkt to the pool if under cap and within the per-packet
// size budget; otherwise pkt is dropped (garbage collected).
func (p *Pool) Release(pkt *packet.Packet) {
	if pkt == nil {
		return
	}
	if pkt.MemorySize() > p.packetBytes && p.packetBytes > 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) >= p.cap {
		return
	}
	p.free = append(p.free, pkt)
}

// Len reports how many packets currently sit in the free list (test/
// introspection helper).
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
