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

// Package packet implements the engine's owning byte buffer: a cursor,
// typed accessors, prefix-encoded strings, and in-place symmetric
// encryption. It is the L0 primitive every other layer builds on.
package packet

import (
	"sync"
	"sync/atomic"

	"github.com/sabouaram/netengine/errs"
)

// nativeOrder is the byte order used by all typed Add/Get accessors. The
// original library wrote scalars in the host's native order; we pin that to
// little-endian, which covers every mainstream deployment target (x86,
// amd64, arm, arm64) and keep it a documented, same-endianness-only
// compatibility property (spec.md §6/§9).
var nativeOrder = littleEndian{}

// busyState is the state of the packet's async crypt slot: idle, busy,
// done, or failed.
type busyState int32

const (
	stateIdle busyState = iota
	stateBusy
	stateDone
	stateFailed
)

// Packet is the owning growable byte buffer described in spec.md §3.
// Invariant: 0 <= cursor <= usedSize <= len(buf) at every observable
// instant (enforced by every method below; never exported directly).
type Packet struct {
	mu     sync.Mutex
	buf    []byte
	cursor int
	used   int

	// Tags set by the transport when delivered; zero value means "not
	// applicable" per spec.md §3.
	ClientFrom    uint64
	OperationFrom uint64
	InstanceFrom  int
	AgeClock      int64

	busy  atomic.Int32 // busyState
	token *CryptToken
}

// New allocates an empty Packet with the given initial capacity hint.
func New(capacityHint int) *Packet {
	if capacityHint < 0 {
		capacityHint = 0
	}
	return &Packet{buf: make([]byte, 0, capacityHint)}
}

// NewFromBytes wraps an existing byte slice as a Packet's initial content,
// cursor at 0. The slice is taken by reference, not copied.
func NewFromBytes(b []byte) *Packet {
	return &Packet{buf: b, used: len(b)}
}

func (p *Packet) checkBusy() error {
	if busyState(p.busy.Load()) == stateBusy {
		return errs.New(errs.CodePacketBusy, "packet: busy with an outstanding crypt op", nil)
	}
	return nil
}

// MemorySize returns the allocated capacity backing the buffer.
func (p *Packet) MemorySize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return cap(p.buf)
}

// UsedSize returns the number of valid bytes (<= MemorySize).
func (p *Packet) UsedSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used
}

// Cursor returns the next read/write index.
func (p *Packet) Cursor() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// SetCursor moves the cursor. It never moves usedSize; n is clamped to
// [0, usedSize] so the cursor invariant holds.
func (p *Packet) SetCursor(n int) error {
	if err := p.checkBusy(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if n < 0 {
		n = 0
	}
	if n > p.used {
		n = p.used
	}
	p.cursor = n
	return nil
}

// SetUsedSize overwrites usedSize directly, growing the backing buffer if
// needed (zero-filling the extension) and clamping cursor to stay legal.
func (p *Packet) SetUsedSize(n int) error {
	if err := p.checkBusy(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if n < 0 {
		n = 0
	}
	p.growTo(n)
	p.used = n
	if p.cursor > p.used {
		p.cursor = p.used
	}
	return nil
}

// SetMemorySize overwrites the allocated capacity, discarding any bytes
// beyond the new size (used_size and cursor are clamped down to match).
func (p *Packet) SetMemorySize(n int) error {
	if err := p.checkBusy(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if n < 0 {
		n = 0
	}
	nb := make([]byte, n)
	copy(nb, p.buf)
	p.buf = nb
	if p.used > n {
		p.used = n
	}
	if p.cursor > p.used {
		p.cursor = p.used
	}
	return nil
}

// ChangeMemorySize grows or shrinks capacity while preserving used bytes
// (it never truncates data the way SetMemorySize can).
func (p *Packet) ChangeMemorySize(n int) error {
	if err := p.checkBusy(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if n < p.used {
		n = p.used
	}
	nb := make([]byte, p.used, n)
	copy(nb, p.buf[:p.used])
	p.buf = nb
	return nil
}

// growTo ensures the backing buffer's length is at least n, zero-filling
// any extension. Caller must hold mu.
func (p *Packet) growTo(n int) {
	if n <= len(p.buf) {
		return
	}
	if n <= cap(p.buf) {
		p.buf = p.buf[:n]
		return
	}
	nb := make([]byte, n)
	copy(nb, p.buf)
	p.buf = nb
}

// Erase removes n bytes starting at start, shifting trailing bytes left and
// shrinking usedSize; cursor is clamped if it pointed past the removed span.
func (p *Packet) Erase(start, n int) error {
	if err := p.checkBusy(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if start < 0 || n < 0 || start+n > p.used {
		return errs.New(errs.CodePacketUnderflow, "packet: erase out of range", nil)
	}
	copy(p.buf[start:], p.buf[start+n:p.used])
	p.used -= n
	if p.cursor > p.used {
		p.cursor = p.used
	}
	return nil
}

// Insert extends usedSize by n bytes at the cursor position without
// advancing the cursor (spec.md §4.1): useful for reserving a header the
// caller fills in afterward via SetCursor+Add.
func (p *Packet) Insert(n int) error {
	if err := p.checkBusy(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if n < 0 {
		return errs.New(errs.CodeInvalidProfile, "packet: negative insert", nil)
	}
	p.growTo(p.used + n)
	copy(p.buf[p.cursor+n:p.used+n], p.buf[p.cursor:p.used])
	p.used += n
	return nil
}

// Clear resets cursor and usedSize to zero but keeps the allocated memory,
// matching MemoryRecycle's reuse contract (spec.md §4.2).
func (p *Packet) Clear() error {
	if err := p.checkBusy(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursor = 0
	p.used = 0
	p.ClientFrom = 0
	p.OperationFrom = 0
	p.InstanceFrom = 0
	p.AgeClock = 0
	return nil
}

// Concat appends other's valid bytes to the end of p (cursor unaffected).
func (p *Packet) Concat(other *Packet) error {
	if err := p.checkBusy(); err != nil {
		return err
	}
	ob := other.Snapshot()
	p.mu.Lock()
	defer p.mu.Unlock()
	at := p.used
	p.growTo(p.used + len(ob))
	copy(p.buf[at:], ob)
	p.used += len(ob)
	return nil
}

// Snapshot returns a copy of the valid bytes ([0:usedSize)). Safe to call
// regardless of busy state other than a true in-flight read race, since it
// takes its own lock.
func (p *Packet) Snapshot() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]byte, p.used)
	copy(out, p.buf[:p.used])
	return out
}

// Equal compares by usedSize and byte content only; tags are ignored
// (spec.md §4.1).
func (p *Packet) Equal(o *Packet) bool {
	a, b := p.Snapshot(), o.Snapshot()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// remaining returns the number of unread bytes at the cursor. Caller must
// hold mu.
func (p *Packet) remaining() int {
	return p.used - p.cursor
}
