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

// Package asyncop models a single outstanding send or receive (spec.md
// §4.8): it owns its buffer, carries completion state, and points back to
// its owning connection so a worker can dispatch the right on_recv/on_send.
package asyncop

// Kind distinguishes a send AsyncOp from a receive AsyncOp.
type Kind int

const (
	KindSend Kind = iota
	KindRecv
)

// Owner is implemented by anything that can accept a completion: a
// StreamConnection or DatagramConnection. Completions for a single Owner
// are always dispatched serially (spec.md §4.8) — the owner is responsible
// for holding its own lock while it runs a receive or send completion.
type Owner interface {
	// ID returns a stable identity used only for logging/metrics.
	ID() string
	// Dead reports whether the owner has already reached its terminal
	// state; a worker that observes this drops the completion silently.
	Dead() bool
}

// Op is one outstanding AsyncOp. It is a plain data holder; the worker
// pool (package completion) is what actually runs the completion.
type Op struct {
	Kind   Kind
	Owner  Owner
	Buffer []byte
	N      int
	Err    error
}

// New allocates an Op bound to owner, wrapping buf.
func New(kind Kind, owner Owner, buf []byte) *Op {
	return &Op{Kind: kind, Owner: owner, Buffer: buf}
}
