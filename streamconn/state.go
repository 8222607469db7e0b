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

// Package streamconn implements StreamConnection (spec.md §3/§4.3/§4.6/
// §4.7): the reliable-stream framing state machine, partial-packet
// reassembly, send path, and two-phase graceful disconnect.
package streamconn

import "sync/atomic"

// ShutdownState is the per-connection half-close state machine of
// spec.md §4.6.
type ShutdownState int32

const (
	Open ShutdownState = iota
	LocalSentFin
	RemoteSentFin
	BothFin
	Dead
)

// ConnectionStatus is the application-observable projection of
// ShutdownState (spec.md §6).
type ConnectionStatus int

const (
	StatusConnected ConnectionStatus = iota
	StatusNoSend
	StatusNoRecv
	StatusNoSendRecv
	StatusNotConnected
)

// Observe maps the internal ShutdownState to the public ConnectionStatus.
func Observe(s ShutdownState) ConnectionStatus {
	switch s {
	case Open:
		return StatusConnected
	case LocalSentFin:
		return StatusNoSend
	case RemoteSentFin:
		return StatusNoRecv
	case BothFin:
		return StatusNoSendRecv
	default:
		return StatusNotConnected
	}
}

type stateBox struct {
	v atomic.Int32
}

func (s *stateBox) Load() ShutdownState {
	return ShutdownState(s.v.Load())
}

func (s *stateBox) Store(v ShutdownState) {
	s.v.Store(int32(v))
}

// transitionOnLocalFin applies the LOCAL_SENT_FIN transition described in
// spec.md §4.6: OPEN -> LOCAL_SENT_FIN, REMOTE_SENT_FIN -> BOTH_FIN.
func (s *stateBox) transitionOnLocalFin() {
	for {
		cur := s.Load()
		var next ShutdownState
		switch cur {
		case Open:
			next = LocalSentFin
		case RemoteSentFin:
			next = BothFin
		default:
			return
		}
		if s.v.CompareAndSwap(int32(cur), int32(next)) {
			return
		}
	}
}

// transitionOnRemoteFin applies the REMOTE_SENT_FIN transition: OPEN ->
// REMOTE_SENT_FIN, LOCAL_SENT_FIN -> BOTH_FIN.
func (s *stateBox) transitionOnRemoteFin() {
	for {
		cur := s.Load()
		var next ShutdownState
		switch cur {
		case Open:
			next = RemoteSentFin
		case LocalSentFin:
			next = BothFin
		default:
			return
		}
		if s.v.CompareAndSwap(int32(cur), int32(next)) {
			return
		}
	}
}
