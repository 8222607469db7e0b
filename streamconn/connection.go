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

package streamconn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sabouaram/netengine/asyncop"
	"github.com/sabouaram/netengine/completion"
	liberr "github.com/sabouaram/netengine/errs"
	"github.com/sabouaram/netengine/memrecycle"
	"github.com/sabouaram/netengine/packet"
	"github.com/sabouaram/netengine/profile"
	"github.com/sabouaram/netengine/telemetry"
)

// HandlerFunc receives a reassembled Packet inline on a worker goroutine.
// Per spec.md §9, it must be reentrant and side-effect-bounded: it runs
// under the connection's lock, so it must not block on anything that
// depends on this same connection making progress.
type HandlerFunc func(clientID uint64, pkt *packet.Packet)

// Connection is StreamConnection (spec.md §3): one reliable-stream peer.
type Connection struct {
	mu sync.Mutex // serializes all receive/send-completion handling (§4.8)

	id       string
	conn     net.Conn
	cfg      profile.ProfileConfig
	handler  HandlerFunc
	recycle  *memrecycle.Pool
	counters *telemetry.Counters
	pool     *completion.Pool

	reasm *reassembler
	state stateBox

	// completionMu serializes AsyncOp completions for this connection
	// (spec.md §4.8: "completions for a single Owner are always dispatched
	// serially"), independent of c.mu which only guards reassembly state.
	completionMu sync.Mutex

	recvQueue     []*packet.Packet
	recvQueueMu   sync.Mutex
	recvBytesUsed uint64

	sendInflight uint64
	sendMu       sync.Mutex

	clientID   uint64
	instanceID int

	onDead func()
}

// New builds a Connection wrapping conn. onDead is invoked exactly once,
// when the connection reaches Dead, so the owner (server/client) can move it
// into its disconnect queue (spec.md §3 ServerInstance.disconnect_queue).
// pool is the CompletionPool (spec.md §4.8) that runs this connection's
// AsyncOp completions; a nil pool is not valid — callers share their
// instance-wide pool.
func New(id string, conn net.Conn, cfg profile.ProfileConfig, handler HandlerFunc, recycle *memrecycle.Pool, counters *telemetry.Counters, clientID uint64, instanceID int, onDead func(), pool *completion.Pool) *Connection {
	c := &Connection{
		id:         id,
		conn:       conn,
		cfg:        cfg,
		handler:    handler,
		recycle:    recycle,
		counters:   counters,
		pool:       pool,
		reasm:      newReassembler(cfg),
		clientID:   clientID,
		instanceID: instanceID,
		onDead:     onDead,
	}
	return c
}

// ID implements asyncop.Owner.
func (c *Connection) ID() string { return c.id }

// Dead implements asyncop.Owner.
func (c *Connection) Dead() bool { return c.state.Load() == Dead }

// Status projects the internal ShutdownState to the public enumeration.
func (c *Connection) Status() ConnectionStatus {
	return Observe(c.state.Load())
}

// PartialPercent exposes the reassembler's progress accessor.
func (c *Connection) PartialPercent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reasm.PartialPercent()
}

// RecvQueueLen reports how many packets are queued for RecvTCP.
func (c *Connection) RecvQueueLen() int {
	c.recvQueueMu.Lock()
	defer c.recvQueueMu.Unlock()
	return len(c.recvQueue)
}

// SendInflight reports current in-flight send bytes.
func (c *Connection) SendInflight() uint64 {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.sendInflight
}

// RunReceiveLoop blocks reading from the socket and driving the framing
// state machine until the socket errors or ctx is cancelled. Each message
// the framing layer completes is submitted to the CompletionPool as a
// receive AsyncOp (spec.md §4.8).
func (c *Connection) RunReceiveLoop(ctx context.Context) {
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			c.killLocked("context cancelled")
			return
		default:
		}

		n, err := c.conn.Read(buf)
		if n > 0 {
			c.onReceiveCompletion(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.onRemoteFin()
			} else {
				c.killLocked(fmt.Sprintf("read error: %v", err))
			}
			return
		}
	}
}

// onReceiveCompletion feeds a raw socket read into the framing state machine
// and, for every message it completes, hands an asyncop.Op (spec.md §4.8) to
// the CompletionPool for dispatch. Reassembly itself runs inline under c.mu
// since byte order must be preserved; the pool is only used for the
// per-message completion, matching the original IOCP split between "the read
// completed" and "now run the completion handler."
func (c *Connection) onReceiveCompletion(chunk []byte) {
	c.mu.Lock()
	if c.state.Load() == Dead {
		c.mu.Unlock()
		return
	}
	msgs, err := c.reasm.feed(chunk)
	if err != nil {
		c.killLocked(err.Error())
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	for _, m := range msgs {
		op := asyncop.New(asyncop.KindRecv, c, m)
		c.pool.Submit(func() { c.completeRecv(op) })
	}
}

// completeRecv runs one receive AsyncOp's completion. Completions for this
// connection are serialized under completionMu (spec.md §4.8), independent
// of whatever worker goroutine the pool happened to run them on.
func (c *Connection) completeRecv(op *asyncop.Op) {
	c.completionMu.Lock()
	defer c.completionMu.Unlock()
	if op.Owner.Dead() {
		return
	}
	c.deliver(op.Buffer)
}

func (c *Connection) deliver(body []byte) {
	pkt := c.recycle.Acquire()
	_ = pkt.SetUsedSize(0)
	_ = pkt.AddString(body, false)
	_ = pkt.SetCursor(0)
	pkt.ClientFrom = c.clientID
	pkt.InstanceFrom = c.instanceID
	pkt.AgeClock = time.Now().UnixNano()

	if c.counters != nil {
		c.counters.AddReceived(len(body))
	}

	if c.handler != nil {
		c.handler(c.clientID, pkt)
		return
	}

	c.recvQueueMu.Lock()
	if c.recvBytesUsed+uint64(len(body)) > c.cfg.RecvMemoryCap {
		c.recvQueueMu.Unlock()
		if c.counters != nil {
			c.counters.AddDropped()
		}
		c.recycle.Release(pkt)
		return
	}
	c.recvBytesUsed += uint64(len(body))
	c.recvQueue = append(c.recvQueue, pkt)
	c.recvQueueMu.Unlock()
}

// RecvTCP pops the oldest queued packet, or (nil, false) if none is ready.
// Poll-style per spec.md §6 — there is no blocking receive API.
func (c *Connection) RecvTCP() (*packet.Packet, bool) {
	c.recvQueueMu.Lock()
	defer c.recvQueueMu.Unlock()
	if len(c.recvQueue) == 0 {
		return nil, false
	}
	pkt := c.recvQueue[0]
	c.recvQueue = c.recvQueue[1:]
	c.recvBytesUsed -= uint64(pkt.UsedSize())
	return pkt, true
}

// SendTCP implements spec.md §4.7.
func (c *Connection) SendTCP(pkt *packet.Packet, keep bool, block bool) error {
	st := c.state.Load()
	if st == LocalSentFin || st == BothFin || st == Dead {
		return liberr.New(liberr.CodeShutdown, "streamconn: send on a shutting-down connection", nil)
	}

	body := pkt.Snapshot()

	c.sendMu.Lock()
	if c.sendInflight+uint64(len(body)) > c.cfg.SendMemoryCap {
		c.sendMu.Unlock()
		if c.counters != nil {
			c.counters.AddCapBreach()
		}
		return liberr.New(liberr.CodeSendCapExceeded, "streamconn: send_inflight would exceed send_memory_cap", nil)
	}
	c.sendInflight += uint64(len(body))
	c.sendMu.Unlock()

	frame, err := encode(c.cfg.StreamMode, c.cfg.Postfix, body)
	if err != nil {
		c.releaseInflight(len(body))
		return err
	}

	op := asyncop.New(asyncop.KindSend, c, frame)

	done := make(chan error, 1)
	go func() {
		if c.cfg.SendTimeoutMS > 0 {
			_ = c.conn.SetWriteDeadline(time.Now().Add(time.Duration(c.cfg.SendTimeoutMS) * time.Millisecond))
		}
		n, werr := c.conn.Write(frame)
		op.N, op.Err = n, werr
		done <- werr
	}()

	// completeSend runs the send AsyncOp's completion — releasing the
	// inflight budget, classifying a timeout as a kill, and (on success)
	// clearing the caller's packet unless keep is set — serialized against recv completions
	// via completionMu, matching spec.md §4.8.
	completeSend := func() error {
		c.completionMu.Lock()
		defer c.completionMu.Unlock()

		c.releaseInflight(len(body))
		if op.Err != nil {
			var netErr net.Error
			if errors.As(op.Err, &netErr) && netErr.Timeout() {
				c.killLocked("send timeout")
				return liberr.New(liberr.CodeSendTimeout, "streamconn: send timed out, connection killed", op.Err)
			}
			return liberr.Wrap(op.Err)
		}
		if c.counters != nil {
			c.counters.AddSent(len(body))
		}
		if !keep {
			_ = pkt.Clear()
		}
		return nil
	}

	if block {
		<-done
		return completeSend()
	}

	go func() {
		<-done
		c.pool.Submit(func() { _ = completeSend() })
	}()
	return nil
}

func (c *Connection) releaseInflight(n int) {
	c.sendMu.Lock()
	c.sendInflight -= uint64(n)
	c.sendMu.Unlock()
}

// Shutdown begins the graceful, two-phase disconnect of spec.md §4.6: it
// forbids further local sends and half-closes the write side once any
// in-flight sends have drained, which the peer observes as EOF (the FIN
// token of spec.md's wire-neutral description).
func (c *Connection) Shutdown() error {
	if !c.cfg.GracefulDisconnect {
		return c.Disconnect()
	}
	c.mu.Lock()
	c.state.transitionOnLocalFin()
	next := c.state.Load()
	c.mu.Unlock()

	go func() {
		for c.SendInflight() > 0 {
			time.Sleep(time.Millisecond)
		}
		if tc, ok := c.conn.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
		if next == BothFin {
			c.killLocked("both sides sent FIN")
		}
	}()
	return nil
}

// Disconnect is the non-graceful path of spec.md §4.6: go straight to DEAD,
// abort in-flight operations, the peer observes a reset.
func (c *Connection) Disconnect() error {
	if tc, ok := c.conn.(*net.TCPConn); ok {
		_ = tc.SetLinger(0)
	}
	c.killLocked("hard disconnect")
	return nil
}

func (c *Connection) onRemoteFin() {
	c.mu.Lock()
	c.state.transitionOnRemoteFin()
	next := c.state.Load()
	c.mu.Unlock()
	if next == BothFin {
		c.killLocked("both sides sent FIN")
	}
}

func (c *Connection) killLocked(reason string) {
	if ShutdownState(c.state.v.Swap(int32(Dead))) == Dead {
		return
	}
	_ = c.conn.Close()
	if c.onDead != nil {
		c.onDead()
	}
	_ = reason
}
