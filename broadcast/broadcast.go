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

// Package broadcast implements BroadcastInstance (spec.md §3): a
// connectionless UDP endpoint with no handshake, sending to and receiving
// from a fixed broadcast address. SendEvery is a MikeNet supplement
// (SPEC_FULL.md) for periodic unsolicited announcements (server discovery
// beacons and the like).
package broadcast

import (
	"context"
	"net"
	"time"

	"github.com/sabouaram/netengine/errs"
	"github.com/sabouaram/netengine/memrecycle"
	"github.com/sabouaram/netengine/packet"
	"github.com/sabouaram/netengine/profile"
	"github.com/sabouaram/netengine/telemetry"
)

// Instance is BroadcastInstance.
type Instance struct {
	InstanceID int
	cfg        profile.ProfileConfig

	conn      *net.UDPConn
	broadcast *net.UDPAddr
	recycle   *memrecycle.Pool
	counters  *telemetry.Counters

	recvQueue []*packet.Packet
	recvUsed  uint64
}

// New binds a UDP socket on localAddr configured for broadcast sends to
// broadcastAddr (e.g. "255.255.255.255:9999").
func New(instanceID int, cfg profile.ProfileConfig, localAddr, broadcastAddr string, counters *telemetry.Counters) (*Instance, error) {
	laddr, err := net.ResolveUDPAddr("udp4", localAddr)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, errs.Wrap(err)
	}

	baddr, err := net.ResolveUDPAddr("udp4", broadcastAddr)
	if err != nil {
		_ = conn.Close()
		return nil, errs.Wrap(err)
	}

	return &Instance{
		InstanceID: instanceID,
		cfg:        cfg,
		conn:       conn,
		broadcast:  baddr,
		recycle:    memrecycle.New(cfg.RecyclePackets, cfg.RecyclePerCap),
		counters:   counters,
	}, nil
}

// Send writes body to the broadcast address once.
func (b *Instance) Send(body []byte) error {
	_, err := b.conn.WriteToUDP(body, b.broadcast)
	if err != nil {
		return errs.Wrap(err)
	}
	if b.counters != nil {
		b.counters.AddSent(len(body))
	}
	return nil
}

// SendEvery repeats Send(pkt.Snapshot()) on interval until ctx is cancelled,
// the supplemented equivalent of MikeNet's periodic broadcast helper
// (SPEC_FULL.md).
func (b *Instance) SendEvery(ctx context.Context, interval time.Duration, pkt *packet.Packet) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := b.Send(pkt.Snapshot()); err != nil {
				return err
			}
		}
	}
}

// RunReceiveLoop accepts inbound broadcast datagrams from any sender until
// ctx is cancelled, queuing them for RecvUDP.
func (b *Instance) RunReceiveLoop(ctx context.Context) {
	buf := make([]byte, 64*1024)
	for {
		if ctx.Err() != nil {
			return
		}
		n, _, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if b.recvUsed+uint64(n) > b.cfg.RecvMemoryCap {
			if b.counters != nil {
				b.counters.AddDropped()
			}
			continue
		}
		pkt := b.recycle.Acquire()
		_ = pkt.SetUsedSize(0)
		_ = pkt.AddString(buf[:n], false)
		_ = pkt.SetCursor(0)
		b.recvQueue = append(b.recvQueue, pkt)
		b.recvUsed += uint64(n)
		if b.counters != nil {
			b.counters.AddReceived(n)
		}
	}
}

// RecvUDP pops the oldest queued broadcast datagram.
func (b *Instance) RecvUDP() (*packet.Packet, bool) {
	if len(b.recvQueue) == 0 {
		return nil, false
	}
	pkt := b.recvQueue[0]
	b.recvQueue = b.recvQueue[1:]
	b.recvUsed -= uint64(pkt.UsedSize())
	return pkt, true
}

// Close releases the underlying socket.
func (b *Instance) Close() error {
	if err := b.conn.Close(); err != nil {
		return errs.Wrap(err)
	}
	return nil
}

// LocalAddr returns the address the instance's UDP socket is bound to,
// useful when New was given an ephemeral port (":0").
func (b *Instance) LocalAddr() string {
	return b.conn.LocalAddr().String()
}
