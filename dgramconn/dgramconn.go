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

// Package dgramconn implements DatagramConnection (spec.md §3/§4.4): the
// unreliable, demultiplexed datagram transport layered over one shared UDP
// socket. CATCH_ALL(_NO) demuxes nothing; PER_CLIENT and
// PER_CLIENT_PER_OPERATION demux by an address-verified client id, optionally
// also by an operation id, each with its own bounded receive queue.
package dgramconn

import (
	"encoding/binary"
	"sync"

	"github.com/sabouaram/netengine/errs"
	"github.com/sabouaram/netengine/memrecycle"
	"github.com/sabouaram/netengine/netaddr"
	"github.com/sabouaram/netengine/packet"
	"github.com/sabouaram/netengine/profile"
	"github.com/sabouaram/netengine/telemetry"
)

const (
	clientIDSize    = 8 // u64, little-endian (spec.md §6)
	operationIDSize = 8
)

// queueKey identifies one demultiplexed receive queue: (clientID,
// operationID) for PER_CLIENT_PER_OPERATION, (clientID, 0) for PER_CLIENT.
type queueKey struct {
	clientID    uint64
	operationID uint64
}

// Conn is DatagramConnection: a demultiplexing wrapper over a shared UDP
// socket, used by ServerInstance and ClientInstance in any DatagramMode.
type Conn struct {
	cfg      profile.ProfileConfig
	recycle  *memrecycle.Pool
	counters *telemetry.Counters

	mu            sync.Mutex
	queues        map[queueKey][]*packet.Packet
	bytesUsed     map[queueKey]uint64
	knownAddr     map[uint64]netaddr.Address // clientID -> bound address (PER_CLIENT*)
	perQueueCap   uint64
}

// New builds a Conn for cfg.DatagramMode. knownAddr supplies the clientID ->
// Address bindings PER_CLIENT(_PER_OPERATION) verifies incoming datagrams
// against (spec.md §4.4's "sender's UDP address must match the address bound
// during handshake" rule); pass nil for CATCH_ALL(_NO).
func New(cfg profile.ProfileConfig, recycle *memrecycle.Pool, counters *telemetry.Counters, knownAddr map[uint64]netaddr.Address) *Conn {
	if knownAddr == nil {
		knownAddr = map[uint64]netaddr.Address{}
	}
	return &Conn{
		cfg:         cfg,
		recycle:     recycle,
		counters:    counters,
		queues:      map[queueKey][]*packet.Packet{},
		bytesUsed:   map[queueKey]uint64{},
		knownAddr:   knownAddr,
		perQueueCap: cfg.RecvMemoryCap,
	}
}

// BindClient records addr as clientID's verified source address, called once
// the handshake has completed (spec.md §4.5).
func (c *Conn) BindClient(clientID uint64, addr netaddr.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.knownAddr[clientID] = addr
}

// UnbindClient drops clientID's binding and its queues, called on disconnect.
func (c *Conn) UnbindClient(clientID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.knownAddr, clientID)
	for k := range c.queues {
		if k.clientID == clientID {
			delete(c.queues, k)
			delete(c.bytesUsed, k)
		}
	}
}

// OnDatagram demultiplexes one received UDP payload per spec.md §4.4. from is
// the packet's actual source address, used to validate PER_CLIENT(_*)
// framing against the bound address. In CATCH_ALL_NO the payload is first
// decrypted with DecryptKey, if one is configured; a payload that fails to
// decrypt is counted as dropped and its error returned.
func (c *Conn) OnDatagram(payload []byte, from netaddr.Address) error {
	switch c.cfg.DatagramMode {
	case profile.DatagramCatchAll:
		return c.deliver(queueKey{}, payload)
	case profile.DatagramCatchAllNo:
		body := payload
		if c.cfg.DecryptKey != nil {
			pkt := packet.NewFromBytes(append([]byte(nil), payload...))
			if _, err := pkt.Decrypt(*c.cfg.DecryptKey, true); err != nil {
				if c.counters != nil {
					c.counters.AddDropped()
				}
				return err
			}
			body = pkt.Snapshot()
		}
		return c.deliver(queueKey{}, body)
	case profile.DatagramPerClient:
		clientID, rest, ok := splitU64(payload)
		if !ok {
			c.dropMalformed()
			return nil
		}
		if !c.verifyAddr(clientID, from) {
			c.dropMalformed()
			return nil
		}
		return c.deliver(queueKey{clientID: clientID}, rest)
	case profile.DatagramPerClientPerOperation:
		clientID, rest, ok := splitU64(payload)
		if !ok {
			c.dropMalformed()
			return nil
		}
		opID, rest2, ok := splitU64(rest)
		if !ok {
			c.dropMalformed()
			return nil
		}
		if !c.verifyAddr(clientID, from) {
			c.dropMalformed()
			return nil
		}
		if opID >= uint64(c.cfg.NumOperations) {
			c.dropMalformed()
			return nil
		}
		return c.deliver(queueKey{clientID: clientID, operationID: opID}, rest2)
	default:
		return errs.New(errs.CodeInvalidMode, "dgramconn: unknown datagram mode", nil)
	}
}

func (c *Conn) verifyAddr(clientID uint64, from netaddr.Address) bool {
	c.mu.Lock()
	bound, ok := c.knownAddr[clientID]
	c.mu.Unlock()
	return ok && bound.Equal(from)
}

func (c *Conn) dropMalformed() {
	if c.counters != nil {
		c.counters.AddDropped()
	}
}

func (c *Conn) deliver(key queueKey, body []byte) error {
	c.mu.Lock()
	if c.bytesUsed[key]+uint64(len(body)) > c.perQueueCap {
		c.mu.Unlock()
		if c.counters != nil {
			c.counters.AddDropped()
		}
		return nil
	}

	pkt := c.recycle.Acquire()
	_ = pkt.SetUsedSize(0)
	_ = pkt.AddString(body, false)
	_ = pkt.SetCursor(0)
	pkt.ClientFrom = key.clientID
	pkt.OperationFrom = key.operationID

	c.queues[key] = append(c.queues[key], pkt)
	c.bytesUsed[key] += uint64(len(body))
	c.mu.Unlock()

	if c.counters != nil {
		c.counters.AddReceived(len(body))
	}
	return nil
}

// RecvUDP pops the oldest datagram for (clientID, operationID). CATCH_ALL(_NO)
// callers pass (0, 0).
func (c *Conn) RecvUDP(clientID, operationID uint64) (*packet.Packet, bool) {
	key := queueKey{clientID: clientID, operationID: operationID}
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.queues[key]
	if len(q) == 0 {
		return nil, false
	}
	pkt := q[0]
	c.queues[key] = q[1:]
	c.bytesUsed[key] -= uint64(pkt.UsedSize())
	return pkt, true
}

// QueueLen reports how many datagrams are queued for (clientID, operationID).
func (c *Conn) QueueLen(clientID, operationID uint64) int {
	key := queueKey{clientID: clientID, operationID: operationID}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queues[key])
}

// Encode frames body for transmission under the configured DatagramMode
// (spec.md §6). PER_CLIENT prefixes an 8-byte clientID; PER_CLIENT_PER_
// OPERATION additionally prefixes an 8-byte operationID.
func (c *Conn) Encode(clientID, operationID uint64, body []byte) ([]byte, error) {
	switch c.cfg.DatagramMode {
	case profile.DatagramCatchAll:
		return body, nil
	case profile.DatagramCatchAllNo:
		if c.cfg.DecryptKey == nil {
			return body, nil
		}
		pkt := packet.NewFromBytes(append([]byte(nil), body...))
		if _, err := pkt.Encrypt(*c.cfg.DecryptKey, true); err != nil {
			return nil, err
		}
		return pkt.Snapshot(), nil
	case profile.DatagramPerClient:
		out := make([]byte, clientIDSize+len(body))
		binary.LittleEndian.PutUint64(out, clientID)
		copy(out[clientIDSize:], body)
		return out, nil
	case profile.DatagramPerClientPerOperation:
		out := make([]byte, clientIDSize+operationIDSize+len(body))
		binary.LittleEndian.PutUint64(out, clientID)
		binary.LittleEndian.PutUint64(out[clientIDSize:], operationID)
		copy(out[clientIDSize+operationIDSize:], body)
		return out, nil
	default:
		return nil, errs.New(errs.CodeInvalidMode, "dgramconn: unknown datagram mode", nil)
	}
}

func splitU64(b []byte) (uint64, []byte, bool) {
	if len(b) < 8 {
		return 0, nil, false
	}
	return binary.LittleEndian.Uint64(b), b[8:], true
}
