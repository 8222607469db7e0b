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

// Package client implements ClientInstance (spec.md §3/§4.5/§4.6): drives the
// handshake against a ServerInstance and exposes the resulting
// StreamConnection/DatagramConnection pair.
package client

import (
	"context"
	"crypto/tls"
	"net"
	"sync/atomic"
	"time"

	"github.com/sabouaram/netengine/completion"
	"github.com/sabouaram/netengine/dgramconn"
	"github.com/sabouaram/netengine/errs"
	"github.com/sabouaram/netengine/handshake"
	"github.com/sabouaram/netengine/memrecycle"
	"github.com/sabouaram/netengine/netaddr"
	"github.com/sabouaram/netengine/netsock"
	"github.com/sabouaram/netengine/packet"
	"github.com/sabouaram/netengine/profile"
	"github.com/sabouaram/netengine/streamconn"
	"github.com/sabouaram/netengine/telemetry"
)

// State is ClientInstance.connection_state (spec.md §3).
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateShuttingDown
	StateDead
)

// Instance is ClientInstance.
type Instance struct {
	InstanceID int
	cfg        profile.ProfileConfig

	state atomic.Int32

	conn     net.Conn
	udpConn  *net.UDPConn
	dgram    *dgramconn.Conn
	stream   *streamconn.Connection
	recycle  *memrecycle.Pool
	counters *telemetry.Counters
	pool     *completion.Pool

	ClientID uint64

	// MaxClients and MaxOperations are learned from the server's HELLO
	// (spec.md §4.5 purpose (4)): the negotiated max_clients/num_operations
	// the peer is sized for, so buffer/queue sizing on this side lines up.
	MaxClients    uint64
	MaxOperations uint64
}

// New allocates an idle Instance. Connect must be called before any send/recv.
func New(instanceID int, cfg profile.ProfileConfig, counters *telemetry.Counters) *Instance {
	return &Instance{
		InstanceID: instanceID,
		cfg:        cfg,
		recycle:    memrecycle.New(cfg.RecyclePackets, cfg.RecyclePerCap),
		counters:   counters,
		pool:       completion.New(context.Background(), cfg.NumThreads, cfg.Progress),
	}
}

// State returns the current connection_state.
func (c *Instance) State() State {
	return State(c.state.Load())
}

// Connect dials tcpAddr, runs the HELLO/HELLO_ACK/READY handshake (spec.md
// §4.5), and — if the profile enables UDP — binds a UDP socket and sends the
// address-binding probe before returning.
func (c *Instance) Connect(ctx context.Context, tcpAddr, udpAddr string, tlsCfg *tls.Config) error {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		return errs.New(errs.CodeAlreadyConnecting, "client: Connect called twice", nil)
	}

	timeout := time.Duration(c.cfg.ConnectTimeoutMS) * time.Millisecond
	conn, err := netsock.DialTCP(ctx, tcpAddr, timeout, tlsCfg)
	if err != nil {
		c.state.Store(int32(StateIdle))
		return errs.Wrap(err)
	}
	netsock.ApplyNoDelay(conn, c.cfg.NoDelay)

	deadline := time.Now().Add(timeout + time.Duration(c.cfg.HandshakeTimeoutMS)*time.Millisecond)

	hello, err := handshake.RecvHelloOrReject(conn, deadline)
	if err != nil {
		c.abortConnect(conn, nil)
		return err
	}

	var udpConn *net.UDPConn
	if hello.UDPEnabled && udpAddr != "" {
		udpConn, err = netsock.DialUDP(udpAddr)
		if err != nil {
			c.abortConnect(conn, nil)
			return errs.Wrap(err)
		}
	}

	localUDPPort := uint16(0)
	if udpConn != nil {
		if a, ok := udpConn.LocalAddr().(*net.UDPAddr); ok {
			localUDPPort = uint16(a.Port)
		}
	}

	if err := handshake.SendHelloAck(conn, handshake.HelloAck{
		ProtocolVersion:     hello.ProtocolVersion,
		ClaimedUDPLocalPort: localUDPPort,
	}, deadline); err != nil {
		c.abortConnect(conn, udpConn)
		return errs.Wrap(err)
	}

	if hello.UDPEnabled && udpConn != nil {
		if _, err := udpConn.Write(handshake.ProbePayload(hello.Token)); err != nil {
			c.abortConnect(conn, udpConn)
			return errs.Wrap(err)
		}
	}

	if err := handshake.RecvReady(conn, deadline); err != nil {
		c.abortConnect(conn, udpConn)
		return err
	}

	c.ClientID = hello.ClientID
	c.MaxClients = hello.MaxClients
	c.MaxOperations = hello.NumOperations
	c.conn = conn
	c.udpConn = udpConn

	if hello.UDPEnabled {
		c.dgram = dgramconn.New(c.cfg, c.recycle, c.counters, map[uint64]netaddr.Address{})
		if addr, aerr := serverAddr(udpAddr); aerr == nil {
			c.dgram.BindClient(0, addr)
		}
		go c.runUDPReceiveLoop()
	}

	c.stream = streamconn.New(
		"client",
		conn,
		c.cfg,
		nil,
		c.recycle,
		c.counters,
		hello.ClientID,
		c.InstanceID,
		func() { c.state.Store(int32(StateDead)) },
		c.pool,
	)

	c.state.Store(int32(StateConnected))
	go c.stream.RunReceiveLoop(ctx)
	return nil
}

func serverAddr(udpAddr string) (netaddr.Address, error) {
	return netaddr.Parse(udpAddr)
}

func (c *Instance) abortConnect(conn net.Conn, udpConn *net.UDPConn) {
	_ = conn.Close()
	if udpConn != nil {
		_ = udpConn.Close()
	}
	c.state.Store(int32(StateIdle))
}

func (c *Instance) runUDPReceiveLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, err := c.udpConn.Read(buf)
		if err != nil {
			return
		}
		if c.dgram != nil {
			_ = c.dgram.OnDatagram(append([]byte(nil), buf[:n]...), netaddr.Unset)
		}
	}
}

// SendTCP forwards to the stream connection.
func (c *Instance) SendTCP(pkt *packet.Packet, keep, block bool) error {
	if c.stream == nil {
		return errs.New(errs.CodeNotConnected, "client: not connected", nil)
	}
	return c.stream.SendTCP(pkt, keep, block)
}

// RecvTCP forwards to the stream connection.
func (c *Instance) RecvTCP() (*packet.Packet, bool) {
	if c.stream == nil {
		return nil, false
	}
	return c.stream.RecvTCP()
}

// SendUDP frames and writes body as a datagram to the connected server.
func (c *Instance) SendUDP(operationID uint64, body []byte) error {
	if c.udpConn == nil || c.dgram == nil {
		return errs.New(errs.CodeInvalidProfile, "client: UDP not enabled on this profile", nil)
	}
	frame, err := c.dgram.Encode(c.ClientID, operationID, body)
	if err != nil {
		return err
	}
	_, err = c.udpConn.Write(frame)
	if err != nil {
		return errs.Wrap(err)
	}
	return nil
}

// RecvUDP pops the oldest queued datagram for operationID.
func (c *Instance) RecvUDP(operationID uint64) (*packet.Packet, bool) {
	if c.dgram == nil {
		return nil, false
	}
	return c.dgram.RecvUDP(0, operationID)
}

// Status projects the stream connection's shutdown state.
func (c *Instance) Status() streamconn.ConnectionStatus {
	if c.stream == nil {
		return streamconn.StatusNotConnected
	}
	return c.stream.Status()
}

// Shutdown gracefully disconnects (spec.md §4.6).
func (c *Instance) Shutdown() error {
	c.state.Store(int32(StateShuttingDown))
	if c.stream == nil {
		c.state.Store(int32(StateDead))
		return nil
	}
	return c.stream.Shutdown()
}

// Disconnect hard-disconnects.
func (c *Instance) Disconnect() error {
	if c.stream == nil {
		c.state.Store(int32(StateDead))
		return nil
	}
	return c.stream.Disconnect()
}
