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

// Package server implements ServerInstance (spec.md §3/§4.5/§4.6): accepts
// TCP connections, drives the handshake, allocates ClientIds, and hands each
// accepted client a StreamConnection plus (if configured) a slot in the
// shared DatagramConnection demultiplexer.
package server

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/sabouaram/netengine/completion"
	"github.com/sabouaram/netengine/dgramconn"
	"github.com/sabouaram/netengine/enginelog"
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

// Client bundles one accepted peer's resources, indexed by ClientId.
type Client struct {
	ID     uint64
	Stream *streamconn.Connection
	Addr   netaddr.Address
}

// Instance is ServerInstance. InstanceID is assigned by the caller (the
// registry package slot this instance lives in) purely for logging.
type Instance struct {
	InstanceID int
	cfg        profile.ProfileConfig

	ln       *netsock.TCPListener
	udpConn  *net.UDPConn
	ids      *handshake.ClientIDAllocator
	recycle  *memrecycle.Pool
	counters *telemetry.Counters
	pool     *completion.Pool

	mu      sync.RWMutex
	clients map[uint64]*Client

	joinedMu sync.Mutex
	joined   []uint64
	leftMu   sync.Mutex
	left     []uint64

	dgram *dgramconn.Conn

	maxClients uint64
	log        func() *logEntry
}

type logEntry struct{}

// New builds a ServerInstance bound to tcpAddr (and udpAddr, if cfg enables
// UDP datagrams). maxClients is spec.md's ServerInstance.max_clients (0 means
// unbounded).
func New(instanceID int, cfg profile.ProfileConfig, tcpAddr, udpAddr string, maxClients uint64, tlsCfg *tls.Config, reg *telemetry.Counters) (*Instance, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ln, err := netsock.BindTCP(tcpAddr, tlsCfg)
	if err != nil {
		return nil, errs.Wrap(err)
	}

	var udpConn *net.UDPConn
	if cfg.UDPEnabled {
		udpConn, err = netsock.BindUDP(udpAddr)
		if err != nil {
			_ = ln.Close()
			return nil, errs.Wrap(err)
		}
	}

	inst := &Instance{
		InstanceID: instanceID,
		cfg:        cfg,
		ln:         ln,
		udpConn:    udpConn,
		ids:        handshake.NewClientIDAllocator(maxClients),
		recycle:    memrecycle.New(cfg.RecyclePackets, cfg.RecyclePerCap),
		counters:   reg,
		pool:       completion.New(context.Background(), cfg.NumThreads, cfg.Progress),
		clients:    map[uint64]*Client{},
		maxClients: maxClients,
	}
	if cfg.UDPEnabled {
		inst.dgram = dgramconn.New(cfg, inst.recycle, reg, nil)
	}
	return inst, nil
}

// Addr returns the TCP listener's bound address, useful when New was given
// an ephemeral port (":0").
func (s *Instance) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve accepts connections until ctx is cancelled or the listener errors.
func (s *Instance) Serve(ctx context.Context) error {
	if s.cfg.UDPEnabled {
		go s.serveUDP(ctx)
	}
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return errs.Wrap(err)
			}
		}
		s.pool.Submit(func() { s.onAccept(ctx, conn) })
	}
}

func (s *Instance) serveUDP(ctx context.Context) {
	buf := make([]byte, 64*1024)
	for {
		if ctx.Err() != nil {
			return
		}
		n, from, err := s.udpConn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		addr, aerr := netaddr.FromUDPAddr(from)
		if aerr != nil {
			continue
		}

		if s.deliverProbe(buf[:n], addr) {
			continue
		}
		if s.dgram != nil {
			_ = s.dgram.OnDatagram(append([]byte(nil), buf[:n]...), addr)
		}
	}
}

// deliverProbe checks whether payload is an outstanding handshake probe
// (its raw bytes equal a pending token) and, if so, wakes the accept
// goroutine waiting on it instead of routing it through the demuxer.
func (s *Instance) deliverProbe(payload []byte, addr netaddr.Address) bool {
	token := handshake.ProbeToken(payload)
	pendingProbesMu.Lock()
	ch, ok := pendingProbes[token]
	pendingProbesMu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- addr:
	default:
	}
	return true
}

func (s *Instance) onAccept(ctx context.Context, conn net.Conn) {
	netsock.ApplyNoDelay(conn, s.cfg.NoDelay)

	timeout := time.Duration(s.cfg.HandshakeTimeoutMS) * time.Millisecond
	deadline := time.Now().Add(timeout)

	clientID, err := s.ids.Allocate()
	if err != nil {
		_ = handshake.SendReject(conn, err.Error(), deadline)
		_ = conn.Close()
		return
	}

	token, err := handshake.NewToken()
	if err != nil {
		s.ids.Free(clientID)
		_ = conn.Close()
		return
	}

	hello := handshake.Hello{
		ProtocolVersion: handshake.ProtocolVersion,
		MaxClients:      s.maxClients,
		NumOperations:   uint64(s.cfg.NumOperations),
		UDPEnabled:      s.cfg.UDPEnabled,
		ClientID:        clientID,
		Token:           token,
	}
	if err := handshake.SendHello(conn, hello, deadline); err != nil {
		s.ids.Free(clientID)
		_ = conn.Close()
		return
	}

	ack, err := handshake.RecvHelloAck(conn, deadline)
	if err != nil {
		enginelog.Instance("server", s.InstanceID).WithError(err).Warn("handshake: bad HELLO_ACK")
		s.ids.Free(clientID)
		_ = conn.Close()
		return
	}
	if ack.ProtocolVersion != handshake.ProtocolVersion {
		_ = handshake.SendReject(conn, "handshake: protocol version mismatch", deadline)
		s.ids.Free(clientID)
		_ = conn.Close()
		return
	}
	if hello.UDPEnabled {
		enginelog.Instance("server", s.InstanceID).WithField("claimed_udp_port", ack.ClaimedUDPLocalPort).Debug("handshake: HELLO_ACK received")
		if !s.awaitProbe(token, clientID, deadline) {
			s.ids.Free(clientID)
			_ = conn.Close()
			return
		}
	}

	if err := handshake.SendReady(conn, deadline); err != nil {
		s.ids.Free(clientID)
		_ = conn.Close()
		return
	}

	tcpAddr, _ := netaddr.FromTCPAddr(conn.RemoteAddr().(*net.TCPAddr))
	client := &Client{ID: clientID, Addr: tcpAddr}
	client.Stream = streamconn.New(
		addrID(clientID),
		conn,
		s.cfg,
		nil,
		s.recycle,
		s.counters,
		clientID,
		s.InstanceID,
		func() { s.onClientDead(clientID) },
		s.pool,
	)

	s.mu.Lock()
	s.clients[clientID] = client
	s.mu.Unlock()

	s.joinedMu.Lock()
	s.joined = append(s.joined, clientID)
	s.joinedMu.Unlock()

	client.Stream.RunReceiveLoop(ctx)
}

// awaitProbe blocks (bounded by deadline) until a UDP probe carrying token
// arrives, binding clientID's verified address in the datagram demuxer
// (spec.md §4.5's UDP probe-based address binding). The shared serveUDP
// loop hands the probe over through the package-level pending-probe table
// (deliverProbe); one waiting channel per token is correct for the expected
// one-probe-per-handshake traffic pattern.
func (s *Instance) awaitProbe(token string, clientID uint64, deadline time.Time) bool {
	if s.udpConn == nil {
		return true
	}
	ch := make(chan netaddr.Address, 1)
	s.registerPendingProbe(token, ch)
	defer s.unregisterPendingProbe(token)

	select {
	case addr := <-ch:
		if s.dgram != nil {
			s.dgram.BindClient(clientID, addr)
		}
		return true
	case <-time.After(time.Until(deadline)):
		return false
	}
}

var (
	pendingProbesMu sync.Mutex
	pendingProbes   = map[string]chan netaddr.Address{}
)

func (s *Instance) registerPendingProbe(token string, ch chan netaddr.Address) {
	pendingProbesMu.Lock()
	pendingProbes[token] = ch
	pendingProbesMu.Unlock()
}

func (s *Instance) unregisterPendingProbe(token string) {
	pendingProbesMu.Lock()
	delete(pendingProbes, token)
	pendingProbesMu.Unlock()
}

func addrID(clientID uint64) string {
	return "client-" + itoa(clientID)
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func (s *Instance) onClientDead(clientID uint64) {
	s.mu.Lock()
	delete(s.clients, clientID)
	s.mu.Unlock()

	if s.dgram != nil {
		s.dgram.UnbindClient(clientID)
	}
	s.ids.Free(clientID)

	s.leftMu.Lock()
	s.left = append(s.left, clientID)
	s.leftMu.Unlock()
}

// ClientJoined pops one pending "client connected" notification, if any
// (spec.md §3's polling API mirroring ClientLeft).
func (s *Instance) ClientJoined() (uint64, bool) {
	s.joinedMu.Lock()
	defer s.joinedMu.Unlock()
	if len(s.joined) == 0 {
		return 0, false
	}
	id := s.joined[0]
	s.joined = s.joined[1:]
	return id, true
}

// ClientLeft pops one pending "client disconnected" notification.
func (s *Instance) ClientLeft() (uint64, bool) {
	s.leftMu.Lock()
	defer s.leftMu.Unlock()
	if len(s.left) == 0 {
		return 0, false
	}
	id := s.left[0]
	s.left = s.left[1:]
	return id, true
}

// Client looks up a connected client by id.
func (s *Instance) Client(id uint64) (*Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[id]
	return c, ok
}

// ClientCount reports the number of currently connected clients.
func (s *Instance) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// SendTCP is a convenience forwarding to the target client's StreamConnection.
func (s *Instance) SendTCP(clientID uint64, pkt *packet.Packet, keep, block bool) error {
	c, ok := s.Client(clientID)
	if !ok {
		return errs.New(errs.CodeInvalidClient, "server: unknown client id", nil)
	}
	return c.Stream.SendTCP(pkt, keep, block)
}

// SendUDP frames and writes a datagram to clientID over the shared UDP
// socket, honoring the configured DatagramMode.
func (s *Instance) SendUDP(clientID, operationID uint64, body []byte) error {
	if s.udpConn == nil || s.dgram == nil {
		return errs.New(errs.CodeInvalidProfile, "server: UDP not enabled on this profile", nil)
	}
	c, ok := s.Client(clientID)
	if !ok {
		return errs.New(errs.CodeInvalidClient, "server: unknown client id", nil)
	}
	frame, err := s.dgram.Encode(clientID, operationID, body)
	if err != nil {
		return err
	}
	_, err = s.udpConn.WriteToUDP(frame, c.Addr.UDPAddr())
	if err != nil {
		return errs.Wrap(err)
	}
	return nil
}

// RecvUDP pops the oldest queued datagram for (clientID, operationID).
func (s *Instance) RecvUDP(clientID, operationID uint64) (*packet.Packet, bool) {
	if s.dgram == nil {
		return nil, false
	}
	return s.dgram.RecvUDP(clientID, operationID)
}

// Disconnect forcibly drops a client (spec.md §4.6 hard path).
func (s *Instance) Disconnect(clientID uint64) error {
	c, ok := s.Client(clientID)
	if !ok {
		return errs.New(errs.CodeInvalidClient, "server: unknown client id", nil)
	}
	return c.Stream.Disconnect()
}

// Shutdown gracefully disconnects every client, then stops accepting new
// ones (spec.md §5 finish()).
func (s *Instance) Shutdown() error {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		_ = c.Stream.Shutdown()
	}
	s.pool.Wait()
	s.pool.Close()
	if s.udpConn != nil {
		_ = s.udpConn.Close()
	}
	if err := s.ln.Close(); err != nil {
		return errs.Wrap(err)
	}
	return nil
}
