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

package handshake

import (
	"encoding/binary"
	"io"
	"net"
	"time"

	hcuuid "github.com/hashicorp/go-uuid"

	"github.com/sabouaram/netengine/errs"
)

// MessageType tags the handshake frames exchanged before a stream connection
// is promoted into a StreamConnection (spec.md §4.5).
type MessageType byte

const (
	MsgHello MessageType = iota + 1
	MsgHelloAck
	MsgReject
	MsgReady
)

// ProtocolVersion is advertised by the server in HELLO and echoed back by
// the client in HELLO_ACK (spec.md §4.5 purpose (4): let both sides confirm
// they speak the same handshake wire format before any traffic flows).
const ProtocolVersion uint16 = 1

// Hello is the server's opening frame (spec.md §4.5 step 2): "HELLO
// {protocol_version, max_clients, num_operations, udp_enabled,
// assigned_client_id}". Token is a freshly generated correlation id the
// client echoes back on its UDP probe, if UDP is enabled.
type Hello struct {
	ProtocolVersion uint16
	MaxClients      uint64
	NumOperations   uint64
	UDPEnabled      bool
	ClientID        uint64
	Token           string
}

// HelloAck is the client's reply (spec.md §4.5 step 3): the protocol version
// it understood, and the local UDP port it bound (0 if UDP is disabled or
// unused), so the server can log/verify the claimed port against whatever
// address the probe actually arrives from.
type HelloAck struct {
	ProtocolVersion     uint16
	ClaimedUDPLocalPort uint16
}

// Reject carries the server's refusal reason (spec.md's CodeServerFull,
// incompatible profile, etc.), sent instead of HELLO.
type Reject struct {
	Reason string
}

// Ready closes the handshake: sent by whichever side observes both legs are
// bound (the UDP probe landed), after which ordinary traffic may flow.
type Ready struct{}

// NewToken generates the handshake correlation token, grounded on the
// teacher's use of hashicorp/go-uuid for opaque identifiers elsewhere in the
// pack.
func NewToken() (string, error) {
	return hcuuid.GenerateUUID()
}

// writeFrame wraps body in a 4-byte little-endian length prefix followed by
// a 1-byte MessageType tag, matching spec.md §6's "handshake always uses
// PREFIX_SIZE regardless of the negotiated stream mode".
func writeFrame(w io.Writer, typ MessageType, body []byte) error {
	out := make([]byte, 4+1+len(body))
	binary.LittleEndian.PutUint32(out, uint32(1+len(body)))
	out[4] = byte(typ)
	copy(out[5:], body)
	_, err := w.Write(out)
	return err
}

// readFrame blocks for exactly one handshake frame, honoring a deadline set
// by the caller on conn.
func readFrame(conn net.Conn) (MessageType, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n == 0 || n > 1<<20 {
		return 0, nil, errs.New(errs.CodeBufferOverflow, "handshake: implausible frame length", nil)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(conn, body); err != nil {
		return 0, nil, err
	}
	return MessageType(body[0]), body[1:], nil
}

func encodeString(s string) []byte {
	return []byte(s)
}

func encodeHello(h Hello) []byte {
	out := make([]byte, 0, len(h.Token)+1+2+8+8+1+8)
	out = append(out, encodeString(h.Token)...)
	out = append(out, 0) // token/fields separator (token is a fixed-format UUID, no embedded NUL)
	var versionBuf [2]byte
	binary.LittleEndian.PutUint16(versionBuf[:], h.ProtocolVersion)
	out = append(out, versionBuf[:]...)
	var maxClientsBuf [8]byte
	binary.LittleEndian.PutUint64(maxClientsBuf[:], h.MaxClients)
	out = append(out, maxClientsBuf[:]...)
	var numOpsBuf [8]byte
	binary.LittleEndian.PutUint64(numOpsBuf[:], h.NumOperations)
	out = append(out, numOpsBuf[:]...)
	if h.UDPEnabled {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	var idBuf [8]byte
	binary.LittleEndian.PutUint64(idBuf[:], h.ClientID)
	out = append(out, idBuf[:]...)
	return out
}

func decodeHello(b []byte) (Hello, error) {
	sep := -1
	for i, c := range b {
		if c == 0 {
			sep = i
			break
		}
	}
	if sep < 0 {
		return Hello{}, errs.New(errs.CodeInvalidProfile, "handshake: malformed HELLO", nil)
	}
	token := string(b[:sep])
	rest := b[sep+1:]
	if len(rest) < 27 {
		return Hello{}, errs.New(errs.CodeInvalidProfile, "handshake: truncated HELLO", nil)
	}
	version := binary.LittleEndian.Uint16(rest[:2])
	maxClients := binary.LittleEndian.Uint64(rest[2:10])
	numOperations := binary.LittleEndian.Uint64(rest[10:18])
	udpEnabled := rest[18] != 0
	clientID := binary.LittleEndian.Uint64(rest[19:27])
	return Hello{
		ProtocolVersion: version,
		MaxClients:      maxClients,
		NumOperations:   numOperations,
		UDPEnabled:      udpEnabled,
		ClientID:        clientID,
		Token:           token,
	}, nil
}

func encodeHelloAck(a HelloAck) []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint16(out[0:2], a.ProtocolVersion)
	binary.LittleEndian.PutUint16(out[2:4], a.ClaimedUDPLocalPort)
	return out
}

func decodeHelloAck(b []byte) (HelloAck, error) {
	if len(b) < 4 {
		return HelloAck{}, errs.New(errs.CodeInvalidProfile, "handshake: truncated HELLO_ACK", nil)
	}
	version := binary.LittleEndian.Uint16(b[0:2])
	port := binary.LittleEndian.Uint16(b[2:4])
	return HelloAck{ProtocolVersion: version, ClaimedUDPLocalPort: port}, nil
}

// SendHello writes the server's opening HELLO frame honoring deadline.
func SendHello(conn net.Conn, h Hello, deadline time.Time) error {
	_ = conn.SetWriteDeadline(deadline)
	return writeFrame(conn, MsgHello, encodeHello(h))
}

// RecvHelloOrReject reads the server's opening frame, expecting HELLO or
// REJECT (client side of spec.md §4.5 step 2).
func RecvHelloOrReject(conn net.Conn, deadline time.Time) (Hello, error) {
	_ = conn.SetReadDeadline(deadline)
	typ, body, err := readFrame(conn)
	if err != nil {
		return Hello{}, err
	}
	switch typ {
	case MsgHello:
		return decodeHello(body)
	case MsgReject:
		return Hello{}, errs.New(errs.CodeInvalidClient, "handshake: rejected: "+string(body), nil)
	default:
		return Hello{}, errs.New(errs.CodeInvalidProfile, "handshake: expected HELLO or REJECT", nil)
	}
}

// SendHelloAck writes the client's acknowledgement of HELLO.
func SendHelloAck(conn net.Conn, a HelloAck, deadline time.Time) error {
	_ = conn.SetWriteDeadline(deadline)
	return writeFrame(conn, MsgHelloAck, encodeHelloAck(a))
}

// SendReject writes the server's refusal and reason, sent instead of HELLO.
func SendReject(conn net.Conn, reason string, deadline time.Time) error {
	_ = conn.SetWriteDeadline(deadline)
	return writeFrame(conn, MsgReject, []byte(reason))
}

// RecvHelloAck reads the client's reply to the server's HELLO.
func RecvHelloAck(conn net.Conn, deadline time.Time) (HelloAck, error) {
	_ = conn.SetReadDeadline(deadline)
	typ, body, err := readFrame(conn)
	if err != nil {
		return HelloAck{}, err
	}
	if typ != MsgHelloAck {
		return HelloAck{}, errs.New(errs.CodeInvalidProfile, "handshake: expected HELLO_ACK", nil)
	}
	return decodeHelloAck(body)
}

// SendReady writes the final READY marker once address binding (the UDP
// probe, if enabled) has completed.
func SendReady(conn net.Conn, deadline time.Time) error {
	_ = conn.SetWriteDeadline(deadline)
	return writeFrame(conn, MsgReady, nil)
}

// RecvReady waits for the peer's READY marker.
func RecvReady(conn net.Conn, deadline time.Time) error {
	_ = conn.SetReadDeadline(deadline)
	typ, _, err := readFrame(conn)
	if err != nil {
		return err
	}
	if typ != MsgReady {
		return errs.New(errs.CodeInvalidProfile, "handshake: expected READY", nil)
	}
	return nil
}

// ProbePayload is the datagram body a client sends on its UDP socket to let
// the server learn (and verify) its source address (spec.md §4.5's "UDP
// probe-based address binding"). It carries the handshake token so the
// server can correlate the probe with the right ClientId.
func ProbePayload(token string) []byte {
	return []byte(token)
}

// ProbeToken extracts the token from a received probe payload.
func ProbeToken(payload []byte) string {
	return string(payload)
}
