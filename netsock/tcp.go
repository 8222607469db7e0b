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

// Package netsock is the L1 Socket wrapper of spec.md §2: bind, connect,
// accept, post send, post receive, shutdown, close. It is a thin layer over
// net.Conn/net.PacketConn — the Go standard library already gives us the
// async I/O substrate the original library built by hand around an OS
// completion queue, so this package's job is only to name the operations
// the connection state machines need and apply profile knobs (NoDelay,
// TLS) uniformly.
package netsock

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// TCPListener wraps net.Listener, optionally behind TLS.
type TCPListener struct {
	ln net.Listener
}

// BindTCP opens a listening socket on addr. If tlsCfg is non-nil the
// listener terminates TLS (carried from the teacher's certificates package
// wiring, see socket/config's TLS validation).
func BindTCP(addr string, tlsCfg *tls.Config) (*TCPListener, error) {
	if tlsCfg != nil {
		ln, err := tls.Listen("tcp", addr, tlsCfg)
		if err != nil {
			return nil, err
		}
		return &TCPListener{ln: ln}, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &TCPListener{ln: ln}, nil
}

// Accept blocks for the next inbound connection.
func (l *TCPListener) Accept() (net.Conn, error) {
	return l.ln.Accept()
}

// Addr returns the listener's bound address.
func (l *TCPListener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting and releases the listening socket.
func (l *TCPListener) Close() error {
	return l.ln.Close()
}

// DialTCP connects to addr with the given timeout, optionally over TLS.
func DialTCP(ctx context.Context, addr string, timeout time.Duration, tlsCfg *tls.Config) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	if tlsCfg != nil {
		return tls.DialWithDialer(&d, "tcp", addr, tlsCfg)
	}
	return d.DialContext(ctx, "tcp", addr)
}

// ApplyNoDelay sets or clears TCP_NODELAY (the profile's "nagle" toggle,
// spec.md §6, supplemented from MikeNet per SPEC_FULL.md).
func ApplyNoDelay(c net.Conn, noDelay bool) {
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(noDelay)
	}
}

// Shutdown half-closes the write side of a TCP connection so the peer
// observes EOF, without releasing local resources (spec.md §4.6 FIN).
func Shutdown(c net.Conn) error {
	if tc, ok := c.(*net.TCPConn); ok {
		return tc.CloseWrite()
	}
	return c.Close()
}
