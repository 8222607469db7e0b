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

// Package netaddr implements the engine's Address value: a 32-bit IPv4 host
// plus a 16-bit port, with the all-zero value reserved as "unset".
package netaddr

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
)

// Address is an IPv4 host+port pair. Equality is bitwise; the zero value is
// the sentinel "unset" address (spec.md §3).
type Address struct {
	host uint32
	port uint16
}

// Unset is the all-zero sentinel address.
var Unset = Address{}

// FromUDPAddr builds an Address from a resolved *net.UDPAddr. Non-IPv4
// addresses (including IPv6-mapped forms that don't reduce to 4 bytes) fail.
func FromUDPAddr(a *net.UDPAddr) (Address, error) {
	if a == nil {
		return Unset, fmt.Errorf("netaddr: nil UDPAddr")
	}
	return fromIP(a.IP, a.Port)
}

// FromTCPAddr builds an Address from a resolved *net.TCPAddr.
func FromTCPAddr(a *net.TCPAddr) (Address, error) {
	if a == nil {
		return Unset, fmt.Errorf("netaddr: nil TCPAddr")
	}
	return fromIP(a.IP, a.Port)
}

func fromIP(ip net.IP, port int) (Address, error) {
	v4 := ip.To4()
	if v4 == nil {
		return Unset, fmt.Errorf("netaddr: %s is not an IPv4 address", ip)
	}
	return Address{
		host: binary.BigEndian.Uint32(v4),
		port: uint16(port),
	}, nil
}

// Parse resolves a "host:port" string into an Address.
func Parse(hostport string) (Address, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return Unset, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Unset, err
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return Unset, err
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return Address{host: binary.BigEndian.Uint32(v4), port: uint16(port)}, nil
		}
	}
	return Unset, fmt.Errorf("netaddr: %s has no IPv4 address", host)
}

// IsUnset reports whether a equals the all-zero sentinel.
func (a Address) IsUnset() bool {
	return a == Unset
}

// Host returns the dotted-quad textual host.
func (a Address) Host() string {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, a.host)
	return net.IP(b).String()
}

// Port returns the 16-bit port.
func (a Address) Port() uint16 {
	return a.port
}

// String renders "host:port".
func (a Address) String() string {
	return net.JoinHostPort(a.Host(), strconv.Itoa(int(a.port)))
}

// Bytes returns the binary form: 4 bytes big-endian host, 2 bytes big-endian
// port, for carrying an Address inside a Packet body.
func (a Address) Bytes() [6]byte {
	var out [6]byte
	binary.BigEndian.PutUint32(out[0:4], a.host)
	binary.BigEndian.PutUint16(out[4:6], a.port)
	return out
}

// FromBytes parses the binary form produced by Bytes.
func FromBytes(b [6]byte) Address {
	return Address{
		host: binary.BigEndian.Uint32(b[0:4]),
		port: binary.BigEndian.Uint16(b[4:6]),
	}
}

// UDPAddr converts back to a *net.UDPAddr for use with the standard library.
func (a Address) UDPAddr() *net.UDPAddr {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, a.host)
	return &net.UDPAddr{IP: net.IP(b), Port: int(a.port)}
}

// Equal is bitwise equality (spec.md §3); provided for readability at call
// sites that would otherwise compare structs directly.
func (a Address) Equal(o Address) bool {
	return a == o
}
