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

package packet

import (
	"encoding/binary"

	"github.com/sabouaram/netengine/errs"
)

// AddString writes b at the cursor. When prefix is true it is preceded by
// its length as a varuint (spec.md §4.1); otherwise raw bytes are written
// and the caller is responsible for knowing the length out of band.
func (p *Packet) AddString(b []byte, prefix bool) error {
	if err := p.checkBusy(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var hdr []byte
	if prefix {
		hdr = make([]byte, binary.MaxVarintLen64)
		n := binary.PutUvarint(hdr, uint64(len(b)))
		hdr = hdr[:n]
	}

	at := p.cursor
	need := at + len(hdr) + len(b)
	p.growTo(need)
	if need > p.used {
		p.used = need
	}
	copy(p.buf[at:], hdr)
	copy(p.buf[at+len(hdr):], b)
	p.cursor += len(hdr) + len(b)
	return nil
}

// GetStringSize reads the varuint length prefix without advancing the
// cursor (spec.md §4.1's "peek" accessor).
func (p *Packet) GetStringSize() (int, error) {
	if err := p.checkBusy(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	n, ok := peekUvarint(p.buf[p.cursor:p.used])
	if !ok {
		return 0, errs.New(errs.CodePacketUnderflow, "packet: truncated length prefix", nil)
	}
	return int(n), nil
}

// GetString reads a string. length==0 means "read the varuint prefix
// first, then that many bytes"; a nonzero length reads exactly that many
// raw bytes with no prefix. nullTerminate trims one trailing NUL, if
// present, from the result (for C-string interop).
func (p *Packet) GetString(length int, nullTerminate bool) ([]byte, error) {
	if err := p.checkBusy(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if length == 0 {
		n, hdrLen, ok := readUvarint(p.buf[p.cursor:p.used])
		if !ok {
			return nil, errs.New(errs.CodePacketUnderflow, "packet: truncated length prefix", nil)
		}
		if p.cursor+hdrLen+int(n) > p.used {
			return nil, errs.New(errs.CodePacketUnderflow, "packet: string body past used_size", nil)
		}
		start := p.cursor + hdrLen
		out := make([]byte, n)
		copy(out, p.buf[start:start+int(n)])
		p.cursor = start + int(n)
		return trimNull(out, nullTerminate), nil
	}

	if p.cursor+length > p.used {
		return nil, errs.New(errs.CodePacketUnderflow, "packet: string body past used_size", nil)
	}
	out := make([]byte, length)
	copy(out, p.buf[p.cursor:p.cursor+length])
	p.cursor += length
	return trimNull(out, nullTerminate), nil
}

func trimNull(b []byte, nullTerminate bool) []byte {
	if nullTerminate && len(b) > 0 && b[len(b)-1] == 0 {
		return b[:len(b)-1]
	}
	return b
}

func peekUvarint(b []byte) (uint64, bool) {
	n, sz := binary.Uvarint(b)
	return n, sz > 0
}

func readUvarint(b []byte) (uint64, int, bool) {
	n, sz := binary.Uvarint(b)
	return n, sz, sz > 0
}
