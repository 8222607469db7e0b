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
	"bytes"
	"encoding/binary"

	"github.com/sabouaram/netengine/errs"
	"github.com/sabouaram/netengine/profile"
)

// reassembler holds the partial-packet state shared by every framing mode
// (spec.md §3 "partial_buffer"/"partial_target_bytes").
type reassembler struct {
	mode    profile.StreamMode
	postfix []byte

	partial       []byte
	hasTarget     bool
	target        uint32
	lenScratch    []byte // accumulates the 4-byte PREFIX_SIZE length header
	maxBufferSize uint32
	autoGrow      bool
}

func newReassembler(cfg profile.ProfileConfig) *reassembler {
	return &reassembler{
		mode:          cfg.StreamMode,
		postfix:       cfg.Postfix,
		maxBufferSize: cfg.MaxBufferSize,
		autoGrow:      cfg.AutoGrow,
	}
}

// feed drives the state machine over one receive completion's bytes,
// returning every fully reassembled message found, repeatedly, until the
// chunk is consumed or reassembly stalls (spec.md §4.3).
func (r *reassembler) feed(chunk []byte) ([][]byte, error) {
	switch r.mode {
	case profile.StreamRaw:
		if len(chunk) == 0 {
			return nil, nil
		}
		return [][]byte{append([]byte(nil), chunk...)}, nil
	case profile.StreamDisabled:
		return nil, errs.New(errs.CodeInvalidMode, "streamconn: stream traffic on a DISABLED connection", nil)
	case profile.StreamPostfix:
		return r.feedPostfix(chunk)
	case profile.StreamPrefixSize:
		return r.feedPrefixSize(chunk)
	default:
		return nil, errs.New(errs.CodeInvalidMode, "streamconn: unknown stream mode", nil)
	}
}

func (r *reassembler) feedPrefixSize(chunk []byte) ([][]byte, error) {
	var out [][]byte

	for len(chunk) > 0 {
		if !r.hasTarget {
			need := 4 - len(r.lenScratch)
			take := min(need, len(chunk))
			r.lenScratch = append(r.lenScratch, chunk[:take]...)
			chunk = chunk[take:]
			if len(r.lenScratch) < 4 {
				return out, nil
			}
			target := binary.LittleEndian.Uint32(r.lenScratch)
			r.lenScratch = nil
			if target > r.maxBufferSize {
				if !r.autoGrow {
					return out, errs.New(errs.CodeBufferOverflow, "streamconn: PREFIX_SIZE target exceeds max_buffer_size", nil)
				}
				r.maxBufferSize = target
			}
			r.hasTarget = true
			r.target = target
			r.partial = make([]byte, 0, target)
		}

		remain := int(r.target) - len(r.partial)
		take := min(remain, len(chunk))
		r.partial = append(r.partial, chunk[:take]...)
		chunk = chunk[take:]

		if len(r.partial) == int(r.target) {
			out = append(out, r.partial)
			r.partial = nil
			r.hasTarget = false
			r.target = 0
		}
	}
	return out, nil
}

func (r *reassembler) feedPostfix(chunk []byte) ([][]byte, error) {
	if len(r.postfix) == 0 {
		return nil, errs.New(errs.CodeInvalidProfile, "streamconn: POSTFIX mode requires a nonempty sentinel", nil)
	}
	var out [][]byte

	r.partial = append(r.partial, chunk...)
	for {
		searchFrom := 0
		idx := bytes.Index(r.partial[searchFrom:], r.postfix)
		if idx < 0 {
			break
		}
		idx += searchFrom
		msg := append([]byte(nil), r.partial[:idx]...)
		out = append(out, msg)
		rest := r.partial[idx+len(r.postfix):]
		r.partial = append([]byte(nil), rest...)
	}
	return out, nil
}

// PartialPercent is the partial-packet progress accessor of spec.md §4.3.
func (r *reassembler) PartialPercent() int {
	if !r.hasTarget || r.target == 0 {
		return 0
	}
	return int(uint64(len(r.partial)) * 100 / uint64(r.target))
}

// encode frames pkt's valid bytes for transmission under the connection's
// mode (spec.md §6 wire formats).
func encode(mode profile.StreamMode, postfix []byte, body []byte) ([]byte, error) {
	switch mode {
	case profile.StreamRaw:
		return body, nil
	case profile.StreamPrefixSize:
		out := make([]byte, 4+len(body))
		binary.LittleEndian.PutUint32(out, uint32(len(body)))
		copy(out[4:], body)
		return out, nil
	case profile.StreamPostfix:
		if len(postfix) == 0 {
			return nil, errs.New(errs.CodeInvalidProfile, "streamconn: POSTFIX mode requires a nonempty sentinel", nil)
		}
		out := make([]byte, 0, len(body)+len(postfix))
		out = append(out, body...)
		out = append(out, postfix...)
		return out, nil
	case profile.StreamDisabled:
		return nil, errs.New(errs.CodeInvalidMode, "streamconn: send on a DISABLED connection", nil)
	default:
		return nil, errs.New(errs.CodeInvalidMode, "streamconn: unknown stream mode", nil)
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// handshakeFrame always uses PREFIX_SIZE regardless of the payload framing
// mode (spec.md §6), so a peer can find handshake boundaries before the
// negotiated mode is in effect.
func handshakeFrame(body []byte) []byte {
	out := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(out, uint32(len(body)))
	copy(out[4:], body)
	return out
}
