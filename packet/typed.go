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
	"math"

	"github.com/sabouaram/netengine/errs"
)

type littleEndian struct{}

// Numeric is the set of scalar types add<T>/get<T> support (spec.md §4.1).
type Numeric interface {
	~uint8 | ~int8 | ~uint16 | ~int16 | ~uint32 | ~int32 | ~uint64 | ~int64 | ~float32 | ~float64
}

func sizeOf[T Numeric]() int {
	var v T
	switch any(v).(type) {
	case uint8, int8:
		return 1
	case uint16, int16:
		return 2
	case uint32, int32, float32:
		return 4
	default:
		return 8
	}
}

// Add appends the native-order bytes of v at the cursor, advancing the
// cursor and growing usedSize/memorySize as needed (spec.md §4.1).
func Add[T Numeric](p *Packet, v T) error {
	if err := p.checkBusy(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	n := sizeOf[T]()
	at := p.cursor
	need := at + n
	p.growTo(need)
	if need > p.used {
		p.used = need
	}

	encodeInto(p.buf[at:at+n], v)
	p.cursor += n
	return nil
}

// Get reads sizeof(T) bytes at the cursor, advancing the cursor. It fails
// with PacketUnderflow (state unchanged) if that would read past usedSize.
func Get[T Numeric](p *Packet) (T, error) {
	var zero T
	if err := p.checkBusy(); err != nil {
		return zero, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	n := sizeOf[T]()
	if p.cursor+n > p.used {
		return zero, errs.New(errs.CodePacketUnderflow, "packet: read past used_size", nil)
	}
	v := decodeFrom[T](p.buf[p.cursor : p.cursor+n])
	p.cursor += n
	return v, nil
}

// SizeT is the size-typed integer documented in spec.md §4.1/§6: always
// serialized as 8 bytes regardless of platform width, little-endian.
type SizeT uint64

// AddSizeT writes v as a fixed 8-byte little-endian integer.
func AddSizeT(p *Packet, v SizeT) error {
	return Add(p, uint64(v))
}

// GetSizeT reads a fixed 8-byte little-endian integer.
func GetSizeT(p *Packet) (SizeT, error) {
	v, err := Get[uint64](p)
	return SizeT(v), err
}

func encodeInto[T Numeric](dst []byte, v T) {
	switch x := any(v).(type) {
	case uint8:
		dst[0] = x
	case int8:
		dst[0] = byte(x)
	case uint16:
		binary.LittleEndian.PutUint16(dst, x)
	case int16:
		binary.LittleEndian.PutUint16(dst, uint16(x))
	case uint32:
		binary.LittleEndian.PutUint32(dst, x)
	case int32:
		binary.LittleEndian.PutUint32(dst, uint32(x))
	case uint64:
		binary.LittleEndian.PutUint64(dst, x)
	case int64:
		binary.LittleEndian.PutUint64(dst, uint64(x))
	case float32:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(x))
	case float64:
		binary.LittleEndian.PutUint64(dst, math.Float64bits(x))
	}
}

func decodeFrom[T Numeric](src []byte) T {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return any(src[0]).(T)
	case int8:
		return any(int8(src[0])).(T)
	case uint16:
		return any(binary.LittleEndian.Uint16(src)).(T)
	case int16:
		return any(int16(binary.LittleEndian.Uint16(src))).(T)
	case uint32:
		return any(binary.LittleEndian.Uint32(src)).(T)
	case int32:
		return any(int32(binary.LittleEndian.Uint32(src))).(T)
	case uint64:
		return any(binary.LittleEndian.Uint64(src)).(T)
	case int64:
		return any(int64(binary.LittleEndian.Uint64(src))).(T)
	case float32:
		return any(math.Float32frombits(binary.LittleEndian.Uint32(src))).(T)
	case float64:
		return any(math.Float64frombits(binary.LittleEndian.Uint64(src))).(T)
	}
	return zero
}
