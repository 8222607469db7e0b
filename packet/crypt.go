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
	"crypto/aes"
	"crypto/cipher"
	"sync/atomic"

	"github.com/sabouaram/netengine/errs"
)

// Key is a raw AES-256 key. The cipher itself is consumed, not designed
// (spec.md Non-goals); we reach for stdlib crypto/aes the same way the
// teacher's crypt package does, in CBC mode so the block-alignment padding
// rule of spec.md §4.1 is observable.
type Key [32]byte

// zeroIV is used for every CBC operation. Non-goal: encryption primitive
// design; the engine only needs a working, round-trippable in-place cipher,
// not a secure IV schedule.
var zeroIV [aes.BlockSize]byte

// CryptState is the tri-valued outcome of an outstanding async crypt op
// (spec.md §9 "is the operation finished" polling).
type CryptState int32

const (
	CryptPending CryptState = iota
	CryptDone
	CryptFailed
)

// CryptToken is returned by Encrypt/Decrypt when block=false. The packet
// tracks a single outstanding token at a time, matching the original's
// is_last_encryption_operation_finished semantics.
type CryptToken struct {
	state atomic.Int32
	err   error
}

// Poll returns the current state without blocking.
func (t *CryptToken) Poll() CryptState {
	return CryptState(t.state.Load())
}

// Err returns the failure, if any, once Poll reports CryptFailed.
func (t *CryptToken) Err() error {
	return t.err
}

func padToBlock(b []byte) []byte {
	rem := len(b) % aes.BlockSize
	if rem == 0 {
		return b
	}
	return append(b, make([]byte, aes.BlockSize-rem)...)
}

// Encrypt encrypts the packet's valid bytes in place under key. If block is
// false it returns immediately with a CryptToken and the packet is
// observably busy (PacketBusy from every method that writes or reads at the
// cursor) until the background goroutine finishes.
func (p *Packet) Encrypt(key Key, block bool) (*CryptToken, error) {
	return p.runCrypt(key, block, true)
}

// Decrypt is the inverse of Encrypt.
func (p *Packet) Decrypt(key Key, block bool) (*CryptToken, error) {
	return p.runCrypt(key, block, false)
}

// IsEncryptionDone reports whether the packet has no outstanding crypt op.
func (p *Packet) IsEncryptionDone() bool {
	return busyState(p.busy.Load()) != stateBusy
}

func (p *Packet) runCrypt(key Key, block, encrypt bool) (*CryptToken, error) {
	if !p.busy.CompareAndSwap(int32(stateIdle), int32(stateBusy)) {
		if busyState(p.busy.Load()) == stateBusy {
			return nil, errs.New(errs.CodePacketBusy, "packet: crypt already outstanding", nil)
		}
		p.busy.Store(int32(stateIdle))
		if !p.busy.CompareAndSwap(int32(stateIdle), int32(stateBusy)) {
			return nil, errs.New(errs.CodePacketBusy, "packet: crypt already outstanding", nil)
		}
	}

	tok := &CryptToken{}
	p.token = tok

	run := func() {
		err := p.doCrypt(key, encrypt)
		if err != nil {
			tok.err = err
			tok.state.Store(int32(CryptFailed))
			p.busy.Store(int32(stateFailed))
		} else {
			tok.state.Store(int32(CryptDone))
			p.busy.Store(int32(stateIdle))
		}
	}

	if block {
		run()
		if tok.err != nil {
			return tok, tok.err
		}
		return tok, nil
	}

	go run()
	return tok, nil
}

func (p *Packet) doCrypt(key Key, encrypt bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	blk, err := aes.NewCipher(key[:])
	if err != nil {
		return errs.New(errs.CodeInvalidProfile, "packet: bad key", err)
	}

	if encrypt {
		padded := padToBlock(append([]byte(nil), p.buf[:p.used]...))
		out := make([]byte, len(padded))
		cipher.NewCBCEncrypter(blk, zeroIV[:]).CryptBlocks(out, padded)
		p.buf = out
		p.used = len(out)
		if p.cursor > p.used {
			p.cursor = p.used
		}
		return nil
	}

	if p.used%aes.BlockSize != 0 {
		return errs.New(errs.CodeInvalidProfile, "packet: ciphertext not block-aligned", nil)
	}
	out := make([]byte, p.used)
	cipher.NewCBCDecrypter(blk, zeroIV[:]).CryptBlocks(out, p.buf[:p.used])
	p.buf = out
	// used_size is left at the padded length; callers that know the plain
	// length (e.g. via a separate prefix) trim it themselves, matching the
	// original's "padding stripped by the caller" contract (spec.md §8).
	return nil
}
