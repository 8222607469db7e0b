/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
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

package errs

import (
	"sync"
	"sync/atomic"
)

// CallerToken stands in for the thread-local slot the original C library
// used for its global "last error" object. Go has no notion of a thread ID
// stable enough to key on, so every caller that wants poll-style error
// retrieval must hold one explicitly, minted with NewCallerToken.
type CallerToken uint64

var tokenSeq uint64

// NewCallerToken mints a fresh, process-unique CallerToken.
func NewCallerToken() CallerToken {
	return CallerToken(atomic.AddUint64(&tokenSeq, 1))
}

var lastErrors sync.Map // map[CallerToken]error

// SetLast records err as the last failure observed under token. Passing a
// nil err clears the slot.
func SetLast(token CallerToken, err error) {
	if err == nil {
		lastErrors.Delete(token)
		return
	}
	lastErrors.Store(token, err)
}

// TakeLast returns and clears the last error recorded under token, mirroring
// the poll-style take_last_error() of spec.md §7.
func TakeLast(token CallerToken) error {
	v, ok := lastErrors.LoadAndDelete(token)
	if !ok {
		return nil
	}
	return v.(error)
}

// PeekLast returns the last error recorded under token without clearing it.
func PeekLast(token CallerToken) error {
	v, ok := lastErrors.Load(token)
	if !ok {
		return nil
	}
	return v.(error)
}
