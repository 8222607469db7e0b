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

// Package errs provides the engine's error taxonomy: numeric codes grouped
// into families (Argument, Capacity, State, Timeout, Transport, Fatal), a
// chainable Error type compatible with errors.Is/errors.As, and a per-caller
// "last error" slot that replaces the process-wide singleton of the original
// C library (see DESIGN.md).
package errs

import (
	"errors"
	"fmt"
)

// Family groups CodeError values into the failure families of the engine.
type Family uint8

const (
	FamilyArgument Family = iota
	FamilyCapacity
	FamilyState
	FamilyTimeout
	FamilyTransport
	FamilyFatal
)

// CodeError is a numeric, stable error identity, analogous to an HTTP status
// code. Ranges are reserved per Family so a caller can bucket on Code/100.
type CodeError uint16

const (
	// Argument / precondition family (1xx).
	CodeInvalidInstance CodeError = 100 + iota
	CodeWrongInstanceType
	CodeInvalidClient
	CodeInvalidMode
	CodeInvalidProfile
)

const (
	// Capacity family (2xx).
	CodeSendCapExceeded CodeError = 200 + iota
	CodeRecvCapExceeded
	CodeBufferOverflow
	CodeServerFull
)

const (
	// State family (3xx).
	CodeShutdown CodeError = 300 + iota
	CodeNotConnected
	CodeAlreadyConnecting
	CodePacketUnderflow
	CodePacketBusy
)

const (
	// Timeout family (4xx).
	CodeHandshakeTimeout CodeError = 400 + iota
	CodeSendTimeout
	CodeConnectTimeout
)

const (
	// Transport family (5xx) — always carries an embedded OS error.
	CodeTransportError CodeError = 500
)

const (
	// Fatal family (6xx) — propagate to caller, kill the owning worker.
	CodeOutOfMemory CodeError = 600 + iota
	CodeNotStarted
	CodeCorruptInvariant
)

// FamilyOf buckets a CodeError into its Family by its hundreds digit.
func FamilyOf(c CodeError) Family {
	switch {
	case c >= 600:
		return FamilyFatal
	case c >= 500:
		return FamilyTransport
	case c >= 400:
		return FamilyTimeout
	case c >= 300:
		return FamilyState
	case c >= 200:
		return FamilyCapacity
	default:
		return FamilyArgument
	}
}

// Error is the engine's error type: a code, a message, and an optional
// wrapped cause. It implements errors.Is/errors.As via Unwrap.
type Error struct {
	Code  CodeError
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

// Unwrap exposes the wrapped cause so errors.Is/errors.As traverse it.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is (or wraps) an *Error with the same Code. A
// target that is not an *Error never matches.
func (e *Error) Is(target error) bool {
	var o *Error
	if errors.As(target, &o) {
		return o.Code == e.Code
	}
	return false
}

// Family returns the failure family this error belongs to.
func (e *Error) Family() Family {
	return FamilyOf(e.Code)
}

// New builds an Error with the given code and message, optionally wrapping
// a lower-level cause (an OS socket error for CodeTransportError, etc.).
func New(code CodeError, msg string, cause error) *Error {
	return &Error{Code: code, msg: msg, cause: cause}
}

// Wrap is a convenience for transport-layer failures: every OS socket error
// surfaced by netsock/streamconn/dgramconn is wrapped as CodeTransportError.
func Wrap(cause error) *Error {
	if cause == nil {
		return nil
	}
	return New(CodeTransportError, "transport error", cause)
}

// IsTimeout reports whether err is (or wraps) an Error of FamilyTimeout.
func IsTimeout(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Family() == FamilyTimeout
}

// IsFatal reports whether err is (or wraps) an Error of FamilyFatal.
func IsFatal(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Family() == FamilyFatal
}
