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

// Package profile implements ProfileConfig (spec.md §2/§6): the immutable
// bag of knobs applied at instance construction. Validation follows the
// teacher's socket/config pattern (a Validate() method per struct); loading
// from file/env is layered on top with viper, matching the teacher's config
// package conventions.
package profile

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/sabouaram/netengine/packet"
)

// StreamMode is the reliable-stream framing mode (spec.md §4.3).
type StreamMode int

const (
	StreamPrefixSize StreamMode = iota
	StreamPostfix
	StreamRaw
	StreamDisabled
)

func (m StreamMode) String() string {
	switch m {
	case StreamPrefixSize:
		return "PREFIX_SIZE"
	case StreamPostfix:
		return "POSTFIX"
	case StreamRaw:
		return "RAW"
	case StreamDisabled:
		return "DISABLED"
	default:
		return "UNKNOWN"
	}
}

// DatagramMode is the datagram demultiplexing mode (spec.md §4.4).
type DatagramMode int

const (
	DatagramCatchAll DatagramMode = iota
	DatagramCatchAllNo
	DatagramPerClient
	DatagramPerClientPerOperation
)

func (m DatagramMode) String() string {
	switch m {
	case DatagramCatchAll:
		return "CATCH_ALL"
	case DatagramCatchAllNo:
		return "CATCH_ALL_NO"
	case DatagramPerClient:
		return "PER_CLIENT"
	case DatagramPerClientPerOperation:
		return "PER_CLIENT_PER_OPERATION"
	default:
		return "UNKNOWN"
	}
}

// ProfileConfig is the full set of knobs spec.md §6 lists under "Profile".
type ProfileConfig struct {
	// Stream framing.
	StreamMode    StreamMode `mapstructure:"stream_mode"`
	Postfix       []byte     `mapstructure:"postfix"`
	AutoGrow      bool       `mapstructure:"auto_grow"`
	MaxBufferSize uint32     `mapstructure:"max_buffer_size" validate:"omitempty,min=1"`

	// Datagram demultiplexing.
	DatagramMode  DatagramMode `mapstructure:"datagram_mode"`
	NumOperations int          `mapstructure:"num_operations" validate:"omitempty,min=1"`
	DecryptKey    *packet.Key  `mapstructure:"-"`

	// Memory accounting.
	SendMemoryCap  uint64 `mapstructure:"send_memory_cap" validate:"required"`
	RecvMemoryCap  uint64 `mapstructure:"recv_memory_cap" validate:"required"`
	RecyclePackets int    `mapstructure:"recycle_packets"`
	RecyclePerCap  int    `mapstructure:"recycle_per_cap"`

	// Timeouts (milliseconds, matching spec.md's *_ms naming).
	HandshakeTimeoutMS uint32 `mapstructure:"handshake_timeout_ms" validate:"required"`
	SendTimeoutMS      uint32 `mapstructure:"send_timeout_ms" validate:"required"`
	ConnectTimeoutMS   uint32 `mapstructure:"connect_timeout_ms" validate:"required"`

	// Disconnect / transport knobs.
	GracefulDisconnect bool `mapstructure:"graceful_disconnect"`
	NoDelay            bool `mapstructure:"no_delay"`
	ReusablePort       bool `mapstructure:"reusable_port"`
	UDPEnabled         bool `mapstructure:"udp_enabled"`

	// Debug aid: route the completion pool's job count through an mpb bar.
	Progress bool `mapstructure:"progress"`

	NumThreads int `mapstructure:"num_threads" validate:"gte=0"`
}

// Default returns a ProfileConfig with the same conservative defaults the
// teacher's socket/config uses for its timeouts and caps.
func Default() ProfileConfig {
	return ProfileConfig{
		StreamMode:         StreamPrefixSize,
		DatagramMode:       DatagramCatchAll,
		NumOperations:      1,
		MaxBufferSize:      4 << 20,
		SendMemoryCap:      4 << 20,
		RecvMemoryCap:      4 << 20,
		RecyclePackets:     64,
		RecyclePerCap:      64 << 10,
		HandshakeTimeoutMS: 5000,
		SendTimeoutMS:      5000,
		ConnectTimeoutMS:   5000,
		GracefulDisconnect: true,
		NumThreads:         4,
	}
}

var valid = validator.New()

// Validate checks internal consistency beyond per-field struct tags: the
// "profile inconsistent" precondition family of spec.md §7 (e.g. POSTFIX
// mode with an empty sentinel).
func (c ProfileConfig) Validate() error {
	if err := valid.Struct(c); err != nil {
		return fmt.Errorf("profile: %w", err)
	}
	if c.StreamMode == StreamPostfix && len(c.Postfix) == 0 {
		return fmt.Errorf("profile: POSTFIX mode requires a nonempty postfix sentinel")
	}
	if c.DatagramMode == DatagramPerClientPerOperation && c.NumOperations < 1 {
		return fmt.Errorf("profile: PER_CLIENT_PER_OPERATION requires num_operations >= 1")
	}
	if c.MaxBufferSize == 0 && !c.AutoGrow {
		return fmt.Errorf("profile: max_buffer_size must be set unless auto_grow is enabled")
	}
	return nil
}
