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

// Package telemetry exposes the instance-wide counters MikeNet kept as
// instanceStatistics (bytes/packets sent and received, drops), supplemented
// into this engine per SPEC_FULL.md. Counters are Prometheus-backed so they
// compose with the rest of the pack's observability stack, and are also
// readable directly through the exported atomic fields of Counters.
package telemetry

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Counters tracks one instance's traffic. Every field except CapBreaches is
// also mirrored into a Prometheus counter, so a scrape sees the same numbers
// the fields hold; CapBreaches is kept only in its atomic field.
type Counters struct {
	BytesSent     atomic.Uint64
	BytesReceived atomic.Uint64
	PacketsSent   atomic.Uint64
	PacketsRecv   atomic.Uint64
	RecvDropped   atomic.Uint64
	CapBreaches   atomic.Uint64

	promBytes   *prometheus.CounterVec
	promPackets *prometheus.CounterVec
	promDrops   prometheus.Counter
	instance    string
}

// New builds Counters for instanceLabel, registering its Prometheus series
// against reg (pass prometheus.DefaultRegisterer to use the global one).
func New(reg prometheus.Registerer, instanceLabel string) *Counters {
	c := &Counters{instance: instanceLabel}

	c.promBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netengine",
		Name:      "bytes_total",
		Help:      "bytes transferred per instance and direction",
	}, []string{"instance", "direction"})

	c.promPackets = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netengine",
		Name:      "packets_total",
		Help:      "packets transferred per instance and direction",
	}, []string{"instance", "direction"})

	c.promDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "netengine",
		Name:        "recv_dropped_total",
		Help:        "packets dropped on receive due to capacity or demux mismatch",
		ConstLabels: prometheus.Labels{"instance": instanceLabel},
	})

	if reg != nil {
		_ = reg.Register(c.promBytes)
		_ = reg.Register(c.promPackets)
		_ = reg.Register(c.promDrops)
	}
	return c
}

// AddSent records n bytes / 1 packet sent.
func (c *Counters) AddSent(n int) {
	c.BytesSent.Add(uint64(n))
	c.PacketsSent.Add(1)
	if c.promBytes != nil {
		c.promBytes.WithLabelValues(c.instance, "sent").Add(float64(n))
		c.promPackets.WithLabelValues(c.instance, "sent").Inc()
	}
}

// AddReceived records n bytes / 1 packet received.
func (c *Counters) AddReceived(n int) {
	c.BytesReceived.Add(uint64(n))
	c.PacketsRecv.Add(1)
	if c.promBytes != nil {
		c.promBytes.WithLabelValues(c.instance, "received").Add(float64(n))
		c.promPackets.WithLabelValues(c.instance, "received").Inc()
	}
}

// AddDropped records a dropped receive (cap breach or demux mismatch).
func (c *Counters) AddDropped() {
	c.RecvDropped.Add(1)
	if c.promDrops != nil {
		c.promDrops.Inc()
	}
}

// AddCapBreach records a send/recv cap rejection.
func (c *Counters) AddCapBreach() {
	c.CapBreaches.Add(1)
}
