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

package dgramconn_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/netengine/dgramconn"
	"github.com/sabouaram/netengine/memrecycle"
	"github.com/sabouaram/netengine/netaddr"
	"github.com/sabouaram/netengine/profile"
)

func baseProfile(mode profile.DatagramMode) profile.ProfileConfig {
	cfg := profile.Default()
	cfg.DatagramMode = mode
	cfg.RecvMemoryCap = 4096
	cfg.NumOperations = 4
	return cfg
}

var _ = Describe("CATCH_ALL demux", func() {
	It("delivers every datagram to the single shared queue", func() {
		c := dgramconn.New(baseProfile(profile.DatagramCatchAll), memrecycle.New(8, 0), nil, nil)
		Expect(c.OnDatagram([]byte("one"), netaddr.Unset)).To(Succeed())
		Expect(c.OnDatagram([]byte("two"), netaddr.Unset)).To(Succeed())

		pkt, ok := c.RecvUDP(0, 0)
		Expect(ok).To(BeTrue())
		Expect(pkt.Snapshot()).To(Equal([]byte("one")))

		pkt, ok = c.RecvUDP(0, 0)
		Expect(ok).To(BeTrue())
		Expect(pkt.Snapshot()).To(Equal([]byte("two")))
	})
})

var _ = Describe("PER_CLIENT demux", func() {
	It("routes a client-prefixed datagram to that client's queue after BindClient", func() {
		cfg := baseProfile(profile.DatagramPerClient)
		addr, err := netaddr.Parse("127.0.0.1:5000")
		Expect(err).NotTo(HaveOccurred())

		c := dgramconn.New(cfg, memrecycle.New(8, 0), nil, nil)
		c.BindClient(42, addr)

		frame, err := c.Encode(42, 0, []byte("payload"))
		Expect(err).NotTo(HaveOccurred())

		Expect(c.OnDatagram(frame, addr)).To(Succeed())
		pkt, ok := c.RecvUDP(42, 0)
		Expect(ok).To(BeTrue())
		Expect(pkt.Snapshot()).To(Equal([]byte("payload")))
	})

	It("drops a datagram whose source address doesn't match the bound client address", func() {
		cfg := baseProfile(profile.DatagramPerClient)
		bound, _ := netaddr.Parse("127.0.0.1:5000")
		spoofed, _ := netaddr.Parse("127.0.0.1:5001")

		c := dgramconn.New(cfg, memrecycle.New(8, 0), nil, nil)
		c.BindClient(42, bound)

		frame, err := c.Encode(42, 0, []byte("payload"))
		Expect(err).NotTo(HaveOccurred())

		Expect(c.OnDatagram(frame, spoofed)).To(Succeed())
		Expect(c.QueueLen(42, 0)).To(Equal(0))
	})

	It("drops a client id with no binding at all", func() {
		cfg := baseProfile(profile.DatagramPerClient)
		c := dgramconn.New(cfg, memrecycle.New(8, 0), nil, nil)
		frame, err := c.Encode(99, 0, []byte("x"))
		Expect(err).NotTo(HaveOccurred())
		Expect(c.OnDatagram(frame, netaddr.Unset)).To(Succeed())
		Expect(c.QueueLen(99, 0)).To(Equal(0))
	})
})

var _ = Describe("PER_CLIENT_PER_OPERATION demux", func() {
	It("keeps each operation id's datagrams in a distinct queue", func() {
		cfg := baseProfile(profile.DatagramPerClientPerOperation)
		addr, _ := netaddr.Parse("127.0.0.1:6000")

		c := dgramconn.New(cfg, memrecycle.New(8, 0), nil, nil)
		c.BindClient(1, addr)

		f0, _ := c.Encode(1, 0, []byte("op0"))
		f1, _ := c.Encode(1, 1, []byte("op1"))
		Expect(c.OnDatagram(f0, addr)).To(Succeed())
		Expect(c.OnDatagram(f1, addr)).To(Succeed())

		p0, ok := c.RecvUDP(1, 0)
		Expect(ok).To(BeTrue())
		Expect(p0.Snapshot()).To(Equal([]byte("op0")))

		p1, ok := c.RecvUDP(1, 1)
		Expect(ok).To(BeTrue())
		Expect(p1.Snapshot()).To(Equal([]byte("op1")))
	})

	It("drops an operation id at or beyond num_operations", func() {
		cfg := baseProfile(profile.DatagramPerClientPerOperation)
		addr, _ := netaddr.Parse("127.0.0.1:6000")
		c := dgramconn.New(cfg, memrecycle.New(8, 0), nil, nil)
		c.BindClient(1, addr)

		frame, _ := c.Encode(1, uint64(cfg.NumOperations), []byte("oob"))
		Expect(c.OnDatagram(frame, addr)).To(Succeed())
		Expect(c.QueueLen(1, uint64(cfg.NumOperations))).To(Equal(0))
	})
})

var _ = Describe("UnbindClient", func() {
	It("drops a client's queued datagrams and binding", func() {
		cfg := baseProfile(profile.DatagramPerClient)
		addr, _ := netaddr.Parse("127.0.0.1:7000")
		c := dgramconn.New(cfg, memrecycle.New(8, 0), nil, nil)
		c.BindClient(5, addr)

		frame, _ := c.Encode(5, 0, []byte("x"))
		Expect(c.OnDatagram(frame, addr)).To(Succeed())
		Expect(c.QueueLen(5, 0)).To(Equal(1))

		c.UnbindClient(5)
		Expect(c.OnDatagram(frame, addr)).To(Succeed())
		Expect(c.QueueLen(5, 0)).To(Equal(0))
	})
})
