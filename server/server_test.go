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

package server_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/netengine/client"
	"github.com/sabouaram/netengine/packet"
	"github.com/sabouaram/netengine/profile"
	"github.com/sabouaram/netengine/server"
	"github.com/sabouaram/netengine/streamconn"
)

func testProfile() profile.ProfileConfig {
	cfg := profile.Default()
	cfg.MaxBufferSize = 4096
	cfg.SendMemoryCap = 1 << 20
	cfg.RecvMemoryCap = 1 << 20
	cfg.HandshakeTimeoutMS = 2000
	cfg.ConnectTimeoutMS = 2000
	cfg.SendTimeoutMS = 2000
	return cfg
}

func startServer(cfg profile.ProfileConfig, maxClients uint64) (*server.Instance, context.CancelFunc, string) {
	inst, err := server.New(0, cfg, "127.0.0.1:0", "", maxClients, nil, nil)
	Expect(err).NotTo(HaveOccurred())

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = inst.Serve(ctx) }()
	return inst, cancel, inst.Addr().String()
}

var _ = Describe("Handshake and small PREFIX_SIZE echo", func() {
	It("assigns a ClientId and delivers a short message end to end", func() {
		cfg := testProfile()
		inst, cancel, addr := startServer(cfg, 0)
		defer cancel()
		defer func() { _ = inst.Shutdown() }()

		c := client.New(0, cfg, nil)
		ctx, ccancel := context.WithCancel(context.Background())
		defer ccancel()
		Expect(c.Connect(ctx, addr, "", nil)).To(Succeed())
		defer func() { _ = c.Disconnect() }()

		Expect(c.ClientID).To(Equal(uint64(1)))

		pkt := packet.New(0)
		_ = pkt.AddString([]byte("ping"), false)
		Expect(c.SendTCP(pkt, true, true)).To(Succeed())

		Eventually(func() bool {
			id, ok := inst.ClientJoined()
			return ok && id == 1
		}, "2s").Should(BeTrue())

		srvClient, ok := inst.Client(1)
		Expect(ok).To(BeTrue())

		var got *packet.Packet
		Eventually(func() bool {
			got, ok = srvClient.Stream.RecvTCP()
			return ok
		}, "2s").Should(BeTrue())
		Expect(string(got.Snapshot())).To(Equal("ping"))
	})
})

var _ = Describe("max_clients rejection and id reuse", func() {
	It("rejects a connection once max_clients is reached, and frees the id on disconnect", func() {
		cfg := testProfile()
		inst, cancel, addr := startServer(cfg, 1)
		defer cancel()
		defer func() { _ = inst.Shutdown() }()

		c1 := client.New(0, cfg, nil)
		ctx, ccancel := context.WithCancel(context.Background())
		defer ccancel()
		Expect(c1.Connect(ctx, addr, "", nil)).To(Succeed())
		Expect(c1.ClientID).To(Equal(uint64(1)))

		c2 := client.New(1, cfg, nil)
		err := c2.Connect(ctx, addr, "", nil)
		Expect(err).To(HaveOccurred())

		Expect(c1.Shutdown()).To(Succeed())
		Eventually(func() bool {
			id, ok := inst.ClientLeft()
			return ok && id == 1
		}, "2s").Should(BeTrue())

		c3 := client.New(2, cfg, nil)
		Expect(c3.Connect(ctx, addr, "", nil)).To(Succeed())
		Expect(c3.ClientID).To(Equal(uint64(1)))
		defer func() { _ = c3.Disconnect() }()
	})
})

var _ = Describe("Graceful disconnect", func() {
	It("reaches StatusNoSend on the client and removes it from the server's client table", func() {
		cfg := testProfile()
		inst, cancel, addr := startServer(cfg, 0)
		defer cancel()
		defer func() { _ = inst.Shutdown() }()

		c := client.New(0, cfg, nil)
		ctx, ccancel := context.WithCancel(context.Background())
		defer ccancel()
		Expect(c.Connect(ctx, addr, "", nil)).To(Succeed())

		Expect(c.Shutdown()).To(Succeed())
		Expect(c.Status()).To(Equal(streamconn.StatusNoSend))

		Eventually(func() int { return inst.ClientCount() }, "2s").Should(Equal(0))
	})
})

var _ = Describe("SendTCP to an unknown client", func() {
	It("fails with an invalid-client error", func() {
		cfg := testProfile()
		inst, cancel, _ := startServer(cfg, 0)
		defer cancel()
		defer func() { _ = inst.Shutdown() }()

		pkt := packet.New(0)
		_ = pkt.AddString([]byte("x"), false)
		Expect(inst.SendTCP(99, pkt, true, true)).To(HaveOccurred())
	})
})

var _ = Describe("Server shutdown drains in-flight clients", func() {
	It("completes without hanging once every client has disconnected", func() {
		cfg := testProfile()
		inst, cancel, addr := startServer(cfg, 0)
		defer cancel()

		c := client.New(0, cfg, nil)
		ctx, ccancel := context.WithCancel(context.Background())
		defer ccancel()
		Expect(c.Connect(ctx, addr, "", nil)).To(Succeed())
		Expect(c.Shutdown()).To(Succeed())

		done := make(chan struct{})
		go func() {
			_ = inst.Shutdown()
			close(done)
		}()
		Eventually(done, "2s").Should(BeClosed())
	})
})
