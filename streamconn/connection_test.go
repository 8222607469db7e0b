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
	"context"
	"net"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/netengine/completion"
	"github.com/sabouaram/netengine/memrecycle"
	"github.com/sabouaram/netengine/packet"
	"github.com/sabouaram/netengine/profile"
)

func testPool() *completion.Pool {
	return completion.New(context.Background(), 0, false)
}

func newTestPacket(s string) *packet.Packet {
	p := packet.New(0)
	_ = p.AddString([]byte(s), false)
	return p
}

func tcpPipe() (net.Conn, net.Conn, func()) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())

	acceptCh := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		acceptCh <- c
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	Expect(err).NotTo(HaveOccurred())
	server := <-acceptCh

	return client, server, func() {
		_ = client.Close()
		_ = server.Close()
		_ = ln.Close()
	}
}

var _ = Describe("Connection send/receive over a real TCP socket", func() {
	It("delivers a PREFIX_SIZE message end to end via the polled RecvTCP queue", func() {
		client, server, cleanup := tcpPipe()
		defer cleanup()

		cfg := profile.Default()
		cfg.MaxBufferSize = 4096
		cfg.SendMemoryCap = 1 << 20
		cfg.RecvMemoryCap = 1 << 20

		recv := New("server-side", server, cfg, nil, memrecycle.New(8, 0), nil, 1, 0, func() {}, testPool())
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go recv.RunReceiveLoop(ctx)

		send := New("client-side", client, cfg, nil, memrecycle.New(8, 0), nil, 1, 0, func() {}, testPool())
		pkt := newTestPacket("round trip payload")
		Expect(send.SendTCP(pkt, true, true)).To(Succeed())

		Eventually(recv.RecvQueueLen).Should(Equal(1))
		got, ok := recv.RecvTCP()
		Expect(ok).To(BeTrue())
		Expect(string(got.Snapshot())).To(Equal("round trip payload"))
	})

	It("rejects SendTCP once send_memory_cap would be exceeded", func() {
		client, server, cleanup := tcpPipe()
		defer cleanup()
		_ = server

		cfg := profile.Default()
		cfg.MaxBufferSize = 4096
		cfg.SendMemoryCap = 4
		cfg.RecvMemoryCap = 1 << 20

		send := New("client-side", client, cfg, nil, memrecycle.New(8, 0), nil, 1, 0, func() {}, testPool())
		pkt := newTestPacket("too big for the cap")
		err := send.SendTCP(pkt, true, true)
		Expect(err).To(HaveOccurred())
	})

	It("runs Shutdown without error and reaches DEAD once both sides have sent FIN", func() {
		client, server, cleanup := tcpPipe()
		defer cleanup()

		cfg := profile.Default()
		cfg.MaxBufferSize = 4096
		cfg.SendMemoryCap = 1 << 20
		cfg.RecvMemoryCap = 1 << 20
		cfg.GracefulDisconnect = true

		serverDead := make(chan struct{})
		clientDead := make(chan struct{})
		recv := New("server-side", server, cfg, nil, memrecycle.New(8, 0), nil, 1, 0, func() { close(serverDead) }, testPool())
		send := New("client-side", client, cfg, nil, memrecycle.New(8, 0), nil, 1, 0, func() { close(clientDead) }, testPool())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go recv.RunReceiveLoop(ctx)
		go send.RunReceiveLoop(ctx)

		Expect(send.Shutdown()).To(Succeed())
		Eventually(func() ConnectionStatus { return send.Status() }).Should(Equal(StatusNoSend))

		Expect(recv.Shutdown()).To(Succeed())

		Eventually(serverDead, "2s").Should(BeClosed())
		Eventually(clientDead, "2s").Should(BeClosed())
	})
})
