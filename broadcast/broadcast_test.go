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

package broadcast_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/netengine/broadcast"
	"github.com/sabouaram/netengine/packet"
	"github.com/sabouaram/netengine/profile"
)

var _ = Describe("BroadcastInstance", func() {
	var a, b *broadcast.Instance

	BeforeEach(func() {
		cfg := profile.Default()
		cfg.RecvMemoryCap = 1 << 20

		var err error
		a, err = broadcast.New(0, cfg, "127.0.0.1:0", "127.0.0.1:1", nil)
		Expect(err).NotTo(HaveOccurred())

		// Point b's announce target at a's actual bound port, standing in for
		// a real subnet broadcast address in this point-to-point test.
		b, err = broadcast.New(1, cfg, "127.0.0.1:0", aAddr(a), nil)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = a.Close()
		_ = b.Close()
	})

	It("delivers a single Send to the receive loop's queue", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go a.RunReceiveLoop(ctx)

		Expect(b.Send([]byte("announcement"))).To(Succeed())

		Eventually(func() bool {
			_, ok := a.RecvUDP()
			return ok
		}).Should(BeTrue())
	})

	It("repeats SendEvery on the given interval until ctx is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go a.RunReceiveLoop(ctx)

		pkt := packet.New(0)
		_ = pkt.AddString([]byte("beacon"), false)

		sendCtx, sendCancel := context.WithCancel(context.Background())
		go func() { _ = b.SendEvery(sendCtx, 10*time.Millisecond, pkt) }()

		Eventually(func() int {
			count := 0
			for {
				if _, ok := a.RecvUDP(); ok {
					count++
				} else {
					break
				}
			}
			return count
		}, time.Second, 20*time.Millisecond).Should(BeNumerically(">=", 2))

		sendCancel()
		cancel()
	})
})

func aAddr(inst *broadcast.Instance) string {
	return inst.LocalAddr()
}
