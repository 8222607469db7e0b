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
	"encoding/binary"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/netengine/profile"
)

var _ = Describe("PREFIX_SIZE framing", func() {
	It("reassembles a single message delivered in one chunk", func() {
		cfg := profile.Default()
		cfg.MaxBufferSize = 1024
		r := newReassembler(cfg)

		frame, err := encode(profile.StreamPrefixSize, nil, []byte("hello"))
		Expect(err).NotTo(HaveOccurred())

		msgs, err := r.feed(frame)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(1))
		Expect(msgs[0]).To(Equal([]byte("hello")))
	})

	It("reassembles a message fed one byte at a time, including across the length header", func() {
		cfg := profile.Default()
		cfg.MaxBufferSize = 1024
		r := newReassembler(cfg)

		frame, err := encode(profile.StreamPrefixSize, nil, []byte("fragmented payload"))
		Expect(err).NotTo(HaveOccurred())

		var got [][]byte
		for _, b := range frame {
			msgs, err := r.feed([]byte{b})
			Expect(err).NotTo(HaveOccurred())
			got = append(got, msgs...)
		}
		Expect(got).To(HaveLen(1))
		Expect(got[0]).To(Equal([]byte("fragmented payload")))
	})

	It("reassembles two back-to-back messages delivered in one chunk", func() {
		cfg := profile.Default()
		cfg.MaxBufferSize = 1024
		r := newReassembler(cfg)

		f1, _ := encode(profile.StreamPrefixSize, nil, []byte("one"))
		f2, _ := encode(profile.StreamPrefixSize, nil, []byte("two"))

		msgs, err := r.feed(append(f1, f2...))
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(Equal([][]byte{[]byte("one"), []byte("two")}))
	})

	It("rejects a length prefix beyond max_buffer_size unless auto_grow is set", func() {
		cfg := profile.Default()
		cfg.MaxBufferSize = 4
		r := newReassembler(cfg)

		hdr := make([]byte, 4)
		binary.LittleEndian.PutUint32(hdr, 100)
		_, err := r.feed(hdr)
		Expect(err).To(HaveOccurred())
	})

	It("reports PartialPercent proportional to bytes reassembled so far", func() {
		cfg := profile.Default()
		cfg.MaxBufferSize = 1024
		r := newReassembler(cfg)

		frame, _ := encode(profile.StreamPrefixSize, nil, []byte("0123456789"))
		_, err := r.feed(frame[:4+5])
		Expect(err).NotTo(HaveOccurred())
		Expect(r.PartialPercent()).To(Equal(50))
	})
})

var _ = Describe("POSTFIX framing", func() {
	It("splits on an arbitrary multi-byte sentinel, even across chunk boundaries", func() {
		cfg := profile.Default()
		cfg.StreamMode = profile.StreamPostfix
		cfg.Postfix = []byte("\r\n")
		r := newReassembler(cfg)

		f1, _ := encode(profile.StreamPostfix, cfg.Postfix, []byte("first"))
		f2, _ := encode(profile.StreamPostfix, cfg.Postfix, []byte("second"))
		whole := append(f1, f2...)

		var got [][]byte
		for i := 0; i < len(whole); i++ {
			msgs, err := r.feed(whole[i : i+1])
			Expect(err).NotTo(HaveOccurred())
			got = append(got, msgs...)
		}
		Expect(got).To(Equal([][]byte{[]byte("first"), []byte("second")}))
	})

	It("splits one chunk holding several sentinel-terminated messages", func() {
		cfg := profile.Default()
		cfg.StreamMode = profile.StreamPostfix
		cfg.Postfix = []byte("##")
		r := newReassembler(cfg)

		whole := []byte("abc##def##ghi##")
		msgs, err := r.feed(whole)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(Equal([][]byte{[]byte("abc"), []byte("def"), []byte("ghi")}))
	})
})

var _ = Describe("RAW framing", func() {
	It("passes each nonempty chunk through unchanged", func() {
		cfg := profile.Default()
		cfg.StreamMode = profile.StreamRaw
		r := newReassembler(cfg)

		msgs, err := r.feed([]byte("whatever, as-is"))
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(Equal([][]byte{[]byte("whatever, as-is")}))
	})
})

var _ = Describe("DISABLED framing", func() {
	It("rejects any stream traffic", func() {
		cfg := profile.Default()
		cfg.StreamMode = profile.StreamDisabled
		r := newReassembler(cfg)

		_, err := r.feed([]byte("nope"))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Shutdown state machine", func() {
	It("moves OPEN -> LOCAL_SENT_FIN -> BOTH_FIN as each side sends FIN", func() {
		var s stateBox
		Expect(s.Load()).To(Equal(Open))

		s.transitionOnLocalFin()
		Expect(s.Load()).To(Equal(LocalSentFin))

		s.transitionOnRemoteFin()
		Expect(s.Load()).To(Equal(BothFin))
	})

	It("moves OPEN -> REMOTE_SENT_FIN -> BOTH_FIN in the opposite order", func() {
		var s stateBox
		s.transitionOnRemoteFin()
		Expect(s.Load()).To(Equal(RemoteSentFin))
		s.transitionOnLocalFin()
		Expect(s.Load()).To(Equal(BothFin))
	})

	It("projects each ShutdownState to its observable ConnectionStatus", func() {
		Expect(Observe(Open)).To(Equal(StatusConnected))
		Expect(Observe(LocalSentFin)).To(Equal(StatusNoSend))
		Expect(Observe(RemoteSentFin)).To(Equal(StatusNoRecv))
		Expect(Observe(BothFin)).To(Equal(StatusNoSendRecv))
		Expect(Observe(Dead)).To(Equal(StatusNotConnected))
	})
})
