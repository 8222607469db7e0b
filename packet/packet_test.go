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

package packet_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/netengine/packet"
)

var _ = Describe("Packet buffer invariant", func() {
	var p *packet.Packet

	BeforeEach(func() {
		p = packet.New(0)
	})

	It("starts empty with cursor and used_size at zero", func() {
		Expect(p.UsedSize()).To(Equal(0))
		Expect(p.Cursor()).To(Equal(0))
	})

	It("keeps cursor <= used_size <= memory_size after SetUsedSize grows the buffer", func() {
		Expect(p.SetUsedSize(16)).To(Succeed())
		Expect(p.UsedSize()).To(Equal(16))
		Expect(p.MemorySize()).To(BeNumerically(">=", 16))
		Expect(p.Cursor()).To(BeNumerically("<=", p.UsedSize()))
	})

	It("clamps cursor down when used_size shrinks below it", func() {
		Expect(p.SetUsedSize(16)).To(Succeed())
		Expect(p.SetCursor(16)).To(Succeed())
		Expect(p.SetUsedSize(4)).To(Succeed())
		Expect(p.Cursor()).To(Equal(4))
	})

	It("clears cursor, used_size, and delivery tags but keeps allocated memory", func() {
		Expect(p.SetUsedSize(8)).To(Succeed())
		p.ClientFrom = 7
		p.AgeClock = 42
		mem := p.MemorySize()

		Expect(p.Clear()).To(Succeed())

		Expect(p.UsedSize()).To(Equal(0))
		Expect(p.Cursor()).To(Equal(0))
		Expect(p.ClientFrom).To(Equal(uint64(0)))
		Expect(p.AgeClock).To(Equal(int64(0)))
		Expect(p.MemorySize()).To(Equal(mem))
	})

	It("rejects Erase ranges that exceed used_size", func() {
		Expect(p.SetUsedSize(4)).To(Succeed())
		Expect(p.Erase(0, 8)).To(HaveOccurred())
	})
})

var _ = Describe("Typed scalar accessors", func() {
	It("round-trips every supported numeric width little-endian", func() {
		p := packet.New(0)
		Expect(packet.Add[uint8](p, 0xAB)).To(Succeed())
		Expect(packet.Add[int16](p, -1234)).To(Succeed())
		Expect(packet.Add[uint32](p, 0xDEADBEEF)).To(Succeed())
		Expect(packet.Add[uint64](p, 0x0102030405060708)).To(Succeed())
		Expect(packet.Add[float64](p, 3.5)).To(Succeed())

		Expect(p.SetCursor(0)).To(Succeed())

		v1, err := packet.Get[uint8](p)
		Expect(err).NotTo(HaveOccurred())
		Expect(v1).To(Equal(uint8(0xAB)))

		v2, err := packet.Get[int16](p)
		Expect(err).NotTo(HaveOccurred())
		Expect(v2).To(Equal(int16(-1234)))

		v3, err := packet.Get[uint32](p)
		Expect(err).NotTo(HaveOccurred())
		Expect(v3).To(Equal(uint32(0xDEADBEEF)))

		v4, err := packet.Get[uint64](p)
		Expect(err).NotTo(HaveOccurred())
		Expect(v4).To(Equal(uint64(0x0102030405060708)))

		v5, err := packet.Get[float64](p)
		Expect(err).NotTo(HaveOccurred())
		Expect(v5).To(Equal(3.5))
	})

	It("fails with PacketUnderflow reading past used_size, without moving the cursor", func() {
		p := packet.New(0)
		Expect(packet.Add[uint8](p, 1)).To(Succeed())
		Expect(p.SetCursor(0)).To(Succeed())

		_, err := packet.Get[uint64](p)
		Expect(err).To(HaveOccurred())
		Expect(p.Cursor()).To(Equal(0))
	})

	It("always serializes SizeT as 8 bytes regardless of platform width", func() {
		p := packet.New(0)
		Expect(packet.AddSizeT(p, packet.SizeT(99))).To(Succeed())
		Expect(p.UsedSize()).To(Equal(8))
	})
})

var _ = Describe("Prefixed and raw strings", func() {
	It("round-trips a varuint-prefixed string", func() {
		p := packet.New(0)
		Expect(p.AddString([]byte("hello"), true)).To(Succeed())
		Expect(p.SetCursor(0)).To(Succeed())

		n, err := p.GetStringSize()
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(5))

		out, err := p.GetString(0, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal([]byte("hello")))
	})

	It("round-trips a raw fixed-length string with no prefix", func() {
		p := packet.New(0)
		Expect(p.AddString([]byte("abcd"), false)).To(Succeed())
		Expect(p.SetCursor(0)).To(Succeed())

		out, err := p.GetString(4, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal([]byte("abcd")))
	})

	It("trims one trailing NUL when nullTerminate is requested", func() {
		p := packet.New(0)
		Expect(p.AddString([]byte("abc\x00"), false)).To(Succeed())
		Expect(p.SetCursor(0)).To(Succeed())

		out, err := p.GetString(4, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal([]byte("abc")))
	})
})

var _ = Describe("In-place AES-256-CBC crypt", func() {
	var key packet.Key

	BeforeEach(func() {
		for i := range key {
			key[i] = byte(i)
		}
	})

	It("round-trips plaintext through blocking Encrypt then Decrypt", func() {
		p := packet.New(0)
		Expect(p.AddString([]byte("a netengine payload"), false)).To(Succeed())
		plain := append([]byte(nil), p.Snapshot()...)

		_, err := p.Encrypt(key, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Snapshot()).NotTo(Equal(plain))

		_, err = p.Decrypt(key, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Snapshot()[:len(plain)]).To(Equal(plain))
	})

	It("reports a non-blocking crypt op done through its token and IsEncryptionDone", func() {
		p := packet.New(0)
		Expect(p.AddString([]byte("payload"), false)).To(Succeed())

		tok, err := p.Encrypt(key, false)
		Expect(err).NotTo(HaveOccurred())

		Eventually(tok.Poll).Should(Equal(packet.CryptDone))
		Expect(p.IsEncryptionDone()).To(BeTrue())
	})

	It("rejects decrypting ciphertext that isn't block-aligned", func() {
		p := packet.New(0)
		Expect(p.AddString([]byte("odd"), false)).To(Succeed())

		_, err := p.Decrypt(key, true)
		Expect(err).To(HaveOccurred())
	})
})
