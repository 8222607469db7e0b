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

package registry_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/netengine/registry"
)

var _ = Describe("Registry", func() {
	It("assigns increasing ids to successive Add calls", func() {
		r := registry.New[int]()
		a := 1
		b := 2
		id1 := r.Add(&a)
		id2 := r.Add(&b)
		Expect(id1).To(Equal(0))
		Expect(id2).To(Equal(1))
		Expect(r.Len()).To(Equal(2))
	})

	It("resolves Get back to the stored value", func() {
		r := registry.New[string]()
		v := "hello"
		id := r.Add(&v)
		got, err := r.Get(id)
		Expect(err).NotTo(HaveOccurred())
		Expect(*got).To(Equal("hello"))
	})

	It("fails Get for an unknown or out-of-range id", func() {
		r := registry.New[int]()
		_, err := r.Get(0)
		Expect(err).To(HaveOccurred())

		v := 1
		id := r.Add(&v)
		_, err = r.Get(id + 1)
		Expect(err).To(HaveOccurred())
	})

	It("reuses the lowest freed id on the next Add", func() {
		r := registry.New[int]()
		a, b, c := 1, 2, 3
		id1 := r.Add(&a)
		id2 := r.Add(&b)
		r.Remove(id1)
		id3 := r.Add(&c)
		Expect(id3).To(Equal(id1))
		Expect(r.Len()).To(Equal(2))

		_, err := r.Get(id1)
		Expect(err).NotTo(HaveOccurred())
		_, err = r.Get(id2)
		Expect(err).NotTo(HaveOccurred())
	})

	It("is a no-op removing an id twice", func() {
		r := registry.New[int]()
		v := 1
		id := r.Add(&v)
		r.Remove(id)
		r.Remove(id)
		Expect(r.Len()).To(Equal(0))
	})
})
