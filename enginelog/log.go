/*
 * MIT License
 *
 * Copyright (c) 2019 Nicolas JUHEL
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

// Package enginelog adapts the teacher's logger package to the engine. It
// keeps the logrus backend and the structured-field style but drops the
// multi-hook (syslog/gorm/gin) surface the teacher carries for its own
// breadth. Its callers are the server's handshake path and the CLI.
package enginelog

import (
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	once sync.Once
	base *logrus.Logger
)

// Logger returns the process-wide structured logger, lazily constructed.
func Logger() *logrus.Logger {
	once.Do(func() {
		base = logrus.New()
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	})
	return base
}

// For returns a logger entry tagged with the given component name, mirroring
// the teacher's logger.SetFields-style component tagging.
func For(component string) *logrus.Entry {
	return Logger().WithField("component", component)
}

// Instance tags an entry with both component and numeric instance id.
func Instance(component string, instanceID int) *logrus.Entry {
	return For(component).WithField("instance", instanceID)
}

// Client tags an entry with component, instance, and client id.
func Client(component string, instanceID int, clientID uint64) *logrus.Entry {
	return Instance(component, instanceID).WithField("client", clientID)
}
