// Copyright © SAS Institute Inc.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package zhttp

import (
	"net/http"
	"time"
)

// Logger wraps a ResponseWriter and records what was sent for the access log
type Logger struct {
	http.ResponseWriter

	status  int
	length  int64
	started time.Time
	Now     func() time.Time
}

// Write implements ResponseWriter
func (l *Logger) Write(d []byte) (int, error) {
	if l.status == 0 {
		l.WriteHeader(http.StatusOK)
	}
	size, err := l.ResponseWriter.Write(d)
	l.length += int64(size)
	return size, err
}

// WriteHeader implements ResponseWriter. Only the first call is passed on.
func (l *Logger) WriteHeader(status int) {
	if l.status == 0 {
		l.ResponseWriter.WriteHeader(status)
		l.started = l.Now()
	}
	l.status = status
}

// Flush wraps a nested Flusher
func (l *Logger) Flush() {
	if flusher, ok := l.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer
func (l *Logger) Unwrap() http.ResponseWriter {
	return l.ResponseWriter
}

// Length returns the number of bytes written
func (l *Logger) Length() int64 {
	return l.length
}

// Status returns the response status
func (l *Logger) Status() int {
	if l.status == 0 {
		return http.StatusOK
	}
	return l.status
}

// Started returns the time at which headers were written
func (l *Logger) Started() time.Time {
	if l.started.IsZero() {
		return l.Now()
	}
	return l.started
}
