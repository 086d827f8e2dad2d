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

// Package logrotate writes log output to a file that is reopened whenever an
// external rotator moves it out of the way.
package logrotate

import (
	"os"
	"sync"
)

// Writer appends to the file at Path, reopening it if it is renamed or
// removed between writes
type Writer struct {
	Path string

	mu sync.Mutex
	f  *os.File
	fi os.FileInfo
}

// NewWriter opens path for appending
func NewWriter(path string) (*Writer, error) {
	w := &Writer{Path: path}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w, w.open()
}

func (w *Writer) open() error {
	f, err := os.OpenFile(w.Path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0640)
	if err != nil {
		return err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	if w.f != nil {
		w.f.Close()
	}
	w.f, w.fi = f, fi
	return nil
}

// rotated reports whether the path no longer refers to the open file
func (w *Writer) rotated() bool {
	if w.f == nil {
		return true
	}
	fi, err := os.Stat(w.Path)
	return err != nil || !os.SameFile(fi, w.fi)
}

func (w *Writer) Write(d []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rotated() {
		if err := w.open(); err != nil {
			return 0, err
		}
	}
	return w.f.Write(d)
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}
