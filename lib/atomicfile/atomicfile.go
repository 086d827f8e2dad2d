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

package atomicfile

import (
	"errors"
	"io"
	"os"
	"path/filepath"
)

// File is written to a temporary sibling and renamed over the destination on
// Commit. Closing without committing discards the temporary.
type File interface {
	io.WriteCloser
	Name() string
	Commit() error
}

type atomicFile struct {
	name     string
	mode     os.FileMode
	tempfile *os.File
}

// New creates a temporary file next to name
func New(name string, mode os.FileMode) (File, error) {
	tempfile, err := os.CreateTemp(filepath.Dir(name), filepath.Base(name)+".tmp")
	if err != nil {
		return nil, err
	}
	return &atomicFile{name: name, mode: mode, tempfile: tempfile}, nil
}

func (f *atomicFile) Name() string {
	return f.name
}

func (f *atomicFile) Write(d []byte) (int, error) {
	if f.tempfile == nil {
		return 0, os.ErrClosed
	}
	return f.tempfile.Write(d)
}

func (f *atomicFile) Close() error {
	if f.tempfile == nil {
		return nil
	}
	f.tempfile.Close()
	os.Remove(f.tempfile.Name())
	f.tempfile = nil
	return nil
}

func (f *atomicFile) Commit() error {
	if f.tempfile == nil {
		return errors.New("file is closed")
	}
	if err := f.tempfile.Chmod(f.mode); err != nil {
		f.Close()
		return err
	}
	if err := f.tempfile.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.tempfile.Close(); err != nil {
		os.Remove(f.tempfile.Name())
		f.tempfile = nil
		return err
	}
	// rename can't overwrite on windows
	if err := os.Remove(f.name); err != nil && !os.IsNotExist(err) {
		os.Remove(f.tempfile.Name())
		f.tempfile = nil
		return err
	}
	if err := os.Rename(f.tempfile.Name(), f.name); err != nil {
		os.Remove(f.tempfile.Name())
		f.tempfile = nil
		return err
	}
	f.tempfile = nil
	return nil
}
