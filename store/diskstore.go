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

package store

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/peterbourgon/diskv"
	"gopkg.in/yaml.v3"

	"github.com/sassoftware/ipasign/identity"
	"github.com/sassoftware/ipasign/signopts"
)

const (
	keyDefaults   = "defaults"
	keyIdentities = "identities"
	keySelected   = "selected"
)

// ErrNotFound is returned when removing an identity that isn't stored
var ErrNotFound = errors.New("identity not found")

// DiskStore persists the signing defaults, the identity list and the
// selection index under a state directory. It satisfies both the
// configuration store and the certificate store contracts.
type DiskStore struct {
	dv *diskv.Diskv
	mu sync.Mutex
}

// NewDiskStore opens (creating if needed) a store rooted at dir
func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{
		// uncached: other ipasign processes write the same directory
		dv: diskv.New(diskv.Options{
			BasePath: dir,
			TempDir:  filepath.Join(dir, "tmp"),
		}),
	}
}

func (s *DiskStore) readYAML(key string, v interface{}) (bool, error) {
	blob, err := s.dv.Read(key)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("reading %s: %w", key, err)
	}
	if err := yaml.Unmarshal(blob, v); err != nil {
		return false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return true, nil
}

func (s *DiskStore) writeYAML(key string, v interface{}) error {
	blob, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.dv.WriteStream(key, bytes.NewReader(blob), true); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// LoadDefaults returns the persisted default options. The factory defaults
// are saved on first use so the generated PPQ token stays stable.
func (s *DiskStore) LoadDefaults() (*signopts.Options, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	opts := new(signopts.Options)
	ok, err := s.readYAML(keyDefaults, opts)
	if err != nil {
		return nil, err
	} else if !ok {
		opts = signopts.Default()
		if err := s.writeYAML(keyDefaults, opts); err != nil {
			return nil, err
		}
		return opts, nil
	}
	opts.Normalize()
	return opts, nil
}

// Save replaces the persisted default options
func (s *DiskStore) Save(opts *signopts.Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeYAML(keyDefaults, opts)
}

// List returns the stored identities, most recently added first
func (s *DiskStore) List() ([]*identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

func (s *DiskStore) listLocked() ([]*identity.Identity, error) {
	var pool []*identity.Identity
	if _, err := s.readYAML(keyIdentities, &pool); err != nil {
		return nil, err
	}
	return pool, nil
}

// Add stores a new identity at the front of the list
func (s *DiskStore) Add(id *identity.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool, err := s.listLocked()
	if err != nil {
		return err
	}
	pool = append([]*identity.Identity{id}, pool...)
	return s.writeYAML(keyIdentities, pool)
}

// Remove deletes an identity by ID. The selection index is left alone and
// may end up out of bounds.
func (s *DiskStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool, err := s.listLocked()
	if err != nil {
		return err
	}
	for i, ident := range pool {
		if ident.ID == id {
			pool = append(pool[:i], pool[i+1:]...)
			return s.writeYAML(keyIdentities, pool)
		}
	}
	return ErrNotFound
}

// Update applies f to the stored identity with the given ID
func (s *DiskStore) Update(id string, f func(*identity.Identity)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool, err := s.listLocked()
	if err != nil {
		return err
	}
	for _, ident := range pool {
		if ident.ID == id {
			f(ident)
			return s.writeYAML(keyIdentities, pool)
		}
	}
	return ErrNotFound
}

// SelectedIndex returns the persisted selection, defaulting to 0
func (s *DiskStore) SelectedIndex() (int, error) {
	blob, err := s.dv.Read(keySelected)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	idx, err := strconv.Atoi(strings.TrimSpace(string(blob)))
	if err != nil {
		return 0, fmt.Errorf("decoding %s: %w", keySelected, err)
	}
	return idx, nil
}

// SetSelectedIndex persists the selection. Bounds are not checked here.
func (s *DiskStore) SetSelectedIndex(idx int) error {
	return s.dv.Write(keySelected, []byte(strconv.Itoa(idx)))
}
