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
	"sync"

	"github.com/sassoftware/ipasign/identity"
	"github.com/sassoftware/ipasign/signopts"
)

// MemoryStore is an in-memory implementation of the configuration and
// certificate stores for development and testing
type MemoryStore struct {
	mu       sync.RWMutex
	defaults *signopts.Options
	pool     []*identity.Identity
	selected int

	// Saves counts calls to Save
	Saves int
}

// NewMemoryStore creates a store holding defaults (factory defaults if nil)
// and the given identities, newest first
func NewMemoryStore(defaults *signopts.Options, pool ...*identity.Identity) *MemoryStore {
	if defaults == nil {
		defaults = signopts.Default()
	}
	return &MemoryStore{
		defaults: defaults.Clone(),
		pool:     pool,
	}
}

// LoadDefaults returns a copy of the stored defaults
func (s *MemoryStore) LoadDefaults() (*signopts.Options, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaults.Clone(), nil
}

// Save stores a copy of opts
func (s *MemoryStore) Save(opts *signopts.Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults = opts.Clone()
	s.Saves++
	return nil
}

// List returns copies of the stored identities
func (s *MemoryStore) List() ([]*identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*identity.Identity, len(s.pool))
	for i, id := range s.pool {
		result[i] = id.Clone()
	}
	return result, nil
}

// Add stores an identity at the front of the list
func (s *MemoryStore) Add(id *identity.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pool = append([]*identity.Identity{id.Clone()}, s.pool...)
	return nil
}

// Remove deletes an identity by ID
func (s *MemoryStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ident := range s.pool {
		if ident.ID == id {
			s.pool = append(s.pool[:i:i], s.pool[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// SelectedIndex returns the current selection
func (s *MemoryStore) SelectedIndex() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected, nil
}

// SetSelectedIndex changes the selection without bounds checking
func (s *MemoryStore) SetSelectedIndex(idx int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = idx
	return nil
}
