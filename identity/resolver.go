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

package identity

// Source is the subset of the certificate store the resolver needs
type Source interface {
	// List returns every stored identity, most recently added first
	List() ([]*Identity, error)
	// SelectedIndex returns the persisted selection
	SelectedIndex() (int, error)
}

// Resolver selects the active identity by the persisted index. Nothing is
// cached: the underlying list may change between calls.
type Resolver struct {
	Source Source
}

// NewResolver returns a resolver reading from src
func NewResolver(src Source) *Resolver {
	return &Resolver{Source: src}
}

// Selected returns the identity at the stored index, or nil if the index is
// out of bounds for the current list.
func (r *Resolver) Selected() (*Identity, error) {
	pool, err := r.Source.List()
	if err != nil {
		return nil, err
	}
	idx, err := r.Source.SelectedIndex()
	if err != nil {
		return nil, err
	}
	if idx < 0 || idx >= len(pool) || pool[idx] == nil {
		return nil, nil
	}
	return pool[idx].Clone(), nil
}

// Pool returns all stored identities
func (r *Resolver) Pool() ([]*Identity, error) {
	return r.Source.List()
}
