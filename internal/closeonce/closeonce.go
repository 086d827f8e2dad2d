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

package closeonce

import (
	"sync"
	"sync/atomic"
)

// Closed runs a close function at most once and lets other goroutines wait
// for it to have happened
type Closed struct {
	done atomic.Bool
	mu   sync.Mutex
	ch   chan struct{}
	err  error
}

// Closed reports whether Close has completed
func (o *Closed) Closed() bool {
	return o.done.Load()
}

// Close invokes f the first time it is called. Later calls return the first
// call's error without invoking f.
func (o *Closed) Close(f func() error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Closed() {
		return o.err
	}
	if f != nil {
		o.err = f()
	}
	o.done.Store(true)
	if o.ch == nil {
		o.ch = make(chan struct{})
	}
	close(o.ch)
	return o.err
}

// Done returns a channel that is closed once Close has completed
func (o *Closed) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ch == nil {
		o.ch = make(chan struct{})
	}
	return o.ch
}
