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

package signing

import (
	"context"
	"sync"
	"time"

	"github.com/sassoftware/ipasign/identity"
	"github.com/sassoftware/ipasign/lib/ipa"
	"github.com/sassoftware/ipasign/signopts"
	"github.com/sassoftware/ipasign/store"
)

type fakeLocal struct {
	mu    sync.Mutex
	calls int
	err   error
	block chan struct{}
	opts  *signopts.Options
	icon  []byte
	ident *identity.Identity
	ctx   context.Context
}

func (f *fakeLocal) Sign(ctx context.Context, app *ipa.App, opts *signopts.Options, icon []byte, ident *identity.Identity) error {
	f.mu.Lock()
	f.calls++
	f.opts, f.icon, f.ident, f.ctx = opts, icon, ident, ctx
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return f.err
}

func (f *fakeLocal) OutputPath(app *ipa.App) string {
	return "/out/" + app.Identifier + ".ipa"
}

func (f *fakeLocal) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRemote struct {
	mu    sync.Mutex
	calls int
	link  string
	err   error
}

func (f *fakeRemote) Sign(ctx context.Context, app *ipa.App, opts *signopts.Options, ident *identity.Identity) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.link, f.err
}

func (f *fakeRemote) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeDetector struct {
	found bool
	err   error
}

func (d fakeDetector) HasDisallowedPayload() (bool, error) {
	return d.found, d.err
}

type recorder struct {
	mu       sync.Mutex
	deleted  []string
	notified []string
	installs []string
	events   []string
	err      error
}

func (r *recorder) record(event string) {
	r.events = append(r.events, event)
}

func (r *recorder) Delete(ctx context.Context, app *ipa.App) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, app.Path)
	r.record("delete")
	return r.err
}

func (r *recorder) SendReady(ctx context.Context, appName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notified = append(r.notified, appName)
	return nil
}

func (r *recorder) BeginInstall(ctx context.Context, artifactPath string, app *ipa.App) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.installs = append(r.installs, artifactPath)
	r.record("install")
	return nil
}

func immediately(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

var testNow = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

type harness struct {
	store  *store.MemoryStore
	local  *fakeLocal
	remote *fakeRemote
	rec    *recorder
	method ServerMethod
	orch   *Orchestrator
}

func newHarness(defaults *signopts.Options, pool ...*identity.Identity) *harness {
	h := &harness{
		store:  store.NewMemoryStore(defaults, pool...),
		local:  new(fakeLocal),
		remote: &fakeRemote{link: "itms-services://?action=download-manifest&url=https://example.com/m.plist"},
		rec:    new(recorder),
	}
	h.orch = &Orchestrator{
		Config: h.store,
		Certs:  h.store,
		Mode:   ModeDeveloper,
		Method: func() ServerMethod { return h.method },
		Local:  h.local,
		Remote: h.remote,
		PostActions: PostActions{
			Artifacts:     h.rec,
			Notifier:      h.rec,
			NotifyEnabled: true,
			Installer:     h.rec,
			After:         immediately,
		},
		Now: func() time.Time { return testNow },
	}
	return h
}

func testApp() *ipa.App {
	return &ipa.App{
		Path:       "/src/foo.ipa",
		Identifier: "com.foo.bar",
		Name:       "Foo",
		Version:    "1.0",
	}
}

func defaultsWith(f func(*signopts.Options)) *signopts.Options {
	opts := signopts.Default()
	opts.PPQString = "xyz"
	if f != nil {
		f(opts)
	}
	return opts
}
