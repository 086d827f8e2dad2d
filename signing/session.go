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
	"bytes"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sassoftware/ipasign/identity"
	"github.com/sassoftware/ipasign/lib/ipa"
	"github.com/sassoftware/ipasign/signopts"
)

type sessionState int

const (
	stateOpen sessionState = iota
	stateSigning
	stateClosed
)

// Session is one configure-and-sign action for one app. Configuration is
// synchronous; once Sign dispatches, the options are frozen and the session
// is discarded when the backend finishes.
type Session struct {
	ID  string
	App *ipa.App

	orch   *Orchestrator
	base   *signopts.Options
	ident  *identity.Identity
	forced bool

	mu               sync.Mutex
	state            sessionState
	opts             *signopts.Options
	icon             []byte
	nameEdited       bool
	identifierEdited bool
	progress         func(signing bool)
}

// Options returns a copy of the current options
func (s *Session) Options() *signopts.Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.Clone()
}

// Forced reports whether PPQ protection was pinned on when the session
// opened
func (s *Session) Forced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forced
}

// Icon returns the replacement icon, if any
func (s *Session) Icon() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.icon)
}

// Signing reports whether a dispatch is in flight
func (s *Session) Signing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateSigning
}

// OnProgress registers a callback that is told when signing starts and
// stops
func (s *Session) OnProgress(f func(signing bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = f
}

// stateErr reports why the session can no longer be edited. The caller
// holds s.mu.
func (s *Session) stateErr() error {
	switch s.state {
	case stateSigning:
		return ErrSessionFrozen
	case stateClosed:
		return ErrSessionClosed
	}
	return nil
}

// edit runs f against the options while the session is still open
func (s *Session) edit(f func(*signopts.Options) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.stateErr(); err != nil {
		return err
	}
	return f(s.opts)
}

func (s *Session) SetAppName(name string) error {
	return s.edit(func(o *signopts.Options) error {
		o.AppName = signopts.String(name)
		s.nameEdited = true
		return nil
	})
}

func (s *Session) SetAppIdentifier(id string) error {
	return s.edit(func(o *signopts.Options) error {
		o.AppIdentifier = signopts.String(id)
		s.identifierEdited = true
		return nil
	})
}

func (s *Session) SetAppVersion(version string) error {
	return s.edit(func(o *signopts.Options) error {
		o.AppVersion = signopts.String(version)
		return nil
	})
}

// SetIcon replaces the app icon with a PNG image. Nil restores the original.
func (s *Session) SetIcon(png []byte) error {
	return s.edit(func(*signopts.Options) error {
		s.icon = bytes.Clone(png)
		return nil
	})
}

// SetPPQProtection toggles identifier protection. Disabling it while the
// policy forces it is refused and leaves the value on. Unless the user has
// set an identifier explicitly, the derived identifier follows the toggle.
func (s *Session) SetPPQProtection(enabled bool) error {
	return s.edit(func(o *signopts.Options) error {
		if s.forced && !enabled {
			return ErrProtectionForced
		}
		o.PPQProtection = enabled
		if !s.identifierEdited {
			o.AppIdentifier = s.base.Clone().AppIdentifier
			ApplyIdentifier(s.App, o, s.ident)
		}
		return nil
	})
}

// AddInjectionFile queues a tweak for injection. Duplicates are ignored.
func (s *Session) AddInjectionFile(path string) error {
	return s.edit(func(o *signopts.Options) error {
		if !slices.Contains(o.InjectionFiles, path) {
			o.InjectionFiles = append(o.InjectionFiles, path)
		}
		return nil
	})
}

func (s *Session) RemoveInjectionFile(path string) error {
	return s.edit(func(o *signopts.Options) error {
		o.InjectionFiles = slices.DeleteFunc(o.InjectionFiles, func(p string) bool { return p == path })
		return nil
	})
}

// Update applies arbitrary edits, e.g. feature toggles. The protection pin
// is reapplied afterwards and explicit renames are tracked.
func (s *Session) Update(f func(*signopts.Options)) error {
	return s.edit(func(o *signopts.Options) error {
		before := o.Clone()
		f(o)
		if s.forced {
			o.PPQProtection = true
		}
		if !sameString(before.AppName, o.AppName) {
			s.nameEdited = true
		}
		if !sameString(before.AppIdentifier, o.AppIdentifier) {
			s.identifierEdited = true
		}
		return nil
	})
}

// Reset discards every session edit, including the icon, and restores the
// options to exactly what the configuration store holds. Remap tables in
// the store are not touched.
func (s *Session) Reset() error {
	s.mu.Lock()
	err := s.stateErr()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	defaults, forced, err := s.orch.loadPinned()
	if err != nil {
		return err
	}
	return s.edit(func(o *signopts.Options) error {
		s.opts = defaults
		s.base = defaults.Clone()
		s.forced = forced
		s.icon = nil
		s.nameEdited = false
		s.identifierEdited = false
		return nil
	})
}

// Close abandons the session without signing. It has no effect once
// signing has started.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateOpen {
		s.state = stateClosed
	}
}

// Sign validates the session and dispatches it to the configured backend.
// Blocking problems (no identity, an unusable identity or a failed
// preflight) are returned directly and leave the session open. Otherwise
// the options are frozen and the returned future resolves once the backend
// and any post-actions finish; the session is closed after that.
//
// Cancelling ctx after dispatch does not stop the backend.
func (s *Session) Sign(ctx context.Context) (*Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateSigning:
		return nil, ErrAlreadySubmitted
	case stateClosed:
		return nil, ErrSessionClosed
	}
	ident, err := s.orch.resolver().Selected()
	if err != nil {
		return nil, err
	}
	if ident == nil {
		MetricBlocked.WithLabelValues("no_identity").Inc()
		return nil, ErrNoIdentity
	}
	if err := ident.Check(s.orch.now()); err != nil {
		MetricBlocked.WithLabelValues("identity").Inc()
		return nil, err
	}
	gate := PreflightGate{InjectionFiles: s.opts.InjectionFiles}
	if s.orch.NewDetector != nil {
		gate.Detector = s.orch.NewDetector(s.App)
	}
	if err := gate.Check().Err(); err != nil {
		MetricBlocked.WithLabelValues("preflight").Inc()
		return nil, err
	}
	method := s.orch.method()
	be, err := s.orch.selectBackend(method)
	if err != nil {
		return nil, err
	}
	j := job{
		app:      s.App,
		opts:     s.opts.Clone(),
		icon:     bytes.Clone(s.icon),
		identity: ident,
	}
	var name, bundleID *string
	if s.nameEdited {
		name = j.opts.AppName
	}
	if s.identifierEdited {
		bundleID = j.opts.AppIdentifier
	}
	s.state = stateSigning
	p := new(Pending)
	go s.run(context.WithoutCancel(ctx), be, method, j, name, bundleID, p)
	return p, nil
}

func (s *Session) run(ctx context.Context, be backend, method ServerMethod, j job, name, bundleID *string, p *Pending) {
	logger := zerolog.Ctx(ctx).With().
		Str("session", s.ID).
		Str("app", s.App.Identifier).
		Str("backend", be.name()).
		Str("method", method.String()).
		Logger()
	ctx = logger.WithContext(ctx)
	s.notifyProgress(true)
	logger.Info().Str("identity", j.identity.Nickname).Msg("signing started")
	start := time.Now()
	out := be.run(ctx, j)
	out.SessionID = s.ID
	out.Backend = be.name()
	out.Duration = time.Since(start)
	observe(be.name(), start, out.Err)
	if out.Err != nil {
		logger.Error().Err(out.Err).Msg("signing failed")
	} else {
		logger.Info().Dur("elapsed", out.Duration).Msg("signing finished")
		if err := s.orch.writeRemaps(s.App, name, bundleID); err != nil {
			logger.Warn().Err(err).Msg("could not remember renames")
		}
		if _, isLocal := be.(localBackend); isLocal {
			s.orch.PostActions.Run(ctx, s.App, j.opts, &out)
			if out.PostErr != nil {
				logger.Warn().Err(out.PostErr).Msg("post-signing actions failed")
			}
		}
	}
	s.mu.Lock()
	s.state = stateClosed
	s.mu.Unlock()
	s.notifyProgress(false)
	p.resolve(out)
}

func (s *Session) notifyProgress(signing bool) {
	s.mu.Lock()
	progress := s.progress
	s.mu.Unlock()
	if progress != nil {
		progress(signing)
	}
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
