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
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sassoftware/ipasign/identity"
	"github.com/sassoftware/ipasign/lib/ipa"
	"github.com/sassoftware/ipasign/signopts"
)

// Orchestrator opens signing sessions and owns the collaborators they use.
// It holds no per-session state and can be shared.
type Orchestrator struct {
	Config ConfigurationStore
	Certs  CertificateStore
	Mode   ExperienceMode
	// Method reads the persisted backend switch at dispatch time. Nil means
	// MethodLocal.
	Method func() ServerMethod

	Local  LocalSigner
	Remote RemoteSigner
	// NewDetector returns the payload detector for an app. Nil skips the
	// bundle inspection part of preflight.
	NewDetector func(*ipa.App) Detector

	PostActions PostActions

	// Now replaces time.Now in tests
	Now func() time.Time
}

// Open starts a session for app. The options are the stored defaults merged
// with any remembered remaps for the app and with the protection policy.
func (o *Orchestrator) Open(ctx context.Context, app *ipa.App) (*Session, error) {
	defaults, forced, err := o.loadPinned()
	if err != nil {
		return nil, err
	}
	ident, err := o.resolver().Selected()
	if err != nil {
		return nil, fmt.Errorf("resolving signing identity: %w", err)
	}
	s := &Session{
		ID:     uuid.NewString(),
		App:    app,
		orch:   o,
		base:   defaults,
		ident:  ident,
		forced: forced,
		opts:   Merge(defaults, app, ident, forced),
	}
	zerolog.Ctx(ctx).Debug().
		Str("session", s.ID).
		Str("app", app.Identifier).
		Bool("ppq_forced", forced).
		Msg("opened signing session")
	return s, nil
}

// Forced reports whether the protection policy currently pins PPQ
// protection on
func (o *Orchestrator) Forced() (bool, error) {
	pool, err := o.Certs.List()
	if err != nil {
		return false, fmt.Errorf("listing identities: %w", err)
	}
	return IsForced(pool, o.Mode), nil
}

// SaveDefaults persists new defaults, pinning PPQ protection if the policy
// requires it
func (o *Orchestrator) SaveDefaults(opts *signopts.Options) error {
	forced, err := o.Forced()
	if err != nil {
		return err
	}
	if forced && !opts.PPQProtection {
		return ErrProtectionForced
	}
	return o.Config.Save(opts)
}

// loadPinned loads the defaults and, when protection is forced but the
// stored value is off, persists the pin so that every later load agrees
func (o *Orchestrator) loadPinned() (*signopts.Options, bool, error) {
	defaults, err := o.Config.LoadDefaults()
	if err != nil {
		return nil, false, fmt.Errorf("loading defaults: %w", err)
	}
	forced, err := o.Forced()
	if err != nil {
		return nil, false, err
	}
	if forced && !defaults.PPQProtection {
		defaults.PPQProtection = true
		if err := o.Config.Save(defaults); err != nil {
			return nil, false, fmt.Errorf("saving defaults: %w", err)
		}
	}
	return defaults, forced, nil
}

// writeRemaps remembers explicit renames for the source app. Setting a value
// back to the original forgets the remap.
func (o *Orchestrator) writeRemaps(app *ipa.App, name, bundleID *string) error {
	if name == nil && bundleID == nil {
		return nil
	}
	defaults, err := o.Config.LoadDefaults()
	if err != nil {
		return fmt.Errorf("loading defaults: %w", err)
	}
	if defaults.DisplayNames == nil {
		defaults.DisplayNames = make(map[string]string)
	}
	if defaults.Identifiers == nil {
		defaults.Identifiers = make(map[string]string)
	}
	remember(defaults.DisplayNames, app.Name, name)
	remember(defaults.Identifiers, app.Identifier, bundleID)
	if err := o.Config.Save(defaults); err != nil {
		return fmt.Errorf("saving remaps: %w", err)
	}
	return nil
}

func remember(table map[string]string, original string, value *string) {
	switch {
	case value == nil:
	case *value == original || *value == "":
		delete(table, original)
	default:
		table[original] = *value
	}
}

func (o *Orchestrator) resolver() *identity.Resolver {
	return identity.NewResolver(o.Certs)
}

func (o *Orchestrator) method() ServerMethod {
	if o.Method == nil {
		return MethodLocal
	}
	return o.Method()
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}
