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

// Package signing drives one configure-and-sign session for one app: it
// merges defaults with per-app overrides, applies the identifier protection
// policy, runs preflight checks and dispatches to a local or remote backend.
package signing

import (
	"context"
	"errors"

	"github.com/sassoftware/ipasign/identity"
	"github.com/sassoftware/ipasign/lib/ipa"
	"github.com/sassoftware/ipasign/signopts"
)

var (
	// ErrNoIdentity means no signing identity is selected; the caller should
	// run the add-identity flow and try again
	ErrNoIdentity = errors.New("no signing identity selected")
	// ErrProtectionForced is returned when disabling PPQ protection while
	// the policy requires it
	ErrProtectionForced = errors.New("PPQ protection is required by policy and cannot be disabled")
	// ErrSessionFrozen is returned by setters once signing has started
	ErrSessionFrozen = errors.New("session options cannot change after signing has started")
	// ErrAlreadySubmitted is returned when signing a session that is in flight
	ErrAlreadySubmitted = errors.New("signing is already in progress for this session")
	// ErrSessionClosed is returned when using a session after it finished
	ErrSessionClosed = errors.New("session is closed")
)

// ConfigurationStore persists the default signing options
type ConfigurationStore interface {
	LoadDefaults() (*signopts.Options, error)
	Save(*signopts.Options) error
}

// CertificateStore lists identities, newest first, and holds the selection
type CertificateStore interface {
	List() ([]*identity.Identity, error)
	SelectedIndex() (int, error)
}

// LocalSigner signs a package in-process. Sign writes the result to
// OutputPath(app).
type LocalSigner interface {
	Sign(ctx context.Context, app *ipa.App, opts *signopts.Options, icon []byte, ident *identity.Identity) error
	OutputPath(app *ipa.App) string
}

// RemoteSigner submits a package to a signing service and returns a link the
// signed app can be installed from
type RemoteSigner interface {
	Sign(ctx context.Context, app *ipa.App, opts *signopts.Options, ident *identity.Identity) (string, error)
}

// Detector looks for native payloads that bypass managed injection
type Detector interface {
	HasDisallowedPayload() (bool, error)
}

// NotificationService tells the user an app is ready. Delivery is best
// effort.
type NotificationService interface {
	SendReady(ctx context.Context, appName string) error
}

// ArtifactStore removes source packages
type ArtifactStore interface {
	Delete(ctx context.Context, app *ipa.App) error
}

// Installer starts installing a signed package on the user's device
type Installer interface {
	BeginInstall(ctx context.Context, artifactPath string, app *ipa.App) error
}
