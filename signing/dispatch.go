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
	"strconv"
	"strings"
	"time"

	"github.com/sassoftware/ipasign/identity"
	"github.com/sassoftware/ipasign/internal/closeonce"
	"github.com/sassoftware/ipasign/lib/ipa"
	"github.com/sassoftware/ipasign/signopts"
)

// ServerMethod is the persisted backend switch
type ServerMethod int

const (
	MethodLocal ServerMethod = iota
	MethodSemiLocal
	MethodRemoteCustom
)

func (m ServerMethod) String() string {
	switch m {
	case MethodLocal:
		return "local"
	case MethodSemiLocal:
		return "semi-local"
	case MethodRemoteCustom:
		return "remote"
	default:
		return "ServerMethod(" + strconv.Itoa(int(m)) + ")"
	}
}

// ParseServerMethod accepts either the name or the persisted integer
func ParseServerMethod(s string) (ServerMethod, error) {
	switch strings.ToLower(s) {
	case "0", "local":
		return MethodLocal, nil
	case "1", "semi-local", "semilocal":
		return MethodSemiLocal, nil
	case "2", "remote", "remote-custom":
		return MethodRemoteCustom, nil
	}
	return 0, fmt.Errorf("unknown server method %q", s)
}

// PostAction tells the caller what to offer the user after a success
type PostAction int

const (
	// ActionNone means post-actions already ran locally
	ActionNone PostAction = iota
	// ActionOfferInstallLink means the user should be offered to install from
	// or copy Outcome.InstallLink
	ActionOfferInstallLink
)

// Outcome is the single resolution of a dispatched session
type Outcome struct {
	SessionID string
	Backend   string
	// Err is the backend's error, unwrapped
	Err          error
	InstallLink  string
	ArtifactPath string
	Action       PostAction
	Duration     time.Duration

	Deleted          bool
	Notified         bool
	InstallRequested bool
	// PostErr collects failures of best-effort side effects after a success
	PostErr error
}

// OK reports whether signing succeeded
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Pending is the future returned by Session.Sign. It resolves exactly once.
type Pending struct {
	closed  closeonce.Closed
	outcome Outcome
}

func (p *Pending) resolve(o Outcome) {
	_ = p.closed.Close(func() error {
		p.outcome = o
		return nil
	})
}

// Done is closed once the outcome is available
func (p *Pending) Done() <-chan struct{} {
	return p.closed.Done()
}

// Wait blocks until the session resolves
func (p *Pending) Wait() Outcome {
	<-p.closed.Done()
	return p.outcome
}

// WaitContext blocks until the session resolves or ctx is done. Giving up on
// the wait does not cancel the backend.
func (p *Pending) WaitContext(ctx context.Context) (Outcome, error) {
	select {
	case <-p.closed.Done():
		return p.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// job is the frozen input handed to a backend
type job struct {
	app      *ipa.App
	opts     *signopts.Options
	icon     []byte
	identity *identity.Identity
}

// backend is one of the two execution strategies
type backend interface {
	name() string
	run(ctx context.Context, j job) Outcome
}

type localBackend struct {
	signer LocalSigner
}

func (b localBackend) name() string { return "local" }

func (b localBackend) run(ctx context.Context, j job) Outcome {
	err := b.signer.Sign(ctx, j.app, j.opts, j.icon, j.identity)
	if err != nil {
		return Outcome{Err: err}
	}
	return Outcome{ArtifactPath: b.signer.OutputPath(j.app)}
}

type remoteBackend struct {
	signer RemoteSigner
}

func (b remoteBackend) name() string { return "remote" }

func (b remoteBackend) run(ctx context.Context, j job) Outcome {
	link, err := b.signer.Sign(ctx, j.app, j.opts, j.identity)
	if err != nil {
		return Outcome{Err: err}
	}
	return Outcome{InstallLink: link, Action: ActionOfferInstallLink}
}

// selectBackend resolves the mode switch into a strategy
func (o *Orchestrator) selectBackend(method ServerMethod) (backend, error) {
	switch method {
	case MethodRemoteCustom:
		if o.Remote == nil {
			return nil, fmt.Errorf("server method %s selected but no remote signer is configured", method)
		}
		return remoteBackend{signer: o.Remote}, nil
	case MethodLocal, MethodSemiLocal:
		if o.Local == nil {
			return nil, fmt.Errorf("server method %s selected but no local signer is configured", method)
		}
		return localBackend{signer: o.Local}, nil
	default:
		return nil, fmt.Errorf("unknown server method %d", int(method))
	}
}
