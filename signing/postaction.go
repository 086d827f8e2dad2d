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
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sassoftware/ipasign/lib/ipa"
	"github.com/sassoftware/ipasign/signopts"
)

// DefaultInstallDelay lets transient UI settle before an install starts
const DefaultInstallDelay = 3500 * time.Millisecond

// PostActions runs the side effects of a successful local signing
type PostActions struct {
	Artifacts ArtifactStore
	Notifier  NotificationService
	// NotifyEnabled is the global notification switch
	NotifyEnabled bool
	Installer     Installer
	InstallDelay  time.Duration
	// After replaces time.After in tests
	After func(time.Duration) <-chan time.Time
}

// Run performs the post-actions selected by opts and records them in out.
// The source package is deleted before any install is requested. The ready
// notification runs alongside and its failure is only logged.
func (p *PostActions) Run(ctx context.Context, app *ipa.App, opts *signopts.Options, out *Outcome) {
	logger := zerolog.Ctx(ctx)
	var eg errgroup.Group
	if p.NotifyEnabled && p.Notifier != nil {
		appName := signopts.Value(opts.AppName, app.Name)
		eg.Go(func() error {
			if err := p.Notifier.SendReady(ctx, appName); err != nil {
				logger.Warn().Err(err).Str("app", appName).Msg("ready notification failed")
				return nil
			}
			out.Notified = true
			return nil
		})
	}
	var errs []error
	if opts.PostDeleteAppAfterSigned && !app.IsSigned && p.Artifacts != nil {
		if err := p.Artifacts.Delete(ctx, app); err != nil {
			errs = append(errs, fmt.Errorf("deleting source package: %w", err))
		} else {
			out.Deleted = true
		}
	}
	if opts.PostInstallAppAfterSigned && p.Installer != nil {
		<-p.after(p.delay())
		if err := p.Installer.BeginInstall(ctx, out.ArtifactPath, app); err != nil {
			errs = append(errs, fmt.Errorf("starting install: %w", err))
		} else {
			out.InstallRequested = true
		}
	}
	_ = eg.Wait()
	out.PostErr = errors.Join(errs...)
}

func (p *PostActions) delay() time.Duration {
	if p.InstallDelay > 0 {
		return p.InstallDelay
	}
	return DefaultInstallDelay
}

func (p *PostActions) after(d time.Duration) <-chan time.Time {
	if p.After != nil {
		return p.After(d)
	}
	return time.After(d)
}
