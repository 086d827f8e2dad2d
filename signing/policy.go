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
	"github.com/sassoftware/ipasign/identity"
	"github.com/sassoftware/ipasign/lib/ipa"
	"github.com/sassoftware/ipasign/signopts"
)

// ExperienceMode is the user's declared account type
type ExperienceMode string

const (
	ModeDeveloper  ExperienceMode = "Developer"
	ModeEnterprise ExperienceMode = "Enterprise"
)

// IsForced reports whether PPQ protection is mandatory. Every stored
// identity is considered, not just the selected one: a single flagged
// certificate in the pool forces protection everywhere.
func IsForced(pool []*identity.Identity, mode ExperienceMode) bool {
	return mode == ModeEnterprise || identity.AnyPPQCheck(pool)
}

// PPQIdentifier derives the protected bundle identifier
func PPQIdentifier(original, token string) string {
	return original + "." + token
}

// ApplyIdentifier derives the bundle identifier override for app. A
// remembered remap wins over the PPQ-derived identifier; with neither, opts
// is left as it is.
func ApplyIdentifier(app *ipa.App, opts *signopts.Options, ident *identity.Identity) {
	if opts.PPQProtection && ident != nil && ident.PPQCheck {
		opts.AppIdentifier = signopts.String(PPQIdentifier(app.Identifier, opts.PPQString))
	}
	if remapped, ok := opts.Identifiers[app.Identifier]; ok {
		opts.AppIdentifier = signopts.String(remapped)
	}
}

// Merge builds a session's options from the defaults for one app. Explicit
// remaps are applied after protection so a remembered rename always wins.
func Merge(defaults *signopts.Options, app *ipa.App, ident *identity.Identity, forced bool) *signopts.Options {
	opts := defaults.Clone()
	if forced {
		opts.PPQProtection = true
	}
	ApplyIdentifier(app, opts, ident)
	if renamed, ok := opts.DisplayNames[app.Name]; ok {
		opts.AppName = signopts.String(renamed)
	}
	return opts
}
