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

package installer

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sassoftware/ipasign/internal/httperror"
	"github.com/sassoftware/ipasign/lib/ipa"
)

// Offer is a signed package made available for over-the-air install
type Offer struct {
	Token        string
	ArtifactPath string
	Identifier   string
	Version      string
	Title        string
	Expires      time.Time
}

type offerList struct {
	mu     sync.Mutex
	offers map[string]*Offer
}

func (l *offerList) add(o *Offer, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.offers == nil {
		l.offers = make(map[string]*Offer)
	}
	for token, old := range l.offers {
		if now.After(old.Expires) {
			delete(l.offers, token)
		}
	}
	l.offers[o.Token] = o
}

func (l *offerList) get(token string, now time.Time) (*Offer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o := l.offers[token]
	if o == nil {
		return nil, httperror.ErrInstallNotFound
	} else if now.After(o.Expires) {
		return nil, httperror.ErrInstallExpired
	}
	return o, nil
}

// newOffer describes the package at artifactPath. The metadata is read back
// from the package itself so the manifest matches what was signed; app is
// only a fallback.
func newOffer(artifactPath string, app *ipa.App, expires time.Time) *Offer {
	o := &Offer{
		Token:        uuid.NewString(),
		ArtifactPath: artifactPath,
		Expires:      expires,
	}
	if signed, err := ipa.Inspect(artifactPath); err == nil {
		app = signed
	}
	if app != nil {
		o.Identifier = app.Identifier
		o.Version = app.Version
		o.Title = app.Name
	}
	return o
}
