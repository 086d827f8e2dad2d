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

import (
	"errors"
	"fmt"
	"time"
)

// Identity is a signing certificate paired with the provisioning profile it
// is used with. Identities are imported externally and are read-only to the
// signing session.
type Identity struct {
	ID         string    `yaml:"id" json:"id"`
	Nickname   string    `yaml:"nickname" json:"nickname"`
	Expiration time.Time `yaml:"expiration" json:"expiration"`
	Revoked    bool      `yaml:"revoked" json:"revoked"`
	// PPQCheck marks an identity that requires bundle identifier protection
	PPQCheck bool      `yaml:"ppq_check" json:"ppq_check"`
	P12Path  string    `yaml:"p12_path" json:"p12_path"`
	Profile  string    `yaml:"provisioning_profile" json:"provisioning_profile"`
	AddedAt  time.Time `yaml:"added_at" json:"added_at"`
}

// ErrUnusable is returned when the selected identity can't sign anything
var ErrUnusable = errors.New("selected identity is unusable")

// Expired reports whether the certificate has passed its expiration time. A
// zero expiration is treated as unknown, not expired.
func (i *Identity) Expired(now time.Time) bool {
	return !i.Expiration.IsZero() && now.After(i.Expiration)
}

// Check returns an error wrapping ErrUnusable if the identity is revoked or
// expired
func (i *Identity) Check(now time.Time) error {
	switch {
	case i.Revoked:
		return fmt.Errorf("%w: %q is revoked", ErrUnusable, i.Nickname)
	case i.Expired(now):
		return fmt.Errorf("%w: %q expired on %s", ErrUnusable, i.Nickname, i.Expiration.Format(time.DateOnly))
	}
	return nil
}

// Clone returns a copy of the identity
func (i *Identity) Clone() *Identity {
	c := *i
	return &c
}

// AnyPPQCheck reports whether any identity in the pool is flagged
func AnyPPQCheck(pool []*Identity) bool {
	for _, id := range pool {
		if id != nil && id.PPQCheck {
			return true
		}
	}
	return false
}
