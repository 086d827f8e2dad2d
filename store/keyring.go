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

package store

import (
	"errors"

	"github.com/zalando/go-keyring"
)

const keyringService = "ipasign"

// ErrNoPassword is returned when no password was saved for an identity
var ErrNoPassword = errors.New("no password saved for identity; re-import it to save one")

// Keyring keeps PKCS#12 passwords in the OS keyring, keyed by identity ID
type Keyring struct {
	Service string
}

func (k Keyring) service() string {
	if k.Service == "" {
		return keyringService
	}
	return k.Service
}

// Password returns the saved password for an identity
func (k Keyring) Password(identityID string) (string, error) {
	pw, err := keyring.Get(k.service(), identityID)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNoPassword
	}
	return pw, err
}

// SetPassword saves the password for an identity
func (k Keyring) SetPassword(identityID, password string) error {
	return keyring.Set(k.service(), identityID, password)
}

// DeletePassword forgets the password for an identity. Missing entries are
// not an error.
func (k Keyring) DeletePassword(identityID string) error {
	err := keyring.Delete(k.service(), identityID)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}
