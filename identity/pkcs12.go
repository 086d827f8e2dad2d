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
	"os"
	"time"

	"github.com/google/uuid"
	"software.sslmate.com/src/go-pkcs12"
)

// ErrBadPassword is returned when a PKCS#12 file can't be decrypted
var ErrBadPassword = errors.New("incorrect password for PKCS#12 file")

// ImportPKCS12 reads a PKCS#12 bundle and its provisioning profile and
// builds an identity describing them. The nickname defaults to the
// certificate's common name, and the expiration is whichever of the
// certificate and profile runs out first.
func ImportPKCS12(p12Path, profilePath, password, nickname string) (*Identity, error) {
	blob, err := os.ReadFile(p12Path)
	if err != nil {
		return nil, err
	}
	_, cert, _, err := pkcs12.DecodeChain(blob, password)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, ErrBadPassword
		}
		return nil, fmt.Errorf("%s: %w", p12Path, err)
	}
	expiration := cert.NotAfter.UTC()
	if profilePath != "" {
		profile, err := ReadProfile(profilePath)
		if err != nil {
			return nil, err
		}
		if !profile.ExpirationDate.IsZero() && profile.ExpirationDate.Before(expiration) {
			expiration = profile.ExpirationDate.UTC()
		}
		if nickname == "" && cert.Subject.CommonName == "" {
			nickname = profile.Name
		}
	}
	if nickname == "" {
		nickname = cert.Subject.CommonName
	}
	return &Identity{
		ID:         uuid.NewString(),
		Nickname:   nickname,
		Expiration: expiration,
		P12Path:    p12Path,
		Profile:    profilePath,
		AddedAt:    time.Now().UTC(),
	}, nil
}
