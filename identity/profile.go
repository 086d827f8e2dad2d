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
	"fmt"
	"os"
	"time"

	"go.mozilla.org/pkcs7"
	"howett.net/plist"
)

// Profile is the subset of a .mobileprovision file needed to describe an
// identity
type Profile struct {
	Name                 string                 `plist:"Name"`
	TeamName             string                 `plist:"TeamName"`
	TeamIdentifier       []string               `plist:"TeamIdentifier"`
	Entitlements         map[string]interface{} `plist:"Entitlements"`
	ProvisionsAllDevices bool                   `plist:"ProvisionsAllDevices"`
	ExpirationDate       time.Time              `plist:"ExpirationDate"`
	UUID                 string                 `plist:"UUID"`
}

// ParseProfile decodes a provisioning profile, which is a PKCS#7 signed
// plist. The signature is not verified.
func ParseProfile(blob []byte) (*Profile, error) {
	p7, err := pkcs7.Parse(blob)
	if err != nil {
		return nil, fmt.Errorf("parsing provisioning profile: %w", err)
	}
	profile := new(Profile)
	if _, err := plist.Unmarshal(p7.Content, profile); err != nil {
		return nil, fmt.Errorf("parsing provisioning profile: %w", err)
	}
	return profile, nil
}

// ReadProfile reads and decodes a provisioning profile from disk
func ReadProfile(fp string) (*Profile, error) {
	blob, err := os.ReadFile(fp)
	if err != nil {
		return nil, err
	}
	profile, err := ParseProfile(blob)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fp, err)
	}
	return profile, nil
}

// TeamID returns the profile's team identifier
func (p *Profile) TeamID() string {
	if len(p.TeamIdentifier) > 0 {
		return p.TeamIdentifier[0]
	}
	return ""
}
