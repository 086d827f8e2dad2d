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

package signopts

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Appearance forces the UIUserInterfaceStyle of the signed app
type Appearance string

const (
	AppearanceDefault Appearance = "default"
	AppearanceLight   Appearance = "light"
	AppearanceDark    Appearance = "dark"
)

// SigningType selects how much of the signing pipeline runs
type SigningType string

const (
	// SigningDefault modifies the bundle and signs it with the selected identity
	SigningDefault SigningType = "default"
	// SigningModifyOnly applies bundle modifications but does not sign
	SigningModifyOnly SigningType = "modify-only"
	// SigningAdhoc signs without a certificate
	SigningAdhoc SigningType = "adhoc"
)

// MinimumDefault leaves MinimumOSVersion untouched
const MinimumDefault = "default"

// Options is a snapshot of everything that controls how one app gets signed.
// It is used both as the persisted defaults and as the per-session overlay.
type Options struct {
	AppName       *string `yaml:"app_name,omitempty" json:"app_name,omitempty"`
	AppIdentifier *string `yaml:"app_identifier,omitempty" json:"app_identifier,omitempty"`
	AppVersion    *string `yaml:"app_version,omitempty" json:"app_version,omitempty"`

	// Remap tables keyed by the original display name / bundle identifier
	DisplayNames map[string]string `yaml:"display_names,omitempty" json:"display_names,omitempty"`
	Identifiers  map[string]string `yaml:"identifiers,omitempty" json:"identifiers,omitempty"`

	PPQProtection     bool   `yaml:"ppq_protection" json:"ppq_protection"`
	DynamicProtection bool   `yaml:"dynamic_protection" json:"dynamic_protection"`
	PPQString         string `yaml:"ppq_string" json:"ppq_string"`

	InjectionFiles    []string `yaml:"injection_files,omitempty" json:"injection_files,omitempty"`
	DisInjectionFiles []string `yaml:"disinjection_files,omitempty" json:"disinjection_files,omitempty"`
	RemoveFiles       []string `yaml:"remove_files,omitempty" json:"remove_files,omitempty"`

	Appearance                              Appearance  `yaml:"appearance" json:"appearance"`
	MinimumAppRequirement                   string      `yaml:"minimum_app_requirement" json:"minimum_app_requirement"`
	SigningType                             SigningType `yaml:"signing_type" json:"signing_type"`
	FileSharing                             bool        `yaml:"file_sharing" json:"file_sharing"`
	ITunesFileSharing                       bool        `yaml:"itunes_file_sharing" json:"itunes_file_sharing"`
	ProMotion                               bool        `yaml:"promotion" json:"promotion"`
	GameMode                                bool        `yaml:"game_mode" json:"game_mode"`
	IPadFullscreen                          bool        `yaml:"ipad_fullscreen" json:"ipad_fullscreen"`
	RemoveURLScheme                         bool        `yaml:"remove_url_scheme" json:"remove_url_scheme"`
	RemoveProvisioning                      bool        `yaml:"remove_provisioning" json:"remove_provisioning"`
	ChangeLanguageFilesForCustomDisplayName bool        `yaml:"change_language_files" json:"change_language_files"`
	RemoveSupportedDevices                  bool        `yaml:"remove_supported_devices" json:"remove_supported_devices"`
	RemoveWatchPlaceholder                  bool        `yaml:"remove_watch_placeholder" json:"remove_watch_placeholder"`

	PostInstallAppAfterSigned bool `yaml:"post_install_after_signed" json:"post_install_after_signed"`
	PostDeleteAppAfterSigned  bool `yaml:"post_delete_after_signed" json:"post_delete_after_signed"`

	ExperimentSupportLiquidGlass          bool `yaml:"experiment_liquid_glass" json:"experiment_liquid_glass"`
	ExperimentReplaceSubstrateWithEllekit bool `yaml:"experiment_replace_substrate" json:"experiment_replace_substrate"`
}

// Default returns the factory defaults, including a freshly generated PPQ token
func Default() *Options {
	return &Options{
		DisplayNames:          make(map[string]string),
		Identifiers:           make(map[string]string),
		PPQString:             NewPPQString(),
		Appearance:            AppearanceDefault,
		MinimumAppRequirement: MinimumDefault,
		SigningType:           SigningDefault,
	}
}

// NewPPQString generates a random suffix token suitable for appending to a
// bundle identifier
func NewPPQString() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

// Clone returns a deep copy. Nil maps are normalized to empty ones so the
// copy can always be written to.
func (o *Options) Clone() *Options {
	c := *o
	c.AppName = cloneString(o.AppName)
	c.AppIdentifier = cloneString(o.AppIdentifier)
	c.AppVersion = cloneString(o.AppVersion)
	c.DisplayNames = maps.Clone(o.DisplayNames)
	if c.DisplayNames == nil {
		c.DisplayNames = make(map[string]string)
	}
	c.Identifiers = maps.Clone(o.Identifiers)
	if c.Identifiers == nil {
		c.Identifiers = make(map[string]string)
	}
	c.InjectionFiles = slices.Clone(o.InjectionFiles)
	c.DisInjectionFiles = slices.Clone(o.DisInjectionFiles)
	c.RemoveFiles = slices.Clone(o.RemoveFiles)
	return &c
}

// Equal reports whether two snapshots are identical. Empty and nil
// collections compare equal.
func (o *Options) Equal(other *Options) bool {
	if o == nil || other == nil {
		return o == other
	}
	a, b := *o, *other
	if !stringPtrEqual(a.AppName, b.AppName) ||
		!stringPtrEqual(a.AppIdentifier, b.AppIdentifier) ||
		!stringPtrEqual(a.AppVersion, b.AppVersion) ||
		!maps.Equal(a.DisplayNames, b.DisplayNames) ||
		!maps.Equal(a.Identifiers, b.Identifiers) ||
		!slices.Equal(a.InjectionFiles, b.InjectionFiles) ||
		!slices.Equal(a.DisInjectionFiles, b.DisInjectionFiles) ||
		!slices.Equal(a.RemoveFiles, b.RemoveFiles) {
		return false
	}
	// compare the remaining scalar fields by zeroing the reference-typed ones
	a.AppName, a.AppIdentifier, a.AppVersion = nil, nil, nil
	b.AppName, b.AppIdentifier, b.AppVersion = nil, nil, nil
	a.DisplayNames, a.Identifiers, b.DisplayNames, b.Identifiers = nil, nil, nil, nil
	a.InjectionFiles, a.DisInjectionFiles, a.RemoveFiles = nil, nil, nil
	b.InjectionFiles, b.DisInjectionFiles, b.RemoveFiles = nil, nil, nil
	return reflect.DeepEqual(a, b)
}

// Normalize fills in zero-valued enums, e.g. after decoding an older file
func (o *Options) Normalize() {
	if o.DisplayNames == nil {
		o.DisplayNames = make(map[string]string)
	}
	if o.Identifiers == nil {
		o.Identifiers = make(map[string]string)
	}
	if o.Appearance == "" {
		o.Appearance = AppearanceDefault
	}
	if o.MinimumAppRequirement == "" {
		o.MinimumAppRequirement = MinimumDefault
	}
	if o.SigningType == "" {
		o.SigningType = SigningDefault
	}
	if o.PPQString == "" {
		o.PPQString = NewPPQString()
	}
}

// Validate rejects unknown enum values
func (o *Options) Validate() error {
	switch o.SigningType {
	case SigningDefault, SigningModifyOnly, SigningAdhoc:
	default:
		return fmt.Errorf("signing_type: unknown type %q", o.SigningType)
	}
	switch o.Appearance {
	case AppearanceDefault, AppearanceLight, AppearanceDark:
	default:
		return fmt.Errorf("appearance: unknown appearance %q", o.Appearance)
	}
	return nil
}

// String returns a pointer to s, for populating the optional override fields
func String(s string) *string {
	return &s
}

// Value dereferences an optional override, falling back to def
func Value(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
