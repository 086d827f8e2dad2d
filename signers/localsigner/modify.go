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

package localsigner

import (
	"fmt"
	"path"
	"strings"

	"howett.net/plist"

	"github.com/sassoftware/ipasign/lib/ipa"
	"github.com/sassoftware/ipasign/signopts"
)

const iconName = "AppIcon60x60@2x.png"

// modifier applies the bundle-level options to the app's Info.plist and
// contents before the signing tool runs
type modifier struct {
	opts *signopts.Options
	icon []byte
}

func (m modifier) apply(b *ipa.Bundle) error {
	opts := m.opts
	info := b.Info
	if opts.AppName != nil {
		info["CFBundleDisplayName"] = *opts.AppName
		if opts.ChangeLanguageFilesForCustomDisplayName {
			if err := renameLocalizations(b, *opts.AppName); err != nil {
				return err
			}
		}
	}
	if opts.AppIdentifier != nil {
		info["CFBundleIdentifier"] = *opts.AppIdentifier
	}
	if opts.AppVersion != nil {
		info["CFBundleShortVersionString"] = *opts.AppVersion
		info["CFBundleVersion"] = *opts.AppVersion
	}
	switch opts.Appearance {
	case signopts.AppearanceLight:
		info["UIUserInterfaceStyle"] = "Light"
	case signopts.AppearanceDark:
		info["UIUserInterfaceStyle"] = "Dark"
	}
	if opts.MinimumAppRequirement != "" && opts.MinimumAppRequirement != signopts.MinimumDefault {
		info["MinimumOSVersion"] = opts.MinimumAppRequirement
	}
	setTrue(info, opts.FileSharing, "UISupportsDocumentBrowser")
	setTrue(info, opts.ITunesFileSharing, "UIFileSharingEnabled")
	setTrue(info, opts.ProMotion, "CADisableMinimumFrameDurationOnPhone")
	setTrue(info, opts.GameMode, "GCSupportsGameMode")
	setTrue(info, opts.IPadFullscreen, "UIRequiresFullScreen")
	if opts.ExperimentSupportLiquidGlass {
		info["UIDesignRequiresCompatibility"] = false
	}
	if opts.RemoveURLScheme {
		delete(info, "CFBundleURLTypes")
	}
	if opts.RemoveSupportedDevices {
		delete(info, "UISupportedDevices")
	}
	if opts.RemoveProvisioning {
		b.Remove("embedded.mobileprovision")
	}
	if opts.RemoveWatchPlaceholder {
		b.Remove("com.apple.WatchPlaceholder")
		b.Remove("Watch")
	}
	for _, name := range opts.RemoveFiles {
		b.Remove(name)
	}
	if len(m.icon) != 0 {
		b.Put(iconName, m.icon)
		info["CFBundleIcons"] = map[string]interface{}{
			"CFBundlePrimaryIcon": map[string]interface{}{
				"CFBundleIconFiles": []interface{}{"AppIcon60x60"},
				"CFBundleIconName":  "AppIcon",
			},
		}
		delete(info, "CFBundleIcons~ipad")
	}
	return nil
}

func setTrue(info map[string]interface{}, enabled bool, key string) {
	if enabled {
		info[key] = true
	}
}

// renameLocalizations overrides the display name in every localized
// InfoPlist.strings so the new name shows regardless of device language
func renameLocalizations(b *ipa.Bundle, name string) error {
	for _, rel := range b.Files() {
		if path.Base(rel) != "InfoPlist.strings" || !strings.HasSuffix(path.Dir(rel), ".lproj") {
			continue
		}
		data, err := b.Read(rel)
		if err != nil {
			return err
		}
		strs := make(map[string]interface{})
		format, err := plist.Unmarshal(data, &strs)
		if err != nil {
			return fmt.Errorf("%s: %w", rel, err)
		}
		if format == plist.GNUStepFormat {
			format = plist.OpenStepFormat
		}
		for _, key := range []string{"CFBundleDisplayName", "CFBundleName"} {
			if _, ok := strs[key]; ok || key == "CFBundleDisplayName" {
				strs[key] = name
			}
		}
		out, err := plist.Marshal(strs, format)
		if err != nil {
			return err
		}
		b.Put(rel, out)
	}
	return nil
}
