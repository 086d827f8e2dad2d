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

package ipa

import (
	"archive/zip"
	"path"
	"strings"
)

// NativePayloads lists .dylib and .deb files inside the IPA that were not
// placed by the managed injection mechanism. Injected libraries live in a
// Frameworks directory; anything else is treated as foreign.
func NativePayloads(fp string) ([]string, error) {
	zr, err := zip.OpenReader(fp)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	var found []string
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		name := path.Clean(zf.Name)
		switch strings.ToLower(path.Ext(name)) {
		case ".deb":
			found = append(found, name)
		case ".dylib":
			if !underFrameworks(name) {
				found = append(found, name)
			}
		}
	}
	return found, nil
}

func underFrameworks(name string) bool {
	for _, part := range strings.Split(path.Dir(name), "/") {
		if part == "Frameworks" {
			return true
		}
	}
	return false
}

// Detector answers the preflight question for one IPA on disk
type Detector struct {
	Path string
}

// HasDisallowedPayload reports whether NativePayloads finds anything
func (d Detector) HasDisallowedPayload() (bool, error) {
	found, err := NativePayloads(d.Path)
	return len(found) != 0, err
}
