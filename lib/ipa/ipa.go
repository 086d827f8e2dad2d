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
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"howett.net/plist"
)

// App describes the source app of a signing session
type App struct {
	Path       string
	Identifier string
	Name       string
	Version    string
	// IsSigned is true if the bundle already carries a code signature
	IsSigned bool
}

type bundlePlist struct {
	Identifier  string `plist:"CFBundleIdentifier"`
	DisplayName string `plist:"CFBundleDisplayName"`
	Name        string `plist:"CFBundleName"`
	Version     string `plist:"CFBundleShortVersionString"`
	Executable  string `plist:"CFBundleExecutable"`
}

// Inspect reads the main bundle's Info.plist out of an IPA
func Inspect(fp string) (*App, error) {
	zr, err := zip.OpenReader(fp)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	appDir, plistBytes, err := readPlist(&zr.Reader)
	if err != nil {
		return nil, err
	}
	var bundle bundlePlist
	if _, err := plist.Unmarshal(plistBytes, &bundle); err != nil {
		return nil, fmt.Errorf("%s: %w", fp, err)
	}
	if bundle.Identifier == "" {
		return nil, errors.New("plist: CFBundleIdentifier is missing")
	}
	name := bundle.DisplayName
	if name == "" {
		name = bundle.Name
	}
	if name == "" {
		name = strings.TrimSuffix(path.Base(appDir), ".app")
	}
	return &App{
		Path:       fp,
		Identifier: bundle.Identifier,
		Name:       name,
		Version:    bundle.Version,
		IsSigned:   hasFile(&zr.Reader, path.Join(appDir, "_CodeSignature", "CodeResources")),
	}, nil
}

// readPlist finds the main bundle's Info.plist, skipping nested bundles
func readPlist(zr *zip.Reader) (string, []byte, error) {
	var found *zip.File
	for _, zf := range zr.File {
		if path.Base(zf.Name) != "Info.plist" {
			continue
		}
		parts := strings.Split(path.Clean(zf.Name), "/")
		if len(parts) != 3 || parts[0] != "Payload" || !strings.HasSuffix(parts[1], ".app") {
			continue
		}
		found = zf
		break
	}
	if found == nil {
		return "", nil, fmt.Errorf("info.plist: %w", os.ErrNotExist)
	}
	blob, err := readZipFile(found)
	return path.Dir(found.Name), blob, err
}

func readZipFile(zf *zip.File) ([]byte, error) {
	f, err := zf.Open()
	if err != nil {
		return nil, err
	}
	d, err := io.ReadAll(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return d, f.Close()
}

func hasFile(zr *zip.Reader, name string) bool {
	for _, zf := range zr.File {
		if zf.Name == name {
			return true
		}
	}
	return false
}
