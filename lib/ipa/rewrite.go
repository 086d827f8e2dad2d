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
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"howett.net/plist"
)

// Bundle is a mutable view of the main app bundle inside an IPA. Paths are
// relative to the .app directory.
type Bundle struct {
	AppDir string
	// Info is the decoded Info.plist; changes are written back on commit
	Info map[string]interface{}

	zr      *zip.Reader
	format  int
	removed []string
	added   map[string][]byte
}

// Files returns the bundle-relative names of every file in the bundle
func (b *Bundle) Files() []string {
	var names []string
	prefix := b.AppDir + "/"
	for _, zf := range b.zr.File {
		if rel, ok := strings.CutPrefix(zf.Name, prefix); ok && rel != "" && !zf.FileInfo().IsDir() {
			names = append(names, rel)
		}
	}
	return names
}

// Read returns the original contents of a bundle file
func (b *Bundle) Read(rel string) ([]byte, error) {
	if d, ok := b.added[rel]; ok {
		return d, nil
	}
	name := path.Join(b.AppDir, rel)
	for _, zf := range b.zr.File {
		if zf.Name == name {
			return readZipFile(zf)
		}
	}
	return nil, fmt.Errorf("%s: %w", name, os.ErrNotExist)
}

// Put adds or replaces a file in the bundle
func (b *Bundle) Put(rel string, data []byte) {
	b.added[path.Clean(rel)] = data
}

// Remove deletes a file, or a directory and everything under it
func (b *Bundle) Remove(rel string) {
	rel = path.Clean(strings.TrimPrefix(rel, "/"))
	b.removed = append(b.removed, rel)
	delete(b.added, rel)
}

func (b *Bundle) isRemoved(rel string) bool {
	for _, r := range b.removed {
		if rel == r || strings.HasPrefix(rel, r+"/") {
			return true
		}
	}
	return false
}

// Rewrite copies the IPA at src to w, letting fn modify the main bundle on the
// way through. Unmodified entries are copied without recompressing.
func Rewrite(src string, w io.Writer, fn func(*Bundle) error) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer zr.Close()
	appDir, plistBytes, err := readPlist(&zr.Reader)
	if err != nil {
		return err
	}
	b := &Bundle{
		AppDir: appDir,
		zr:     &zr.Reader,
		added:  make(map[string][]byte),
	}
	b.format, err = plist.Unmarshal(plistBytes, &b.Info)
	if err != nil {
		return fmt.Errorf("%s: Info.plist: %w", src, err)
	}
	if err := fn(b); err != nil {
		return err
	}
	info, err := plist.Marshal(b.Info, b.format)
	if err != nil {
		return err
	}
	b.added["Info.plist"] = info

	zw := zip.NewWriter(w)
	prefix := appDir + "/"
	for _, zf := range zr.File {
		rel, inBundle := strings.CutPrefix(zf.Name, prefix)
		if inBundle {
			if b.isRemoved(rel) {
				continue
			}
			if data, ok := b.added[rel]; ok {
				if err := writeEntry(zw, zf.Name, data); err != nil {
					return err
				}
				delete(b.added, rel)
				continue
			}
		}
		if err := zw.Copy(zf); err != nil {
			return err
		}
	}
	// new files go at the end, in a stable order
	remaining := make([]string, 0, len(b.added))
	for rel := range b.added {
		remaining = append(remaining, rel)
	}
	sort.Strings(remaining)
	for _, rel := range remaining {
		if err := writeEntry(zw, path.Join(appDir, rel), b.added[rel]); err != nil {
			return err
		}
	}
	return zw.Close()
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	f, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	return err
}
