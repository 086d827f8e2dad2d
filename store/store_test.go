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
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/sassoftware/ipasign/identity"
	"github.com/sassoftware/ipasign/lib/ipa"
	"github.com/sassoftware/ipasign/signopts"
)

func TestDiskStoreDefaults(t *testing.T) {
	dir := t.TempDir()
	s := NewDiskStore(dir)

	first, err := s.LoadDefaults()
	require.NoError(t, err)
	assert.NotEmpty(t, first.PPQString)

	// the generated token must survive a fresh handle
	second, err := NewDiskStore(dir).LoadDefaults()
	require.NoError(t, err)
	assert.True(t, first.Equal(second))

	second.PPQProtection = true
	second.Identifiers["com.foo.bar"] = "com.foo.renamed"
	require.NoError(t, s.Save(second))
	third, err := NewDiskStore(dir).LoadDefaults()
	require.NoError(t, err)
	assert.True(t, second.Equal(third))
}

func TestDiskStoreIdentities(t *testing.T) {
	s := NewDiskStore(t.TempDir())
	pool, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, pool)
	idx, err := s.SelectedIndex()
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Add(&identity.Identity{ID: "a", Nickname: "First", Expiration: exp}))
	require.NoError(t, s.Add(&identity.Identity{ID: "b", Nickname: "Second", PPQCheck: true}))
	pool, err = s.List()
	require.NoError(t, err)
	require.Len(t, pool, 2)
	assert.Equal(t, "Second", pool[0].Nickname)
	assert.True(t, pool[0].PPQCheck)
	assert.Equal(t, exp, pool[1].Expiration)

	require.NoError(t, s.SetSelectedIndex(1))
	idx, err = s.SelectedIndex()
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	require.NoError(t, s.Update("a", func(ident *identity.Identity) { ident.Revoked = true }))
	assert.ErrorIs(t, s.Update("zzz", func(*identity.Identity) {}), ErrNotFound)
	pool, err = s.List()
	require.NoError(t, err)
	assert.True(t, pool[1].Revoked)
	assert.False(t, pool[0].Revoked)

	require.NoError(t, s.Remove("a"))
	assert.ErrorIs(t, s.Remove("a"), ErrNotFound)
	pool, err = s.List()
	require.NoError(t, err)
	assert.Len(t, pool, 1)
	// selection is not adjusted; resolvers re-validate it
	got, err := identity.NewResolver(s).Selected()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDiskStoreSharedDirectory(t *testing.T) {
	dir := t.TempDir()
	a := NewDiskStore(dir)
	b := NewDiskStore(dir)
	require.NoError(t, a.Add(&identity.Identity{ID: "a", Nickname: "First"}))
	pool, err := a.List()
	require.NoError(t, err)
	require.Len(t, pool, 1)

	require.NoError(t, b.Add(&identity.Identity{ID: "b", Nickname: "Second"}))
	require.NoError(t, b.SetSelectedIndex(1))
	pool, err = a.List()
	require.NoError(t, err)
	require.Len(t, pool, 2)
	assert.Equal(t, "Second", pool[0].Nickname)
	idx, err := a.SelectedIndex()
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	opts := signopts.Default()
	opts.GameMode = true
	require.NoError(t, b.Save(opts))
	loaded, err := a.LoadDefaults()
	require.NoError(t, err)
	assert.True(t, loaded.GameMode)
}

func TestMemoryStore(t *testing.T) {
	defaults := signopts.Default()
	s := NewMemoryStore(defaults, &identity.Identity{ID: "a"})
	loaded, err := s.LoadDefaults()
	require.NoError(t, err)
	assert.True(t, defaults.Equal(loaded))
	loaded.GameMode = true
	again, _ := s.LoadDefaults()
	assert.False(t, again.GameMode)
	require.NoError(t, s.Save(loaded))
	assert.Equal(t, 1, s.Saves)

	require.NoError(t, s.Add(&identity.Identity{ID: "b"}))
	pool, _ := s.List()
	require.Len(t, pool, 2)
	assert.Equal(t, "b", pool[0].ID)
	require.NoError(t, s.Remove("b"))
	assert.ErrorIs(t, s.Remove("zz"), ErrNotFound)
}

func TestKeyring(t *testing.T) {
	keyring.MockInit()
	k := Keyring{}
	_, err := k.Password("abc")
	assert.ErrorIs(t, err, ErrNoPassword)
	require.NoError(t, k.SetPassword("abc", "hunter2"))
	pw, err := k.Password("abc")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", pw)
	require.NoError(t, k.DeletePassword("abc"))
	require.NoError(t, k.DeletePassword("abc"))
}

func TestFileArtifacts(t *testing.T) {
	fp := filepath.Join(t.TempDir(), "app.ipa")
	require.NoError(t, os.WriteFile(fp, []byte("x"), 0600))
	app := &ipa.App{Path: fp}
	require.NoError(t, FileArtifacts{}.Delete(context.Background(), app))
	_, err := os.Stat(fp)
	assert.ErrorIs(t, err, os.ErrNotExist)
	require.NoError(t, FileArtifacts{}.Delete(context.Background(), app))
}
