/*
 * Copyright (c) SAS Institute Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package signcmd

import (
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sassoftware/ipasign/identity"
	"github.com/sassoftware/ipasign/lib/ipa"
	"github.com/sassoftware/ipasign/signing"
	"github.com/sassoftware/ipasign/signopts"
	"github.com/sassoftware/ipasign/store"
)

var dev = &identity.Identity{ID: "dev", Nickname: "Dev"}

func openSession(t *testing.T, mode signing.ExperienceMode, ident *identity.Identity, args ...string) (*cobra.Command, *signing.Session) {
	t.Helper()
	cmd := &cobra.Command{Use: "sign"}
	addFlags(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	defaults := signopts.Default()
	defaults.PPQString = "xyz"
	st := store.NewMemoryStore(defaults, ident)
	orch := &signing.Orchestrator{Config: st, Certs: st, Mode: mode}
	sess, err := orch.Open(context.Background(), &ipa.App{Path: "/src/Foo.ipa", Identifier: "com.foo.bar", Name: "Foo"})
	require.NoError(t, err)
	t.Cleanup(sess.Close)
	return cmd, sess
}

func TestApplyFlags(t *testing.T) {
	cmd, sess := openSession(t, signing.ModeDeveloper, dev,
		"--name", "Bar",
		"--bundle-id", "com.example.bar",
		"--inject", "/t/a.dylib", "--inject", "/t/b.deb",
		"--remove-file", "junk.txt",
		"--signing-type", "adhoc",
		"--appearance", "dark",
		"--install",
	)
	require.NoError(t, applyFlags(cmd, sess))
	opts := sess.Options()
	assert.Equal(t, "Bar", signopts.Value(opts.AppName, ""))
	assert.Equal(t, "com.example.bar", signopts.Value(opts.AppIdentifier, ""))
	assert.Equal(t, []string{"/t/a.dylib", "/t/b.deb"}, opts.InjectionFiles)
	assert.Equal(t, []string{"junk.txt"}, opts.RemoveFiles)
	assert.Equal(t, signopts.SigningAdhoc, opts.SigningType)
	assert.Equal(t, signopts.AppearanceDark, opts.Appearance)
	assert.True(t, opts.PostInstallAppAfterSigned)
	assert.False(t, opts.PostDeleteAppAfterSigned)
}

func TestApplyFlagsUntouched(t *testing.T) {
	cmd, sess := openSession(t, signing.ModeDeveloper, dev)
	before := sess.Options()
	require.NoError(t, applyFlags(cmd, sess))
	assert.True(t, before.Equal(sess.Options()))
}

func TestApplyFlagsPPQ(t *testing.T) {
	flagged := &identity.Identity{ID: "ppq", Nickname: "Flagged", PPQCheck: true}
	cmd, sess := openSession(t, signing.ModeDeveloper, flagged, "--ppq")
	require.NoError(t, applyFlags(cmd, sess))
	assert.Equal(t, "com.foo.bar.xyz", signopts.Value(sess.Options().AppIdentifier, ""))

	cmd, sess = openSession(t, signing.ModeDeveloper, flagged, "--ppq=false")
	assert.ErrorIs(t, applyFlags(cmd, sess), signing.ErrProtectionForced)

	cmd, sess = openSession(t, signing.ModeEnterprise, dev, "--ppq=false")
	assert.ErrorIs(t, applyFlags(cmd, sess), signing.ErrProtectionForced)

	cmd, sess = openSession(t, signing.ModeDeveloper, dev, "--ppq=false")
	require.NoError(t, applyFlags(cmd, sess))
	assert.False(t, sess.Options().PPQProtection)
}

func TestApplyFlagsInvalid(t *testing.T) {
	cmd, sess := openSession(t, signing.ModeDeveloper, dev, "--signing-type", "bogus")
	assert.ErrorContains(t, applyFlags(cmd, sess), "signing_type")
	cmd, sess = openSession(t, signing.ModeDeveloper, dev, "--appearance", "sepia")
	assert.ErrorContains(t, applyFlags(cmd, sess), "appearance")
}
