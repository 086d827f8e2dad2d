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

package defaultscmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sassoftware/ipasign/signopts"
)

func TestOptionKeys(t *testing.T) {
	keys := optionKeys()
	assert.Contains(t, keys, "ppq_protection")
	assert.Contains(t, keys, "app_name")
	assert.NotContains(t, keys, "display_names")
	assert.IsIncreasing(t, keys)
}

func TestSetOption(t *testing.T) {
	opts := signopts.Default()
	opts.PPQString = "xyz"
	opts.Identifiers["com.foo"] = "com.bar"

	updated, err := setOption(opts, "ppq_protection", "true")
	require.NoError(t, err)
	assert.True(t, updated.PPQProtection)
	assert.False(t, opts.PPQProtection, "input is not modified")
	assert.Equal(t, "com.bar", updated.Identifiers["com.foo"])
	assert.Equal(t, "xyz", updated.PPQString)

	updated, err = setOption(updated, "injection_files", "[/t/a.dylib, /t/b.deb]")
	require.NoError(t, err)
	assert.Equal(t, []string{"/t/a.dylib", "/t/b.deb"}, updated.InjectionFiles)

	updated, err = setOption(updated, "app_name", "Bar")
	require.NoError(t, err)
	assert.Equal(t, "Bar", *updated.AppName)
	updated, err = setOption(updated, "app_name", "")
	require.NoError(t, err)
	assert.Nil(t, updated.AppName)

	updated, err = setOption(updated, "signing_type", "adhoc")
	require.NoError(t, err)
	assert.Equal(t, signopts.SigningAdhoc, updated.SigningType)
}

func TestSetOptionErrors(t *testing.T) {
	opts := signopts.Default()
	_, err := setOption(opts, "bogus", "1")
	assert.ErrorContains(t, err, "unknown option")
	_, err = setOption(opts, "identifiers", "{}")
	assert.ErrorContains(t, err, "unknown option")
	_, err = setOption(opts, "game_mode", "maybe")
	assert.ErrorContains(t, err, "game_mode")
	_, err = setOption(opts, "appearance", "sepia")
	assert.ErrorContains(t, err, "appearance")
}

func TestFactoryReset(t *testing.T) {
	current := signopts.Default()
	current.PPQString = "xyz"
	current.GameMode = true
	current.DisplayNames["Foo"] = "Bar"

	fresh := factoryReset(current, true)
	assert.False(t, fresh.GameMode)
	assert.True(t, fresh.PPQProtection)
	assert.Equal(t, "xyz", fresh.PPQString)
	assert.Equal(t, map[string]string{"Foo": "Bar"}, fresh.DisplayNames)

	fresh.DisplayNames["x"] = "y"
	assert.NotContains(t, current.DisplayNames, "x")
	assert.False(t, factoryReset(current, false).PPQProtection)
}

func TestClearRemaps(t *testing.T) {
	opts := signopts.Default()
	opts.DisplayNames["Foo"] = "Bar"
	opts.Identifiers["com.foo"] = "com.bar"
	opts.Identifiers["com.baz"] = "com.qux"

	assert.Equal(t, 0, clearRemaps(opts, []string{"nothing"}))
	assert.Equal(t, 1, clearRemaps(opts, []string{"com.foo"}))
	assert.Equal(t, map[string]string{"com.baz": "com.qux"}, opts.Identifiers)
	assert.Equal(t, 2, clearRemaps(opts, nil))
	assert.Empty(t, opts.DisplayNames)
	assert.Empty(t, opts.Identifiers)
}
