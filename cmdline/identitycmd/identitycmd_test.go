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

package identitycmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sassoftware/ipasign/identity"
)

var now = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func testPool() []*identity.Identity {
	return []*identity.Identity{
		{ID: "a", Nickname: "Work", Expiration: now.AddDate(1, 0, 0)},
		{ID: "b", Nickname: "Old", Expiration: now.AddDate(0, -1, 0)},
		{ID: "c", Nickname: "Flagged", PPQCheck: true, Revoked: true},
		{ID: "d", Nickname: "Old"},
	}
}

func TestLookup(t *testing.T) {
	pool := testPool()
	idx, err := lookup(pool, "2")
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
	idx, err = lookup(pool, "Work")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	_, err = lookup(pool, "4")
	assert.ErrorContains(t, err, "no identity at index 4")
	_, err = lookup(pool, "-1")
	assert.Error(t, err)
	_, err = lookup(pool, "Old")
	assert.ErrorContains(t, err, "more than one")
	_, err = lookup(pool, "Nobody")
	assert.ErrorContains(t, err, "no identity named")
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeTable(&buf, testPool(), 1, now))
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 5)
	assert.Contains(t, string(lines[1]), "Work")
	assert.Contains(t, string(lines[1]), "ok")
	assert.True(t, bytes.HasPrefix(lines[2], []byte("*")))
	assert.Contains(t, string(lines[2]), "expired")
	assert.Contains(t, string(lines[3]), "revoked,ppq-check")
	assert.Contains(t, string(lines[4]), " - ")
}
