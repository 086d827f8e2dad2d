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

package zhttp

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggingMiddleware(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/dontlog":
			DontLog(r)
		case "/install/abc/manifest.plist":
		default:
			http.NotFound(w, r)
			return
		}
		hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("token", "abc")
		})
		AppendAccessLog(r, func(e *zerolog.Event) {
			e.Str("app", "com.foo.bar")
		})
		hlog.FromRequest(r).Info().Msg("serving manifest")
	})
	var buf bytes.Buffer
	mw := LoggingMiddleware(
		WithLogger(zerolog.New(&buf)),
		func(lc *loggingConfig) { lc.now = fakeTime() },
	)
	newReq := func(path string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		r.RemoteAddr = "192.168.1.1:12345"
		r.Header.Set("X-Request-Id", "00000000")
		r.Header.Set("User-Agent", "unittest")
		return r
	}

	t.Run("Logged", func(t *testing.T) {
		buf.Reset()
		w := httptest.NewRecorder()
		mw(h).ServeHTTP(w, newReq("/install/abc/manifest.plist"))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, `{"level":"info","ip":"192.168.1.1","req_id":"00000000","token":"abc","message":"serving manifest"}
{"level":"info","ip":"192.168.1.1","req_id":"00000000","token":"abc","method":"GET","url":"/install/abc/manifest.plist","status":200,"len":0,"dur":1000,"ttfb":2000,"ua":"unittest","app":"com.foo.bar"}
`, buf.String())
	})
	t.Run("DontLog", func(t *testing.T) {
		buf.Reset()
		w := httptest.NewRecorder()
		mw(h).ServeHTTP(w, newReq("/dontlog"))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, `{"level":"info","ip":"192.168.1.1","req_id":"00000000","token":"abc","message":"serving manifest"}
`, buf.String())
	})
}

func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	h := LoggingMiddleware(WithLogger(zerolog.New(&buf)))(RecoveryMiddleware(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, buf.String(), `"error":"boom"`)
}

func TestStripPort(t *testing.T) {
	assert.Equal(t, "127.0.0.1", StripPort("127.0.0.1:1234"))
	assert.Equal(t, "fe80::1", StripPort("[fe80::1]:1234"))
	assert.Equal(t, "fe80::1", StripPort("fe80::1"))
	assert.Equal(t, "@", StripPort("@"))
}

func fakeTime() func() time.Time {
	ts := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		ts = ts.Add(time.Second)
		return ts
	}
}
