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

package realip

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrusted(t *testing.T) {
	trusted, err := parseTrusted([]string{"10.0.0.0/8", "::1"})
	require.NoError(t, err)
	cases := []struct {
		Case, IP, XFF, Expected string
		Trusted                 bool
	}{
		{"Direct", "172.16.0.1", "", "172.16.0.1", false},
		{"DirectInternal", "10.0.0.1", "", "10.0.0.1", true},
		{"Spoofed", "172.16.0.1", "192.168.100.1", "172.16.0.1", false},
		{"OneHop", "10.0.0.1", "192.168.100.1", "192.168.100.1", true},
		{"OneHopUntrusted", "10.0.0.1", "172.16.0.1, 192.168.100.1", "192.168.100.1", true},
		{"TwoHops", "10.0.0.1", "192.168.100.1, 10.0.0.2", "192.168.100.1", true},
		{"AllTrusted", "10.0.0.1", "10.0.0.3, 10.0.0.2", "10.0.0.3", true},
		{"IPv6", "[::1]", "192.168.100.1", "192.168.100.1", true},
		{"Mapped", "[::ffff:10.0.0.1]", "192.168.100.1", "192.168.100.1", true},
	}
	for _, c := range cases {
		t.Run(c.Case, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = c.IP + ":12345"
			if c.XFF != "" {
				req.Header.Set("X-Forwarded-For", c.XFF)
			}
			actual, proxied := trusted.client(req)
			assert.Equal(t, c.Expected, actual)
			assert.Equal(t, c.Trusted, proxied)
		})
	}
}

func TestParseTrustedInvalid(t *testing.T) {
	_, err := parseTrusted([]string{"10.0.0.0/33"})
	assert.Error(t, err)
	_, err = parseTrusted([]string{"proxy.example"})
	assert.Error(t, err)
}

func TestBaseURL(t *testing.T) {
	mw, err := Middleware([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	var got string
	h := mw(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		got = BaseURL(req).String()
	}))
	newReq := func(remote string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:8443/install/x/manifest.plist", nil)
		req.RemoteAddr = remote
		req.Header.Set("X-Forwarded-Host", "apps.example.com")
		req.Header.Set("X-Forwarded-Proto", "https")
		return req
	}

	h.ServeHTTP(httptest.NewRecorder(), newReq("10.0.0.1:5555"))
	assert.Equal(t, "https://apps.example.com", got)

	h.ServeHTTP(httptest.NewRecorder(), newReq("172.16.0.1:5555"))
	assert.Equal(t, "http://127.0.0.1:8443", got)
}
