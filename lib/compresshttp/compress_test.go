//
// Copyright (c) SAS Institute Inc.
//
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
//

package compresshttp

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang/snappy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echo decodes the request body and sends it back encoded the same way
func echo(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		encoding := r.Header.Get("Content-Encoding")
		var body io.Reader = r.Body
		var out io.WriteCloser
		switch encoding {
		case EncodingGzip:
			gz, err := gzip.NewReader(r.Body)
			require.NoError(t, err)
			body = gz
			out = gzip.NewWriter(w)
		case EncodingSnappy:
			body = snappy.NewReader(r.Body)
			out = snappy.NewBufferedWriter(w)
		}
		plain, err := io.ReadAll(body)
		require.NoError(t, err)
		if out == nil {
			_, _ = w.Write(plain)
			return
		}
		w.Header().Set("Content-Encoding", encoding)
		_, _ = out.Write(plain)
		require.NoError(t, out.Close())
	})
}

func TestRoundTrip(t *testing.T) {
	srv := httptest.NewServer(echo(t))
	defer srv.Close()
	payload := bytes.Repeat([]byte("Payload/Foo.app/"), 1024)
	for _, encoding := range []string{"", EncodingIdentity, EncodingGzip, EncodingSnappy} {
		t.Run("Encoding_"+encoding, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, srv.URL, bytes.NewReader(payload))
			require.NoError(t, err)
			require.NoError(t, CompressRequest(req, encoding))
			if encoding != "" && encoding != EncodingIdentity {
				assert.Equal(t, AcceptedEncodings, req.Header.Get("Accept-Encoding"))
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.NoError(t, DecompressResponse(resp))
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, payload, body)
		})
	}
}

func TestUnsupported(t *testing.T) {
	assert.ErrorIs(t, Check("br"), ErrUnacceptableEncoding)
	assert.NoError(t, Check(EncodingSnappy))
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(nil))
	assert.ErrorIs(t, CompressRequest(req, "br"), ErrUnacceptableEncoding)

	resp := &http.Response{Header: http.Header{"Content-Encoding": {"br"}}, Body: io.NopCloser(nil)}
	assert.ErrorIs(t, DecompressResponse(resp), ErrUnacceptableEncoding)
}
