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

package httperror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromResponse(t *testing.T) {
	t.Run("Problem", func(t *testing.T) {
		w := httptest.NewRecorder()
		ErrInstallExpired.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		resp := w.Result()
		resp.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		err := FromResponse(resp)
		var p Problem
		require.ErrorAs(t, err, &p)
		assert.Equal(t, http.StatusGone, p.Status)
		assert.Equal(t, ProblemBase+"install-expired", p.Type)
		assert.False(t, Temporary(err))
	})
	t.Run("Plain", func(t *testing.T) {
		resp := &http.Response{
			Status:     "503 Service Unavailable",
			StatusCode: http.StatusServiceUnavailable,
			Header:     http.Header{"Content-Type": {"text/plain"}},
			Body:       io.NopCloser(strings.NewReader("try later\n")),
			Request:    httptest.NewRequest(http.MethodPost, "https://sign.example/sign", nil),
		}
		err := FromResponse(resp)
		var re ResponseError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, "POST https://sign.example/sign: 503 Service Unavailable: try later", err.Error())
		assert.True(t, Temporary(err))
	})
}

func TestTemporary(t *testing.T) {
	assert.False(t, Temporary(nil))
	assert.False(t, Temporary(context.Canceled))
	assert.False(t, Temporary(errors.New("bad certificate")))
	assert.True(t, Temporary(fmt.Errorf("reading: %w", io.ErrUnexpectedEOF)))
	assert.True(t, Temporary(os.NewSyscallError("connect", syscall.ECONNREFUSED)))
	assert.True(t, Temporary(Problem{Status: http.StatusTooManyRequests}))
	assert.False(t, Temporary(Problem{Status: http.StatusUnprocessableEntity}))
}
