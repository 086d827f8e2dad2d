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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
)

// ResponseError is a non-success response that did not carry a problem
// document
type ResponseError struct {
	Method     string
	URL        string
	Status     string
	StatusCode int
	BodyText   string
}

func (e ResponseError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Method, e.URL, e.Status)
	if e.BodyText != "" {
		msg += ": " + e.BodyText
	}
	return msg
}

func (e ResponseError) Temporary() bool {
	return statusIsTemporary(e.StatusCode)
}

// FromResponse consumes an error response and converts it to a Problem if
// the server sent one, or a ResponseError otherwise
func FromResponse(resp *http.Response) error {
	defer resp.Body.Close()
	blob, err := io.ReadAll(io.LimitReader(resp.Body, 100000))
	if err != nil {
		return err
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "problem+json") {
		var p Problem
		if err := json.Unmarshal(blob, &p); err == nil {
			if p.Status == 0 {
				p.Status = resp.StatusCode
			}
			return p
		}
	}
	return ResponseError{
		Method:     resp.Request.Method,
		URL:        resp.Request.URL.String(),
		Status:     resp.Status,
		StatusCode: resp.StatusCode,
		BodyText:   strings.TrimSpace(string(blob)),
	}
}

func statusIsTemporary(code int) bool {
	switch code {
	case http.StatusGatewayTimeout,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusInsufficientStorage,
		http.StatusInternalServerError,
		http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

type temporary interface {
	Temporary() bool
}

// Temporary reports whether a request that failed with err is worth
// retrying, possibly against another server. Cancellation is not.
func Temporary(err error) bool {
	if err == nil {
		return false
	}
	var t temporary
	if errors.As(err, &t) && t.Temporary() {
		return true
	}
	var netErr net.Error
	switch {
	case errors.As(err, new(*os.SyscallError)):
		return true
	case errors.Is(err, io.ErrUnexpectedEOF):
		return true
	case errors.As(err, &netErr) && netErr.Timeout():
		return true
	}
	return false
}
