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
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"github.com/rs/zerolog"
)

// RecoveryMiddleware turns a panicking handler into a logged 500 response
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		defer func() {
			caught := recover()
			if caught == nil {
				return
			} else if caught == http.ErrAbortHandler {
				panic(caught)
			}
			buf := make([]byte, 64<<10)
			buf = buf[:runtime.Stack(buf, false)]
			err, ok := caught.(error)
			if !ok {
				err = fmt.Errorf("%v", caught)
			}
			WriteUnhandledError(rw, req, err, "\n "+strings.ReplaceAll(string(buf), "\n", "\n "))
		}()
		next.ServeHTTP(rw, req)
	})
}

// WriteUnhandledError logs err and writes a generic error response. A
// canceled request gets a 499 or 504 instead of a 500.
func WriteUnhandledError(w http.ResponseWriter, req *http.Request, err error, traceback string) {
	status := http.StatusInternalServerError
	field := "error"
	text := "An unhandled exception occurred while processing your request."
	if e := req.Context().Err(); e != nil {
		field = "cancel"
		text = ""
		if errors.Is(e, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		} else {
			// nginx's status for a client that went away
			status = 499
		}
	}
	AppendAccessLog(req, func(e *zerolog.Event) {
		e.AnErr(field, err)
		if traceback != "" {
			e.Str("stack", traceback)
		}
	})
	http.Error(w, text, status)
}
