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

package installer

import (
	"net/http"

	"github.com/sassoftware/ipasign/internal/httperror"
	"github.com/sassoftware/ipasign/internal/zhttp"
)

var errPackageGone = &httperror.Problem{
	Status: http.StatusGone,
	Type:   httperror.ProblemBase + "package-removed",
	Detail: "The signed package was removed after this link was created",
}

// handleFunc adapts a handler that returns an error. Errors that know how to
// render themselves are served as-is and anything else is a 500.
func handleFunc(f func(http.ResponseWriter, *http.Request) error) http.HandlerFunc {
	return func(rw http.ResponseWriter, req *http.Request) {
		err := f(rw, req)
		if err == nil {
			return
		}
		if h, ok := err.(http.Handler); ok {
			h.ServeHTTP(rw, req)
		} else {
			zhttp.WriteUnhandledError(rw, req, err, "")
		}
	}
}
