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

package signing

import (
	"fmt"
	"path"
	"strings"
)

// PreflightResult is the outcome of the checks run before dispatch. The zero
// value is a pass.
type PreflightResult struct {
	Reason string
}

// Pass is the result of a preflight with nothing to report
var Pass = PreflightResult{}

// Fail returns a failing result with the given reason
func Fail(format string, args ...interface{}) PreflightResult {
	return PreflightResult{Reason: fmt.Sprintf(format, args...)}
}

// Passed reports whether dispatch may proceed
func (r PreflightResult) Passed() bool {
	return r.Reason == ""
}

// Err converts a failing result into a *PreflightError
func (r PreflightResult) Err() error {
	if r.Passed() {
		return nil
	}
	return &PreflightError{Reason: r.Reason}
}

// PreflightError blocks dispatch. The session stays open so the user can
// correct the problem and try again.
type PreflightError struct {
	Reason string
}

func (e *PreflightError) Error() string {
	return "preflight check failed: " + e.Reason
}

// PreflightGate runs synchronous validation before any backend is invoked
type PreflightGate struct {
	// Detector inspects the app bundle itself. May be nil.
	Detector Detector
	// InjectionFiles are the payloads queued for managed injection
	InjectionFiles []string
}

var injectableKinds = map[string]bool{
	".dylib":     true,
	".deb":       true,
	".framework": true,
	".appex":     true,
	".bundle":    true,
	".zip":       true,
}

// Check returns Pass if the bundle carries no native payload outside the
// managed injection mechanism and every queued injection file is of a kind
// the injector accepts.
func (g PreflightGate) Check() PreflightResult {
	if g.Detector != nil {
		found, err := g.Detector.HasDisallowedPayload()
		if err != nil {
			return Fail("inspecting package: %s", err)
		}
		if found {
			return Fail("the package contains .dylib or .deb files outside of the tweak injection list; remove them or add them as tweaks")
		}
	}
	for _, name := range g.InjectionFiles {
		ext := strings.ToLower(path.Ext(strings.TrimRight(name, "/")))
		if !injectableKinds[ext] {
			return Fail("%s: unsupported injection file type %q", path.Base(name), ext)
		}
	}
	return Pass
}
