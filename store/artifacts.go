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

package store

import (
	"context"
	"os"

	"github.com/rs/zerolog"

	"github.com/sassoftware/ipasign/lib/ipa"
)

// FileArtifacts deletes source packages from the local filesystem
type FileArtifacts struct{}

// Delete removes the app's package. A package that is already gone is not an
// error.
func (FileArtifacts) Delete(ctx context.Context, app *ipa.App) error {
	err := os.RemoveAll(app.Path)
	if err == nil {
		zerolog.Ctx(ctx).Debug().Str("path", app.Path).Msg("deleted source package")
	}
	return err
}
