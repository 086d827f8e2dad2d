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

package closeonce

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloseOnce(t *testing.T) {
	var c Closed
	assert.False(t, c.Closed())
	done := c.Done()
	calls := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.Close(func() error {
				calls++
				return errors.New("first")
			})
			assert.EqualError(t, err, "first")
		}()
	}
	wg.Wait()
	<-done
	assert.Equal(t, 1, calls)
	assert.True(t, c.Closed())
	// Done after close is already closed
	<-c.Done()
}
