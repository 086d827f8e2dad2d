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

package activation

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetListenerFallback(t *testing.T) {
	t.Setenv("LISTEN_FDS", "")
	l, err := GetListener("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	assert.IsType(t, &net.TCPListener{}, l)
}

func TestGetListenerNotOurs(t *testing.T) {
	t.Setenv("LISTEN_PID", "1")
	t.Setenv("LISTEN_FDS", "1")
	l, err := GetListener("unix", filepath.Join(t.TempDir(), "sock"))
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, "unix", l.Addr().Network())
}

func TestDaemonReady(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "notify")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: sock, Net: "unixgram"})
	require.NoError(t, err)
	defer conn.Close()
	t.Setenv("NOTIFY_SOCKET", sock)
	require.NoError(t, DaemonReady())
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "READY=1", string(buf[:n]))

	t.Setenv("NOTIFY_SOCKET", "")
	assert.NoError(t, DaemonReady())
}
