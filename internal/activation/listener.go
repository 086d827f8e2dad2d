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

// Package activation lets the install server inherit its listening socket
// from systemd and report readiness back to it.
package activation

import (
	"net"
	"os"
	"strconv"
	"syscall"
)

// GetListener returns the socket passed by systemd socket activation, if
// there is one. Otherwise a new listener is opened on laddr.
func GetListener(family, laddr string) (net.Listener, error) {
	if l, err := systemdListener(); l != nil || err != nil {
		return l, err
	}
	if family == "unix" {
		os.Remove(laddr)
	}
	return net.Listen(family, laddr)
}

func systemdListener() (net.Listener, error) {
	// LISTEN_PID is a safety check that the fds are meant for this process.
	if pid := os.Getenv("LISTEN_PID"); pid != "" && pid != strconv.Itoa(os.Getpid()) {
		return nil, nil
	}
	nfds, _ := strconv.Atoi(os.Getenv("LISTEN_FDS"))
	if nfds < 1 {
		return nil, nil
	}
	// don't pass the fds on to the signing tool
	os.Unsetenv("LISTEN_PID")
	os.Unsetenv("LISTEN_FDS")
	// systemd places inherited fds sequentially starting at 3
	const fd = 3
	if err := syscall.SetNonblock(fd, true); err != nil {
		return nil, err
	}
	file := os.NewFile(fd, "LISTEN_FD_3")
	defer file.Close()
	return net.FileListener(file)
}

// DaemonReady tells systemd that startup is complete. It does nothing when
// not running under a notify-type unit.
func DaemonReady() error {
	name := os.Getenv("NOTIFY_SOCKET")
	if name == "" {
		return nil
	}
	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: name, Net: "unixgram"})
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Write([]byte("READY=1"))
	return err
}
