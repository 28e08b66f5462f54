// Copyright (c) 2024 The Lens Authors. All rights reserved.
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

//go:build linux || freebsd || dragonfly || darwin
// +build linux freebsd dragonfly darwin

// Package socket provides the system calls behind lens sockets: descriptor
// creation in non-blocking, close-on-exec mode, address resolution and
// conversion, socket options and listener backlog limits.
package socket

import (
	"os"

	"golang.org/x/sys/unix"
)

// DefaultBacklog is the listen backlog used when none is given.
const DefaultBacklog = 10

// Option is used for setting an option on socket.
type Option struct {
	SetSockopt func(int, int) error
	Opt        int
}

func execSockopts(fd int, sockopts []Option) error {
	for _, sockopt := range sockopts {
		if err := sockopt.SetSockopt(fd, sockopt.Opt); err != nil {
			return err
		}
	}
	return nil
}

var listenerBacklogMaxSize = maxListenerBacklog()

// MaxListenerBacklog returns the backlog limit of the kernel.
func MaxListenerBacklog() int {
	return listenerBacklogMaxSize
}

// Listen marks fd as passive. A non-positive backlog means DefaultBacklog,
// larger values are capped to the kernel limit.
func Listen(fd, backlog int) error {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	if backlog > listenerBacklogMaxSize {
		backlog = listenerBacklogMaxSize
	}
	return os.NewSyscallError("listen", unix.Listen(fd, backlog))
}

// Accept accepts a pending connection, the new descriptor is non-blocking.
func Accept(fd int) (int, unix.Sockaddr, error) {
	return sysAccept(fd)
}

// LocalSockaddr returns the address fd is bound to.
func LocalSockaddr(fd int) (unix.Sockaddr, error) {
	sa, err := unix.Getsockname(fd)
	return sa, os.NewSyscallError("getsockname", err)
}

// PeerSockaddr returns the address of the peer fd is connected to.
func PeerSockaddr(fd int) (unix.Sockaddr, error) {
	sa, err := unix.Getpeername(fd)
	return sa, os.NewSyscallError("getpeername", err)
}

// Connect starts connecting fd to sa. It reports false while the connection
// is still being established, the caller then waits for fd to become
// writable and checks SocketError.
func Connect(fd int, sa unix.Sockaddr) (bool, error) {
	switch err := unix.Connect(fd, sa); err {
	case nil, unix.EISCONN:
		return true, nil
	case unix.EINPROGRESS, unix.EALREADY, unix.EINTR:
		return false, nil
	default:
		return false, os.NewSyscallError("connect", err)
	}
}
