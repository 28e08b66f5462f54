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

package socket

import (
	"net"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

func hostPort(host string, port int) string {
	if host == Wildcard {
		host = ""
	}
	if port < 0 {
		port = 0
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// ResolveTCP resolves host and port into a socket address, the wildcard (or
// empty) host resolves to the IPv4 any address.
func ResolveTCP(host string, port int) (unix.Sockaddr, *net.TCPAddr, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", hostPort(host, port))
	if err != nil {
		return nil, nil, err
	}
	return IPToSockaddr(tcpAddr.IP, tcpAddr.Port, tcpAddr.Zone), tcpAddr, nil
}

// TCPSocket creates a TCP socket bound to host:port with SO_REUSEADDR set,
// the socket is not listening yet.
func TCPSocket(host string, port int, sockopts ...Option) (fd int, sa unix.Sockaddr, err error) {
	var bindAddr unix.Sockaddr
	if bindAddr, _, err = ResolveTCP(host, port); err != nil {
		return
	}

	if fd, err = sysSocket(SockaddrFamily(bindAddr), unix.SOCK_STREAM, unix.IPPROTO_TCP); err != nil {
		return
	}
	defer func() {
		if err != nil {
			_ = unix.Close(fd)
			fd = -1
		}
	}()

	if err = SetReuseAddr(fd, 1); err != nil {
		return
	}
	if err = execSockopts(fd, sockopts); err != nil {
		return
	}
	if err = os.NewSyscallError("bind", unix.Bind(fd, bindAddr)); err != nil {
		return
	}
	sa, err = LocalSockaddr(fd)
	return
}

// TCPDial creates a TCP socket and starts connecting it to host:port, see Connect.
func TCPDial(host string, port int, sockopts ...Option) (fd int, connected bool, err error) {
	var remote unix.Sockaddr
	if remote, _, err = ResolveTCP(host, port); err != nil {
		return
	}

	if fd, err = sysSocket(SockaddrFamily(remote), unix.SOCK_STREAM, unix.IPPROTO_TCP); err != nil {
		return
	}
	defer func() {
		if err != nil {
			_ = unix.Close(fd)
			fd = -1
		}
	}()

	if err = execSockopts(fd, sockopts); err != nil {
		return
	}
	connected, err = Connect(fd, remote)
	return
}
