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

	"golang.org/x/sys/unix"
)

// ResolveUDP resolves host and port into a socket address.
func ResolveUDP(host string, port int) (unix.Sockaddr, *net.UDPAddr, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", hostPort(host, port))
	if err != nil {
		return nil, nil, err
	}
	return IPToSockaddr(udpAddr.IP, udpAddr.Port, udpAddr.Zone), udpAddr, nil
}

// UDPSocket creates a UDP socket bound to host:port.
func UDPSocket(host string, port int, sockopts ...Option) (fd int, sa unix.Sockaddr, err error) {
	var bindAddr unix.Sockaddr
	if bindAddr, _, err = ResolveUDP(host, port); err != nil {
		return
	}
	return udpSocket(bindAddr, sockopts...)
}

// UDPEphemeral creates a UDP socket of family bound to a port chosen by the kernel.
func UDPEphemeral(family int, sockopts ...Option) (int, unix.Sockaddr, error) {
	var bindAddr unix.Sockaddr = &unix.SockaddrInet4{}
	if family == unix.AF_INET6 {
		bindAddr = &unix.SockaddrInet6{}
	}
	return udpSocket(bindAddr, sockopts...)
}

func udpSocket(bindAddr unix.Sockaddr, sockopts ...Option) (fd int, sa unix.Sockaddr, err error) {
	if fd, err = sysSocket(SockaddrFamily(bindAddr), unix.SOCK_DGRAM, unix.IPPROTO_UDP); err != nil {
		return
	}
	defer func() {
		if err != nil {
			_ = unix.Close(fd)
			fd = -1
		}
	}()

	// Allow broadcast.
	if err = SetBroadcast(fd, 1); err != nil {
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

// Sendto sends one datagram to sa.
func Sendto(fd int, p []byte, sa unix.Sockaddr) (int, error) {
	if err := unix.Sendto(fd, p, 0, sa); err != nil {
		return -1, err
	}
	return len(p), nil
}

// Recvfrom receives one datagram into p.
func Recvfrom(fd int, p []byte) (int, unix.Sockaddr, error) {
	return unix.Recvfrom(fd, p, 0)
}
