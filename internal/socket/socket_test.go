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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func waitWritable(t *testing.T, fd int) {
	t.Helper()
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	n, err := unix.Poll(fds, 2000)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestTCPLoopback(t *testing.T) {
	lfd, sa, err := TCPSocket("127.0.0.1", 0, Option{SetSockopt: SetNoDelay, Opt: 1})
	require.NoError(t, err)
	defer unix.Close(lfd)
	host, port := SockaddrToHostPort(sa)
	assert.Equal(t, "127.0.0.1", host)
	assert.Greater(t, port, 0)
	require.NoError(t, Listen(lfd, 0))

	// Nothing pending yet.
	_, _, err = Accept(lfd)
	assert.Equal(t, unix.EAGAIN, err)

	cfd, connected, err := TCPDial("localhost", port)
	require.NoError(t, err)
	defer unix.Close(cfd)
	if !connected {
		waitWritable(t, cfd)
	}
	require.NoError(t, SocketError(cfd))

	var nfd int
	var peer unix.Sockaddr
	for i := 0; i < 100; i++ {
		if nfd, peer, err = Accept(lfd); err != unix.EAGAIN {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	defer unix.Close(nfd)

	local, err := LocalSockaddr(cfd)
	require.NoError(t, err)
	_, clientPort := SockaddrToHostPort(local)
	_, peerPort := SockaddrToHostPort(peer)
	assert.Equal(t, clientPort, peerPort)

	remote, err := PeerSockaddr(nfd)
	require.NoError(t, err)
	_, remotePort := SockaddrToHostPort(remote)
	assert.Equal(t, clientPort, remotePort)

	require.NoError(t, SetRecvBuffer(nfd, 64*1024))
	require.NoError(t, SetSendBuffer(nfd, 64*1024))
	size, err := unix.GetsockoptInt(nfd, unix.SOL_SOCKET, unix.SO_RCVBUF)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, size, 64*1024)
	size, err = unix.GetsockoptInt(nfd, unix.SOL_SOCKET, unix.SO_SNDBUF)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, size, 64*1024)
	require.NoError(t, SetLinger(nfd, 0))
	require.NoError(t, SetLinger(nfd, -1))

	flags, err := unix.FcntlInt(uintptr(nfd), unix.F_GETFL, 0)
	require.NoError(t, err)
	assert.NotZero(t, flags&unix.O_NONBLOCK)
}

func TestTCPDialRefused(t *testing.T) {
	lfd, sa, err := TCPSocket(Wildcard, 0)
	require.NoError(t, err)
	_, port := SockaddrToHostPort(sa)
	// Bound but not listening, so connecting is refused.
	defer unix.Close(lfd)

	cfd, connected, err := TCPDial("127.0.0.1", port)
	if err != nil {
		assert.ErrorIs(t, err, unix.ECONNREFUSED)
		return
	}
	defer unix.Close(cfd)
	require.False(t, connected)
	waitWritable(t, cfd)
	assert.ErrorIs(t, SocketError(cfd), unix.ECONNREFUSED)
}

func TestUDPLoopback(t *testing.T) {
	sfd, sa, err := UDPSocket("127.0.0.1", 0)
	require.NoError(t, err)
	defer unix.Close(sfd)

	cfd, csa, err := UDPEphemeral(unix.AF_INET)
	require.NoError(t, err)
	defer unix.Close(cfd)
	_, cport := SockaddrToHostPort(csa)
	assert.Greater(t, cport, 0)

	n, err := Sendto(cfd, []byte("datagram"), sa)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	buf := make([]byte, 64)
	for i := 0; i < 100; i++ {
		var from unix.Sockaddr
		n, from, err = Recvfrom(sfd, buf)
		if err == unix.EAGAIN {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, "datagram", string(buf[:n]))
		addr := SockaddrToUDPAddr(from)
		assert.Equal(t, cport, addr.Port)
		return
	}
	t.Fatal("datagram never arrived")
}

func TestToFamily(t *testing.T) {
	sa4 := &unix.SockaddrInet4{Port: 53, Addr: [4]byte{10, 0, 0, 1}}
	sa, err := ToFamily(sa4, unix.AF_INET6)
	require.NoError(t, err)
	host, port := SockaddrToHostPort(sa)
	assert.Equal(t, "10.0.0.1", host)
	assert.Equal(t, 53, port)

	back, err := ToFamily(sa, unix.AF_INET)
	require.NoError(t, err)
	assert.Equal(t, sa4, back)

	sa6 := IPToSockaddr([]byte{0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}, 80, "")
	_, err = ToFamily(sa6, unix.AF_INET)
	assert.Error(t, err)
	assert.Equal(t, unix.AF_INET6, SockaddrFamily(sa6))
}

func TestHostPort(t *testing.T) {
	assert.Equal(t, ":0", hostPort(Wildcard, -1))
	assert.Equal(t, "[::1]:80", hostPort("::1", 80))
	assert.Equal(t, DefaultBacklog, 10)
	assert.Greater(t, MaxListenerBacklog(), 0)
}
