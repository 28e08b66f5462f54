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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/panjf2000/lens/pkg/channel"
	errorx "github.com/panjf2000/lens/pkg/errors"
)

func waitFd(t *testing.T, fd int, events int16) {
	t.Helper()
	fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
	for {
		n, err := unix.Poll(fds, 2000)
		if err == unix.EINTR {
			continue
		}
		require.NoError(t, err)
		require.Equal(t, 1, n, "fd %d never became ready", fd)
		return
	}
}

func TestNewSocket(t *testing.T) {
	s := New(TCP)
	assert.Equal(t, TCP, s.Type())
	assert.Equal(t, "*", s.LocalHost())
	assert.Equal(t, -1, s.LocalPort())
	assert.Equal(t, -1, s.Port())
	assert.Equal(t, "?", s.RemoteHost())
	assert.Equal(t, -1, s.RemotePort())
	assert.Equal(t, -1, s.Fd())
	assert.Equal(t, "*:-1 --> ?:-1", s.String())
	assert.Equal(t, "udp", UDP.String())

	assert.ErrorIs(t, s.Listen(0), errorx.ErrNotBound)
	assert.ErrorIs(t, s.ConnectFinish(), errorx.ErrConnectNotStarted)
	assert.ErrorIs(t, s.SetNoDelay(true), errorx.ErrClosed)
}

func TestTCPAcceptAndEcho(t *testing.T) {
	server := New(TCP)
	port, err := server.Bind("127.0.0.1", 0)
	require.NoError(t, err)
	defer server.Close()
	assert.Greater(t, port, 0)
	assert.Equal(t, port, server.LocalPort())
	require.NoError(t, server.Listen(0))
	_, err = server.Bind("127.0.0.1", 0)
	assert.ErrorIs(t, err, errorx.ErrUnsupportedOp)

	conn, err := server.Accept()
	require.NoError(t, err)
	assert.Nil(t, conn, "nothing is pending yet")

	client := New(TCP)
	defer client.Close()
	connected, err := client.Connect("127.0.0.1", port)
	require.NoError(t, err)
	if !connected {
		assert.True(t, client.Connecting())
		waitFd(t, client.Fd(), unix.POLLOUT)
		require.NoError(t, client.ConnectFinish())
	}
	assert.False(t, client.Connecting())
	require.NoError(t, client.SetNoDelay(true))
	require.NoError(t, client.SetKeepAlive(30*time.Second))
	require.NoError(t, client.SetSendTimeout(time.Second))
	require.NoError(t, client.SetRecvBuffer(32*1024))
	require.NoError(t, client.SetSendBuffer(32*1024))
	size, err := unix.GetsockoptInt(client.Fd(), unix.SOL_SOCKET, unix.SO_SNDBUF)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, size, 32*1024)
	require.NoError(t, client.SetLinger(5))

	waitFd(t, server.Fd(), unix.POLLIN)
	conn, err = server.Accept()
	require.NoError(t, err)
	require.NotNil(t, conn)
	defer conn.Close()
	assert.Equal(t, client.LocalPort(), conn.RemotePort())
	assert.Equal(t, "127.0.0.1", conn.RemoteHost())
	assert.Equal(t, "127.0.0.1", conn.LocalHost())
	assert.Equal(t, port, conn.LocalPort())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var got []byte
		for ctx.Err() == nil {
			line, status, err := conn.ReadLine()
			if err != nil {
				return err
			}
			got = append(got, line...)
			if status == channel.Wait {
				time.Sleep(time.Millisecond)
				continue
			}
			_, _, err = conn.Send(append(got, '\n'))
			return err
		}
		return ctx.Err()
	})

	n, status, err := client.Send([]byte("hello\r\n"))
	require.NoError(t, err)
	assert.Equal(t, channel.OK, status)
	assert.Equal(t, 7, n)
	require.NoError(t, g.Wait())

	waitFd(t, client.Fd(), unix.POLLIN)
	line, status, err := client.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, channel.OK, status)
	assert.Equal(t, "hello", string(line))
}

func TestTCPConnectRefused(t *testing.T) {
	probe := New(TCP)
	port, err := probe.Bind("127.0.0.1", 0)
	require.NoError(t, err)
	defer probe.Close()

	client := New(TCP)
	defer client.Close()
	connected, err := client.Connect("127.0.0.1", port)
	if err != nil {
		assert.ErrorIs(t, err, unix.ECONNREFUSED)
		return
	}
	require.False(t, connected)
	waitFd(t, client.Fd(), unix.POLLOUT)
	assert.ErrorIs(t, client.ConnectFinish(), unix.ECONNREFUSED)
}

func TestUDPRejectsStreamOps(t *testing.T) {
	s := New(UDP)
	_, err := s.Bind("", 0)
	require.NoError(t, err)
	defer s.Close()

	assert.ErrorIs(t, s.Listen(0), errorx.ErrDatagramSocket)
	_, err = s.Accept()
	assert.ErrorIs(t, err, errorx.ErrDatagramSocket)
	assert.ErrorIs(t, s.SetNoDelay(true), errorx.ErrDatagramSocket)
	assert.ErrorIs(t, s.SetLinger(0), errorx.ErrDatagramSocket)
	require.NoError(t, s.SetRecvBuffer(16*1024))
	_, _, err = s.Send([]byte("x"))
	assert.ErrorIs(t, err, errorx.ErrNoRemote)

	_, _, _, err = New(TCP).RecvMessage()
	assert.ErrorIs(t, err, errorx.ErrUnsupportedOp)
}

func TestUDPSendWithoutHandshake(t *testing.T) {
	server := New(UDP)
	port, err := server.Bind("127.0.0.1", 0)
	require.NoError(t, err)
	defer server.Close()

	msg, from, status, err := server.RecvMessage()
	require.NoError(t, err)
	assert.Equal(t, channel.Wait, status)
	assert.Nil(t, msg)
	assert.Nil(t, from)

	client := New(UDP)
	defer client.Close()
	connected, err := client.Connect("localhost", port)
	require.NoError(t, err)
	assert.True(t, connected)
	assert.Greater(t, client.LocalPort(), 0)

	n, status, err := client.Send([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, channel.OK, status)
	assert.Equal(t, 4, n)

	waitFd(t, server.Fd(), unix.POLLIN)
	msg, from, status, err = server.RecvMessage()
	require.NoError(t, err)
	assert.Equal(t, channel.OK, status)
	assert.Equal(t, "ping", string(msg))
	require.NotNil(t, from)
	assert.Equal(t, client.LocalPort(), from.Port)

	// Reply over the bound descriptor.
	_, err = server.Connect(from.IP.String(), from.Port)
	require.NoError(t, err)
	_, _, err = server.Send([]byte("pong\n"))
	require.NoError(t, err)

	waitFd(t, client.Fd(), unix.POLLIN)
	line, status, err := client.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, channel.OK, status)
	assert.Equal(t, "pong", string(line))
}

func TestClosedSocket(t *testing.T) {
	s := New(UDP)
	_, err := s.Bind("*", 0)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, -1, s.Fd())
	_, _, _, err = s.RecvMessage()
	assert.ErrorIs(t, err, errorx.ErrClosed)
	assert.ErrorIs(t, s.SetRecvTimeout(time.Second), errorx.ErrClosed)
	assert.ErrorIs(t, s.SetSendBuffer(1024), errorx.ErrClosed)
}
