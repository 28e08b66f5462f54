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

// Package socket provides non-blocking TCP and UDP sockets whose payload is
// read through a buffered channel.
package socket

import (
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/panjf2000/lens/internal/socket"
	"github.com/panjf2000/lens/pkg/channel"
	errorx "github.com/panjf2000/lens/pkg/errors"
	"github.com/panjf2000/lens/pkg/logging"
)

// Type is the transport of a Socket.
type Type int

const (
	// TCP is a stream socket.
	TCP Type = iota
	// UDP is a datagram socket.
	UDP
)

func (t Type) String() string {
	switch t {
	case TCP:
		return "tcp"
	case UDP:
		return "udp"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

const (
	// DefaultBacklog is used by Listen when no positive backlog is given.
	DefaultBacklog = socket.DefaultBacklog

	// maxDatagramSize bounds the payload RecvMessage can deliver.
	maxDatagramSize = 64 * 1024
)

// Socket is a non-blocking TCP or UDP endpoint. Its read operations are the
// ones of the embedded Channel.
type Socket struct {
	*channel.Channel

	typ        Type
	family     int
	bound      bool
	connecting bool

	localHost  string
	localPort  int
	remoteHost string
	remotePort int

	dgram []byte
}

// New returns an unbound socket of type typ.
func New(typ Type) *Socket {
	return &Socket{
		Channel:    channel.New(-1, channel.None),
		typ:        typ,
		family:     unix.AF_INET,
		localHost:  socket.Wildcard,
		localPort:  -1,
		remoteHost: "?",
		remotePort: -1,
	}
}

func (s *Socket) attach(fd int, sa unix.Sockaddr) {
	s.Attach(fd, channel.Read|channel.Write)
	s.family = socket.SockaddrFamily(sa)
	_, s.localPort = socket.SockaddrToHostPort(sa)
}

func (s *Socket) checkFree(op string) error {
	if s.Fd() >= 0 {
		return fmt.Errorf("%w: %s on a socket that already has a descriptor", errorx.ErrUnsupportedOp, op)
	}
	return nil
}

// Bind binds the socket to host and port and returns the actual port, which
// differs from port when port is 0. An empty host or "*" binds every local
// IPv4 address.
func (s *Socket) Bind(host string, port int) (int, error) {
	if err := s.checkFree("bind"); err != nil {
		return -1, err
	}
	if host == "" {
		host = socket.Wildcard
	}

	var (
		fd  int
		sa  unix.Sockaddr
		err error
	)
	if s.typ == UDP {
		fd, sa, err = socket.UDPSocket(host, port)
	} else {
		fd, sa, err = socket.TCPSocket(host, port)
	}
	if err != nil {
		return -1, err
	}
	s.attach(fd, sa)
	s.localHost, s.bound = host, true
	logging.Debugf("%s socket bound to %s:%d", s.typ, s.localHost, s.localPort)
	return s.localPort, nil
}

// Connect starts connecting to host and port.
//
// A UDP socket only records the remote endpoint, creating an ephemeral
// descriptor of the remote's family if it has none yet, and reports true.
// A TCP socket reports false while the connection is in progress: wait for
// the descriptor to become writable and call ConnectFinish.
func (s *Socket) Connect(host string, port int) (bool, error) {
	if s.typ == UDP {
		return true, s.connectUDP(host, port)
	}
	if err := s.checkFree("connect"); err != nil {
		return false, err
	}

	fd, connected, err := socket.TCPDial(host, port)
	if err != nil {
		return false, err
	}
	sa, err := socket.LocalSockaddr(fd)
	if err != nil {
		_ = unix.Close(fd)
		return false, err
	}
	s.attach(fd, sa)
	s.localHost = socket.Wildcard
	s.remoteHost, s.remotePort = host, port
	s.connecting = !connected
	return connected, nil
}

func (s *Socket) connectUDP(host string, port int) error {
	remote, _, err := socket.ResolveUDP(host, port)
	if err != nil {
		return err
	}
	if s.Fd() < 0 {
		fd, sa, err := socket.UDPEphemeral(socket.SockaddrFamily(remote))
		if err != nil {
			return err
		}
		s.attach(fd, sa)
	}
	s.remoteHost, s.remotePort = host, port
	return nil
}

// ConnectFinish completes a TCP connection started by Connect and reports
// the connection failure, if any.
func (s *Socket) ConnectFinish() error {
	if s.Fd() < 0 {
		return errorx.ErrConnectNotStarted
	}
	if err := socket.SocketError(s.Fd()); err != nil {
		return err
	}
	s.connecting = false
	if sa, err := socket.LocalSockaddr(s.Fd()); err == nil {
		_, s.localPort = socket.SockaddrToHostPort(sa)
	}
	return nil
}

// Connecting reports whether a TCP connect is still pending.
func (s *Socket) Connecting() bool {
	return s.connecting
}

// Listen marks a bound TCP socket as passive. A backlog <= 0 means
// DefaultBacklog, larger values are capped by the kernel limit.
func (s *Socket) Listen(backlog int) error {
	if s.typ == UDP {
		return errorx.ErrDatagramSocket
	}
	if !s.bound || s.Fd() < 0 {
		return errorx.ErrNotBound
	}
	return socket.Listen(s.Fd(), backlog)
}

// Accept returns the next pending connection, or nil when there is none.
func (s *Socket) Accept() (*Socket, error) {
	if s.typ == UDP {
		return nil, errorx.ErrDatagramSocket
	}
	if s.Fd() < 0 {
		return nil, errorx.ErrNotBound
	}

	nfd, peer, err := socket.Accept(s.Fd())
	switch err {
	case nil:
	case unix.EAGAIN, unix.EINTR, unix.ECONNABORTED:
		return nil, nil
	default:
		return nil, os.NewSyscallError("accept", err)
	}

	sa, err := socket.LocalSockaddr(nfd)
	if err != nil {
		_ = unix.Close(nfd)
		return nil, err
	}
	conn := New(TCP)
	conn.attach(nfd, sa)
	conn.localHost = s.localHost
	conn.remoteHost, conn.remotePort = socket.SockaddrToHostPort(peer)
	if conn.remotePort < 0 {
		// Some kernels leave the accept address empty, ask the connection itself.
		if peer, err = socket.PeerSockaddr(nfd); err == nil {
			conn.remoteHost, conn.remotePort = socket.SockaddrToHostPort(peer)
		}
	}
	logging.Debugf("accepted %s on fd %d", conn, nfd)
	return conn, nil
}

// Send writes p. A UDP socket sends a single datagram to the remote endpoint
// given to Connect, resolving it again on every call.
func (s *Socket) Send(p []byte) (int, channel.Status, error) {
	if s.typ == TCP {
		return s.Write(p)
	}
	if s.Fd() < 0 {
		return 0, channel.End, errorx.ErrClosed
	}
	if s.remotePort < 0 {
		return 0, channel.End, errorx.ErrNoRemote
	}

	remote, _, err := socket.ResolveUDP(s.remoteHost, s.remotePort)
	if err != nil {
		return 0, channel.End, err
	}
	if remote, err = socket.ToFamily(remote, s.family); err != nil {
		return 0, channel.End, err
	}
	return channel.WriteAll(func(fd int, p []byte) (int, error) {
		return socket.Sendto(fd, p, remote)
	}, s.Fd(), p)
}

// RecvMessage receives one datagram and its sender. It returns Wait with no
// payload when no datagram is queued.
func (s *Socket) RecvMessage() ([]byte, *net.UDPAddr, channel.Status, error) {
	if s.typ != UDP {
		return nil, nil, channel.End, fmt.Errorf("%w: RecvMessage on a stream socket", errorx.ErrUnsupportedOp)
	}
	if s.Fd() < 0 {
		return nil, nil, channel.End, errorx.ErrClosed
	}
	if s.dgram == nil {
		s.dgram = make([]byte, maxDatagramSize)
	}

	n, from, err := socket.Recvfrom(s.Fd(), s.dgram)
	switch err {
	case nil:
	case unix.EAGAIN, unix.EINTR:
		return nil, nil, channel.Wait, nil
	default:
		return nil, nil, channel.End, os.NewSyscallError("recvfrom", err)
	}
	msg := make([]byte, n)
	copy(msg, s.dgram[:n])
	return msg, socket.SockaddrToUDPAddr(from), channel.OK, nil
}

func (s *Socket) setsockopt(set func(fd int) error) error {
	if s.Fd() < 0 {
		return errorx.ErrClosed
	}
	return set(s.Fd())
}

// SetRecvTimeout sets SO_RCVTIMEO.
func (s *Socket) SetRecvTimeout(d time.Duration) error {
	return s.setsockopt(func(fd int) error { return socket.SetRecvTimeout(fd, d) })
}

// SetSendTimeout sets SO_SNDTIMEO.
func (s *Socket) SetSendTimeout(d time.Duration) error {
	return s.setsockopt(func(fd int) error { return socket.SetSendTimeout(fd, d) })
}

// SetNoDelay controls Nagle's algorithm on a TCP socket.
func (s *Socket) SetNoDelay(noDelay bool) error {
	if s.typ == UDP {
		return errorx.ErrDatagramSocket
	}
	v := 0
	if noDelay {
		v = 1
	}
	return s.setsockopt(func(fd int) error { return socket.SetNoDelay(fd, v) })
}

// SetKeepAlive enables TCP keep-alive probes after the connection has been
// idle for period.
func (s *Socket) SetKeepAlive(period time.Duration) error {
	if s.typ == UDP {
		return errorx.ErrDatagramSocket
	}
	secs := int(period.Seconds())
	if secs < 1 {
		secs = 1
	}
	return s.setsockopt(func(fd int) error { return socket.SetKeepAlivePeriod(fd, secs) })
}

// SetRecvBuffer sets the size of the kernel receive buffer (SO_RCVBUF).
func (s *Socket) SetRecvBuffer(size int) error {
	return s.setsockopt(func(fd int) error { return socket.SetRecvBuffer(fd, size) })
}

// SetSendBuffer sets the size of the kernel send buffer (SO_SNDBUF).
func (s *Socket) SetSendBuffer(size int) error {
	return s.setsockopt(func(fd int) error { return socket.SetSendBuffer(fd, size) })
}

// SetLinger sets how long Close waits for unsent data of a TCP socket, a
// negative sec restores the default behavior.
func (s *Socket) SetLinger(sec int) error {
	if s.typ == UDP {
		return errorx.ErrDatagramSocket
	}
	return s.setsockopt(func(fd int) error { return socket.SetLinger(fd, sec) })
}

// Type returns the transport of the socket.
func (s *Socket) Type() Type { return s.typ }

// LocalHost returns the host the socket was bound to, "*" for any.
func (s *Socket) LocalHost() string { return s.localHost }

// LocalPort returns the local port, -1 before Bind or Connect.
func (s *Socket) LocalPort() int { return s.localPort }

// Port is LocalPort.
func (s *Socket) Port() int { return s.localPort }

// RemoteHost returns the peer host, "?" when unknown.
func (s *Socket) RemoteHost() string { return s.remoteHost }

// RemotePort returns the peer port, -1 when unknown.
func (s *Socket) RemotePort() int { return s.remotePort }

func (s *Socket) String() string {
	return fmt.Sprintf("%s:%d --> %s:%d", s.localHost, s.localPort, s.remoteHost, s.remotePort)
}
