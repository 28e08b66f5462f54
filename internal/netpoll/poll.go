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

//go:build linux || darwin || freebsd || dragonfly || netbsd || openbsd
// +build linux darwin freebsd dragonfly netbsd openbsd

package netpoll

import (
	"os"

	"golang.org/x/sys/unix"

	errorx "github.com/panjf2000/lens/pkg/errors"
	"github.com/panjf2000/lens/pkg/logging"
)

// pollPoller rebuilds its pollfd array from the interests on every wait, the
// first entry being the read end of the wakeup pipe. It keeps no registration
// state, so Add, Modify and Remove only validate.
type pollPoller struct {
	rfd, wfd int
	fds      []unix.PollFd
	buf      [64]byte
	logger   logging.Logger
}

func openPoll(logger logging.Logger) (Backend, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, os.NewSyscallError("pipe", err)
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
			return nil, os.NewSyscallError("setnonblock", err)
		}
	}
	return &pollPoller{
		rfd:    fds[0],
		wfd:    fds[1],
		fds:    make([]unix.PollFd, 0, InitPollFdsCap),
		logger: logger,
	}, nil
}

// InitPollFdsCap is the initial capacity of the pollfd array.
const InitPollFdsCap = 32

func (p *pollPoller) Name() string { return BackendPoll }

func (p *pollPoller) Capabilities() Capability { return 0 }

func (p *pollPoller) check(in *Interest) error {
	switch in.Filter {
	case FilterRead, FilterWrite:
		return nil
	case FilterVNode:
		return errorx.ErrUnsupportedFilter
	}
	return errorx.ErrInvalidFilter
}

func (p *pollPoller) Add(in *Interest) error { return p.check(in) }

func (p *pollPoller) Modify(_, in *Interest) error { return p.check(in) }

func (p *pollPoller) Remove(*Interest) error { return nil }

func (p *pollPoller) Wait(interests []Interest, msec int) (int, error) {
	p.fds = append(p.fds[:0], unix.PollFd{Fd: int32(p.rfd), Events: unix.POLLIN})
	for i := range interests {
		pfd := unix.PollFd{Fd: int32(interests[i].FD), Events: unix.POLLIN}
		if interests[i].Filter == FilterWrite {
			pfd.Events = unix.POLLOUT
		}
		p.fds = append(p.fds, pfd)
	}

	n, err := unix.Poll(p.fds, msec)
	if err != nil {
		return 0, os.NewSyscallError("poll", err)
	}
	if n == 0 {
		return 0, nil
	}

	if p.fds[0].Revents != 0 {
		for {
			if _, err := unix.Read(p.rfd, p.buf[:]); err != nil {
				break
			}
		}
	}

	fired := 0
	for i, pfd := range p.fds[1:] {
		if pfd.Revents == 0 {
			continue
		}
		interests[i].Revents = pollToEvents(pfd.Revents)
		fired++
	}
	return fired, nil
}

func pollToEvents(revents int16) (rev uint32) {
	if revents&unix.POLLIN != 0 {
		rev |= EventIn
	}
	if revents&unix.POLLOUT != 0 {
		rev |= EventOut
	}
	if revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
		rev |= EventErr
	}
	if revents&unix.POLLHUP != 0 {
		rev |= EventHup
	}
	return
}

func (p *pollPoller) Wakeup() error {
	_, err := unix.Write(p.wfd, []byte{1})
	if err == unix.EAGAIN || err == unix.EINTR {
		// The pipe is full, the waiter will wake up anyway.
		err = nil
	}
	return os.NewSyscallError("write", err)
}

func (p *pollPoller) Close() error {
	err := os.NewSyscallError("close", unix.Close(p.wfd))
	if e := os.NewSyscallError("close", unix.Close(p.rfd)); err == nil {
		err = e
	}
	return err
}
