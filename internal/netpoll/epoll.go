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

//go:build linux
// +build linux

package netpoll

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	errorx "github.com/panjf2000/lens/pkg/errors"
	"github.com/panjf2000/lens/pkg/logging"
)

const (
	readEvents  = unix.EPOLLIN | unix.EPOLLPRI
	writeEvents = unix.EPOLLOUT
)

var (
	wakeValue uint64 = 1
	wakeBytes        = (*(*[8]byte)(unsafe.Pointer(&wakeValue)))[:]
)

type epollRef struct {
	read, write int
}

func (r *epollRef) mask() uint32 {
	var ev uint32
	if r.read > 0 {
		ev |= readEvents
	}
	if r.write > 0 {
		ev |= writeEvents
	}
	return ev
}

func (r *epollRef) count(f Filter, delta int) {
	if f == FilterRead {
		r.read += delta
	} else {
		r.write += delta
	}
}

// epollPoller is level-triggered, so its readiness reports match poll(2).
// Several interests may share a descriptor: the kernel registration carries the
// union of their filters and is dropped with the last of them.
type epollPoller struct {
	fd     int // epoll fd
	wfd    int // wake fd
	wfdBuf []byte
	el     *eventList[unix.EpollEvent]
	refs   map[int]*epollRef
	ready  map[int]uint32
	always map[int]int // descriptors epoll refuses (regular files), always ready
	logger logging.Logger
}

func openEpoll(logger logging.Logger) (Backend, error) {
	p := &epollPoller{
		wfd:    -1,
		wfdBuf: make([]byte, 8),
		el:     newEventList[unix.EpollEvent](InitPollEventsCap),
		refs:   make(map[int]*epollRef),
		ready:  make(map[int]uint32),
		always: make(map[int]int),
		logger: logger,
	}
	var err error
	if p.fd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC); err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	if p.wfd, err = unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC); err != nil {
		_ = p.Close()
		return nil, os.NewSyscallError("eventfd", err)
	}
	if err = unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, p.wfd,
		&unix.EpollEvent{Fd: int32(p.wfd), Events: unix.EPOLLIN}); err != nil {
		_ = p.Close()
		return nil, os.NewSyscallError("epoll_ctl add", err)
	}
	return p, nil
}

func (p *epollPoller) Name() string { return BackendEpoll }

func (p *epollPoller) Capabilities() Capability { return 0 }

func (p *epollPoller) ctl(op, fd int, events uint32) error {
	return unix.EpollCtl(p.fd, op, fd, &unix.EpollEvent{Fd: int32(fd), Events: events})
}

func (p *epollPoller) Add(in *Interest) error {
	if in.Filter != FilterRead && in.Filter != FilterWrite {
		return errorx.ErrUnsupportedFilter
	}
	if p.always[in.FD] > 0 {
		p.always[in.FD]++
		return nil
	}

	ref, ok := p.refs[in.FD]
	if !ok {
		ref = &epollRef{}
		ref.count(in.Filter, 1)
		switch err := p.ctl(unix.EPOLL_CTL_ADD, in.FD, ref.mask()); err {
		case nil:
		case unix.EPERM:
			// Regular files and directories, poll(2) reports them as always ready.
			p.always[in.FD] = 1
			return nil
		default:
			return os.NewSyscallError("epoll_ctl add", err)
		}
		p.refs[in.FD] = ref
		return nil
	}

	old := ref.mask()
	ref.count(in.Filter, 1)
	if ev := ref.mask(); ev != old {
		if err := p.rearm(in.FD, ev); err != nil {
			ref.count(in.Filter, -1)
			return err
		}
	}
	return nil
}

// rearm updates the registration of fd. A descriptor that was closed and
// reopened under the same number has been dropped by the kernel meanwhile, so
// ENOENT falls back to a fresh registration.
func (p *epollPoller) rearm(fd int, ev uint32) error {
	err := p.ctl(unix.EPOLL_CTL_MOD, fd, ev)
	if err == unix.ENOENT {
		if err = p.ctl(unix.EPOLL_CTL_ADD, fd, ev); err != nil {
			return os.NewSyscallError("epoll_ctl add", err)
		}
		return nil
	}
	return os.NewSyscallError("epoll_ctl mod", err)
}

func (p *epollPoller) Modify(old, in *Interest) error {
	if err := p.Add(in); err != nil {
		return err
	}
	return p.Remove(old)
}

func (p *epollPoller) Remove(in *Interest) error {
	if n := p.always[in.FD]; n > 0 {
		if n == 1 {
			delete(p.always, in.FD)
		} else {
			p.always[in.FD] = n - 1
		}
		return nil
	}

	ref, ok := p.refs[in.FD]
	if !ok {
		return nil
	}
	ref.count(in.Filter, -1)
	if ref.read > 0 || ref.write > 0 {
		return p.rearm(in.FD, ref.mask())
	}

	delete(p.refs, in.FD)
	switch err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, in.FD, nil); err {
	case nil:
	case unix.EBADF, unix.ENOENT:
		// Closing a descriptor removes it from the epoll set.
		p.logger.Debugf("epoll: fd %d was already gone on removal: %v", in.FD, err)
	default:
		return os.NewSyscallError("epoll_ctl del", err)
	}
	return nil
}

func (p *epollPoller) Wait(interests []Interest, msec int) (int, error) {
	if len(p.always) > 0 {
		msec = 0
	}
	n, err := unix.EpollWait(p.fd, p.el.events, msec)
	if err != nil {
		return 0, os.NewSyscallError("epoll_wait", err)
	}

	for fd := range p.ready {
		delete(p.ready, fd)
	}
	for i := 0; i < n; i++ {
		ev := &p.el.events[i]
		if fd := int(ev.Fd); fd != p.wfd {
			p.ready[fd] |= ev.Events
		} else {
			_, _ = unix.Read(p.wfd, p.wfdBuf)
		}
	}
	p.el.adjust(n)

	if len(p.ready) == 0 && len(p.always) == 0 {
		return 0, nil
	}

	fired := 0
	for i := range interests {
		in := &interests[i]
		if p.always[in.FD] > 0 {
			if in.Filter == FilterRead {
				in.Revents = EventIn
			} else {
				in.Revents = EventOut
			}
			fired++
			continue
		}
		ev, ok := p.ready[in.FD]
		if !ok {
			continue
		}
		if in.Revents = epollToEvents(in.Filter, ev); in.Revents != 0 {
			fired++
		}
	}
	return fired, nil
}

// epollToEvents reports what fired for an interest with filter f. Errors and
// hang-ups wake both readers and writers, as poll(2) does.
func epollToEvents(f Filter, ev uint32) (rev uint32) {
	if ev&unix.EPOLLERR != 0 {
		rev |= EventErr
	}
	if ev&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		rev |= EventHup
	}
	switch f {
	case FilterRead:
		if ev&readEvents != 0 {
			rev |= EventIn
		}
	case FilterWrite:
		if ev&writeEvents != 0 {
			rev |= EventOut
		}
	}
	return
}

func (p *epollPoller) Wakeup() error {
	_, err := unix.Write(p.wfd, wakeBytes)
	if err == unix.EAGAIN || err == unix.EINTR {
		// The counter is already pending, a wakeup is on its way.
		err = nil
	}
	return os.NewSyscallError("write", err)
}

func (p *epollPoller) Close() (err error) {
	if p.wfd >= 0 {
		err = os.NewSyscallError("close", unix.Close(p.wfd))
		p.wfd = -1
	}
	if e := os.NewSyscallError("close", unix.Close(p.fd)); err == nil {
		err = e
	}
	return
}
