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

//go:build darwin || freebsd || dragonfly
// +build darwin freebsd dragonfly

package netpoll

import (
	"os"

	"golang.org/x/sys/unix"

	errorx "github.com/panjf2000/lens/pkg/errors"
	"github.com/panjf2000/lens/pkg/logging"
)

type kqKey struct {
	fd     int
	filter int16
}

type kqRef struct {
	count  int
	fflags uint32
}

var noteMap = [...]struct {
	note   uint32
	kernel uint32
}{
	{NoteDelete, unix.NOTE_DELETE},
	{NoteWrite, unix.NOTE_WRITE},
	{NoteExtend, unix.NOTE_EXTEND},
	{NoteAttrib, unix.NOTE_ATTRIB},
	{NoteLink, unix.NOTE_LINK},
	{NoteRename, unix.NOTE_RENAME},
	{NoteRevoke, unix.NOTE_REVOKE},
}

func notesToKernel(flags uint32) (fflags uint32) {
	for _, m := range noteMap {
		if flags&m.note != 0 {
			fflags |= m.kernel
		}
	}
	return
}

func kernelToNotes(fflags uint32) (flags uint32) {
	for _, m := range noteMap {
		if fflags&m.kernel != 0 {
			flags |= m.note
		}
	}
	return
}

func kqFilter(f Filter) int16 {
	switch f {
	case FilterRead:
		return unix.EVFILT_READ
	case FilterWrite:
		return unix.EVFILT_WRITE
	}
	return unix.EVFILT_VNODE
}

var wakeNote = []unix.Kevent_t{{
	Ident:  0,
	Filter: unix.EVFILT_USER,
	Fflags: unix.NOTE_TRIGGER,
}}

// kqueuePoller keeps one kernel registration per (descriptor, filter) pair,
// shared by every interest watching that pair. VNode filters are edge
// triggered (EV_CLEAR) so every change is reported once.
type kqueuePoller struct {
	fd     int
	el     *eventList[unix.Kevent_t]
	refs   map[kqKey]*kqRef
	ready  map[kqKey]uint32
	logger logging.Logger
}

func openKqueue(logger logging.Logger) (Backend, error) {
	p := &kqueuePoller{
		el:     newEventList[unix.Kevent_t](InitPollEventsCap),
		refs:   make(map[kqKey]*kqRef),
		ready:  make(map[kqKey]uint32),
		logger: logger,
	}
	var err error
	if p.fd, err = unix.Kqueue(); err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	unix.CloseOnExec(p.fd)
	if _, err = unix.Kevent(p.fd, []unix.Kevent_t{{
		Ident:  0,
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}}, nil, nil); err != nil {
		_ = p.Close()
		return nil, os.NewSyscallError("kevent add|clear", err)
	}
	return p, nil
}

func (p *kqueuePoller) Name() string { return BackendKqueue }

func (p *kqueuePoller) Capabilities() Capability { return CapVNode }

func (p *kqueuePoller) register(key kqKey, fflags uint32) error {
	var ev unix.Kevent_t
	flags := unix.EV_ADD
	if key.filter == unix.EVFILT_VNODE {
		flags |= unix.EV_CLEAR
	}
	unix.SetKevent(&ev, key.fd, int(key.filter), flags)
	ev.Fflags = fflags
	_, err := unix.Kevent(p.fd, []unix.Kevent_t{ev}, nil, nil)
	return os.NewSyscallError("kevent add", err)
}

func (p *kqueuePoller) Add(in *Interest) error {
	if !in.Filter.Valid() {
		return errorx.ErrInvalidFilter
	}
	key := kqKey{in.FD, kqFilter(in.Filter)}
	var fflags uint32
	if in.Filter == FilterVNode {
		fflags = notesToKernel(in.Flags)
	}

	ref, ok := p.refs[key]
	if !ok {
		if err := p.register(key, fflags); err != nil {
			return err
		}
		p.refs[key] = &kqRef{count: 1, fflags: fflags}
		return nil
	}
	if merged := ref.fflags | fflags; merged != ref.fflags {
		if err := p.register(key, merged); err != nil {
			return err
		}
		ref.fflags = merged
	}
	ref.count++
	return nil
}

func (p *kqueuePoller) Modify(old, in *Interest) error {
	if err := p.Add(in); err != nil {
		return err
	}
	return p.Remove(old)
}

func (p *kqueuePoller) Remove(in *Interest) error {
	key := kqKey{in.FD, kqFilter(in.Filter)}
	ref, ok := p.refs[key]
	if !ok {
		return nil
	}
	if ref.count--; ref.count > 0 {
		return nil
	}

	delete(p.refs, key)
	var ev unix.Kevent_t
	unix.SetKevent(&ev, key.fd, int(key.filter), unix.EV_DELETE)
	switch _, err := unix.Kevent(p.fd, []unix.Kevent_t{ev}, nil, nil); err {
	case nil:
	case unix.EBADF, unix.ENOENT:
		// Closing a descriptor removes its kevents.
		p.logger.Debugf("kqueue: fd %d was already gone on removal: %v", in.FD, err)
	default:
		return os.NewSyscallError("kevent delete", err)
	}
	return nil
}

func (p *kqueuePoller) Wait(interests []Interest, msec int) (int, error) {
	var ts *unix.Timespec
	if msec >= 0 {
		t := unix.NsecToTimespec(int64(msec) * 1e6)
		ts = &t
	}
	n, err := unix.Kevent(p.fd, nil, p.el.events, ts)
	if err != nil {
		return 0, os.NewSyscallError("kevent wait", err)
	}

	for key := range p.ready {
		delete(p.ready, key)
	}
	for i := 0; i < n; i++ {
		ev := &p.el.events[i]
		if ev.Filter == unix.EVFILT_USER {
			continue
		}
		key := kqKey{int(ev.Ident), ev.Filter}
		var rev uint32
		switch ev.Filter {
		case unix.EVFILT_READ:
			rev = EventIn
		case unix.EVFILT_WRITE:
			rev = EventOut
		case unix.EVFILT_VNODE:
			rev = kernelToNotes(ev.Fflags)
		}
		if ev.Filter != unix.EVFILT_VNODE {
			if ev.Flags&unix.EV_EOF != 0 {
				rev |= EventHup
			}
			if ev.Flags&unix.EV_ERROR != 0 {
				rev |= EventErr
			}
		}
		p.ready[key] |= rev
	}
	p.el.adjust(n)

	if len(p.ready) == 0 {
		return 0, nil
	}

	fired := 0
	for i := range interests {
		in := &interests[i]
		rev, ok := p.ready[kqKey{in.FD, kqFilter(in.Filter)}]
		if !ok {
			continue
		}
		if in.Filter == FilterVNode && in.Flags != 0 {
			rev &= in.Flags
		}
		if rev != 0 {
			in.Revents = rev
			fired++
		}
	}
	return fired, nil
}

func (p *kqueuePoller) Wakeup() error {
	_, err := unix.Kevent(p.fd, wakeNote, nil, nil)
	if err == unix.EAGAIN || err == unix.EINTR {
		err = nil
	}
	return os.NewSyscallError("kevent trigger", err)
}

func (p *kqueuePoller) Close() error {
	return os.NewSyscallError("close", unix.Close(p.fd))
}
