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

// Package poller multiplexes readiness events of many descriptors for a
// single-threaded scheduler.
//
// Callers register interests with Add and get back a handle, an integer that
// stays valid until Remove no matter how the poller compacts its internal
// slot array. Poll blocks until at least one interest is ready, a deadline
// expires or the process receives SIGINT, and Events then lists the handles
// that fired.
//
// A Poller is not safe for concurrent use, except for Interrupt.
package poller

import (
	"errors"
	"math"
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/panjf2000/lens/internal/netpoll"
	"github.com/panjf2000/lens/pkg/clock"
	errorx "github.com/panjf2000/lens/pkg/errors"
	"github.com/panjf2000/lens/pkg/handle"
	"github.com/panjf2000/lens/pkg/logging"
	"github.com/panjf2000/lens/pkg/pool/goroutine"
)

// Filter is the kind of readiness an interest watches.
type Filter = netpoll.Filter

const (
	// Read fires when the descriptor is readable or at end of stream.
	Read = netpoll.FilterRead
	// Write fires when the descriptor is writable.
	Write = netpoll.FilterWrite
	// VNode fires on changes of the file behind the descriptor, see Capabilities.
	VNode = netpoll.FilterVNode
)

// VNode sub-events.
const (
	NoteDelete = netpoll.NoteDelete
	NoteWrite  = netpoll.NoteWrite
	NoteExtend = netpoll.NoteExtend
	NoteAttrib = netpoll.NoteAttrib
	NoteLink   = netpoll.NoteLink
	NoteRename = netpoll.NoteRename
	NoteRevoke = netpoll.NoteRevoke
	NoteNone   = netpoll.NoteNone
)

// Readiness bits of read and write interests, see Revents.
const (
	EventIn  = netpoll.EventIn
	EventOut = netpoll.EventOut
	EventErr = netpoll.EventErr
	EventHup = netpoll.EventHup
)

// Capability describes optional features of the kernel backend.
type Capability = netpoll.Capability

// CapVNode is set when VNode interests are supported.
const CapVNode = netpoll.CapVNode

type interest = netpoll.Interest

type waitResult struct {
	n   int
	err error
}

// Poller maps interest registrations to readiness events.
type Poller struct {
	opts        *Options
	logger      logging.Logger
	backend     netpoll.Backend
	table       *handle.Table[interest]
	events      []int
	interrupted atomic.Bool
	closed      bool
	ownsSignal  bool
	pool        *goroutine.Pool
	results     chan waitResult
}

// Open creates a poller.
func Open(opts ...Option) (p *Poller, err error) {
	options := loadOptions(opts...)
	p = &Poller{
		opts:   options,
		logger: options.Logger,
		table:  handle.New[interest](options.Reserve),
	}
	if p.backend, err = netpoll.Open(options.Backend, p.logger); err != nil {
		return nil, err
	}
	if options.BackgroundWait {
		if p.pool, err = goroutine.NewWaitPool(p.logger); err != nil {
			_ = p.backend.Close()
			return nil, err
		}
		p.results = make(chan waitResult)
	}
	if options.InterruptHandler {
		if p.ownsSignal = InstallInterruptHandler(p); !p.ownsSignal {
			p.logger.Debugf("poller: SIGINT is already owned by another poller")
		}
	}
	p.logger.Debugf("poller: opened with %s backend, reserve=%d, background=%t",
		p.backend.Name(), p.table.Cap(), options.BackgroundWait)
	return p, nil
}

// Backend returns the name of the kernel readiness API in use.
func (p *Poller) Backend() string {
	return p.backend.Name()
}

// Capabilities returns the optional features of the backend.
func (p *Poller) Capabilities() Capability {
	return p.backend.Capabilities()
}

// Count returns the number of registered interests.
func (p *Poller) Count() int {
	return p.table.Len()
}

func (p *Poller) checkFilter(filter Filter) error {
	if !filter.Valid() {
		return errorx.ErrInvalidFilter
	}
	if filter == VNode && !p.backend.Capabilities().Has(CapVNode) {
		return errorx.ErrUnsupportedFilter
	}
	return nil
}

// Add registers interest in filter on fd and returns its handle. flags is the
// NoteXXX mask of VNode interests and is ignored otherwise.
func (p *Poller) Add(fd int, filter Filter, flags uint32) (int, error) {
	if p.closed {
		return -1, errorx.ErrPollerClosed
	}
	if err := p.checkFilter(filter); err != nil {
		return -1, err
	}
	in := interest{FD: fd, Filter: filter, Flags: flags}
	if err := p.backend.Add(&in); err != nil {
		return -1, err
	}
	return p.table.Add(in), nil
}

// Modify changes the filter of a registered interest in place, and optionally
// its descriptor and VNode flags. A pending event of the handle is dropped.
func (p *Poller) Modify(idx int, filter Filter, opts ...ModifyOption) error {
	if p.closed {
		return errorx.ErrPollerClosed
	}
	cur := p.table.Ptr(idx)
	if cur == nil {
		return errorx.ErrInvalidHandle
	}
	if err := p.checkFilter(filter); err != nil {
		return err
	}

	in := *cur
	in.Filter, in.Revents = filter, 0
	for _, opt := range opts {
		opt(&in)
	}
	old := *cur
	if err := p.backend.Modify(&old, &in); err != nil {
		return err
	}
	*cur = in
	p.dropEvent(idx)
	return nil
}

// Remove deregisters idx and frees its handle for reuse.
func (p *Poller) Remove(idx int) error {
	if p.closed {
		return errorx.ErrPollerClosed
	}
	in, ok := p.table.Get(idx)
	if !ok {
		return errorx.ErrHandleRemoved
	}
	if err := p.table.Remove(idx); err != nil {
		return err
	}
	p.dropEvent(idx)
	if err := p.backend.Remove(&in); err != nil {
		p.logger.Warnf("poller: failed to deregister fd %d (%s): %v", in.FD, in.Filter, err)
	}
	return nil
}

func (p *Poller) dropEvent(idx int) {
	for i, h := range p.events {
		if h == idx {
			p.events = append(p.events[:i], p.events[i+1:]...)
			return
		}
	}
}

// timeout converts an absolute deadline into the milliseconds left, rounded
// up so that the kernel never wakes up before the deadline.
func timeout(wakeAt float64) int {
	if wakeAt < 0 {
		return -1
	}
	ms := (wakeAt - clock.Elapsed()) * 1e3
	if ms <= 0 {
		return 0
	}
	if ms >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int(math.Ceil(ms))
}

// Poll waits for events until wakeAt, a clock.Elapsed time in seconds. A
// negative wakeAt waits without deadline, a past one polls without blocking.
//
// It returns false once the poller has been interrupted by SIGINT or by
// Interrupt, and keeps returning false afterwards. Kernel failures other than
// EINTR are returned as *os.SyscallError.
func (p *Poller) Poll(wakeAt float64) (bool, error) {
	if p.closed {
		return false, errorx.ErrPollerClosed
	}
	p.clearEvents()
	for {
		if p.interrupted.Load() {
			return false, nil
		}
		n, err := p.wait(timeout(wakeAt))
		if p.interrupted.Load() {
			p.clearEvents()
			return false, nil
		}
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			p.logger.Errorf("poller: %s wait failed: %v", p.backend.Name(), err)
			return false, err
		}

		if n == 0 {
			// Guard against early wakeups, the deadline must have passed.
			if wakeAt >= 0 {
				if left := wakeAt - clock.Elapsed(); left > 0 {
					clock.MilliSleep(left * 1e3)
				}
			}
			return !p.interrupted.Load(), nil
		}

		p.table.Range(func(idx int, in *interest) bool {
			if in.Revents != 0 {
				p.events = append(p.events, idx)
			}
			return true
		})
		return true, nil
	}
}

func (p *Poller) wait(msec int) (int, error) {
	slots := p.table.Slots()
	if p.pool == nil {
		return p.backend.Wait(slots, msec)
	}
	err := p.pool.Submit(func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		n, err := p.backend.Wait(slots, msec)
		p.results <- waitResult{n, err}
	})
	if err != nil {
		return 0, err
	}
	r := <-p.results
	return r.n, r.err
}

// Events returns the handles that fired during the last Poll, in slot order,
// and clears them: a second call returns nothing.
func (p *Poller) Events() []int {
	if len(p.events) == 0 {
		return nil
	}
	events := make([]int, len(p.events))
	copy(events, p.events)
	p.clearEvents()
	return events
}

// Revents reports the readiness bits of idx from the last Poll: EventXXX bits
// for read and write interests, NoteXXX bits for VNode ones. It is zero once
// Events has been called.
func (p *Poller) Revents(idx int) uint32 {
	if in := p.table.Ptr(idx); in != nil {
		return in.Revents
	}
	return 0
}

func (p *Poller) clearEvents() {
	for _, idx := range p.events {
		if in := p.table.Ptr(idx); in != nil {
			in.Revents = 0
		}
	}
	p.events = p.events[:0]
}

// Interrupt makes the current and every later Poll return false. It may be
// called from any goroutine.
func (p *Poller) Interrupt() {
	if p.interrupted.Swap(true) {
		return
	}
	if err := p.backend.Wakeup(); err != nil {
		p.logger.Errorf("poller: failed to wake up %s backend: %v", p.backend.Name(), err)
	}
}

// Interrupted reports whether the poller has been interrupted.
func (p *Poller) Interrupted() bool {
	return p.interrupted.Load()
}

// Close releases the kernel resources of the poller. Registered descriptors
// are left untouched, they belong to the caller.
func (p *Poller) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if p.ownsSignal {
		UninstallInterruptHandler(p)
		p.ownsSignal = false
	}
	if p.pool != nil {
		p.pool.Release()
	}
	return p.backend.Close()
}

// IdxToPos returns the slot of handle idx, -1 when it is not in use.
func (p *Poller) IdxToPos(idx int) int {
	return p.table.Pos(idx)
}

// PosToIdx returns the handle living in slot pos, -1 when the slot is free.
func (p *Poller) PosToIdx(pos int) int {
	return p.table.Idx(pos)
}

// PosToFd returns the descriptor watched by slot pos, -1 when the slot is free.
func (p *Poller) PosToFd(pos int) int {
	if in := p.table.At(pos); in != nil {
		return in.FD
	}
	return -1
}

// PosToFilter returns the filter of slot pos, 0 when the slot is free.
func (p *Poller) PosToFilter(pos int) Filter {
	if in := p.table.At(pos); in != nil {
		return in.Filter
	}
	return 0
}
