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

// Package netpoll implements the kernel-facing half of the poller: one
// Backend per readiness API (epoll, kqueue, poll) behind a common interface.
//
// A Backend never owns the interests it watches. The caller keeps them in a
// dense slice and hands that slice to Wait, which marks the ready entries by
// setting their Revents field.
package netpoll

import (
	"fmt"
	"os"

	errorx "github.com/panjf2000/lens/pkg/errors"
	"github.com/panjf2000/lens/pkg/logging"
)

// Filter is the kind of readiness an interest watches.
type Filter int

const (
	// FilterRead fires when the descriptor is readable or at end of stream.
	FilterRead Filter = 1
	// FilterWrite fires when the descriptor is writable.
	FilterWrite Filter = 2
	// FilterVNode fires on filesystem changes of the file behind the descriptor.
	FilterVNode Filter = 3
)

// Valid reports whether f is one of the known filters.
func (f Filter) Valid() bool {
	return f >= FilterRead && f <= FilterVNode
}

func (f Filter) String() string {
	switch f {
	case FilterRead:
		return "read"
	case FilterWrite:
		return "write"
	case FilterVNode:
		return "vnode"
	}
	return fmt.Sprintf("filter(%d)", int(f))
}

// VNode sub-event flags, used both to select what a FilterVNode interest
// watches and to report what fired.
const (
	NoteDelete uint32 = 0x01
	NoteWrite  uint32 = 0x02
	NoteExtend uint32 = 0x04
	NoteAttrib uint32 = 0x08
	NoteLink   uint32 = 0x10
	NoteRename uint32 = 0x20
	NoteRevoke uint32 = 0x40
	NoteNone   uint32 = 0x80
)

// Readiness bits reported in Interest.Revents for read and write interests.
const (
	EventIn uint32 = 1 << iota
	EventOut
	EventErr
	EventHup
)

// Interest is one registration: a descriptor, what to watch on it and,
// after Wait, what fired.
type Interest struct {
	FD      int
	Filter  Filter
	Flags   uint32 // NoteXXX mask, FilterVNode only
	Revents uint32
}

// Capability describes optional features of a Backend.
type Capability uint32

// CapVNode means the backend can watch FilterVNode interests.
const CapVNode Capability = 1 << iota

// Has reports whether c includes all of o.
func (c Capability) Has(o Capability) bool {
	return c&o == o
}

// Backend is a kernel readiness API.
type Backend interface {
	// Name returns the backend name, one of the BackendXXX constants.
	Name() string
	// Capabilities returns the optional features this backend supports.
	Capabilities() Capability
	// Add starts watching in.
	Add(in *Interest) error
	// Modify replaces old by in.
	Modify(old, in *Interest) error
	// Remove stops watching in.
	Remove(in *Interest) error
	// Wait blocks for at most msec milliseconds (forever when msec < 0) and
	// sets Revents on every ready entry of interests, which must all carry a
	// zero Revents on entry. It returns the number of ready entries.
	Wait(interests []Interest, msec int) (int, error)
	// Wakeup makes a blocked Wait return early, it is safe to call from any goroutine.
	Wakeup() error
	// Close releases the kernel resources of the backend.
	Close() error
}

// Backend names.
const (
	BackendEpoll  = "epoll"
	BackendKqueue = "kqueue"
	BackendPoll   = "poll"
)

// EnvBackend is the environment variable consulted when no backend is requested explicitly.
const EnvBackend = "LENS_POLLER_BACKEND"

// DefaultBackend returns the name of the native backend of this platform.
func DefaultBackend() string {
	return nativeBackend
}

// Available lists the backends that can be opened on this platform.
func Available() []string {
	if nativeBackend == BackendPoll {
		return []string{BackendPoll}
	}
	return []string{nativeBackend, BackendPoll}
}

// Open opens the backend called name. An empty name falls back to the
// LENS_POLLER_BACKEND environment variable and then to the native backend.
func Open(name string, logger logging.Logger) (Backend, error) {
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	if name == "" {
		name = os.Getenv(EnvBackend)
	}
	if name == "" {
		name = nativeBackend
	}
	if name == nativeBackend {
		return openNative(logger)
	}
	if name == BackendPoll {
		return openPoll(logger)
	}
	return nil, fmt.Errorf("%w: %q", errorx.ErrUnsupportedBackend, name)
}
