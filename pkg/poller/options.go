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

package poller

import (
	"github.com/panjf2000/lens/pkg/handle"
	"github.com/panjf2000/lens/pkg/logging"
)

// Option is a function that will set up option.
type Option func(opts *Options)

func loadOptions(options ...Option) *Options {
	opts := &Options{
		Reserve:          handle.DefaultReserve,
		InterruptHandler: true,
	}
	for _, option := range options {
		option(opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetDefaultLogger()
	}
	return opts
}

// Options are configurations for the Poller.
type Options struct {
	// Reserve is the number of interests the poller can hold before its slot
	// table grows, it is rounded up to a power of two.
	Reserve int

	// Backend is the kernel readiness API to use: "epoll", "kqueue" or "poll".
	// Empty means the LENS_POLLER_BACKEND environment variable, then the native one.
	Backend string

	// InterruptHandler makes the poller claim SIGINT, so that the first SIGINT
	// makes Poll return false. Only one poller at a time can own the signal.
	InterruptHandler bool

	// BackgroundWait runs the blocking kernel wait on a dedicated worker
	// goroutine instead of the caller, the caller still blocks until the
	// worker hands the result back.
	BackgroundWait bool

	// Logger is the customized logger for logging info, if it is not set,
	// then the default logger of lens is used.
	Logger logging.Logger
}

// WithOptions sets up all options.
func WithOptions(options Options) Option {
	return func(opts *Options) {
		*opts = options
	}
}

// WithReserve sets up the initial capacity of the slot table.
func WithReserve(n int) Option {
	return func(opts *Options) {
		opts.Reserve = n
	}
}

// WithBackend selects the kernel readiness API.
func WithBackend(name string) Option {
	return func(opts *Options) {
		opts.Backend = name
	}
}

// WithInterruptHandler enables or disables the SIGINT ownership.
func WithInterruptHandler(enabled bool) Option {
	return func(opts *Options) {
		opts.InterruptHandler = enabled
	}
}

// WithBackgroundWait enables the off-thread kernel wait.
func WithBackgroundWait(enabled bool) Option {
	return func(opts *Options) {
		opts.BackgroundWait = enabled
	}
}

// WithLogger sets up a customized logger.
func WithLogger(logger logging.Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// ModifyOption adjusts an interest being modified.
type ModifyOption func(in *interest)

// WithFD moves the interest to another descriptor.
func WithFD(fd int) ModifyOption {
	return func(in *interest) {
		in.FD = fd
	}
}

// WithFlags replaces the VNode sub-event mask.
func WithFlags(flags uint32) ModifyOption {
	return func(in *interest) {
		in.Flags = flags
	}
}
