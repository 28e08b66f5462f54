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
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/panjf2000/lens/internal/netpoll"
	"github.com/panjf2000/lens/pkg/clock"
	errorx "github.com/panjf2000/lens/pkg/errors"
	"github.com/panjf2000/lens/pkg/logging"
)

func newPipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func openPoller(t *testing.T, opts ...Option) *Poller {
	t.Helper()
	opts = append([]Option{WithInterruptHandler(false), WithLogger(logging.NewNopLogger())}, opts...)
	p, err := Open(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, p.Close()) })
	return p
}

func forEachBackend(t *testing.T, fn func(t *testing.T, opts ...Option)) {
	for _, name := range netpoll.Available() {
		name := name
		t.Run(name, func(t *testing.T) {
			fn(t, WithBackend(name))
		})
		t.Run(name+"/background", func(t *testing.T) {
			fn(t, WithBackend(name), WithBackgroundWait(true))
		})
	}
}

func TestPollerHandles(t *testing.T) {
	p := openPoller(t, WithReserve(2))
	r1, w1 := newPipe(t)
	r2, _ := newPipe(t)

	a, err := p.Add(r1, Read, 0)
	require.NoError(t, err)
	b, err := p.Add(w1, Write, 0)
	require.NoError(t, err)
	c, err := p.Add(r2, Read, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, []int{a, b, c})
	assert.Equal(t, 3, p.Count())

	// The last slot fills the hole.
	require.NoError(t, p.Remove(a))
	assert.Equal(t, 0, p.IdxToPos(c))
	assert.Equal(t, c, p.PosToIdx(0))
	assert.Equal(t, r2, p.PosToFd(0))
	assert.Equal(t, Read, p.PosToFilter(0))
	assert.Equal(t, w1, p.PosToFd(1))
	assert.Equal(t, -1, p.IdxToPos(a))
	assert.Equal(t, -1, p.PosToFd(2))
	assert.Equal(t, Filter(0), p.PosToFilter(2))

	assert.ErrorIs(t, p.Remove(a), errorx.ErrHandleRemoved)
	assert.ErrorIs(t, p.Remove(42), errorx.ErrHandleRemoved)
	assert.ErrorIs(t, p.Modify(a, Read), errorx.ErrInvalidHandle)

	d, err := p.Add(r1, Read, 0)
	require.NoError(t, err)
	assert.Equal(t, a, d)
}

func TestPollerInvalidFilter(t *testing.T) {
	p := openPoller(t)
	r, _ := newPipe(t)
	_, err := p.Add(r, Filter(7), 0)
	assert.ErrorIs(t, err, errorx.ErrInvalidFilter)
	if !p.Capabilities().Has(CapVNode) {
		_, err = p.Add(r, VNode, NoteWrite)
		assert.ErrorIs(t, err, errorx.ErrUnsupportedFilter)
	}
	assert.Zero(t, p.Count())
}

func TestPollerEvents(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts ...Option) {
		p := openPoller(t, opts...)
		r, w := newPipe(t)
		rh, err := p.Add(r, Read, 0)
		require.NoError(t, err)

		ok, err := p.Poll(clock.Elapsed())
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Empty(t, p.Events())

		_, err = unix.Write(w, []byte("hello"))
		require.NoError(t, err)
		ok, err = p.Poll(-1)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NotZero(t, p.Revents(rh)&EventIn)
		assert.Equal(t, []int{rh}, p.Events())
		assert.Zero(t, p.Revents(rh))
		// Single-shot.
		assert.Empty(t, p.Events())

		wh, err := p.Add(w, Write, 0)
		require.NoError(t, err)
		ok, err = p.Poll(clock.Elapsed() + 1)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.ElementsMatch(t, []int{rh, wh}, p.Events())
	})
}

func TestPollerManyInterests(t *testing.T) {
	p := openPoller(t, WithReserve(2))
	var writers []int
	handles := make(map[int]int)
	for i := 0; i < 20; i++ {
		r, w := newPipe(t)
		h, err := p.Add(r, Read, 0)
		require.NoError(t, err)
		handles[h] = r
		writers = append(writers, w)
	}
	assert.Equal(t, 20, p.Count())

	for h, fd := range handles {
		if h%2 == 0 {
			require.NoError(t, p.Remove(h))
			delete(handles, h)
			continue
		}
		assert.Equal(t, fd, p.PosToFd(p.IdxToPos(h)))
	}
	for _, w := range writers {
		_, err := unix.Write(w, []byte("x"))
		require.NoError(t, err)
	}

	ok, err := p.Poll(clock.Elapsed() + 1)
	require.NoError(t, err)
	require.True(t, ok)
	events := p.Events()
	assert.Len(t, events, len(handles))
	for _, h := range events {
		_, live := handles[h]
		assert.Truef(t, live, "removed handle %d fired", h)
	}
}

func TestPollerModify(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts ...Option) {
		p := openPoller(t, opts...)
		r, w := newPipe(t)
		h, err := p.Add(r, Read, 0)
		require.NoError(t, err)

		require.NoError(t, p.Modify(h, Write, WithFD(w)))
		assert.Equal(t, w, p.PosToFd(p.IdxToPos(h)))
		assert.Equal(t, Write, p.PosToFilter(p.IdxToPos(h)))

		ok, err := p.Poll(clock.Elapsed() + 1)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []int{h}, p.Events())

		assert.ErrorIs(t, p.Modify(h, Filter(0)), errorx.ErrInvalidFilter)
	})
}

func TestPollerDeadline(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts ...Option) {
		p := openPoller(t, opts...)
		r, _ := newPipe(t)
		_, err := p.Add(r, Read, 0)
		require.NoError(t, err)

		// A deadline in the past returns promptly.
		start := time.Now()
		ok, err := p.Poll(clock.Elapsed() - 10)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Less(t, time.Since(start), 500*time.Millisecond)

		// Without events Poll does not return before the deadline.
		wakeAt := clock.Elapsed() + 0.05
		ok, err = p.Poll(wakeAt)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.GreaterOrEqual(t, clock.Elapsed(), wakeAt)
		assert.Empty(t, p.Events())
	})
}

func TestPollerInterrupt(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts ...Option) {
		p := openPoller(t, opts...)
		r, _ := newPipe(t)
		_, err := p.Add(r, Read, 0)
		require.NoError(t, err)

		go func() {
			time.Sleep(20 * time.Millisecond)
			p.Interrupt()
		}()
		ok, err := p.Poll(-1)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.True(t, p.Interrupted())

		ok, err = p.Poll(-1)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestPollerSIGINT(t *testing.T) {
	p, err := Open(WithLogger(logging.NewNopLogger()))
	require.NoError(t, err)
	defer p.Close()
	require.True(t, p.ownsSignal)

	// Only one owner at a time.
	other, err := Open(WithLogger(logging.NewNopLogger()))
	require.NoError(t, err)
	assert.False(t, other.ownsSignal)
	require.NoError(t, other.Close())

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = unix.Kill(os.Getpid(), unix.SIGINT)
	}()
	ok, err := p.Poll(clock.Elapsed() + 10)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, p.Close())
	assert.False(t, UninstallInterruptHandler(p))
}

func TestPollerClosed(t *testing.T) {
	p, err := Open(WithInterruptHandler(false))
	require.NoError(t, err)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	_, err = p.Add(0, Read, 0)
	assert.ErrorIs(t, err, errorx.ErrPollerClosed)
	_, err = p.Poll(0)
	assert.ErrorIs(t, err, errorx.ErrPollerClosed)
	assert.ErrorIs(t, p.Remove(0), errorx.ErrPollerClosed)
}

func TestLoadOptions(t *testing.T) {
	opts := loadOptions()
	assert.True(t, opts.InterruptHandler)
	assert.False(t, opts.BackgroundWait)
	assert.NotNil(t, opts.Logger)

	opts = loadOptions(WithOptions(Options{Reserve: 64, Backend: netpoll.BackendPoll}))
	assert.Equal(t, 64, opts.Reserve)
	assert.Equal(t, netpoll.BackendPoll, opts.Backend)
	assert.False(t, opts.InterruptHandler)
}
