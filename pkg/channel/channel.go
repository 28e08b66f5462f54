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

// Package channel implements the buffered, non-blocking byte stream shared by
// files, sockets and process pipes.
//
// Every operation either completes (OK), stops because the descriptor would
// block (Wait) or hits the end of the stream (End). A Wait result carries the
// progress made so far and all remaining state lives in the channel buffer,
// so the caller resumes by calling the same operation again once the poller
// reports the descriptor ready.
package channel

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	errorx "github.com/panjf2000/lens/pkg/errors"
	"github.com/panjf2000/lens/pkg/pool/bytebuffer"
)

// BufferSize is the capacity of the read buffer of a channel.
const BufferSize = 8196

// Status is the outcome of an I/O operation.
type Status int

const (
	// OK means the operation completed.
	OK Status = iota
	// Wait means the descriptor would block, retry when it is ready.
	Wait
	// End means the stream is exhausted.
	End
)

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case Wait:
		return "Wait"
	case End:
		return "End"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Mode tells which operations a channel permits.
type Mode int

const (
	// None permits nothing.
	None Mode = 0
	// Read permits reads.
	Read Mode = 1
	// Write permits writes.
	Write Mode = 2
	// Append permits writes at the end of a file.
	Append Mode = 4
	// Events is for descriptors opened only to watch filesystem changes.
	Events Mode = 8
)

// CanRead reports whether m permits reads.
func (m Mode) CanRead() bool { return m&Read != 0 }

// CanWrite reports whether m permits writes.
func (m Mode) CanWrite() bool { return m&(Write|Append) != 0 }

type ioFunc func(fd int, p []byte) (int, error)

// Channel is a buffered byte stream over a non-blocking descriptor.
// 0 <= index <= length <= len(buf) always holds.
type Channel struct {
	fd     int
	mode   Mode
	buf    []byte
	length int // valid bytes in buf
	index  int // consumed bytes in buf
	read   ioFunc
	write  ioFunc
}

// New wraps fd, which should already be in non-blocking mode.
func New(fd int, mode Mode) *Channel {
	c := &Channel{read: unix.Read, write: unix.Write}
	c.Attach(fd, mode)
	return c
}

// Attach makes the channel operate on fd, dropping any buffered data. The
// previous descriptor, if any, is not closed.
func (c *Channel) Attach(fd int, mode Mode) {
	c.fd, c.mode = fd, mode
	c.length, c.index = 0, 0
	if c.read == nil {
		c.read = unix.Read
	}
	if c.write == nil {
		c.write = unix.Write
	}
}

// Fd returns the descriptor, -1 once closed.
func (c *Channel) Fd() int {
	return c.fd
}

// Mode returns the mode of the channel.
func (c *Channel) Mode() Mode {
	return c.mode
}

// Buffered returns the number of bytes read from the descriptor but not yet consumed.
func (c *Channel) Buffered() int {
	return c.length - c.index
}

// Close closes the descriptor, later calls are no-ops.
func (c *Channel) Close() error {
	if c.fd < 0 {
		return nil
	}
	fd := c.fd
	c.fd, c.mode = -1, None
	c.length, c.index = 0, 0
	c.buf = nil
	return os.NewSyscallError("close", unix.Close(fd))
}

func (c *Channel) checkRead() error {
	if c.fd < 0 {
		return errorx.ErrClosed
	}
	if !c.mode.CanRead() {
		return fmt.Errorf("%w: %s", errorx.ErrIncompatibleMode, "read")
	}
	if c.buf == nil {
		c.buf = make([]byte, BufferSize)
	}
	return nil
}

func (c *Channel) checkWrite() error {
	if c.fd < 0 {
		return errorx.ErrClosed
	}
	if !c.mode.CanWrite() {
		return fmt.Errorf("%w: %s", errorx.ErrIncompatibleMode, "write")
	}
	return nil
}

// fill reads more data after the valid bytes, compacting the buffer first.
// It returns OK when new data arrived, Wait when the descriptor would block
// or was interrupted, End at end of stream.
func (c *Channel) fill() (Status, error) {
	if c.index > 0 {
		c.length = copy(c.buf, c.buf[c.index:c.length])
		c.index = 0
	}
	n, err := c.read(c.fd, c.buf[c.length:])
	switch {
	case err == unix.EAGAIN || err == unix.EINTR:
		return Wait, nil
	case err != nil:
		return End, os.NewSyscallError("read", err)
	case n == 0:
		return End, nil
	}
	c.length += n
	return OK, nil
}

// ReadLine reads up to the next '\n', which is not returned. A '\r' right
// before the '\n' is dropped as well.
//
// Without a complete line it returns the bytes gathered so far with Wait, the
// caller appends them to what it has and calls again when readable. At end of
// stream the pending bytes are returned with OK if this call consumed any, an
// exhausted stream gives End.
func (c *Channel) ReadLine() ([]byte, Status, error) {
	if err := c.checkRead(); err != nil {
		return nil, End, err
	}

	line := bytebuffer.Get()
	hasData := c.index < c.length
	for {
		for c.index < c.length {
			b := c.buf[c.index]
			if b == '\n' {
				c.index++
				return bytebuffer.Detach(line), OK, nil
			}
			if b == '\r' {
				if c.index+1 == c.length {
					// Keep it buffered until the next byte tells whether it ends the line.
					break
				}
				if c.buf[c.index+1] == '\n' {
					c.index += 2
					return bytebuffer.Detach(line), OK, nil
				}
			}
			_ = line.WriteByte(b)
			c.index++
		}

		status, err := c.fill()
		switch status {
		case OK:
			hasData = true
			continue
		case Wait:
			return bytebuffer.Detach(line), Wait, nil
		}
		if err != nil {
			bytebuffer.Put(line)
			return nil, End, err
		}
		// End of stream, a held '\r' is plain data now.
		if c.index < c.length {
			_, _ = line.Write(c.buf[c.index:c.length])
			c.index = c.length
		}
		if hasData {
			return bytebuffer.Detach(line), OK, nil
		}
		bytebuffer.Put(line)
		return nil, End, nil
	}
}

// ReadExact reads n bytes. On Wait or End it returns the bytes gathered so
// far, n-len(data) bytes are then still outstanding.
func (c *Channel) ReadExact(n int) ([]byte, Status, error) {
	if err := c.checkRead(); err != nil {
		return nil, End, err
	}
	if n <= 0 {
		return []byte{}, OK, nil
	}

	data := make([]byte, 0, n)
	for {
		avail := c.length - c.index
		if need := n - len(data); avail >= need {
			data = append(data, c.buf[c.index:c.index+need]...)
			c.index += need
			return data, OK, nil
		}
		data = append(data, c.buf[c.index:c.length]...)
		c.index, c.length = 0, 0

		status, err := c.fill()
		if status != OK {
			return data, status, err
		}
	}
}

// Read fills p and returns the number of bytes stored, following the
// contract of ReadExact: OK when p is full, Wait or End with a partial count.
func (c *Channel) Read(p []byte) (int, Status, error) {
	if err := c.checkRead(); err != nil {
		return 0, End, err
	}
	n := 0
	for n < len(p) {
		if c.index < c.length {
			k := copy(p[n:], c.buf[c.index:c.length])
			c.index += k
			n += k
			continue
		}
		status, err := c.fill()
		if status != OK {
			return n, status, err
		}
	}
	return n, OK, nil
}

// ReadAll reads until end of stream. It returns OK with everything read once
// the stream ends after data, Wait with what was gathered when the descriptor
// would block, End when nothing was left.
func (c *Channel) ReadAll() ([]byte, Status, error) {
	if err := c.checkRead(); err != nil {
		return nil, End, err
	}

	all := bytebuffer.Get()
	for {
		if c.index < c.length {
			_, _ = all.Write(c.buf[c.index:c.length])
			c.index, c.length = 0, 0
		}
		status, err := c.fill()
		switch {
		case status == OK:
			continue
		case err != nil:
			bytebuffer.Put(all)
			return nil, End, err
		case status == Wait:
			return bytebuffer.Detach(all), Wait, nil
		case all.Len() > 0:
			return bytebuffer.Detach(all), OK, nil
		}
		bytebuffer.Put(all)
		return nil, End, nil
	}
}

// Write writes p, retrying after signal interruptions. It returns Wait with
// the number of bytes written when the descriptor would block.
func (c *Channel) Write(p []byte) (int, Status, error) {
	if err := c.checkWrite(); err != nil {
		return 0, End, err
	}
	return WriteAll(c.write, c.fd, p)
}

// WriteAll is the write loop of Channel.Write on an arbitrary write function.
func WriteAll(write func(fd int, p []byte) (int, error), fd int, p []byte) (int, Status, error) {
	done := 0
	for done < len(p) {
		n, err := write(fd, p[done:])
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return done, Wait, nil
		case err != nil:
			return done, End, os.NewSyscallError("write", err)
		case n <= 0:
			return done, Wait, nil
		}
		done += n
	}
	return done, OK, nil
}

func (c *Channel) String() string {
	return fmt.Sprintf("fd(%d)", c.fd)
}
