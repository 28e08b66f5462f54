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

// Package file opens regular files and adopts existing descriptors as
// buffered, non-blocking channels.
package file

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/panjf2000/lens/pkg/channel"
	errorx "github.com/panjf2000/lens/pkg/errors"
)

// File is a channel backed by a file or any descriptor handed over by the caller.
type File struct {
	*channel.Channel

	path string
}

func openFlags(mode channel.Mode) (int, error) {
	switch mode {
	case channel.Read:
		return unix.O_RDONLY, nil
	case channel.Write:
		return unix.O_WRONLY | unix.O_CREAT | unix.O_TRUNC, nil
	case channel.Read | channel.Write:
		return unix.O_RDWR | unix.O_CREAT, nil
	case channel.Append:
		return unix.O_WRONLY | unix.O_CREAT | unix.O_APPEND, nil
	case channel.Events:
		return eventsFlags()
	}
	return 0, fmt.Errorf("%w: %d", errorx.ErrInvalidMode, mode)
}

// Open opens path in mode. Events mode opens the file only to watch it with
// a VNode interest, where the platform supports it.
func Open(path string, mode channel.Mode) (*File, error) {
	flags, err := openFlags(mode)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Open(path, flags|unix.O_NONBLOCK|unix.O_CLOEXEC, 0o644)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return &File{Channel: channel.New(fd, mode), path: path}, nil
}

// New adopts fd, switching it to non-blocking mode. The File owns fd from
// now on and closes it in Close.
func New(fd int, mode channel.Mode) (*File, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, os.NewSyscallError("setnonblock", err)
	}
	return &File{Channel: channel.New(fd, mode)}, nil
}

// Path returns the path the file was opened with, empty for adopted descriptors.
func (f *File) Path() string {
	return f.path
}

func (f *File) String() string {
	if f.path == "" {
		return fmt.Sprintf("File(fd %d)", f.Fd())
	}
	return fmt.Sprintf("File(%s, fd %d)", f.path, f.Fd())
}
