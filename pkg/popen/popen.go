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

// Package popen runs a shell command with one of its standard streams
// connected to a non-blocking channel.
package popen

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	"github.com/panjf2000/lens/pkg/channel"
	errorx "github.com/panjf2000/lens/pkg/errors"
	"github.com/panjf2000/lens/pkg/file"
	"github.com/panjf2000/lens/pkg/logging"
)

// FailureExitCode is returned by Waitpid when the child did not exit normally.
const FailureExitCode = -1

const defaultShell = "/bin/sh"

// Popen is a child process whose stdout (Read mode) or stdin (Write mode)
// is the embedded channel.
type Popen struct {
	*file.File

	command string
	cmd     *exec.Cmd
	state   *os.ProcessState
}

func shell() (string, error) {
	if _, err := os.Stat(defaultShell); err == nil {
		return defaultShell, nil
	}
	return exec.LookPath("sh")
}

// Open starts "sh -c command". In channel.Read mode the parent reads what
// the child writes on stdout, in channel.Write mode the parent writes the
// child's stdin. The other standard streams are inherited.
func Open(command string, mode channel.Mode) (*Popen, error) {
	if mode != channel.Read && mode != channel.Write {
		return nil, fmt.Errorf("%w: %d, want Read or Write", errorx.ErrInvalidMode, mode)
	}
	sh, err := shell()
	if err != nil {
		return nil, err
	}

	var p [2]int
	if err = pipe(p[:]); err != nil {
		return nil, os.NewSyscallError("pipe", err)
	}
	parentFd, childFd := p[0], p[1]
	if mode == channel.Write {
		parentFd, childFd = p[1], p[0]
	}
	child := os.NewFile(uintptr(childFd), "popen-child")

	cmd := exec.Command(sh, "-c", command)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if mode == channel.Read {
		cmd.Stdout = child
	} else {
		cmd.Stdin = child
	}
	err = cmd.Start()
	_ = child.Close()
	if err != nil {
		_ = unix.Close(parentFd)
		return nil, err
	}

	f, err := file.New(parentFd, mode)
	if err != nil {
		_ = unix.Close(parentFd)
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}
	logging.Debugf("spawned pid %d for %q", cmd.Process.Pid, command)
	return &Popen{File: f, command: command, cmd: cmd}, nil
}

// Pid returns the process id of the child.
func (p *Popen) Pid() int {
	return p.cmd.Process.Pid
}

// Waitpid closes the channel, which lets a reading child see the end of its
// input, then blocks until the child terminates. It returns the exit status,
// or FailureExitCode when the child was terminated by a signal.
func (p *Popen) Waitpid() (int, error) {
	_ = p.Close()
	if p.state == nil {
		err := p.cmd.Wait()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			return FailureExitCode, err
		}
		p.state = p.cmd.ProcessState
		logging.Debugf("reaped pid %d: %s", p.state.Pid(), p.state)
	}
	if !p.state.Exited() {
		return FailureExitCode, nil
	}
	return p.state.ExitCode(), nil
}

func (p *Popen) String() string {
	return fmt.Sprintf("popen(%d, %q)", p.cmd.Process.Pid, p.command)
}
