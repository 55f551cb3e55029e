// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2024-2026 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package proc is the process adapter: a uniform spawn/signal/wait
// surface over native subprocesses and container invocations.
//
// Children run in their own process group without a controlling
// terminal; signals always target the whole group. Stdout and stderr
// are line-buffered with a maximum line length and delivered through a
// caller-supplied callback before the exit notification fires.
package proc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/devhostd/devhostd/logring"
	"github.com/devhostd/devhostd/osutil"
)

// BackendKind selects how a session's command is executed.
type BackendKind string

const (
	Native    BackendKind = "native"
	Container BackendKind = "container"
)

// DefaultMaxLineLen bounds a single captured line; longer lines are
// split into chunks flagged as truncated.
const DefaultMaxLineLen = 64 * 1024

// A Spec describes one child to spawn.
type Spec struct {
	// Argv is the command and its arguments; never shell-interpreted.
	Argv []string
	// Dir is the absolute working directory.
	Dir string
	// Env is the fully merged child environment ("K=V" entries).
	Env []string
	// Port the server is expected to listen on, if any.
	Port int

	Backend BackendKind
	// Image is the container image for the container backend.
	Image string
	// ContainerEnv holds only the session's own variables, passed to
	// the container runtime with -e.
	ContainerEnv map[string]string

	MaxLineLen int
}

// ExitInfo describes how a child ended.
type ExitInfo struct {
	// Code is the exit status, or -1 when the child was killed by a
	// signal.
	Code int
	// Signal names the terminating signal, if any.
	Signal string
}

// A LineFunc receives each captured line. It is called from the reader
// goroutines and must not block for long.
type LineFunc func(stream logring.Stream, line []byte, truncated bool)

// SpawnErrorKind discriminates spawn failures.
type SpawnErrorKind string

const (
	CwdMissing         SpawnErrorKind = "CwdMissing"
	ExecutableNotFound SpawnErrorKind = "ExecutableNotFound"
	PermissionDenied   SpawnErrorKind = "PermissionDenied"
	ResourceExhausted  SpawnErrorKind = "ResourceExhausted"
)

// SpawnError is the typed failure returned by Spawn.
type SpawnError struct {
	Kind  SpawnErrorKind
	Cause error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("cannot spawn: %v", e.Cause)
}

func (e *SpawnError) Unwrap() error {
	return e.Cause
}

func classifySpawnError(err error) *SpawnError {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return &SpawnError{Kind: ExecutableNotFound, Cause: err}
	case errors.Is(err, os.ErrPermission):
		return &SpawnError{Kind: PermissionDenied, Cause: err}
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.ENOMEM), errors.Is(err, unix.EMFILE), errors.Is(err, unix.ENFILE):
		return &SpawnError{Kind: ResourceExhausted, Cause: err}
	}
	return &SpawnError{Kind: ExecutableNotFound, Cause: err}
}

// A Handle supervises one spawned child.
type Handle struct {
	cmd *exec.Cmd
	pid int

	done chan ExitInfo
}

// Spawn starts the child described by spec and begins pumping its
// stdout and stderr into deliver. The returned handle's Done channel
// fires exactly once, after both streams are fully drained.
func Spawn(spec *Spec, deliver LineFunc) (*Handle, error) {
	argv := spec.Argv
	if spec.Backend == Container {
		argv = containerArgv(spec)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("cannot spawn: empty command")
	}

	if fi, err := os.Stat(spec.Dir); err != nil || !fi.IsDir() {
		if err == nil {
			err = fmt.Errorf("%s is not a directory", spec.Dir)
		}
		return nil, &SpawnError{Kind: CwdMissing, Cause: err}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	// own process group, no controlling terminal
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, classifySpawnError(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, classifySpawnError(err)
	}

	if err := cmd.Start(); err != nil {
		return nil, classifySpawnError(err)
	}

	h := &Handle{
		cmd:  cmd,
		pid:  cmd.Process.Pid,
		done: make(chan ExitInfo, 1),
	}

	maxLen := spec.MaxLineLen
	if maxLen <= 0 {
		maxLen = DefaultMaxLineLen
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		readLines(stdout, logring.Stdout, maxLen, deliver)
	}()
	go func() {
		defer readers.Done()
		readLines(stderr, logring.Stderr, maxLen, deliver)
	}()

	go func() {
		// both streams must be drained before Wait closes the pipes,
		// and before the exit notification fires
		readers.Wait()
		err := cmd.Wait()
		h.done <- exitInfo(cmd, err)
		close(h.done)
	}()

	return h, nil
}

func exitInfo(cmd *exec.Cmd, waitErr error) ExitInfo {
	info := ExitInfo{Code: -1}
	if state := cmd.ProcessState; state != nil {
		info.Code = state.ExitCode()
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			info.Signal = unix.SignalName(ws.Signal())
		}
	} else if waitErr != nil {
		info.Signal = waitErr.Error()
	}
	return info
}

// readLines pumps rd into deliver, splitting at newlines and chunking
// lines longer than maxLen. Every chunk but the last of an overlong
// line is flagged truncated. Bytes are passed through verbatim, UTF-8
// or not.
func readLines(rd io.Reader, stream logring.Stream, maxLen int, deliver LineFunc) {
	br := bufio.NewReaderSize(rd, maxLen)
	for {
		chunk, err := br.ReadSlice('\n')
		switch {
		case err == nil:
			line := chunk[:len(chunk)-1]
			if len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			deliver(stream, append([]byte(nil), line...), false)
		case err == bufio.ErrBufferFull:
			deliver(stream, append([]byte(nil), chunk...), true)
		default:
			if len(chunk) > 0 {
				deliver(stream, append([]byte(nil), chunk...), false)
			}
			return
		}
	}
}

// PID returns the child's process id.
func (h *Handle) PID() int {
	return h.pid
}

// Done fires exactly once with the child's exit information, after the
// log streams are drained.
func (h *Handle) Done() <-chan ExitInfo {
	return h.done
}

// Terminate sends the graceful termination signal to the child's
// process group.
func (h *Handle) Terminate() error {
	return osutil.KillProcessGroup(h.pid, unix.SIGTERM)
}

// Kill forcibly ends the child's process group.
func (h *Handle) Kill() error {
	return osutil.KillProcessGroup(h.pid, unix.SIGKILL)
}

// Stop terminates gracefully, escalating to Kill if deadline passes,
// and waits for the exit notification.
func (h *Handle) Stop(deadline time.Duration) ExitInfo {
	h.Terminate()
	select {
	case info := <-h.done:
		return info
	case <-time.After(deadline):
	}
	h.Kill()
	return <-h.done
}
