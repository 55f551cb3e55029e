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

package proc_test

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	. "gopkg.in/check.v1"

	"github.com/devhostd/devhostd/logring"
	"github.com/devhostd/devhostd/proc"
)

func Test(t *testing.T) { TestingT(t) }

type procSuite struct{}

var _ = Suite(&procSuite{})

type capturedLine struct {
	stream    logring.Stream
	text      string
	truncated bool
}

type collector struct {
	mu    sync.Mutex
	lines []capturedLine
}

func (co *collector) deliver(stream logring.Stream, line []byte, truncated bool) {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.lines = append(co.lines, capturedLine{stream, string(line), truncated})
}

func (co *collector) captured() []capturedLine {
	co.mu.Lock()
	defer co.mu.Unlock()
	return append([]capturedLine(nil), co.lines...)
}

func (s *procSuite) spawn(c *C, spec *proc.Spec, co *collector) *proc.Handle {
	if spec.Dir == "" {
		spec.Dir = c.MkDir()
	}
	h, err := proc.Spawn(spec, co.deliver)
	c.Assert(err, IsNil)
	return h
}

func (s *procSuite) waitExit(c *C, h *proc.Handle) proc.ExitInfo {
	select {
	case info := <-h.Done():
		return info
	case <-time.After(10 * time.Second):
		c.Fatal("timed out waiting for child exit")
	}
	panic("unreachable")
}

func (s *procSuite) TestSpawnCapturesStdout(c *C) {
	co := &collector{}
	h := s.spawn(c, &proc.Spec{
		Argv: []string{"/bin/sh", "-c", "echo hello; echo world"},
	}, co)
	c.Check(h.PID() > 0, Equals, true)

	info := s.waitExit(c, h)
	c.Check(info.Code, Equals, 0)
	c.Check(info.Signal, Equals, "")
	c.Check(co.captured(), DeepEquals, []capturedLine{
		{logring.Stdout, "hello", false},
		{logring.Stdout, "world", false},
	})
}

func (s *procSuite) TestSpawnCapturesStderr(c *C) {
	co := &collector{}
	h := s.spawn(c, &proc.Spec{
		Argv: []string{"/bin/sh", "-c", "echo oops 1>&2"},
	}, co)

	s.waitExit(c, h)
	c.Check(co.captured(), DeepEquals, []capturedLine{
		{logring.Stderr, "oops", false},
	})
}

func (s *procSuite) TestExitCode(c *C) {
	co := &collector{}
	h := s.spawn(c, &proc.Spec{
		Argv: []string{"/bin/sh", "-c", "exit 3"},
	}, co)

	info := s.waitExit(c, h)
	c.Check(info.Code, Equals, 3)
	c.Check(info.Signal, Equals, "")
}

func (s *procSuite) TestKillReportsSignal(c *C) {
	co := &collector{}
	h := s.spawn(c, &proc.Spec{
		Argv: []string{"/bin/sleep", "30"},
	}, co)

	c.Assert(h.Kill(), IsNil)
	info := s.waitExit(c, h)
	c.Check(info.Code, Equals, -1)
	c.Check(info.Signal, Equals, "SIGKILL")
}

func (s *procSuite) TestStopGraceful(c *C) {
	co := &collector{}
	h := s.spawn(c, &proc.Spec{
		Argv: []string{"/bin/sleep", "30"},
	}, co)

	info := h.Stop(5 * time.Second)
	c.Check(info.Signal, Equals, "SIGTERM")
}

func (s *procSuite) TestStopEscalatesToKill(c *C) {
	co := &collector{}
	h := s.spawn(c, &proc.Spec{
		// the trap keeps the shell alive; the loop restarts the sleep
		// that the group-wide SIGTERM takes down
		Argv: []string{"/bin/sh", "-c", `trap "" TERM; while :; do sleep 1; done`},
	}, co)

	// give the shell a moment to install the trap
	time.Sleep(100 * time.Millisecond)
	info := h.Stop(250 * time.Millisecond)
	c.Check(info.Signal, Equals, "SIGKILL")
}

func (s *procSuite) TestChildEnvironment(c *C) {
	co := &collector{}
	h := s.spawn(c, &proc.Spec{
		Argv: []string{"/bin/sh", "-c", "echo $GREETING"},
		Env:  []string{"GREETING=bonjour"},
	}, co)

	s.waitExit(c, h)
	c.Check(co.captured(), DeepEquals, []capturedLine{
		{logring.Stdout, "bonjour", false},
	})
}

func (s *procSuite) TestWorkingDirectory(c *C) {
	dir := c.MkDir()
	co := &collector{}
	h := s.spawn(c, &proc.Spec{
		Argv: []string{"/bin/sh", "-c", "pwd"},
		Dir:  dir,
	}, co)

	s.waitExit(c, h)
	lines := co.captured()
	c.Assert(lines, HasLen, 1)
	// pwd may resolve symlinks (e.g. /tmp on some systems)
	c.Check(strings.HasSuffix(lines[0].text, filepath.Base(dir)), Equals, true)
}

func (s *procSuite) TestLongLinesChunked(c *C) {
	co := &collector{}
	h := s.spawn(c, &proc.Spec{
		Argv:       []string{"/bin/sh", "-c", "printf 'aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa\\n'"},
		MaxLineLen: 16,
	}, co)

	s.waitExit(c, h)
	lines := co.captured()
	c.Assert(lines, HasLen, 3)
	c.Check(lines[0], DeepEquals, capturedLine{logring.Stdout, strings.Repeat("a", 16), true})
	c.Check(lines[1], DeepEquals, capturedLine{logring.Stdout, strings.Repeat("a", 16), true})
	c.Check(lines[2], DeepEquals, capturedLine{logring.Stdout, strings.Repeat("a", 8), false})
}

func (s *procSuite) TestCRLFStripped(c *C) {
	co := &collector{}
	h := s.spawn(c, &proc.Spec{
		Argv: []string{"/bin/sh", "-c", "printf 'windows line\\r\\n'"},
	}, co)

	s.waitExit(c, h)
	c.Check(co.captured(), DeepEquals, []capturedLine{
		{logring.Stdout, "windows line", false},
	})
}

func (s *procSuite) TestUnterminatedLineDeliveredAtEOF(c *C) {
	co := &collector{}
	h := s.spawn(c, &proc.Spec{
		Argv: []string{"/bin/sh", "-c", "printf 'no newline'"},
	}, co)

	s.waitExit(c, h)
	c.Check(co.captured(), DeepEquals, []capturedLine{
		{logring.Stdout, "no newline", false},
	})
}

func (s *procSuite) TestLinesDrainedBeforeExit(c *C) {
	co := &collector{}
	h := s.spawn(c, &proc.Spec{
		Argv: []string{"/bin/sh", "-c", "i=0; while [ $i -lt 200 ]; do echo line $i; i=$((i+1)); done"},
	}, co)

	s.waitExit(c, h)
	// every line must have been delivered by the time Done fires
	lines := co.captured()
	c.Assert(lines, HasLen, 200)
	c.Check(lines[199].text, Equals, "line 199")
}

func (s *procSuite) TestEmptyArgv(c *C) {
	_, err := proc.Spawn(&proc.Spec{Dir: c.MkDir()}, func(logring.Stream, []byte, bool) {})
	c.Assert(err, ErrorMatches, "cannot spawn: empty command")
}

func (s *procSuite) TestCwdMissing(c *C) {
	_, err := proc.Spawn(&proc.Spec{
		Argv: []string{"/bin/true"},
		Dir:  "/nonexistent/dir",
	}, func(logring.Stream, []byte, bool) {})
	spawnErr, ok := err.(*proc.SpawnError)
	c.Assert(ok, Equals, true)
	c.Check(spawnErr.Kind, Equals, proc.CwdMissing)
}

func (s *procSuite) TestCwdNotADirectory(c *C) {
	file := filepath.Join(c.MkDir(), "plain")
	c.Assert(os.WriteFile(file, nil, 0644), IsNil)

	_, err := proc.Spawn(&proc.Spec{
		Argv: []string{"/bin/true"},
		Dir:  file,
	}, func(logring.Stream, []byte, bool) {})
	spawnErr, ok := err.(*proc.SpawnError)
	c.Assert(ok, Equals, true)
	c.Check(spawnErr.Kind, Equals, proc.CwdMissing)
}

func (s *procSuite) TestExecutableNotFound(c *C) {
	_, err := proc.Spawn(&proc.Spec{
		Argv: []string{"/no/such/binary"},
		Dir:  c.MkDir(),
	}, func(logring.Stream, []byte, bool) {})
	spawnErr, ok := err.(*proc.SpawnError)
	c.Assert(ok, Equals, true)
	c.Check(spawnErr.Kind, Equals, proc.ExecutableNotFound)
}

func (s *procSuite) TestPermissionDenied(c *C) {
	script := filepath.Join(c.MkDir(), "noexec.sh")
	c.Assert(os.WriteFile(script, []byte("#!/bin/sh\n"), 0644), IsNil)

	_, err := proc.Spawn(&proc.Spec{
		Argv: []string{script},
		Dir:  c.MkDir(),
	}, func(logring.Stream, []byte, bool) {})
	spawnErr, ok := err.(*proc.SpawnError)
	c.Assert(ok, Equals, true)
	c.Check(spawnErr.Kind, Equals, proc.PermissionDenied)
}

func (s *procSuite) TestContainerArgv(c *C) {
	argv := proc.ContainerArgv(&proc.Spec{
		Argv:         []string{"npm", "start"},
		Dir:          "/home/dev/app",
		Port:         3000,
		Backend:      proc.Container,
		Image:        "node:20-alpine",
		ContainerEnv: map[string]string{"NODE_ENV": "development", "DEBUG": "1"},
	})
	c.Check(argv, DeepEquals, []string{
		"docker", "run", "--rm", "--init",
		"-v", "/home/dev/app:/workspace",
		"-w", "/workspace",
		"-p", "127.0.0.1:3000:3000",
		"-e", "DEBUG=1",
		"-e", "NODE_ENV=development",
		"-e", "PORT=3000",
		"node:20-alpine",
		"npm", "start",
	})
}

func (s *procSuite) TestContainerArgvNoPort(c *C) {
	argv := proc.ContainerArgv(&proc.Spec{
		Argv:    []string{"python", "worker.py"},
		Dir:     "/srv/worker",
		Backend: proc.Container,
		Image:   "python:3.12-slim",
	})
	c.Check(argv, DeepEquals, []string{
		"docker", "run", "--rm", "--init",
		"-v", "/srv/worker:/workspace",
		"-w", "/workspace",
		"python:3.12-slim",
		"python", "worker.py",
	})
}
