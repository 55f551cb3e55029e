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

package ports_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/devhostd/devhostd/ports"
	"github.com/devhostd/devhostd/testutil"
)

func Test(t *testing.T) { TestingT(t) }

type memBackend struct {
	data []byte
	n    int
}

func (b *memBackend) Checkpoint(data []byte) error {
	b.data = data
	b.n++
	return nil
}

type registrySuite struct {
	backend *memBackend
	reg     *ports.Registry
	restore func()
}

var _ = Suite(&registrySuite{})

func (s *registrySuite) SetUpTest(c *C) {
	s.backend = &memBackend{}
	s.reg = ports.NewRegistry(s.backend, nil)
	// all ports look free unless a test says otherwise
	s.restore = ports.MockProbe(s.reg, func(port int) bool { return false })
}

func (s *registrySuite) TearDownTest(c *C) {
	s.restore()
}

func (s *registrySuite) TestAllocateAutoUsesClassRange(c *C) {
	port, err := s.reg.Allocate(ports.Node, "s1", "web", 0)
	c.Assert(err, IsNil)
	c.Check(port >= 3000 && port <= 3999, Equals, true)

	port2, err := s.reg.Allocate(ports.Python, "s2", "api", 0)
	c.Assert(err, IsNil)
	c.Check(port2 >= 5000 && port2 <= 5999, Equals, true)
}

func (s *registrySuite) TestAllocateAutoAdvances(c *C) {
	p1, err := s.reg.Allocate(ports.Node, "s1", "a", 0)
	c.Assert(err, IsNil)
	p2, err := s.reg.Allocate(ports.Node, "s2", "b", 0)
	c.Assert(err, IsNil)
	c.Check(p2, Equals, p1+1)

	// released ports are not immediately reused
	c.Assert(s.reg.Release(p1), IsNil)
	p3, err := s.reg.Allocate(ports.Node, "s3", "c", 0)
	c.Assert(err, IsNil)
	c.Check(p3, Equals, p2+1)
}

func (s *registrySuite) TestAllocateRequested(c *C) {
	port, err := s.reg.Allocate(ports.Node, "s1", "web", 3123)
	c.Assert(err, IsNil)
	c.Check(port, Equals, 3123)

	a, ok := s.reg.Owner(3123)
	c.Assert(ok, Equals, true)
	c.Check(a.SessionID, Equals, "s1")
	c.Check(a.SessionName, Equals, "web")
	c.Check(a.Class, Equals, ports.Node)
}

func (s *registrySuite) TestAllocateSystemReserved(c *C) {
	for _, port := range []int{2601, 2650, 2699} {
		_, err := s.reg.Allocate(ports.Node, "s1", "web", port)
		perr, ok := err.(*ports.Error)
		c.Assert(ok, Equals, true, Commentf("port %d", port))
		c.Check(perr.Kind, Equals, ports.SystemReserved)
		c.Check(perr.Port, Equals, port)
	}
}

func (s *registrySuite) TestAllocateInUseConflict(c *C) {
	_, err := s.reg.Allocate(ports.Node, "s1", "web", 3001)
	c.Assert(err, IsNil)

	_, err = s.reg.Allocate(ports.Node, "s2", "other", 3001)
	perr, ok := err.(*ports.Error)
	c.Assert(ok, Equals, true)
	c.Check(perr.Kind, Equals, ports.PortInUse)
	c.Check(perr.ConflictingSessionID, Equals, "s1")
	c.Check(perr.ConflictingSessionName, Equals, "web")
	c.Assert(perr.Suggestions, HasLen, 3)
	c.Check(perr.Suggestions, DeepEquals, []int{3000, 3002, 3003})

	// the original allocation is untouched
	a, ok := s.reg.Owner(3001)
	c.Assert(ok, Equals, true)
	c.Check(a.SessionID, Equals, "s1")
}

func (s *registrySuite) TestAllocateExternallyBound(c *C) {
	restore := ports.MockProbe(s.reg, func(port int) bool { return port == 3005 })
	defer restore()

	_, err := s.reg.Allocate(ports.Node, "s1", "web", 3005)
	perr, ok := err.(*ports.Error)
	c.Assert(ok, Equals, true)
	c.Check(perr.Kind, Equals, ports.PortExternallyBound)
	c.Assert(len(perr.Suggestions) > 0, Equals, true)
}

func (s *registrySuite) TestAutoSkipsExternallyBound(c *C) {
	restore := ports.MockProbe(s.reg, func(port int) bool { return port == 3000 })
	defer restore()

	port, err := s.reg.Allocate(ports.Node, "s1", "web", 0)
	c.Assert(err, IsNil)
	c.Check(port, Equals, 3001)
}

func (s *registrySuite) TestRangeExhausted(c *C) {
	reg := ports.NewRegistry(nil, map[ports.RuntimeClass]ports.Range{
		ports.Node:    {Lo: 3000, Hi: 3001},
		ports.Generic: {Lo: 3000, Hi: 3001},
	})
	restore := ports.MockProbe(reg, func(port int) bool { return false })
	defer restore()

	_, err := reg.Allocate(ports.Node, "s1", "a", 0)
	c.Assert(err, IsNil)
	_, err = reg.Allocate(ports.Node, "s2", "b", 0)
	c.Assert(err, IsNil)

	_, err = reg.Allocate(ports.Node, "s3", "c", 0)
	perr, ok := err.(*ports.Error)
	c.Assert(ok, Equals, true)
	c.Check(perr.Kind, Equals, ports.RangeExhausted)
	c.Check(perr.Suggestions, HasLen, 0)
}

func (s *registrySuite) TestReleaseUnknown(c *C) {
	err := s.reg.Release(3000)
	c.Assert(err, ErrorMatches, "cannot release port 3000: not allocated")
}

func (s *registrySuite) TestReconcile(c *C) {
	p1, err := s.reg.Allocate(ports.Node, "live", "a", 0)
	c.Assert(err, IsNil)
	p2, err := s.reg.Allocate(ports.Node, "dead", "b", 0)
	c.Assert(err, IsNil)

	freed := s.reg.Reconcile(func(sessionID string) bool { return sessionID == "live" })
	c.Check(freed, DeepEquals, []int{p2})

	_, ok := s.reg.Owner(p1)
	c.Check(ok, Equals, true)
	_, ok = s.reg.Owner(p2)
	c.Check(ok, Equals, false)
}

func (s *registrySuite) TestCheckpointSchema(c *C) {
	port, err := s.reg.Allocate(ports.Node, "s1", "web", 0)
	c.Assert(err, IsNil)
	c.Assert(s.reg.Release(port), IsNil)

	var snap struct {
		System map[string]struct {
			Service string `json:"service"`
			Status  string `json:"status"`
		} `json:"system"`
		Applications map[string]struct {
			SessionID string `json:"session_id"`
		} `json:"applications"`
		History []struct {
			Action    string `json:"action"`
			Port      int    `json:"port"`
			SessionID string `json:"session_id"`
		} `json:"history"`
	}
	c.Assert(json.Unmarshal(s.backend.data, &snap), IsNil)

	c.Check(snap.System["2601"].Service, Equals, "devhostd-control")
	c.Check(snap.Applications, HasLen, 0)
	c.Assert(snap.History, HasLen, 2)
	c.Check(snap.History[0].Action, Equals, "assigned")
	c.Check(snap.History[1].Action, Equals, "released")
	c.Check(snap.History[0].Port, Equals, port)
}

func (s *registrySuite) TestLoadRestoresAllocations(c *C) {
	port, err := s.reg.Allocate(ports.Python, "s1", "api", 0)
	c.Assert(err, IsNil)

	reg2 := ports.NewRegistry(nil, nil)
	c.Assert(reg2.Load(s.backend.data), IsNil)

	a, ok := reg2.Owner(port)
	c.Assert(ok, Equals, true)
	c.Check(a.SessionID, Equals, "s1")
	c.Check(a.Class, Equals, ports.Python)
}

func (s *registrySuite) TestLoadFileFallsBackToBackup(c *C) {
	tmpdir := c.MkDir()
	path := filepath.Join(tmpdir, "ports.json")

	_, err := s.reg.Allocate(ports.Node, "s1", "web", 3100)
	c.Assert(err, IsNil)
	c.Assert(os.WriteFile(path, []byte("{garbage"), 0600), IsNil)
	c.Assert(os.WriteFile(path+".bak", s.backend.data, 0600), IsNil)

	reg2 := ports.NewRegistry(nil, nil)
	c.Assert(reg2.LoadFile(path), IsNil)
	_, ok := reg2.Owner(3100)
	c.Check(ok, Equals, true)
}

func (s *registrySuite) TestLoadFileMissingIsFreshStart(c *C) {
	reg2 := ports.NewRegistry(nil, nil)
	c.Assert(reg2.LoadFile(filepath.Join(c.MkDir(), "ports.json")), IsNil)
	c.Check(reg2.Snapshot(), HasLen, 0)
}

func (s *registrySuite) TestFileBackend(c *C) {
	path := filepath.Join(c.MkDir(), "sub", "ports.json")
	b := &ports.FileBackend{Path: path}
	c.Assert(b.Checkpoint([]byte(`{}`)), IsNil)
	c.Check(path, testutil.FileEquals, `{}`)
}
