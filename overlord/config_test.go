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

package overlord_test

import (
	"os"
	"path/filepath"
	"time"

	. "gopkg.in/check.v1"

	"github.com/devhostd/devhostd/overlord"
	"github.com/devhostd/devhostd/ports"
)

type configSuite struct {
	dir string
}

var _ = Suite(&configSuite{})

func (s *configSuite) SetUpTest(c *C) {
	s.dir = c.MkDir()
}

func (s *configSuite) write(c *C, content string) string {
	path := filepath.Join(s.dir, "config.yaml")
	c.Assert(os.WriteFile(path, []byte(content), 0644), IsNil)
	return path
}

func (s *configSuite) TestMissingFileIsDefaults(c *C) {
	cfg, err := overlord.ReadConfig(filepath.Join(s.dir, "nope.yaml"))
	c.Assert(err, IsNil)
	c.Check(cfg.PortRanges(), DeepEquals, ports.DefaultRanges())
	c.Check(cfg.Options(), DeepEquals, overlord.ManagerOptions{})
}

func (s *configSuite) TestFullConfig(c *C) {
	path := s.write(c, `
ranges:
  node: {lo: 3100, hi: 3200}
images:
  python: python:3.11-slim
ready_grace_ms: 5000
shutdown_deadline_ms: 2000
log_ring_capacity: 500
log_ring_max_bytes: 1048576
retention_grace_min: 5
record_ttl_min: 30
`)
	cfg, err := overlord.ReadConfig(path)
	c.Assert(err, IsNil)

	ranges := cfg.PortRanges()
	c.Check(ranges[ports.Node], Equals, ports.Range{Lo: 3100, Hi: 3200})
	// untouched classes keep their defaults
	c.Check(ranges[ports.Python], Equals, ports.DefaultRanges()[ports.Python])

	opts := cfg.Options()
	c.Check(opts.ReadyGrace, Equals, 5*time.Second)
	c.Check(opts.ShutdownDeadline, Equals, 2*time.Second)
	c.Check(opts.RingCapacity, Equals, 500)
	c.Check(opts.RingMaxBytes, Equals, 1048576)
	c.Check(opts.RetentionGrace, Equals, 5*time.Minute)
	c.Check(opts.RecordTTL, Equals, 30*time.Minute)
	c.Check(opts.Images, DeepEquals, map[string]string{"python": "python:3.11-slim"})
}

func (s *configSuite) TestEnvironmentOverrides(c *C) {
	for _, k := range []string{"DEVHOSTD_SHUTDOWN_DEADLINE", "DEVHOSTD_RETENTION_GRACE", "DEVHOSTD_RING_CAPACITY"} {
		os.Unsetenv(k)
		defer os.Unsetenv(k)
	}

	base := overlord.ManagerOptions{
		ShutdownDeadline: 10 * time.Second,
		RetentionGrace:   15 * time.Minute,
		RingCapacity:     10000,
	}

	// unset environment leaves the file-derived options alone
	c.Check(overlord.EnvManagerOptions(base), DeepEquals, base)

	os.Setenv("DEVHOSTD_SHUTDOWN_DEADLINE", "3s")
	os.Setenv("DEVHOSTD_RETENTION_GRACE", "5m")
	os.Setenv("DEVHOSTD_RING_CAPACITY", "2000")
	got := overlord.EnvManagerOptions(base)
	c.Check(got.ShutdownDeadline, Equals, 3*time.Second)
	c.Check(got.RetentionGrace, Equals, 5*time.Minute)
	c.Check(got.RingCapacity, Equals, 2000)

	// garbage falls back to the file-derived values
	os.Setenv("DEVHOSTD_SHUTDOWN_DEADLINE", "soon")
	os.Setenv("DEVHOSTD_RING_CAPACITY", "lots")
	got = overlord.EnvManagerOptions(base)
	c.Check(got.ShutdownDeadline, Equals, 10*time.Second)
	c.Check(got.RingCapacity, Equals, 10000)
}

func (s *configSuite) TestBadYAML(c *C) {
	path := s.write(c, "ranges: [not a map")
	_, err := overlord.ReadConfig(path)
	c.Assert(err, ErrorMatches, "cannot parse .*config.yaml: .*")
}

func (s *configSuite) TestUnknownClass(c *C) {
	path := s.write(c, "ranges:\n  ruby: {lo: 3000, hi: 3100}\n")
	_, err := overlord.ReadConfig(path)
	c.Assert(err, ErrorMatches, `invalid configuration in .*: unknown runtime class "ruby"`)
}

func (s *configSuite) TestBadRange(c *C) {
	for _, rng := range []string{
		"{lo: 80, hi: 90}",      // below 1024
		"{lo: 4000, hi: 3000}",  // inverted
		"{lo: 3000, hi: 70000}", // above 65535
	} {
		path := s.write(c, "ranges:\n  node: "+rng+"\n")
		_, err := overlord.ReadConfig(path)
		c.Check(err, ErrorMatches, `invalid configuration in .*: bad range .* for class "node"`)
	}
}

func (s *configSuite) TestRangeOverlapsReserved(c *C) {
	path := s.write(c, "ranges:\n  node: {lo: 2500, hi: 2700}\n")
	_, err := overlord.ReadConfig(path)
	c.Assert(err, ErrorMatches, `invalid configuration in .*: range 2500-2700 for class "node" overlaps the system-reserved range`)
}
