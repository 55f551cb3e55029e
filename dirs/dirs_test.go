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

package dirs_test

import (
	"os"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/devhostd/devhostd/dirs"
)

func Test(t *testing.T) { TestingT(t) }

type dirsSuite struct{}

var _ = Suite(&dirsSuite{})

func (s *dirsSuite) TearDownTest(c *C) {
	os.Unsetenv("DEVHOSTD_DATA_DIR")
	os.Unsetenv("XDG_DATA_HOME")
	dirs.SetRootDir("/")
}

func (s *dirsSuite) TestExplicitDataDir(c *C) {
	os.Setenv("DEVHOSTD_DATA_DIR", "/custom/devhostd")
	dirs.SetRootDir("/")
	c.Check(dirs.DataDir, Equals, "/custom/devhostd")
	c.Check(dirs.PortsFile, Equals, "/custom/devhostd/ports.json")
	c.Check(dirs.SessionsFile, Equals, "/custom/devhostd/sessions.json")
	c.Check(dirs.ConfigFile, Equals, "/custom/devhostd/config.yaml")
}

func (s *dirsSuite) TestXDGDataDir(c *C) {
	os.Unsetenv("DEVHOSTD_DATA_DIR")
	os.Setenv("XDG_DATA_HOME", "/home/dev/.local/share")
	dirs.SetRootDir("/")
	c.Check(dirs.DataDir, Equals, "/home/dev/.local/share/devhostd")
}

func (s *dirsSuite) TestSetRootDirRelocates(c *C) {
	os.Setenv("DEVHOSTD_DATA_DIR", "/data")
	dirs.SetRootDir("/some/root")
	c.Check(dirs.GlobalRootDir, Equals, "/some/root")
	c.Check(dirs.PortsFile, Equals, "/some/root/data/ports.json")
}

func (s *dirsSuite) TestSetRootDirPanicsOnEmpty(c *C) {
	c.Check(func() { dirs.SetRootDir("") }, PanicMatches, "SetRootDir called with empty string")
}
