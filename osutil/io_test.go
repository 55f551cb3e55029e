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

package osutil_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/devhostd/devhostd/osutil"
	"github.com/devhostd/devhostd/testutil"
)

func Test(t *testing.T) { TestingT(t) }

type ioSuite struct{}

var _ = Suite(&ioSuite{})

func (s *ioSuite) TestAtomicWriteFile(c *C) {
	tmpdir := c.MkDir()

	p := filepath.Join(tmpdir, "foo")
	err := osutil.AtomicWriteFile(p, []byte("canary"), 0644)
	c.Assert(err, IsNil)

	c.Check(p, testutil.FileEquals, "canary")

	// no temp file left behind
	d, err := os.ReadDir(tmpdir)
	c.Assert(err, IsNil)
	c.Assert(d, HasLen, 1)
}

func (s *ioSuite) TestAtomicWriteFileOverwrite(c *C) {
	tmpdir := c.MkDir()
	p := filepath.Join(tmpdir, "foo")
	c.Assert(os.WriteFile(p, []byte("old"), 0644), IsNil)

	c.Assert(osutil.AtomicWriteFile(p, []byte("new"), 0644), IsNil)
	c.Check(p, testutil.FileEquals, "new")
}

func (s *ioSuite) TestAtomicWriteFilePermissions(c *C) {
	tmpdir := c.MkDir()
	p := filepath.Join(tmpdir, "foo")

	c.Assert(osutil.AtomicWriteFile(p, []byte(""), 0600), IsNil)

	st, err := os.Stat(p)
	c.Assert(err, IsNil)
	c.Assert(st.Mode()&os.ModePerm, Equals, os.FileMode(0600))
}

func (s *ioSuite) TestAtomicWriteFileAbsoluteDirectoryMissing(c *C) {
	p := filepath.Join(c.MkDir(), "missing", "foo")
	err := osutil.AtomicWriteFile(p, []byte(""), 0644)
	c.Assert(err, NotNil)
}

func (s *ioSuite) TestAtomicWriteFileWithBackupKeepsPrevious(c *C) {
	tmpdir := c.MkDir()
	p := filepath.Join(tmpdir, "state.json")

	c.Assert(osutil.AtomicWriteFileWithBackup(p, []byte("one"), 0600), IsNil)
	c.Check(p, testutil.FileEquals, "one")
	c.Check(p+".bak", testutil.FileAbsent)

	c.Assert(osutil.AtomicWriteFileWithBackup(p, []byte("two"), 0600), IsNil)
	c.Check(p, testutil.FileEquals, "two")
	c.Check(p+".bak", testutil.FileEquals, "one")

	c.Assert(osutil.AtomicWriteFileWithBackup(p, []byte("three"), 0600), IsNil)
	c.Check(p, testutil.FileEquals, "three")
	c.Check(p+".bak", testutil.FileEquals, "two")
}

func (s *ioSuite) TestReadFileWithBackupPrimary(c *C) {
	tmpdir := c.MkDir()
	p := filepath.Join(tmpdir, "state.json")
	c.Assert(os.WriteFile(p, []byte("good"), 0600), IsNil)

	data, err := osutil.ReadFileWithBackup(p, func([]byte) error { return nil })
	c.Assert(err, IsNil)
	c.Check(string(data), Equals, "good")
}

func (s *ioSuite) TestReadFileWithBackupFallsBack(c *C) {
	tmpdir := c.MkDir()
	p := filepath.Join(tmpdir, "state.json")
	c.Assert(os.WriteFile(p, []byte("corrupt"), 0600), IsNil)
	c.Assert(os.WriteFile(p+".bak", []byte("backup"), 0600), IsNil)

	validate := func(data []byte) error {
		if string(data) == "corrupt" {
			return errors.New("boom")
		}
		return nil
	}
	data, err := osutil.ReadFileWithBackup(p, validate)
	c.Assert(err, IsNil)
	c.Check(string(data), Equals, "backup")
}

func (s *ioSuite) TestReadFileWithBackupMissingPrimary(c *C) {
	tmpdir := c.MkDir()
	p := filepath.Join(tmpdir, "state.json")
	c.Assert(os.WriteFile(p+".bak", []byte("backup"), 0600), IsNil)

	data, err := osutil.ReadFileWithBackup(p, func([]byte) error { return nil })
	c.Assert(err, IsNil)
	c.Check(string(data), Equals, "backup")
}

func (s *ioSuite) TestReadFileWithBackupAllMissing(c *C) {
	p := filepath.Join(c.MkDir(), "state.json")
	_, err := osutil.ReadFileWithBackup(p, func([]byte) error { return nil })
	c.Assert(os.IsNotExist(err), Equals, true)
}

func (s *ioSuite) TestNewAtomicFileCancel(c *C) {
	tmpdir := c.MkDir()
	p := filepath.Join(tmpdir, "foo")

	aw, err := osutil.NewAtomicFile(p, 0644)
	c.Assert(err, IsNil)
	_, err = aw.Write([]byte("canary"))
	c.Assert(err, IsNil)
	c.Assert(aw.Cancel(), IsNil)

	c.Check(p, testutil.FileAbsent)
	d, err := os.ReadDir(tmpdir)
	c.Assert(err, IsNil)
	c.Assert(d, HasLen, 0)
}
