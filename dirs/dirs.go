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

// Package dirs centralizes the filesystem locations used by devhostd.
package dirs

import (
	"os"
	"path/filepath"
)

var (
	// GlobalRootDir is the root under which all paths are computed.
	// It is only changed from "/" by tests.
	GlobalRootDir string

	// DataDir is where the durable registry and catalog files live.
	DataDir string

	PortsFile    string
	SessionsFile string
	ConfigFile   string
)

func init() {
	SetRootDir("/")
}

// dataDirUnder resolves the data directory relative to the given root,
// honouring DEVHOSTD_DATA_DIR and XDG_DATA_HOME.
func dataDirUnder(rootdir string) string {
	if d := os.Getenv("DEVHOSTD_DATA_DIR"); d != "" {
		return filepath.Join(rootdir, d)
	}
	if d := os.Getenv("XDG_DATA_HOME"); d != "" {
		return filepath.Join(rootdir, d, "devhostd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// fall back to a system location rather than failing
		return filepath.Join(rootdir, "var/lib/devhostd")
	}
	return filepath.Join(rootdir, home, ".local/share/devhostd")
}

// SetRootDir allows settings a new global root directory. This is useful
// for testing.
func SetRootDir(rootdir string) {
	if rootdir == "" {
		panic("SetRootDir called with empty string")
	}
	GlobalRootDir = rootdir

	DataDir = dataDirUnder(rootdir)
	PortsFile = filepath.Join(DataDir, "ports.json")
	SessionsFile = filepath.Join(DataDir, "sessions.json")
	ConfigFile = filepath.Join(DataDir, "config.yaml")
}
