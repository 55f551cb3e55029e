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

package overlord

import (
	"time"

	"github.com/devhostd/devhostd/ports"
)

func MockProbeDial(dial func(addr string, timeout time.Duration) error) (restore func()) {
	old := probeDial
	probeDial = dial
	return func() {
		probeDial = old
	}
}

func MockPidAlive(alive func(pid int) bool) (restore func()) {
	old := pidAlive
	pidAlive = alive
	return func() {
		pidAlive = old
	}
}

// Janitor runs one janitor sweep as if at the given time.
func (m *SessionManager) Janitor(now time.Time) {
	m.janitor(now)
}

// Checkpoint forces a catalog write outside the usual transitions.
func (m *SessionManager) Checkpoint() {
	m.checkpoint()
}

func (cfg *Config) PortRanges() map[ports.RuntimeClass]ports.Range {
	return cfg.portRanges()
}

func (cfg *Config) Options() ManagerOptions {
	return cfg.managerOptions()
}

var EnvManagerOptions = envManagerOptions
