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
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/tomb.v2"

	"github.com/devhostd/devhostd/logger"
	"github.com/devhostd/devhostd/logring"
	"github.com/devhostd/devhostd/osutil"
)

// A Backend persists catalog checkpoints.
type Backend interface {
	Checkpoint(data []byte) error
}

// FileBackend writes checkpoints to a single file, keeping a .bak copy
// of the previous generation.
type FileBackend struct {
	Path string
}

// Checkpoint writes the catalog atomically.
func (b FileBackend) Checkpoint(data []byte) error {
	if err := os.MkdirAll(filepath.Dir(b.Path), 0755); err != nil {
		return err
	}
	return osutil.AtomicWriteFileWithBackup(b.Path, data, 0600)
}

type sessionRecord struct {
	ID             string      `json:"id"`
	Spec           SessionSpec `json:"spec"`
	State          State       `json:"state"`
	Port           int         `json:"port,omitempty"`
	LastPort       int         `json:"last_port,omitempty"`
	PID            int         `json:"pid,omitempty"`
	ExitCode       *int        `json:"exit_code,omitempty"`
	ExitSignal     string      `json:"exit_signal,omitempty"`
	ExitReason     string      `json:"exit_reason,omitempty"`
	StartedAt      time.Time   `json:"started_at"`
	StateChangedAt time.Time   `json:"state_changed_at"`
	TerminalAt     *time.Time  `json:"terminal_at,omitempty"`
	RestartCount   int         `json:"restart_count,omitempty"`
	LastRestartAt  *time.Time  `json:"last_restart_at,omitempty"`
}

type catalogFile struct {
	Sessions []sessionRecord `json:"sessions"`
}

// checkpoint serializes every session record to the backend. Failures
// are logged but do not stop the daemon.
func (m *SessionManager) checkpoint() {
	if m.backend == nil {
		return
	}

	m.mu.Lock()
	cat := catalogFile{Sessions: make([]sessionRecord, 0, len(m.sessions))}
	for _, s := range m.sessions {
		cat.Sessions = append(cat.Sessions, s.recordLocked())
	}
	m.mu.Unlock()
	sort.Slice(cat.Sessions, func(i, j int) bool {
		return cat.Sessions[i].ID < cat.Sessions[j].ID
	})

	data, err := json.MarshalIndent(&cat, "", "  ")
	if err != nil {
		logger.Panicf("internal error: cannot marshal session catalog: %v", err)
	}
	if err := m.backend.Checkpoint(data); err != nil {
		logger.Noticef("cannot checkpoint session catalog: %v", err)
	}
}

// recordLocked snapshots the session for persistence; mgr.mu held.
func (s *Session) recordLocked() sessionRecord {
	rec := sessionRecord{
		ID:             s.id,
		Spec:           s.spec,
		State:          s.state,
		Port:           s.port,
		LastPort:       s.lastPort,
		PID:            s.pid,
		ExitCode:       s.exitCode,
		ExitSignal:     s.exitSignal,
		ExitReason:     s.exitReason,
		StartedAt:      s.startedAt,
		StateChangedAt: s.stateChangedAt,
		RestartCount:   s.restartCount,
	}
	if !s.terminalAt.IsZero() {
		t := s.terminalAt
		rec.TerminalAt = &t
	}
	if !s.lastRestartAt.IsZero() {
		t := s.lastRestartAt
		rec.LastRestartAt = &t
	}
	return rec
}

// Load restores session records from a catalog checkpoint. Each
// restored session gets an idle actor and a fresh log ring; the old
// output did not survive the daemon.
func (m *SessionManager) Load(data []byte) error {
	var cat catalogFile
	if err := json.Unmarshal(data, &cat); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range cat.Sessions {
		if rec.ID == "" {
			continue
		}
		s := &Session{
			id:   rec.ID,
			mgr:  m,
			spec: rec.Spec,
			ring: logring.New(m.opts.RingCapacity, m.opts.RingMaxBytes),

			state:          rec.State,
			port:           rec.Port,
			lastPort:       rec.LastPort,
			pid:            rec.PID,
			exitCode:       rec.ExitCode,
			exitSignal:     rec.ExitSignal,
			exitReason:     rec.ExitReason,
			startedAt:      rec.StartedAt,
			stateChangedAt: rec.StateChangedAt,
			restartCount:   rec.RestartCount,

			ops: make(chan sessionOp, 4),
			tmb: new(tomb.Tomb),
		}
		if rec.TerminalAt != nil {
			s.terminalAt = *rec.TerminalAt
		}
		if rec.LastRestartAt != nil {
			s.lastRestartAt = *rec.LastRestartAt
		}
		s.ring.AppendSystem("daemon restarted, earlier output not retained")
		m.sessions[s.id] = s
		s.tmb.Go(s.loop)
	}
	return nil
}

// LoadFile restores the catalog from path, falling back to the backup
// generation when the primary is missing or corrupt. A missing catalog
// is a fresh start, not an error.
func (m *SessionManager) LoadFile(path string) error {
	validate := func(data []byte) error {
		var cat catalogFile
		return json.Unmarshal(data, &cat)
	}
	data, err := osutil.ReadFileWithBackup(path, validate)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return m.Load(data)
}

// pidAlive is replaced in tests.
var pidAlive = osutil.PidAlive

// Reconcile settles sessions restored in a live state: a dead child
// becomes crashed with no automatic restart, a child that outlived the
// previous daemon run is marked failed as orphaned. Port allocations of
// settled sessions are released.
func (m *SessionManager) Reconcile() {
	m.mu.Lock()
	type settle struct {
		s      *Session
		state  State
		reason string
	}
	var settles []settle
	for _, s := range m.sessions {
		switch s.state {
		case Starting, Running, Stopping:
		default:
			continue
		}
		if s.pid != 0 && pidAlive(s.pid) {
			settles = append(settles, settle{s, Failed, "orphaned by previous daemon run"})
		} else {
			settles = append(settles, settle{s, Crashed, "daemon restarted while session was live"})
		}
	}
	m.mu.Unlock()

	for _, st := range settles {
		logger.Noticef("reconciling session %s: %s", st.s.id, st.reason)
		st.s.releasePort()
		st.s.transition(st.state, st.reason)
	}

	freed := m.ports.Reconcile(func(sessionID string) bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		s, ok := m.sessions[sessionID]
		return ok && !s.state.Terminal() && s.state != Crashed
	})
	for _, port := range freed {
		logger.Noticef("released stale port allocation %d", port)
	}
}
