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

package ports

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/devhostd/devhostd/logger"
	"github.com/devhostd/devhostd/osutil"
)

// maxHistory bounds the persisted event history.
const maxHistory = 100

// A HistoryEntry records one registry mutation.
type HistoryEntry struct {
	TS        time.Time `json:"ts"`
	Action    string    `json:"action"` // "assigned" or "released"
	Port      int       `json:"port"`
	SessionID string    `json:"session_id"`
}

// A SystemEntry marks a port reserved for devhostd itself.
type SystemEntry struct {
	Service string `json:"service"`
	Status  string `json:"status"`
}

func defaultSystemEntries() map[int]SystemEntry {
	return map[int]SystemEntry{
		2601: {Service: "devhostd-control", Status: "reserved"},
		2602: {Service: "devhostd-dashboard", Status: "reserved"},
	}
}

// snapshotFile is the on-disk layout of ports.json.
type snapshotFile struct {
	System       map[string]SystemEntry    `json:"system"`
	Applications map[string]allocationJSON `json:"applications"`
	History      []HistoryEntry            `json:"history"`
}

type allocationJSON struct {
	SessionID  string       `json:"session_id"`
	Name       string       `json:"name"`
	Class      RuntimeClass `json:"runtime_class"`
	AssignedAt time.Time    `json:"assigned_at"`
}

func (r *Registry) addHistory(action string, port int, sessionID string) {
	r.history = append(r.history, HistoryEntry{
		TS:        time.Now().UTC(),
		Action:    action,
		Port:      port,
		SessionID: sessionID,
	})
	if n := len(r.history); n > maxHistory {
		r.history = r.history[n-maxHistory:]
	}
}

// checkpoint serializes the registry through the backend. Called with
// the registry lock held; persistence failures are logged, never fatal.
func (r *Registry) checkpoint() {
	if r.backend == nil {
		return
	}
	data, err := json.Marshal(r.snapshotLocked())
	if err != nil {
		logger.Panicf("internal error: cannot marshal port registry: %v", err)
	}
	if err := r.backend.Checkpoint(data); err != nil {
		logger.Noticef("cannot checkpoint port registry: %v", err)
	}
}

func (r *Registry) snapshotLocked() *snapshotFile {
	sf := &snapshotFile{
		System:       make(map[string]SystemEntry, len(r.system)),
		Applications: make(map[string]allocationJSON, len(r.alloc)),
		History:      r.history,
	}
	for port, e := range r.system {
		sf.System[strconv.Itoa(port)] = e
	}
	for port, a := range r.alloc {
		sf.Applications[strconv.Itoa(port)] = allocationJSON{
			SessionID:  a.SessionID,
			Name:       a.SessionName,
			Class:      a.Class,
			AssignedAt: a.AssignedAt,
		}
	}
	return sf
}

// Load replaces the registry content with the given serialized
// snapshot, as written by checkpoint.
func (r *Registry) Load(data []byte) error {
	var sf snapshotFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("cannot unmarshal port registry: %v", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.alloc = make(map[int]*Allocation, len(sf.Applications))
	for key, aj := range sf.Applications {
		port, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("cannot unmarshal port registry: bad port %q", key)
		}
		r.alloc[port] = &Allocation{
			Port:        port,
			SessionID:   aj.SessionID,
			SessionName: aj.Name,
			Class:       aj.Class,
			AssignedAt:  aj.AssignedAt,
		}
	}
	r.history = sf.History
	return nil
}

// LoadFile populates the registry from path, using the backup if the
// primary is corrupt. A missing file leaves the registry empty.
func (r *Registry) LoadFile(path string) error {
	validate := func(data []byte) error {
		var sf snapshotFile
		return json.Unmarshal(data, &sf)
	}
	data, err := osutil.ReadFileWithBackup(path, validate)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return r.Load(data)
}

// A FileBackend checkpoints the registry into a JSON file with a .bak
// sibling kept for recovery.
type FileBackend struct {
	Path string
}

// Checkpoint implements Backend.
func (b *FileBackend) Checkpoint(data []byte) error {
	if err := os.MkdirAll(filepath.Dir(b.Path), 0755); err != nil {
		return err
	}
	return osutil.AtomicWriteFileWithBackup(b.Path, data, 0600)
}
