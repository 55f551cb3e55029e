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

// Package overlord supervises development server sessions: it owns the
// port registry, the per-session log rings and the session lifecycle,
// and persists both registries across daemon restarts.
package overlord

import (
	"time"

	"gopkg.in/tomb.v2"

	"github.com/devhostd/devhostd/dirs"
	"github.com/devhostd/devhostd/logger"
	"github.com/devhostd/devhostd/ports"
)

const janitorInterval = 30 * time.Second

// Overlord ties the port registry and the session manager together and
// runs the periodic janitor.
type Overlord struct {
	tmb tomb.Tomb

	cfg      *Config
	ports    *ports.Registry
	sessions *SessionManager
	notifier *StatusNotifier

	startedAt time.Time
}

// New assembles an overlord from the on-disk state under the data
// directory: configuration, port registry and session catalog are
// loaded and reconciled against the live process table.
func New() (*Overlord, error) {
	cfg, err := ReadConfig(dirs.ConfigFile)
	if err != nil {
		return nil, err
	}

	reg := ports.NewRegistry(&ports.FileBackend{Path: dirs.PortsFile}, cfg.portRanges())
	if err := reg.LoadFile(dirs.PortsFile); err != nil {
		return nil, err
	}

	notifier := NewStatusNotifier()
	mgr := NewSessionManager(reg, FileBackend{Path: dirs.SessionsFile}, notifier, envManagerOptions(cfg.managerOptions()))
	if err := mgr.LoadFile(dirs.SessionsFile); err != nil {
		return nil, err
	}
	mgr.Reconcile()

	return &Overlord{
		cfg:       cfg,
		ports:     reg,
		sessions:  mgr,
		notifier:  notifier,
		startedAt: time.Now(),
	}, nil
}

// Mock returns an overlord built around the given pieces, for tests.
func Mock(reg *ports.Registry, mgr *SessionManager, notifier *StatusNotifier) *Overlord {
	return &Overlord{
		ports:     reg,
		sessions:  mgr,
		notifier:  notifier,
		startedAt: time.Now(),
	}
}

// Loop starts the janitor ticker; it returns immediately.
func (o *Overlord) Loop() {
	o.tmb.Go(func() error {
		ticker := time.NewTicker(janitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-o.tmb.Dying():
				return nil
			case now := <-ticker.C:
				o.sessions.janitor(now)
			}
		}
	})
}

// Stop shuts down the janitor and every session actor. Children keep
// running; the persisted catalog lets the next run pick them up.
func (o *Overlord) Stop() error {
	o.tmb.Kill(nil)
	err := o.tmb.Wait()
	o.sessions.stopActors()
	o.notifier.Close()
	logger.Debugf("overlord stopped")
	return err
}

// Sessions returns the session manager.
func (o *Overlord) Sessions() *SessionManager {
	return o.sessions
}

// Ports returns the port registry.
func (o *Overlord) Ports() *ports.Registry {
	return o.ports
}

// StartedAt reports when this overlord was assembled.
func (o *Overlord) StartedAt() time.Time {
	return o.startedAt
}
