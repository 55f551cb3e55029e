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
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/tomb.v2"

	"github.com/devhostd/devhostd/logger"
	"github.com/devhostd/devhostd/logring"
	"github.com/devhostd/devhostd/ports"
	"github.com/devhostd/devhostd/strutil"
)

// ManagerOptions tune the session manager; zero values select the
// defaults.
type ManagerOptions struct {
	// Environ supplies the base environment merged under each
	// session's own variables; defaults to os.Environ.
	Environ func() []string

	ReadyGrace       time.Duration // default 3s
	ShutdownDeadline time.Duration // default 10s

	RingCapacity int
	RingMaxBytes int

	// RetentionGrace keeps a terminal session's log ring queryable.
	RetentionGrace time.Duration // default 15m
	// RecordTTL evicts terminal session records entirely.
	RecordTTL time.Duration // default 1h

	// Images overrides the runtime-class to container-image mapping.
	Images map[string]string
}

const (
	defaultReadyGrace       = 3 * time.Second
	defaultShutdownDeadline = 10 * time.Second
	defaultRetentionGrace   = 15 * time.Minute
	defaultRecordTTL        = time.Hour
)

func (o *ManagerOptions) fillDefaults() {
	if o.Environ == nil {
		o.Environ = os.Environ
	}
	if o.ReadyGrace == 0 {
		o.ReadyGrace = defaultReadyGrace
	}
	if o.ShutdownDeadline == 0 {
		o.ShutdownDeadline = defaultShutdownDeadline
	}
	if o.RetentionGrace == 0 {
		o.RetentionGrace = defaultRetentionGrace
	}
	if o.RecordTTL == 0 {
		o.RecordTTL = defaultRecordTTL
	}
	if o.RingCapacity == 0 {
		o.RingCapacity = logring.DefaultCapacity
	}
	if o.RingMaxBytes == 0 {
		o.RingMaxBytes = logring.DefaultMaxBytes
	}
}

// SessionManager owns every session record and serializes all state
// transitions per session through the session's actor loop.
type SessionManager struct {
	// mu guards the session map and each session's view fields
	mu sync.Mutex

	sessions map[string]*Session

	ports    *ports.Registry
	notifier *StatusNotifier
	backend  Backend
	opts     ManagerOptions
}

// NewSessionManager builds a manager around the given port registry and
// catalog backend.
func NewSessionManager(reg *ports.Registry, backend Backend, notifier *StatusNotifier, opts ManagerOptions) *SessionManager {
	opts.fillDefaults()
	logger.Debugf("log rings hold up to %d lines or %s per session", opts.RingCapacity, strutil.SizeToStr(int64(opts.RingMaxBytes)))
	return &SessionManager{
		sessions: make(map[string]*Session),
		ports:    reg,
		notifier: notifier,
		backend:  backend,
		opts:     opts,
	}
}

func (m *SessionManager) genIDLocked() string {
	for {
		id := "s" + strutil.MakeRandomString(9)
		if _, ok := m.sessions[id]; !ok {
			return id
		}
	}
}

// Start validates spec, allocates a port, spawns the child and attaches
// its output to a fresh log ring. Port allocation failures are
// side-effect free; spawn failures leave a failed session record with
// the port already released.
func (m *SessionManager) Start(ctx context.Context, spec SessionSpec) (*SessionView, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	spec.normalize()

	m.mu.Lock()
	id := m.genIDLocked()
	m.mu.Unlock()

	port, err := m.ports.Allocate(spec.Class, id, spec.Name, spec.Port)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:   id,
		mgr:  m,
		spec: spec,
		ring: logring.New(m.opts.RingCapacity, m.opts.RingMaxBytes),

		state:          Starting,
		port:           port,
		startedAt:      time.Now(),
		stateChangedAt: time.Now(),

		ops: make(chan sessionOp, 4),
		tmb: new(tomb.Tomb),
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	m.notifier.Publish(StatusEvent{SessionID: id, Name: spec.Name, State: Starting})
	m.checkpoint()

	s.tmb.Go(s.loop)

	view, err := s.post(ctx, sessionOp{kind: opStart})
	if err != nil {
		return view, err
	}
	return view, nil
}

// Stop requests termination, escalating to a forced kill when the
// shutdown deadline passes (immediately when force is set). Stopping an
// already terminal session is a no-op reporting the current state.
func (m *SessionManager) Stop(ctx context.Context, id string, force bool) (*SessionView, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.post(ctx, sessionOp{kind: opStop, force: force})
}

// Restart stops the session if needed and starts it again with the
// same spec, preserving the session id, and the port when still free.
func (m *SessionManager) Restart(ctx context.Context, id string) (*SessionView, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.post(ctx, sessionOp{kind: opRestart})
}

// Delete evicts a terminal session record and frees its log ring.
func (m *SessionManager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if !s.state.Terminal() {
		state := s.state
		m.mu.Unlock()
		return &ConflictError{SessionID: id, State: state, Message: "cannot delete session before it is stopped"}
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	s.tmb.Kill(nil)
	s.ring.Close()
	m.checkpoint()
	return nil
}

func (m *SessionManager) lookup(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Get returns the current view of one session.
func (m *SessionManager) Get(id string) (*SessionView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.viewLocked(), nil
}

// List returns the sessions, optionally filtered by state, ordered by
// start time then id.
func (m *SessionManager) List(stateFilter string) ([]*SessionView, error) {
	var filter State
	if stateFilter != "" {
		f, err := ParseState(stateFilter)
		if err != nil {
			return nil, &ValidationError{Message: err.Error()}
		}
		filter = f
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	views := make([]*SessionView, 0, len(m.sessions))
	for _, s := range m.sessions {
		if filter != "" && s.state != filter {
			continue
		}
		views = append(views, s.viewLocked())
	}
	sort.Slice(views, func(i, j int) bool {
		if !views[i].StartedAt.Equal(views[j].StartedAt) {
			return views[i].StartedAt.Before(views[j].StartedAt)
		}
		return views[i].ID < views[j].ID
	})
	return views, nil
}

// Ring hands out the session's log ring for tail/since/subscribe.
func (m *SessionManager) Ring(id string) (*logring.Ring, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.ringFreed {
		return nil, ErrLogsExpired
	}
	return s.ring, nil
}

// Count returns the number of session records.
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.sessions)
}

// SubscribeStatus registers a listener for state transitions across
// all sessions.
func (m *SessionManager) SubscribeStatus() *StatusSubscriber {
	return m.notifier.Subscribe()
}

// janitor frees log rings past the retention grace and evicts expired
// terminal records. Called periodically from the overlord loop.
func (m *SessionManager) janitor(now time.Time) {
	var freed []*logring.Ring
	var evicted []*Session

	m.mu.Lock()
	changed := false
	for id, s := range m.sessions {
		if s.terminalAt.IsZero() {
			continue
		}
		age := now.Sub(s.terminalAt)
		if age > m.opts.RetentionGrace && !s.ringFreed {
			s.ringFreed = true
			freed = append(freed, s.ring)
		}
		if age > m.opts.RecordTTL {
			delete(m.sessions, id)
			evicted = append(evicted, s)
			changed = true
			logger.Debugf("evicted terminal session %s (%s)", id, s.spec.Name)
		}
	}
	m.mu.Unlock()

	// only the ring goes at the retention grace; the record and its
	// actor stay around until the TTL so stop/restart keep working
	for _, r := range freed {
		r.Close()
	}
	for _, s := range evicted {
		s.tmb.Kill(nil)
		s.ring.Close()
	}
	if changed {
		m.checkpoint()
	}
}

// stop kills every session actor without touching the children; the
// catalog stays behind for reconciliation on the next run.
func (m *SessionManager) stopActors() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.tmb.Kill(nil)
		s.tmb.Wait()
	}
}
