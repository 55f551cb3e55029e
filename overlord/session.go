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
	"fmt"
	"path/filepath"
	"time"

	"gopkg.in/tomb.v2"

	"github.com/devhostd/devhostd/logring"
	"github.com/devhostd/devhostd/ports"
	"github.com/devhostd/devhostd/proc"
)

// State is the lifecycle state of a session.
type State string

const (
	Starting State = "starting"
	Running  State = "running"
	Stopping State = "stopping"
	Stopped  State = "stopped"
	Failed   State = "failed"
	Crashed  State = "crashed"
)

// Terminal reports whether the state retains the record but no child.
// Crashed is not terminal: the restart policy or an explicit restart
// may still revive the session.
func (s State) Terminal() bool {
	return s == Stopped || s == Failed
}

// ParseState validates a state filter string.
func ParseState(s string) (State, error) {
	switch State(s) {
	case Starting, Running, Stopping, Stopped, Failed, Crashed:
		return State(s), nil
	}
	return "", fmt.Errorf("unknown session state %q", s)
}

// RestartPolicyKind governs automatic re-spawn after unexpected exit.
type RestartPolicyKind string

const (
	RestartNever   RestartPolicyKind = "never"
	RestartOnCrash RestartPolicyKind = "on-crash"
	RestartAlways  RestartPolicyKind = "always"
)

// RestartPolicy is the per-session crash-restart configuration.
type RestartPolicy struct {
	Kind             RestartPolicyKind `json:"kind"`
	MaxRestarts      int               `json:"max_restarts"`
	BackoffInitialMs int               `json:"backoff_initial_ms"`
}

func (p RestartPolicy) backoffInitial() time.Duration {
	if p.BackoffInitialMs <= 0 {
		return time.Second
	}
	return time.Duration(p.BackoffInitialMs) * time.Millisecond
}

// maxRestartBackoff caps the exponential restart delay.
const maxRestartBackoff = 60 * time.Second

// backoff returns the delay before restart number count+1.
func (p RestartPolicy) backoff(count int) time.Duration {
	d := p.backoffInitial()
	for i := 0; i < count; i++ {
		d *= 2
		if d >= maxRestartBackoff {
			return maxRestartBackoff
		}
	}
	return d
}

// A SessionSpec is the validated description of a session to start.
type SessionSpec struct {
	Name    string             `json:"name,omitempty"`
	Argv    []string           `json:"command"`
	Dir     string             `json:"cwd"`
	Env     map[string]string  `json:"env,omitempty"`
	Class   ports.RuntimeClass `json:"runtime_class"`
	Port    int                `json:"port,omitempty"` // 0 selects auto
	Backend proc.BackendKind   `json:"backend,omitempty"`
	Image   string             `json:"image,omitempty"`
	Restart RestartPolicy      `json:"restart_policy"`

	// WaitReady makes readiness strict: a session whose port never
	// probes reachable within the grace is stopped and marked failed
	// instead of optimistically running.
	WaitReady bool `json:"wait_ready,omitempty"`

	ReadyGraceMs       int `json:"ready_grace_ms,omitempty"`
	ShutdownDeadlineMs int `json:"shutdown_deadline_ms,omitempty"`
}

func (spec *SessionSpec) validate() error {
	if len(spec.Argv) == 0 {
		return &ValidationError{Message: "command must not be empty"}
	}
	if spec.Dir == "" {
		return &ValidationError{Message: "cwd must be set"}
	}
	if !filepath.IsAbs(spec.Dir) {
		return &ValidationError{Message: fmt.Sprintf("cwd %q must be absolute", spec.Dir)}
	}
	if spec.Port != 0 && (spec.Port < 1 || spec.Port > 65535) {
		return &ValidationError{Message: fmt.Sprintf("port %d out of range", spec.Port)}
	}
	if _, err := ports.ParseRuntimeClass(string(spec.Class)); err != nil {
		return &ValidationError{Message: err.Error()}
	}
	switch spec.Backend {
	case "", proc.Native, proc.Container:
	default:
		return &ValidationError{Message: fmt.Sprintf("unknown backend %q", spec.Backend)}
	}
	switch spec.Restart.Kind {
	case "", RestartNever, RestartOnCrash, RestartAlways:
	default:
		return &ValidationError{Message: fmt.Sprintf("unknown restart policy %q", spec.Restart.Kind)}
	}
	return nil
}

func (spec *SessionSpec) normalize() {
	if spec.Class == "" {
		spec.Class = ports.Generic
	}
	if spec.Backend == "" {
		spec.Backend = proc.Native
	}
	if spec.Restart.Kind == "" {
		spec.Restart.Kind = RestartNever
	}
	if spec.Name == "" {
		spec.Name = filepath.Base(spec.Dir)
	}
}

// A Session is one managed dev server. All lifecycle transitions go
// through the session's actor loop; the mutable view fields are guarded
// by the manager lock.
type Session struct {
	id  string
	mgr *SessionManager

	spec SessionSpec
	ring *logring.Ring

	// guarded by mgr.mu
	state          State
	port           int
	lastPort       int // last assigned port, retried first on restart
	pid            int
	exitCode       *int
	exitSignal     string
	exitReason     string
	startedAt      time.Time
	stateChangedAt time.Time
	restartCount   int
	lastRestartAt  time.Time
	terminalAt     time.Time
	ringFreed      bool

	ops chan sessionOp
	tmb *tomb.Tomb
}

// A SessionView is the read-only JSON projection of a session.
type SessionView struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	Command        []string           `json:"command"`
	Dir            string             `json:"cwd"`
	Env            map[string]string  `json:"env,omitempty"`
	Class          ports.RuntimeClass `json:"runtime_class"`
	Backend        proc.BackendKind   `json:"backend"`
	Image          string             `json:"image,omitempty"`
	Port           int                `json:"port,omitempty"`
	PID            int                `json:"pid,omitempty"`
	State          State              `json:"state"`
	ExitCode       *int               `json:"exit_code,omitempty"`
	ExitSignal     string             `json:"exit_signal,omitempty"`
	ExitReason     string             `json:"exit_reason,omitempty"`
	StartedAt      time.Time          `json:"started_at"`
	StateChangedAt time.Time          `json:"state_changed_at"`
	Restart        RestartPolicy      `json:"restart_policy"`
	RestartCount   int                `json:"restart_count"`
	LastRestartAt  *time.Time         `json:"last_restart_at,omitempty"`
}

// viewLocked snapshots the session; called with mgr.mu held.
func (s *Session) viewLocked() *SessionView {
	v := &SessionView{
		ID:             s.id,
		Name:           s.spec.Name,
		Command:        s.spec.Argv,
		Dir:            s.spec.Dir,
		Env:            s.spec.Env,
		Class:          s.spec.Class,
		Backend:        s.spec.Backend,
		Image:          s.spec.Image,
		Port:           s.port,
		PID:            s.pid,
		State:          s.state,
		ExitCode:       s.exitCode,
		ExitSignal:     s.exitSignal,
		ExitReason:     s.exitReason,
		StartedAt:      s.startedAt,
		StateChangedAt: s.stateChangedAt,
		Restart:        s.spec.Restart,
		RestartCount:   s.restartCount,
	}
	if !s.lastRestartAt.IsZero() {
		t := s.lastRestartAt
		v.LastRestartAt = &t
	}
	return v
}
