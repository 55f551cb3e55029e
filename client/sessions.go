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

package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// RestartPolicy mirrors the daemon-side restart configuration.
type RestartPolicy struct {
	Kind             string `json:"kind,omitempty"`
	MaxRestarts      int    `json:"max_restarts,omitempty"`
	BackoffInitialMs int    `json:"backoff_initial_ms,omitempty"`
}

// StartOptions describes the session to start. Port zero asks for
// automatic assignment.
type StartOptions struct {
	Name             string            `json:"name,omitempty"`
	Command          []string          `json:"command"`
	Dir              string            `json:"cwd"`
	Env              map[string]string `json:"env,omitempty"`
	Class            string            `json:"runtime_class,omitempty"`
	Port             int               `json:"port,omitempty"`
	Backend          string            `json:"backend,omitempty"`
	Image            string            `json:"image,omitempty"`
	Restart          *RestartPolicy    `json:"restart_policy,omitempty"`
	WaitReady        bool              `json:"wait_ready,omitempty"`
	ReadyGraceMs     int               `json:"ready_grace_ms,omitempty"`
	ShutdownDeadline int               `json:"shutdown_deadline_ms,omitempty"`
}

// Session is one managed dev server as reported by the daemon.
type Session struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Command        []string          `json:"command"`
	Dir            string            `json:"cwd"`
	Env            map[string]string `json:"env,omitempty"`
	Class          string            `json:"runtime_class"`
	Backend        string            `json:"backend"`
	Image          string            `json:"image,omitempty"`
	Port           int               `json:"port,omitempty"`
	PID            int               `json:"pid,omitempty"`
	State          string            `json:"state"`
	ExitCode       *int              `json:"exit_code,omitempty"`
	ExitSignal     string            `json:"exit_signal,omitempty"`
	ExitReason     string            `json:"exit_reason,omitempty"`
	StartedAt      time.Time         `json:"started_at"`
	StateChangedAt time.Time         `json:"state_changed_at"`
	Restart        RestartPolicy     `json:"restart_policy"`
	RestartCount   int               `json:"restart_count"`
	LastRestartAt  *time.Time        `json:"last_restart_at,omitempty"`
}

// StartResult is the payload of a successful start.
type StartResult struct {
	SessionID string `json:"session_id"`
	Port      int    `json:"port"`
	PID       int    `json:"pid"`
	State     string `json:"state"`
}

// Start launches a new session.
func (client *Client) Start(opts *StartOptions) (*StartResult, error) {
	body, err := json.Marshal(opts)
	if err != nil {
		return nil, err
	}
	var res StartResult
	if err := client.doSync("POST", "/v1/sessions", nil, bytes.NewReader(body), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Stop terminates the session, forcefully when force is set. With
// purge the terminal record is removed as well.
func (client *Client) Stop(id string, force, purge bool) (state string, err error) {
	body, err := json.Marshal(map[string]bool{"force": force})
	if err != nil {
		return "", err
	}
	var query url.Values
	if purge {
		query = url.Values{"purge": []string{"true"}}
	}
	var res struct {
		State string `json:"state"`
	}
	if err := client.doSync("DELETE", "/v1/sessions/"+id, query, bytes.NewReader(body), &res); err != nil {
		return "", err
	}
	return res.State, nil
}

// Restart stops and re-launches the session, keeping its id.
func (client *Client) Restart(id string) (*StartResult, error) {
	var res struct {
		State string `json:"state"`
		Port  int    `json:"port"`
		PID   int    `json:"pid"`
	}
	if err := client.doSync("POST", "/v1/sessions/"+id+"/restart", nil, bytes.NewReader([]byte("{}")), &res); err != nil {
		return nil, err
	}
	return &StartResult{SessionID: id, Port: res.Port, PID: res.PID, State: res.State}, nil
}

// Session fetches one session's view.
func (client *Client) Session(id string) (*Session, error) {
	var s Session
	if err := client.doSync("GET", "/v1/sessions/"+id, nil, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Sessions lists sessions, optionally filtered by state.
func (client *Client) Sessions(state string) ([]*Session, error) {
	var query url.Values
	if state != "" {
		query = url.Values{"state": []string{state}}
	}
	var res struct {
		Sessions []*Session `json:"sessions"`
		Total    int        `json:"total"`
	}
	if err := client.doSync("GET", "/v1/sessions", query, nil, &res); err != nil {
		return nil, err
	}
	return res.Sessions, nil
}

// LogEvent is one captured line or synthetic notice.
type LogEvent struct {
	Seq       uint64    `json:"seq"`
	TS        time.Time `json:"ts"`
	Stream    string    `json:"stream"`
	Line      string    `json:"line"`
	Level     string    `json:"level,omitempty"`
	Truncated bool      `json:"truncated,omitempty"`
	Lost      int       `json:"lost,omitempty"`
	Evicted   int       `json:"evicted,omitempty"`
}

// Logs is the payload of a log query.
type Logs struct {
	Events      []LogEvent `json:"events"`
	EarliestSeq uint64     `json:"earliest_seq"`
	LatestSeq   uint64     `json:"latest_seq"`
	Gap         bool       `json:"gap,omitempty"`
}

// Logs fetches up to limit buffered log events; sinceSeq non-zero
// resumes strictly after that seq.
func (client *Client) Logs(id string, limit int, sinceSeq uint64) (*Logs, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if sinceSeq > 0 {
		query.Set("since_seq", strconv.FormatUint(sinceSeq, 10))
	}
	var logs Logs
	if err := client.doSync("GET", fmt.Sprintf("/v1/sessions/%s/logs", id), query, nil, &logs); err != nil {
		return nil, err
	}
	return &logs, nil
}

// Health is the daemon liveness report.
type Health struct {
	OK           bool   `json:"ok"`
	Version      string `json:"version"`
	SessionCount int    `json:"session_count"`
	UptimeS      int    `json:"uptime_s"`
}

// Health queries daemon liveness.
func (client *Client) Health() (*Health, error) {
	var h Health
	if err := client.doSync("GET", "/v1/health", nil, nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}
