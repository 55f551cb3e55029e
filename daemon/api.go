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

package daemon

import (
	"net/http"
	"time"
)

var api = []*Command{
	rootCmd,
	healthCmd,
	sessionsCmd,
	sessionCmd,
	sessionRestartCmd,
	sessionLogsCmd,
	sessionLogsStreamCmd,
	eventsStreamCmd,
	portsCmd,
}

var (
	rootCmd = &Command{
		Path: "/",
		GET:  getRoot,
	}

	healthCmd = &Command{
		Path: "/v1/health",
		GET:  getHealth,
	}

	sessionsCmd = &Command{
		Path: "/v1/sessions",
		GET:  getSessions,
		POST: postSessions,
	}

	sessionCmd = &Command{
		Path:   "/v1/sessions/{id}",
		GET:    getSession,
		DELETE: deleteSession,
	}

	sessionRestartCmd = &Command{
		Path: "/v1/sessions/{id}/restart",
		POST: postSessionRestart,
	}

	sessionLogsCmd = &Command{
		Path: "/v1/sessions/{id}/logs",
		GET:  getSessionLogs,
	}

	sessionLogsStreamCmd = &Command{
		Path:      "/v1/sessions/{id}/logs/stream",
		GET:       getSessionLogsStream,
		Streaming: true,
	}

	eventsStreamCmd = &Command{
		Path:      "/v1/events/stream",
		GET:       getEventsStream,
		Streaming: true,
	}

	portsCmd = &Command{
		Path: "/v1/ports",
		GET:  getPorts,
	}
)

func getRoot(c *Command, r *http.Request) Response {
	return SyncResponse([]string{"/v1/health", "/v1/sessions", "/v1/ports", "/v1/events/stream"})
}

func getHealth(c *Command, r *http.Request) Response {
	return SyncResponse(map[string]interface{}{
		"ok":            true,
		"version":       c.d.Version,
		"session_count": c.d.overlord.Sessions().Count(),
		"uptime_s":      int(time.Since(c.d.overlord.StartedAt()).Seconds()),
	})
}

func getPorts(c *Command, r *http.Request) Response {
	return SyncResponse(map[string]interface{}{
		"allocations": c.d.overlord.Ports().Snapshot(),
	})
}
