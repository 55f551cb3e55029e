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
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/devhostd/devhostd/logring"
	"github.com/devhostd/devhostd/overlord"
	"github.com/devhostd/devhostd/strutil"
)

// startRequest is the start payload; the port field additionally
// accepts the string "auto" as an alias for 0.
type startRequest struct {
	overlord.SessionSpec
	Port interface{} `json:"port"`
}

func (req *startRequest) portValue() (int, bool) {
	switch p := req.Port.(type) {
	case nil:
		return 0, true
	case string:
		if p == "auto" {
			return 0, true
		}
		return 0, false
	case float64:
		return int(p), true
	}
	return 0, false
}

func postSessions(c *Command, r *http.Request) Response {
	var req startRequest
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&req); err != nil {
		return BadRequest("cannot decode request body: %v", err)
	}

	port, ok := req.portValue()
	if !ok {
		return BadRequest("port must be a number or \"auto\"")
	}
	spec := req.SessionSpec
	spec.Port = port

	view, err := c.d.overlord.Sessions().Start(r.Context(), spec)
	if err != nil {
		sessionID := ""
		if view != nil {
			sessionID = view.ID
		}
		return errToResponse(err, sessionID)
	}

	return SyncResponse(map[string]interface{}{
		"session_id": view.ID,
		"port":       view.Port,
		"pid":        view.PID,
		"state":      view.State,
	})
}

func getSessions(c *Command, r *http.Request) Response {
	views, err := c.d.overlord.Sessions().List(r.URL.Query().Get("state"))
	if err != nil {
		return errToResponse(err, "")
	}
	return SyncResponse(map[string]interface{}{
		"sessions": views,
		"total":    len(views),
	})
}

func getSession(c *Command, r *http.Request) Response {
	id := muxVars(r)["id"]
	view, err := c.d.overlord.Sessions().Get(id)
	if err != nil {
		return errToResponse(err, id)
	}
	return SyncResponse(view)
}

func deleteSession(c *Command, r *http.Request) Response {
	id := muxVars(r)["id"]

	var body struct {
		Force bool `json:"force"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return BadRequest("cannot decode request body: %v", err)
		}
	}
	purge, _ := strconv.ParseBool(r.URL.Query().Get("purge"))

	view, err := c.d.overlord.Sessions().Stop(r.Context(), id, body.Force)
	if err != nil {
		return errToResponse(err, id)
	}
	if purge {
		if err := c.d.overlord.Sessions().Delete(id); err != nil {
			return errToResponse(err, id)
		}
	}
	return SyncResponse(map[string]interface{}{
		"state": view.State,
	})
}

func postSessionRestart(c *Command, r *http.Request) Response {
	id := muxVars(r)["id"]
	view, err := c.d.overlord.Sessions().Restart(r.Context(), id)
	if err != nil {
		return errToResponse(err, id)
	}
	return SyncResponse(map[string]interface{}{
		"state": view.State,
		"port":  view.Port,
		"pid":   view.PID,
	})
}

func getSessionLogs(c *Command, r *http.Request) Response {
	id := muxVars(r)["id"]
	ring, err := c.d.overlord.Sessions().Ring(id)
	if err != nil {
		return errToResponse(err, id)
	}

	query := r.URL.Query()
	limit := 100
	if s := query.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return BadRequest("invalid limit %q", s)
		}
		limit = n
	}
	stream := query.Get("stream")
	if stream != "" && !strutil.ListContains([]string{"stdout", "stderr", "system"}, stream) {
		return BadRequest("invalid stream %q", stream)
	}

	result := map[string]interface{}{
		"earliest_seq": ring.EarliestSeq(),
		"latest_seq":   ring.LatestSeq(),
	}
	if s := query.Get("since_seq"); s != "" {
		seq, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return BadRequest("invalid since_seq %q", s)
		}
		events, gap, earliest := ring.Since(seq)
		events = filterStream(events, stream)
		if len(events) > limit {
			events = events[:limit]
		}
		result["events"] = events
		if gap {
			result["gap"] = true
			result["earliest_seq"] = earliest
		}
	} else {
		result["events"] = filterStream(ring.Tail(limit), stream)
	}
	return SyncResponse(result)
}

func filterStream(events []logring.Event, stream string) []logring.Event {
	if stream == "" {
		return events
	}
	out := make([]logring.Event, 0, len(events))
	for _, ev := range events {
		if string(ev.Stream) == stream {
			out = append(out, ev)
		}
	}
	return out
}

// muxVars is replaced in tests exercising handlers without a router.
var muxVars = mux.Vars
