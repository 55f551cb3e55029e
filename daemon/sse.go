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
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/devhostd/devhostd/logring"
)

const (
	sseHeartbeat     = 15 * time.Second
	sseWriteDeadline = 5 * time.Second
)

// sseWriter frames server-sent events on a flushed response.
type sseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	return &sseWriter{w: w, rc: http.NewResponseController(w)}
}

func (s *sseWriter) event(id uint64, event string, data interface{}) error {
	bs, err := json.Marshal(data)
	if err != nil {
		return err
	}
	s.rc.SetWriteDeadline(time.Now().Add(sseWriteDeadline))
	if id != 0 {
		fmt.Fprintf(s.w, "id: %d\n", id)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, bs); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *sseWriter) heartbeat() error {
	s.rc.SetWriteDeadline(time.Now().Add(sseWriteDeadline))
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return err
	}
	return s.rc.Flush()
}

// resumeSeq extracts the resume position: Last-Event-ID wins over the
// since_seq query parameter.
func resumeSeq(r *http.Request) (seq uint64, ok bool) {
	if id := r.Header.Get("Last-Event-ID"); id != "" {
		if n, err := strconv.ParseUint(id, 10, 64); err == nil {
			return n, true
		}
	}
	if s := r.URL.Query().Get("since_seq"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

type logStreamResponse struct {
	ring *logring.Ring
}

func (rsp *logStreamResponse) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	from := logring.SubscribeFrom{Latest: true}
	if seq, ok := resumeSeq(r); ok {
		from = logring.SubscribeFrom{Seq: seq}
	} else if s := r.URL.Query().Get("tail"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			from = logring.SubscribeFrom{TailN: n}
		}
	}

	sub := rsp.ring.Subscribe(from)
	defer sub.Close()

	out := newSSEWriter(w)
	if sub.Gap {
		if err := out.event(0, "gap", map[string]uint64{"earliest_seq": sub.Earliest}); err != nil {
			return
		}
	}

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if err := out.event(ev.Seq, "log", ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := out.heartbeat(); err != nil {
				return
			}
		}
	}
}

func getSessionLogsStream(c *Command, r *http.Request) Response {
	id := muxVars(r)["id"]
	ring, err := c.d.overlord.Sessions().Ring(id)
	if err != nil {
		return errToResponse(err, id)
	}
	return &logStreamResponse{ring: ring}
}

type statusStreamResponse struct {
	d *Daemon
}

func (rsp *statusStreamResponse) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sub := rsp.d.overlord.Sessions().SubscribeStatus()
	defer sub.Close()

	out := newSSEWriter(w)

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-rsp.d.Dying():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if err := out.event(ev.Seq, "status", ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := out.heartbeat(); err != nil {
				return
			}
		}
	}
}

func getEventsStream(c *Command, r *http.Request) Response {
	return &statusStreamResponse{d: c.d}
}
