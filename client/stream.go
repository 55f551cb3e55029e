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
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// StatusEvent is one supervisor-wide state transition.
type StatusEvent struct {
	Seq       uint64    `json:"seq"`
	SessionID string    `json:"session_id"`
	Name      string    `json:"name,omitempty"`
	State     string    `json:"state"`
	Prev      string    `json:"prev,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	When      time.Time `json:"when"`
}

// An SSEvent is one decoded server-sent event frame.
type SSEvent struct {
	ID    string
	Event string
	Data  []byte
}

// A Stream delivers server-sent events until closed or disconnected.
type Stream struct {
	body   io.ReadCloser
	events chan SSEvent
	err    error
}

// C delivers the decoded frames; it is closed when the stream ends.
func (s *Stream) C() <-chan SSEvent {
	return s.events
}

// Err reports why the stream ended, once C is closed.
func (s *Stream) Err() error {
	return s.err
}

// Close terminates the stream.
func (s *Stream) Close() error {
	return s.body.Close()
}

func (s *Stream) loop() {
	defer close(s.events)
	reader := bufio.NewReader(s.body)
	var ev SSEvent
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				s.err = err
			}
			return
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if len(ev.Data) > 0 {
				s.events <- ev
			}
			ev = SSEvent{}
		case strings.HasPrefix(line, ":"):
			// heartbeat comment
		case strings.HasPrefix(line, "id: "):
			ev.ID = line[len("id: "):]
		case strings.HasPrefix(line, "event: "):
			ev.Event = line[len("event: "):]
		case strings.HasPrefix(line, "data: "):
			ev.Data = append(ev.Data, line[len("data: "):]...)
		}
	}
}

func (client *Client) stream(path string, query url.Values, lastEventID string) (*Stream, error) {
	var headers map[string]string
	if lastEventID != "" {
		headers = map[string]string{"Last-Event-ID": lastEventID}
	}
	rsp, err := client.raw("GET", path, query, headers, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot communicate with server: %v", err)
	}
	if rsp.StatusCode != http.StatusOK {
		defer rsp.Body.Close()
		var envelope response
		if err := json.NewDecoder(rsp.Body).Decode(&envelope); err == nil && envelope.Error != nil {
			return nil, envelope.Error
		}
		return nil, fmt.Errorf("server error: %q", rsp.Status)
	}

	s := &Stream{
		body:   rsp.Body,
		events: make(chan SSEvent, 16),
	}
	go s.loop()
	return s, nil
}

// FollowLogs subscribes to the session's log stream. With sinceSeq
// non-zero the stream resumes strictly after that seq, otherwise it
// starts with the last tail lines.
func (client *Client) FollowLogs(id string, sinceSeq uint64, tail int) (*Stream, error) {
	query := url.Values{}
	lastEventID := ""
	if sinceSeq > 0 {
		lastEventID = strconv.FormatUint(sinceSeq, 10)
	} else if tail > 0 {
		query.Set("tail", strconv.Itoa(tail))
	}
	return client.stream(fmt.Sprintf("/v1/sessions/%s/logs/stream", id), query, lastEventID)
}

// FollowEvents subscribes to the supervisor-wide status stream.
func (client *Client) FollowEvents() (*Stream, error) {
	return client.stream("/v1/events/stream", nil, "")
}

// DecodeLog decodes a log frame.
func (ev SSEvent) DecodeLog() (*LogEvent, error) {
	var log LogEvent
	if err := json.Unmarshal(ev.Data, &log); err != nil {
		return nil, err
	}
	return &log, nil
}

// DecodeStatus decodes a status frame.
func (ev SSEvent) DecodeStatus() (*StatusEvent, error) {
	var status StatusEvent
	if err := json.Unmarshal(ev.Data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}
