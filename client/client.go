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

// Package client talks to the devhostd control plane.
package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
)

type doer interface {
	Do(*http.Request) (*http.Response, error)
}

// A Client knows how to talk to the devhost daemon.
type Client struct {
	baseURL url.URL
	doer    doer
}

// New returns a client for the control plane at the default loopback
// address, honouring DEVHOSTD_ADDR and DEVHOSTD_PORT.
func New() *Client {
	return NewForAddr(controlAddr())
}

// NewForAddr returns a client for the control plane at addr
// (host:port).
func NewForAddr(addr string) *Client {
	return &Client{
		baseURL: url.URL{Scheme: "http", Host: addr},
		doer:    &http.Client{},
	}
}

func controlAddr() string {
	if addr := os.Getenv("DEVHOSTD_ADDR"); addr != "" {
		return addr
	}
	port := 2601
	if p := os.Getenv("DEVHOSTD_PORT"); p != "" {
		fmt.Sscanf(p, "%d", &port)
	}
	return fmt.Sprintf("127.0.0.1:%d", port)
}

// raw performs a request and returns the resulting http.Response. Only
// call this directly when the response is not the JSON envelope.
func (client *Client) raw(method, path string, query url.Values, headers map[string]string, body io.Reader) (*http.Response, error) {
	u := client.baseURL
	u.Path = path
	u.RawQuery = query.Encode()
	req, err := http.NewRequest(method, u.String(), body)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return client.doer.Do(req)
}

// response is the standard envelope.
type response struct {
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

// Error is the API error envelope. Code is drawn from the closed set
// shared with the daemon.
type Error struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// do performs a request and decodes the envelope.
func (client *Client) do(method, path string, query url.Values, body io.Reader, rsp *response) error {
	r, err := client.raw(method, path, query, nil, body)
	if err != nil {
		return fmt.Errorf("cannot communicate with server: %v", err)
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(rsp); err != nil {
		return fmt.Errorf("cannot decode %q response: %v", path, err)
	}
	return nil
}

// doSync performs a request and on success decodes the result payload
// into v. API errors come back as *Error.
func (client *Client) doSync(method, path string, query url.Values, body io.Reader, v interface{}) error {
	var rsp response
	if err := client.do(method, path, query, body, &rsp); err != nil {
		return err
	}
	if rsp.Error != nil {
		return rsp.Error
	}
	if v == nil {
		return nil
	}
	if err := json.Unmarshal(rsp.Result, v); err != nil {
		return fmt.Errorf("cannot unmarshal result: %v", err)
	}
	return nil
}
