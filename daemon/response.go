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
	"errors"
	"fmt"
	"net/http"

	"github.com/devhostd/devhostd/logger"
	"github.com/devhostd/devhostd/overlord"
	"github.com/devhostd/devhostd/ports"
	"github.com/devhostd/devhostd/proc"
)

// ErrorCode is one of the closed set of machine-readable error codes
// shared with tool adapters.
type ErrorCode string

const (
	ErrorInvalidParams ErrorCode = "INVALID_PARAMS"
	ErrorNotFound      ErrorCode = "NOT_FOUND"
	ErrorConflict      ErrorCode = "CONFLICT"
	ErrorPort          ErrorCode = "PORT_ERROR"
	ErrorSpawn         ErrorCode = "SPAWN_ERROR"
	ErrorTimeout       ErrorCode = "TIMEOUT"
	ErrorInternal      ErrorCode = "INTERNAL_ERROR"
)

// Response knows how to serve itself.
type Response interface {
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

type errorResult struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type resp struct {
	Status int
	Result interface{}
	Error  *errorResult
}

func (r *resp) MarshalJSON() ([]byte, error) {
	if r.Error != nil {
		return json.Marshal(map[string]interface{}{
			"error": r.Error,
		})
	}
	return json.Marshal(map[string]interface{}{
		"result": &r.Result,
	})
}

func (r *resp) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	status := r.Status
	bs, err := r.MarshalJSON()
	if err != nil {
		logger.Noticef("cannot marshal %#v to JSON: %v", *r, err)
		bs = []byte(`{"error":{"code":"INTERNAL_ERROR","message":"cannot marshal response"}}`)
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(bs)
}

// SyncResponse wraps result in the standard envelope.
func SyncResponse(result interface{}) Response {
	if err, ok := result.(error); ok {
		return InternalError("internal error: %v", err)
	}

	if rsp, ok := result.(Response); ok {
		return rsp
	}

	return &resp{
		Status: http.StatusOK,
		Result: result,
	}
}

func errorResponse(status int, code ErrorCode, details interface{}, format string, v ...interface{}) Response {
	return &resp{
		Status: status,
		Error: &errorResult{
			Code:    code,
			Message: fmt.Sprintf(format, v...),
			Details: details,
		},
	}
}

// BadRequest rejects malformed requests with INVALID_PARAMS.
func BadRequest(format string, v ...interface{}) Response {
	return errorResponse(http.StatusBadRequest, ErrorInvalidParams, nil, format, v...)
}

// NotFound reports an unknown session or resource.
func NotFound(format string, v ...interface{}) Response {
	return errorResponse(http.StatusNotFound, ErrorNotFound, nil, format, v...)
}

// Conflict rejects an operation invalid in the current state.
func Conflict(format string, v ...interface{}) Response {
	return errorResponse(http.StatusBadRequest, ErrorConflict, nil, format, v...)
}

// BadMethod rejects an unsupported verb on a known path.
func BadMethod(format string, v ...interface{}) Response {
	return errorResponse(http.StatusMethodNotAllowed, ErrorInvalidParams, nil, format, v...)
}

// InternalError reports an unexpected daemon-side failure.
func InternalError(format string, v ...interface{}) Response {
	logger.Noticef(format, v...)
	return errorResponse(http.StatusInternalServerError, ErrorInternal, nil, format, v...)
}

type portErrorDetails struct {
	Sub                   ports.ErrorKind `json:"sub"`
	Port                  int             `json:"port,omitempty"`
	ConflictingSessionID  string          `json:"conflicting_session_id,omitempty"`
	ConflictingSessionTag string          `json:"conflicting_session_name,omitempty"`
	Suggestions           []int           `json:"suggestions,omitempty"`
}

type spawnErrorDetails struct {
	Sub       proc.SpawnErrorKind `json:"sub"`
	SessionID string              `json:"session_id,omitempty"`
}

// errToResponse maps typed errors from the lower layers onto the error
// envelope. sessionID annotates spawn failures with the failed record.
func errToResponse(err error, sessionID string) Response {
	var verr *overlord.ValidationError
	var cerr *overlord.ConflictError
	var terr *overlord.TimeoutError
	var perr *ports.Error
	var serr *proc.SpawnError

	switch {
	case errors.Is(err, overlord.ErrNotFound):
		return NotFound("no such session")
	case errors.Is(err, overlord.ErrLogsExpired):
		return NotFound("session logs expired")
	case errors.As(err, &verr):
		return BadRequest("%s", verr.Message)
	case errors.As(err, &cerr):
		return errorResponse(http.StatusBadRequest, ErrorConflict, map[string]interface{}{
			"session_id": cerr.SessionID,
			"state":      cerr.State,
		}, "%v", cerr)
	case errors.As(err, &terr):
		return errorResponse(http.StatusRequestTimeout, ErrorTimeout, nil, "%v", terr)
	case errors.As(err, &perr):
		return errorResponse(http.StatusBadRequest, ErrorPort, &portErrorDetails{
			Sub:                   perr.Kind,
			Port:                  perr.Port,
			ConflictingSessionID:  perr.ConflictingSessionID,
			ConflictingSessionTag: perr.ConflictingSessionName,
			Suggestions:           perr.Suggestions,
		}, "%v", perr)
	case errors.As(err, &serr):
		return errorResponse(http.StatusBadRequest, ErrorSpawn, &spawnErrorDetails{
			Sub:       serr.Kind,
			SessionID: sessionID,
		}, "%v", serr)
	}
	return InternalError("%v", err)
}
