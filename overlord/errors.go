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
	"errors"
	"fmt"
)

// ErrNotFound is returned for operations on unknown session ids.
var ErrNotFound = errors.New("no such session")

// ErrLogsExpired is returned when a terminal session's log ring was
// already freed by the retention janitor.
var ErrLogsExpired = errors.New("session logs expired")

// A ValidationError rejects a malformed session spec.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// A ConflictError rejects an operation invalid in the session's
// current state.
type ConflictError struct {
	SessionID string
	State     State
	Message   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s (session %s is %s)", e.Message, e.SessionID, e.State)
}

// A TimeoutError reports that an operation exceeded its deadline. The
// operation keeps running in the background; the system stays valid.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s did not complete in time", e.Op)
}

// A NotReadyError reports a session that never became reachable within
// its readiness grace.
type NotReadyError struct {
	SessionID string
	Port      int
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("session %s did not become reachable on port %d", e.SessionID, e.Port)
}
