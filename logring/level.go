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

package logring

import (
	"bytes"
)

// levelTokens maps the severity markers commonly found at the start of
// framework log lines. Matching is opportunistic: a line that matches
// nothing simply carries no level.
var levelTokens = []struct {
	token []byte
	level Level
}{
	{[]byte("error"), LevelError},
	{[]byte("err"), LevelError},
	{[]byte("fatal"), LevelError},
	{[]byte("warn"), LevelWarn},
	{[]byte("warning"), LevelWarn},
	{[]byte("info"), LevelInfo},
	{[]byte("debug"), LevelDebug},
	{[]byte("trace"), LevelDebug},
}

// parseLevel sniffs the severity of a captured line. Only a short
// prefix is considered so that arbitrary content further in the line
// cannot masquerade as a marker.
func parseLevel(stream Stream, line []byte) Level {
	if stream == System {
		return LevelUnset
	}

	head := line
	if len(head) > 24 {
		head = head[:24]
	}
	head = bytes.ToLower(head)

	for _, t := range levelTokens {
		idx := bytes.Index(head, t.token)
		if idx < 0 {
			continue
		}
		// require a word boundary right after the token ([error],
		// "warn:", "INFO ") to avoid matching words like "errors"
		rest := head[idx+len(t.token):]
		if len(rest) > 0 {
			switch rest[0] {
			case ':', ']', ' ', '\t', '-', '|':
			default:
				continue
			}
		}
		return t.level
	}
	return LevelUnset
}
