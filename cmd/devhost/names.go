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

package main

import (
	"fmt"
	"regexp"

	"github.com/devhostd/devhostd/client"
)

var validSessionID = regexp.MustCompile(`^s[a-zA-Z0-9]{9}$`)

// resolveSessionID maps a command line argument to a session id. An
// argument that already has the shape of an id is passed through
// untouched; anything else is treated as a session name and looked up
// against the daemon. The daemon itself only ever resolves ids.
func resolveSessionID(cli *client.Client, arg string) (string, error) {
	if validSessionID.MatchString(arg) {
		return arg, nil
	}
	sessions, err := cli.Sessions("")
	if err != nil {
		return "", err
	}
	var matches []string
	for _, s := range sessions {
		if s.Name == arg {
			matches = append(matches, s.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("cannot find a session named %q", arg)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("session name %q is ambiguous, use one of the ids %v", arg, matches)
	}
}
