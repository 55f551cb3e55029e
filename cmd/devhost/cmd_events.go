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

	"github.com/jessevdk/go-flags"
)

type cmdEvents struct{}

var shortEventsHelp = "Stream session state transitions"
var longEventsHelp = `
The events command streams every session state transition as it
happens, until interrupted.
`

func init() {
	addCommand("events", shortEventsHelp, longEventsHelp, func() flags.Commander { return &cmdEvents{} })
}

func (x *cmdEvents) Execute([]string) error {
	stream, err := mkClient().FollowEvents()
	if err != nil {
		return err
	}
	defer stream.Close()

	for ev := range stream.C() {
		if ev.Event != "status" {
			continue
		}
		status, err := ev.DecodeStatus()
		if err != nil {
			continue
		}
		if status.Prev != "" {
			fmt.Fprintf(Stdout, "%s %s (%s): %s -> %s %s\n",
				status.When.Format("15:04:05"), status.SessionID, status.Name,
				status.Prev, status.State, status.Reason)
		} else {
			fmt.Fprintf(Stdout, "%s %s (%s): %s %s\n",
				status.When.Format("15:04:05"), status.SessionID, status.Name,
				status.State, status.Reason)
		}
	}
	return stream.Err()
}
