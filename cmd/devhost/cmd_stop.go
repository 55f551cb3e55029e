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

type cmdStop struct {
	Force bool `long:"force" description:"Kill the process group immediately"`
	Purge bool `long:"purge" description:"Remove the session record after stopping"`

	Positional struct {
		Session string `positional-arg-name:"<session>" required:"1"`
	} `positional-args:"yes"`
}

type cmdRestart struct {
	Positional struct {
		Session string `positional-arg-name:"<session>" required:"1"`
	} `positional-args:"yes"`
}

var shortStopHelp = "Stop a development server"
var longStopHelp = `
The stop command terminates the session's process group, first
gracefully and then forcefully once the shutdown deadline passes.
Sessions may be addressed by id or, when unambiguous, by name.
`

var shortRestartHelp = "Restart a development server"
var longRestartHelp = `
The restart command stops the session and starts it again with the same
configuration, keeping the session id and, when still free, the port.
`

func init() {
	addCommand("stop", shortStopHelp, longStopHelp, func() flags.Commander { return &cmdStop{} })
	addCommand("restart", shortRestartHelp, longRestartHelp, func() flags.Commander { return &cmdRestart{} })
}

func (x *cmdStop) Execute([]string) error {
	cli := mkClient()
	id, err := resolveSessionID(cli, x.Positional.Session)
	if err != nil {
		return err
	}
	state, err := cli.Stop(id, x.Force, x.Purge)
	if err != nil {
		return err
	}
	fmt.Fprintf(Stdout, "%s %s\n", id, state)
	return nil
}

func (x *cmdRestart) Execute([]string) error {
	cli := mkClient()
	id, err := resolveSessionID(cli, x.Positional.Session)
	if err != nil {
		return err
	}
	res, err := cli.Restart(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(Stdout, "%s %s on port %d (pid %d)\n", res.SessionID, res.State, res.Port, res.PID)
	return nil
}
