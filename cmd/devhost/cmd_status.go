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
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/jessevdk/go-flags"
)

type cmdStatus struct {
	State string `long:"state" description:"Only list sessions in this state"`
	JSON  bool   `long:"json" description:"Print the raw session data as JSON"`

	Positional struct {
		Session string `positional-arg-name:"<session>"`
	} `positional-args:"yes"`
}

var shortStatusHelp = "Show managed development servers"
var longStatusHelp = `
Without arguments the status command lists every managed session. With
a session id it shows the full detail of one session.
`

func init() {
	addCommand("status", shortStatusHelp, longStatusHelp, func() flags.Commander { return &cmdStatus{} })
}

func (x *cmdStatus) Execute([]string) error {
	cli := mkClient()

	if x.Positional.Session != "" {
		id, err := resolveSessionID(cli, x.Positional.Session)
		if err != nil {
			return err
		}
		s, err := cli.Session(id)
		if err != nil {
			return err
		}
		if x.JSON {
			enc := json.NewEncoder(Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(s)
		}
		w := tabwriter.NewWriter(Stdout, 2, 2, 1, ' ', 0)
		defer w.Flush()
		fmt.Fprintf(w, "id:\t%s\n", s.ID)
		fmt.Fprintf(w, "name:\t%s\n", s.Name)
		fmt.Fprintf(w, "state:\t%s\n", s.State)
		fmt.Fprintf(w, "command:\t%s\n", strings.Join(s.Command, " "))
		fmt.Fprintf(w, "cwd:\t%s\n", s.Dir)
		fmt.Fprintf(w, "class:\t%s\n", s.Class)
		fmt.Fprintf(w, "backend:\t%s\n", s.Backend)
		if s.Port != 0 {
			fmt.Fprintf(w, "port:\t%d\n", s.Port)
		}
		if s.PID != 0 {
			fmt.Fprintf(w, "pid:\t%d\n", s.PID)
		}
		if s.ExitCode != nil {
			fmt.Fprintf(w, "exit-code:\t%d\n", *s.ExitCode)
		}
		if s.ExitSignal != "" {
			fmt.Fprintf(w, "exit-signal:\t%s\n", s.ExitSignal)
		}
		if s.ExitReason != "" {
			fmt.Fprintf(w, "reason:\t%s\n", s.ExitReason)
		}
		if s.RestartCount > 0 {
			fmt.Fprintf(w, "restarts:\t%d\n", s.RestartCount)
		}
		return nil
	}

	sessions, err := cli.Sessions(x.State)
	if err != nil {
		return err
	}
	if x.JSON {
		enc := json.NewEncoder(Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sessions)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(Stderr, "No sessions found")
		return nil
	}

	w := tabwriter.NewWriter(Stdout, 5, 3, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "ID\tName\tState\tPort\tPID")
	for _, s := range sessions {
		port := "-"
		if s.Port != 0 {
			port = fmt.Sprintf("%d", s.Port)
		}
		pid := "-"
		if s.PID != 0 {
			pid = fmt.Sprintf("%d", s.PID)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Name, s.State, port, pid)
	}
	return nil
}
