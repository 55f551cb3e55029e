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

	"github.com/devhostd/devhostd/client"
)

type cmdLogs struct {
	N      int  `short:"n" long:"lines" default:"50" description:"Number of buffered lines to show"`
	Follow bool `short:"f" long:"follow" description:"Keep streaming new lines"`

	Positional struct {
		Session string `positional-arg-name:"<session>" required:"1"`
	} `positional-args:"yes"`
}

var shortLogsHelp = "Show session output"
var longLogsHelp = `
The logs command prints buffered output of a session; with --follow it
keeps streaming new lines until interrupted.
`

func init() {
	addCommand("logs", shortLogsHelp, longLogsHelp, func() flags.Commander { return &cmdLogs{} })
}

func printLogEvent(ev *client.LogEvent) {
	switch {
	case ev.Evicted > 0:
		fmt.Fprintf(Stderr, "... %d earlier lines dropped from the buffer\n", ev.Evicted)
	case ev.Lost > 0:
		fmt.Fprintf(Stderr, "... %d lines lost (slow consumer)\n", ev.Lost)
	default:
		fmt.Fprintf(Stdout, "%s [%s] %s\n", ev.TS.Format("15:04:05.000"), ev.Stream, ev.Line)
	}
}

func (x *cmdLogs) Execute([]string) error {
	cli := mkClient()
	id, err := resolveSessionID(cli, x.Positional.Session)
	if err != nil {
		return err
	}

	logs, err := cli.Logs(id, x.N, 0)
	if err != nil {
		return err
	}
	for i := range logs.Events {
		printLogEvent(&logs.Events[i])
	}
	if !x.Follow {
		return nil
	}

	stream, err := cli.FollowLogs(id, logs.LatestSeq, 0)
	if err != nil {
		return err
	}
	defer stream.Close()

	for ev := range stream.C() {
		switch ev.Event {
		case "gap":
			fmt.Fprintln(Stderr, "... buffer wrapped, some lines were missed")
		case "log":
			log, err := ev.DecodeLog()
			if err != nil {
				continue
			}
			printLogEvent(log)
		}
	}
	return stream.Err()
}
