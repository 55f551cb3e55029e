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
	"os"
	"strings"

	"github.com/jessevdk/go-flags"

	"github.com/devhostd/devhostd/client"
)

type cmdStart struct {
	Name       string `long:"name" description:"Session name (defaults to the directory name)"`
	Cwd        string `long:"cwd" description:"Working directory (defaults to the current directory)"`
	Port       int    `long:"port" description:"Requested port (0 requests automatic assignment)"`
	Class      string `long:"class" description:"Runtime class: node, python, php, static or generic" choice:"node" choice:"python" choice:"php" choice:"static" choice:"generic"`
	Backend    string `long:"backend" description:"Process backend" choice:"native" choice:"container"`
	Image      string `long:"image" description:"Container image for the container backend"`
	Env        []string `long:"env" description:"Extra environment entry KEY=VALUE (may be repeated)"`
	Restart    string `long:"restart" description:"Restart policy" choice:"never" choice:"on-crash" choice:"always"`
	MaxRestart int    `long:"max-restarts" description:"Restart attempt limit for the chosen policy"`
	WaitReady  bool   `long:"wait-ready" description:"Fail the start unless the port becomes reachable"`

	Positional struct {
		Command []string `positional-arg-name:"<command>" required:"1"`
	} `positional-args:"yes"`
}

var shortStartHelp = "Start a development server"
var longStartHelp = `
The start command launches a development server under devhostd
supervision, assigns it a port from the range of its runtime class and
begins capturing its output.
`

func init() {
	addCommand("start", shortStartHelp, longStartHelp, func() flags.Commander { return &cmdStart{} })
}

func (x *cmdStart) Execute([]string) error {
	cwd := x.Cwd
	if cwd == "" {
		dir, err := os.Getwd()
		if err != nil {
			return err
		}
		cwd = dir
	}

	env := make(map[string]string, len(x.Env))
	for _, kv := range x.Env {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid environment entry %q (want KEY=VALUE)", kv)
		}
		env[parts[0]] = parts[1]
	}

	opts := &client.StartOptions{
		Name:      x.Name,
		Command:   x.Positional.Command,
		Dir:       cwd,
		Env:       env,
		Class:     x.Class,
		Port:      x.Port,
		Backend:   x.Backend,
		Image:     x.Image,
		WaitReady: x.WaitReady,
	}
	if x.Restart != "" {
		opts.Restart = &client.RestartPolicy{Kind: x.Restart, MaxRestarts: x.MaxRestart}
	}

	res, err := mkClient().Start(opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(Stdout, "%s %s on port %d (pid %d)\n", res.SessionID, res.State, res.Port, res.PID)
	return nil
}
