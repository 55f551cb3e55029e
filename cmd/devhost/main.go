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
	"io"
	"os"
	"strings"

	"github.com/jessevdk/go-flags"

	"github.com/devhostd/devhostd/client"
	"github.com/devhostd/devhostd/logger"
)

// Standard streams, redirected for testing.
var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

type options struct {
	Version func() `long:"version" description:"Print the version and exit"`
}

var optionsData options

// Version is set at build time via -ldflags.
var Version = "unknown"

// cmdInfo holds information needed to call parser.AddCommand(...).
type cmdInfo struct {
	name, shortHelp, longHelp string
	builder                   func() flags.Commander
}

// commands holds information about all commands.
var commands []*cmdInfo

// addCommand replaces parser.AddCommand() in a way that is compatible
// with re-constructing a pristine parser per invocation.
func addCommand(name, shortHelp, longHelp string, builder func() flags.Commander) *cmdInfo {
	info := &cmdInfo{
		name:      name,
		shortHelp: shortHelp,
		longHelp:  longHelp,
		builder:   builder,
	}
	commands = append(commands, info)
	return info
}

type exitStatus struct {
	code int
}

func (e *exitStatus) Error() string {
	return fmt.Sprintf("internal error: exitStatus{%d} being handled as normal error", e.code)
}

// Parser creates and populates a fresh parser.
// Since commands have local state a fresh parser is required to
// isolate tests from each other.
func Parser() *flags.Parser {
	optionsData.Version = func() {
		fmt.Fprintln(Stdout, Version)
		panic(&exitStatus{0})
	}
	parser := flags.NewParser(&optionsData, flags.HelpFlag|flags.PassDoubleDash)
	parser.ShortDescription = "Tool to interact with devhostd"
	parser.LongDescription = `
Start, inspect and stop development servers managed by devhostd, the
local development-host supervisor. Start with 'devhost status' to see
the managed sessions.
`
	for _, c := range commands {
		if _, err := parser.AddCommand(c.name, c.shortHelp, strings.TrimSpace(c.longHelp), c.builder()); err != nil {
			logger.Panicf("cannot add command %q: %v", c.name, err)
		}
	}
	return parser
}

// mkClient returns the client all commands use.
var mkClient = func() *client.Client {
	return client.New()
}

func init() {
	if err := logger.SimpleSetup(); err != nil {
		fmt.Fprintf(Stderr, "WARNING: failed to activate logging: %v\n", err)
	}
}

// exitCode maps an error to the documented exit codes: 1 for user
// errors the caller can fix, 2 for system-side failures.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if cerr, ok := err.(*client.Error); ok {
		switch cerr.Code {
		case "INVALID_PARAMS", "NOT_FOUND", "CONFLICT", "PORT_ERROR", "SPAWN_ERROR":
			return 1
		}
		return 2
	}
	if _, ok := err.(*flags.Error); ok {
		return 1
	}
	return 2
}

func run() error {
	parser := Parser()
	_, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			parser.WriteHelp(Stdout)
			return nil
		}
		return err
	}
	return nil
}

func main() {
	defer func() {
		if v := recover(); v != nil {
			if e, ok := v.(*exitStatus); ok {
				os.Exit(e.code)
			}
			panic(v)
		}
	}()

	if err := run(); err != nil {
		fmt.Fprintf(Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}
