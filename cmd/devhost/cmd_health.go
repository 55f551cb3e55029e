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
	"time"

	"github.com/jessevdk/go-flags"
)

type cmdHealth struct{}

var shortHealthHelp = "Check the daemon"
var longHealthHelp = `
The health command reports daemon liveness, version and the number of
managed sessions.
`

func init() {
	addCommand("health", shortHealthHelp, longHealthHelp, func() flags.Commander { return &cmdHealth{} })
}

func (x *cmdHealth) Execute([]string) error {
	h, err := mkClient().Health()
	if err != nil {
		return err
	}
	fmt.Fprintf(Stdout, "devhostd %s ok, %d sessions, up %s\n",
		h.Version, h.SessionCount, (time.Duration(h.UptimeS) * time.Second).String())
	return nil
}
