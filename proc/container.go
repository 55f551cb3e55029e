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

package proc

import (
	"fmt"
	"sort"
)

// guestWorkdir is the fixed mount point of the project directory
// inside a container.
const guestWorkdir = "/workspace"

// DefaultImages maps runtime classes to their default container image.
// Overridable through the config file.
var DefaultImages = map[string]string{
	"node":    "node:20-alpine",
	"python":  "python:3.12-slim",
	"php":     "php:8.3-cli",
	"static":  "nginx:alpine",
	"generic": "debian:stable-slim",
}

// containerArgv wraps the session command into a docker invocation that
// is spawned like any native child. Running docker in the foreground
// keeps the signal semantics: the CLI proxies SIGTERM to the container
// by default.
func containerArgv(spec *Spec) []string {
	argv := []string{
		"docker", "run", "--rm", "--init",
		"-v", fmt.Sprintf("%s:%s", spec.Dir, guestWorkdir),
		"-w", guestWorkdir,
	}
	if spec.Port != 0 {
		argv = append(argv, "-p", fmt.Sprintf("127.0.0.1:%d:%d", spec.Port, spec.Port))
	}

	// deterministic flag order for testability
	keys := make([]string, 0, len(spec.ContainerEnv))
	for k := range spec.ContainerEnv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		argv = append(argv, "-e", fmt.Sprintf("%s=%s", k, spec.ContainerEnv[k]))
	}
	if spec.Port != 0 {
		argv = append(argv, "-e", fmt.Sprintf("PORT=%d", spec.Port))
	}

	argv = append(argv, spec.Image)
	return append(argv, spec.Argv...)
}
