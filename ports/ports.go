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

// Package ports implements the port registry: conflict-free allocation
// of TCP ports for managed sessions, with per-runtime ranges and a
// durable JSON snapshot.
package ports

import (
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/devhostd/devhostd/logger"
)

// RuntimeClass selects the default port range for a session.
type RuntimeClass string

const (
	Node    RuntimeClass = "node"
	Python  RuntimeClass = "python"
	PHP     RuntimeClass = "php"
	Static  RuntimeClass = "static"
	Generic RuntimeClass = "generic"
)

// ParseRuntimeClass validates s, mapping the empty string to Generic.
func ParseRuntimeClass(s string) (RuntimeClass, error) {
	switch RuntimeClass(s) {
	case "":
		return Generic, nil
	case Node, Python, PHP, Static, Generic:
		return RuntimeClass(s), nil
	}
	return "", fmt.Errorf("unknown runtime class %q", s)
}

// A Range is an inclusive port interval.
type Range struct {
	Lo, Hi int
}

func (r Range) contains(port int) bool {
	return port >= r.Lo && port <= r.Hi
}

// The system-reserved range is never assigned to sessions.
const (
	SystemReservedLo = 2601
	SystemReservedHi = 2699
)

// DefaultRanges are the built-in per-runtime ranges. Generic shares the
// node range.
func DefaultRanges() map[RuntimeClass]Range {
	return map[RuntimeClass]Range{
		Node:    {3000, 3999},
		Static:  {4000, 4999},
		Python:  {5000, 5999},
		PHP:     {8080, 8980},
		Generic: {3000, 3999},
	}
}

// An Allocation records the live assignment of a port to a session.
type Allocation struct {
	Port        int          `json:"port"`
	SessionID   string       `json:"session_id"`
	SessionName string       `json:"name"`
	Class       RuntimeClass `json:"runtime_class"`
	AssignedAt  time.Time    `json:"assigned_at"`
}

// ErrorKind discriminates registry failures.
type ErrorKind string

const (
	SystemReserved      ErrorKind = "SystemReserved"
	PortInUse           ErrorKind = "PortInUse"
	PortExternallyBound ErrorKind = "PortExternallyBound"
	RangeExhausted      ErrorKind = "RangeExhausted"
)

// Error is the typed failure returned by registry operations.
type Error struct {
	Kind ErrorKind
	Port int
	// set for PortInUse
	ConflictingSessionID   string
	ConflictingSessionName string
	// lowest free ports of the relevant range, empty on RangeExhausted
	Suggestions []int
}

func (e *Error) Error() string {
	switch e.Kind {
	case SystemReserved:
		return fmt.Sprintf("port %d is in the system-reserved range %d-%d", e.Port, SystemReservedLo, SystemReservedHi)
	case PortInUse:
		return fmt.Sprintf("port %d is already assigned to session %q (%s)", e.Port, e.ConflictingSessionName, e.ConflictingSessionID)
	case PortExternallyBound:
		return fmt.Sprintf("port %d is bound by an unmanaged process", e.Port)
	case RangeExhausted:
		return fmt.Sprintf("no free port left in range")
	}
	return fmt.Sprintf("port error %s on port %d", e.Kind, e.Port)
}

// A Backend persists the registry snapshot on every mutation.
type Backend interface {
	Checkpoint(data []byte) error
}

// Registry hands out ports. All operations are serialized internally.
type Registry struct {
	mu sync.Mutex

	backend      Backend
	ranges       map[RuntimeClass]Range
	alloc        map[int]*Allocation
	lastAssigned map[RuntimeClass]int
	history      []HistoryEntry
	system       map[int]SystemEntry

	// probe reports whether the port is bound by an unmanaged
	// process; replaced in tests.
	probe func(port int) bool
}

// NewRegistry returns a registry using the given backend and ranges.
// A nil ranges map selects DefaultRanges.
func NewRegistry(backend Backend, ranges map[RuntimeClass]Range) *Registry {
	if ranges == nil {
		ranges = DefaultRanges()
	}
	return &Registry{
		backend:      backend,
		ranges:       ranges,
		alloc:        make(map[int]*Allocation),
		lastAssigned: make(map[RuntimeClass]int),
		system:       defaultSystemEntries(),
		probe:        externallyBound,
	}
}

// externallyBound probes the loopback interface for the given port,
// both TCP and (best effort) UDP.
func externallyBound(port int) bool {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return true
	}
	l.Close()

	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return true
	}
	pc.Close()

	return false
}

// Allocate assigns a port for the given session. A requested port of 0
// means automatic selection from the runtime's range.
func (r *Registry) Allocate(class RuntimeClass, sessionID, sessionName string, requested int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rng, ok := r.ranges[class]
	if !ok {
		rng = r.ranges[Generic]
	}

	var port int
	if requested != 0 {
		if err := r.checkRequested(requested); err != nil {
			return 0, err
		}
		port = requested
	} else {
		p, err := r.scan(rng, class)
		if err != nil {
			return 0, err
		}
		port = p
	}

	r.alloc[port] = &Allocation{
		Port:        port,
		SessionID:   sessionID,
		SessionName: sessionName,
		Class:       class,
		AssignedAt:  time.Now().UTC(),
	}
	if rng.contains(port) {
		r.lastAssigned[class] = port
	}
	r.addHistory("assigned", port, sessionID)
	r.checkpoint()

	return port, nil
}

func (r *Registry) checkRequested(port int) error {
	if port >= SystemReservedLo && port <= SystemReservedHi {
		return &Error{Kind: SystemReserved, Port: port}
	}
	if cur, ok := r.alloc[port]; ok {
		return &Error{
			Kind:                   PortInUse,
			Port:                   port,
			ConflictingSessionID:   cur.SessionID,
			ConflictingSessionName: cur.SessionName,
			Suggestions:            r.suggestionsFor(port),
		}
	}
	if r.probe(port) {
		return &Error{
			Kind:        PortExternallyBound,
			Port:        port,
			Suggestions: r.suggestionsFor(port),
		}
	}
	return nil
}

// scan walks the range in ascending order starting just after the last
// assignment, wrapping once.
func (r *Registry) scan(rng Range, class RuntimeClass) (int, error) {
	size := rng.Hi - rng.Lo + 1
	start := rng.Lo
	if last := r.lastAssigned[class]; rng.contains(last) {
		start = last + 1
	}
	for i := 0; i < size; i++ {
		port := rng.Lo + (start-rng.Lo+i)%size
		if _, taken := r.alloc[port]; taken {
			continue
		}
		if r.probe(port) {
			continue
		}
		return port, nil
	}
	return 0, &Error{Kind: RangeExhausted}
}

// suggestionsFor returns up to three of the lowest free ports in the
// range containing port (or the node range when the port is a stray).
func (r *Registry) suggestionsFor(port int) []int {
	rng := r.ranges[Generic]
	for _, cand := range r.ranges {
		if cand.contains(port) {
			rng = cand
			break
		}
	}
	var out []int
	for p := rng.Lo; p <= rng.Hi && len(out) < 3; p++ {
		if _, taken := r.alloc[p]; taken {
			continue
		}
		if r.probe(p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Release frees a live allocation.
func (r *Registry) Release(port int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.releaseLocked(port)
}

func (r *Registry) releaseLocked(port int) error {
	cur, ok := r.alloc[port]
	if !ok {
		return fmt.Errorf("cannot release port %d: not allocated", port)
	}
	delete(r.alloc, port)
	r.addHistory("released", port, cur.SessionID)
	r.checkpoint()
	return nil
}

// Snapshot returns the live allocations sorted by port.
func (r *Registry) Snapshot() []Allocation {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Allocation, 0, len(r.alloc))
	for _, a := range r.alloc {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

// Owner returns the live allocation for port, if any.
func (r *Registry) Owner(port int) (Allocation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.alloc[port]
	if !ok {
		return Allocation{}, false
	}
	return *a, true
}

// Reconcile releases every allocation whose session the live predicate
// rejects, returning the freed ports. Called once at startup after the
// session catalog was loaded.
func (r *Registry) Reconcile(live func(sessionID string) bool) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var freed []int
	for port, a := range r.alloc {
		if live(a.SessionID) {
			continue
		}
		logger.Noticef("releasing stale port %d (session %s gone)", port, a.SessionID)
		delete(r.alloc, port)
		r.addHistory("released", port, a.SessionID)
		freed = append(freed, port)
	}
	if len(freed) > 0 {
		r.checkpoint()
	}
	sort.Ints(freed)
	return freed
}
