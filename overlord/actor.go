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

package overlord

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"gopkg.in/retry.v1"

	"github.com/devhostd/devhostd/logger"
	"github.com/devhostd/devhostd/logring"
	"github.com/devhostd/devhostd/proc"
)

type opKind int

const (
	opStart opKind = iota
	opStop
	opRestart
)

type opResult struct {
	view *SessionView
	err  error
}

type sessionOp struct {
	kind  opKind
	force bool
	reply chan opResult
}

// post hands an operation to the session's actor and waits for the
// reply. On context expiry the operation keeps going in the background
// and the caller gets a timeout error.
func (s *Session) post(ctx context.Context, op sessionOp) (*SessionView, error) {
	op.reply = make(chan opResult, 1)

	select {
	case s.ops <- op:
	case <-ctx.Done():
		return nil, &TimeoutError{Op: opName(op.kind)}
	case <-s.tmb.Dying():
		return nil, ErrNotFound
	}

	select {
	case res := <-op.reply:
		return res.view, res.err
	case <-ctx.Done():
		return nil, &TimeoutError{Op: opName(op.kind)}
	}
}

func opName(k opKind) string {
	switch k {
	case opStart:
		return "start"
	case opStop:
		return "stop"
	case opRestart:
		return "restart"
	}
	return "?"
}

// probeDial is replaced in tests.
var probeDial = func(addr string, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return err
	}
	return conn.Close()
}

var probeStrategy = retry.LimitCount(100, retry.Exponential{
	Initial: 25 * time.Millisecond,
	Factor:  1.2,
})

// probePort reports on ch whether the port accepted a TCP connection
// before the grace elapsed.
func probePort(port int, grace time.Duration, cancel <-chan struct{}, ch chan<- bool) {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	deadline := time.Now().Add(grace)
	for a := retry.Start(probeStrategy, nil); a.Next(); {
		select {
		case <-cancel:
			return
		default:
		}
		if err := probeDial(addr, 250*time.Millisecond); err == nil {
			ch <- true
			return
		}
		if time.Now().After(deadline) {
			break
		}
	}
	ch <- false
}

// actorState is the per-run bookkeeping local to the actor loop.
type actorState struct {
	handle *proc.Handle
	doneCh <-chan proc.ExitInfo

	readyCh     chan bool
	probeCancel chan struct{}

	restartCh <-chan time.Time
	killCh    <-chan time.Time

	// pendingRestart marks an in-flight stop that should respawn
	// instead of settling in the stopped state.
	pendingRestart bool
	restartReply   chan opResult

	// pendingFail marks a stop triggered by a failed readiness probe;
	// the session lands in the failed state instead of stopped.
	pendingFail bool

	stopReplies []chan opResult
}

func (a *actorState) cancelProbe() {
	if a.probeCancel != nil {
		close(a.probeCancel)
		a.probeCancel = nil
		a.readyCh = nil
	}
}

func (a *actorState) notifyStopped(res opResult) {
	for _, ch := range a.stopReplies {
		ch <- res
	}
	a.stopReplies = nil
}

// loop is the session actor: the only goroutine that spawns, signals
// and reaps this session's child.
func (s *Session) loop() error {
	a := &actorState{}

	for {
		select {
		case <-s.tmb.Dying():
			a.cancelProbe()
			return nil

		case op := <-s.ops:
			s.handleOp(a, op)

		case info := <-a.doneCh:
			a.doneCh = nil
			a.handle = nil
			a.killCh = nil
			a.cancelProbe()
			s.handleExit(a, info)

		case ready := <-a.readyCh:
			a.readyCh = nil
			a.probeCancel = nil
			s.handleReady(a, ready)

		case <-a.restartCh:
			a.restartCh = nil
			s.mgr.mu.Lock()
			s.restartCount++
			s.lastRestartAt = time.Now()
			s.mgr.mu.Unlock()
			s.respawn(a, nil)

		case <-a.killCh:
			a.killCh = nil
			if a.handle != nil {
				s.ring.AppendSystem("shutdown deadline passed, killing process group")
				a.handle.Kill()
			}
		}
	}
}

func (s *Session) handleOp(a *actorState, op sessionOp) {
	s.mgr.mu.Lock()
	state := s.state
	s.mgr.mu.Unlock()

	switch op.kind {
	case opStart:
		// only posted once, right after the record is created
		s.doSpawn(a, op.reply)

	case opStop:
		switch state {
		case Stopped, Failed:
			op.reply <- opResult{view: s.view()}
		case Stopping:
			if op.force && a.handle != nil {
				a.handle.Kill()
			}
			a.stopReplies = append(a.stopReplies, op.reply)
		case Crashed:
			// cancel any pending automatic restart
			a.restartCh = nil
			s.releasePort()
			s.transition(Stopped, "stop requested")
			op.reply <- opResult{view: s.view()}
		default: // Starting, Running
			a.cancelProbe()
			s.transition(Stopping, "stop requested")
			a.stopReplies = append(a.stopReplies, op.reply)
			if a.handle == nil {
				break
			}
			if op.force {
				a.handle.Kill()
			} else {
				a.handle.Terminate()
				a.killCh = time.After(s.shutdownDeadline())
			}
		}

	case opRestart:
		switch state {
		case Starting, Running:
			a.cancelProbe()
			a.pendingRestart = true
			a.restartReply = op.reply
			s.transition(Stopping, "restart requested")
			if a.handle != nil {
				a.handle.Terminate()
				a.killCh = time.After(s.shutdownDeadline())
			}
		case Stopping:
			a.pendingRestart = true
			a.restartReply = op.reply
		case Crashed:
			a.restartCh = nil
			s.mgr.mu.Lock()
			s.restartCount = 0
			s.mgr.mu.Unlock()
			s.respawn(a, op.reply)
		default: // Stopped, Failed
			s.mgr.mu.Lock()
			s.restartCount = 0
			s.mgr.mu.Unlock()
			s.respawn(a, op.reply)
		}
	}
}

// handleExit reacts to the child ending; log delivery has already
// finished when the done channel fires.
func (s *Session) handleExit(a *actorState, info proc.ExitInfo) {
	s.mgr.mu.Lock()
	state := s.state
	s.exitCode = &info.Code
	s.exitSignal = info.Signal
	s.pid = 0
	s.mgr.mu.Unlock()

	s.ring.AppendSystem(exitText(info))

	switch state {
	case Stopping:
		if a.pendingFail {
			a.pendingFail = false
			s.releasePort()
			s.transition(Failed, "never became ready")
			a.notifyStopped(opResult{view: s.view()})
			return
		}
		if a.pendingRestart {
			a.pendingRestart = false
			s.transition(Stopped, "restarting")
			a.notifyStopped(opResult{view: s.view()})
			reply := a.restartReply
			a.restartReply = nil
			s.respawn(a, reply)
			return
		}
		s.releasePort()
		s.transition(Stopped, "stop requested")
		a.notifyStopped(opResult{view: s.view()})

	case Starting:
		// exited before ever becoming ready
		s.releasePort()
		s.transition(Failed, "exited during startup: "+exitText(info))

	case Running:
		s.transition(Crashed, exitText(info))
		s.mgr.mu.Lock()
		policy := s.spec.Restart
		count := s.restartCount
		s.mgr.mu.Unlock()
		if restartAllowed(policy, info, count) {
			delay := policy.backoff(count)
			s.ring.AppendSystem(fmt.Sprintf("restarting in %v (attempt %d)", delay, count+1))
			a.restartCh = time.After(delay)
		} else {
			s.releasePort()
			s.transition(Failed, failText(policy, count))
		}

	default:
		logger.Noticef("session %s: unexpected exit in state %s", s.id, state)
	}
}

func restartAllowed(p RestartPolicy, info proc.ExitInfo, count int) bool {
	switch p.Kind {
	case RestartAlways:
	case RestartOnCrash:
		if info.Code == 0 {
			return false
		}
	default:
		return false
	}
	return p.MaxRestarts <= 0 || count < p.MaxRestarts
}

func failText(p RestartPolicy, count int) string {
	if p.Kind == RestartNever {
		return "process exited unexpectedly"
	}
	if p.MaxRestarts > 0 && count >= p.MaxRestarts {
		return fmt.Sprintf("restart limit of %d reached", p.MaxRestarts)
	}
	return "process exited cleanly, not restarting"
}

func exitText(info proc.ExitInfo) string {
	if info.Signal != "" {
		return "process killed by " + info.Signal
	}
	return fmt.Sprintf("process exited with code %d", info.Code)
}

// handleReady resolves the startup probe. With wait_ready set a session
// that never answered on its port is shut down and marked failed;
// otherwise surviving the grace is good enough.
func (s *Session) handleReady(a *actorState, ready bool) {
	s.mgr.mu.Lock()
	state := s.state
	waitReady := s.spec.WaitReady
	port := s.port
	s.mgr.mu.Unlock()
	if state != Starting {
		return
	}

	if ready || !waitReady {
		if ready {
			s.ring.AppendSystem(fmt.Sprintf("port %d is accepting connections", port))
		}
		s.transition(Running, "")
		return
	}

	s.ring.AppendSystem(fmt.Sprintf("port %d never became reachable, giving up", port))
	s.mgr.mu.Lock()
	s.exitReason = (&NotReadyError{SessionID: s.id, Port: port}).Error()
	s.mgr.mu.Unlock()
	s.transition(Stopping, "not ready")
	if a.handle != nil {
		a.handle.Terminate()
		a.killCh = time.After(s.shutdownDeadline())
	}
	// handleExit sees Stopping; steer it to Failed via pendingFail
	a.pendingFail = true
}

// doSpawn performs the initial spawn for a freshly created record.
func (s *Session) doSpawn(a *actorState, reply chan opResult) {
	handle, err := proc.Spawn(s.procSpec(), s.deliverLine)
	if err != nil {
		s.releasePort()
		s.transition(Failed, err.Error())
		reply <- opResult{view: s.view(), err: err}
		return
	}

	s.mgr.mu.Lock()
	s.pid = handle.PID()
	port := s.port
	grace := s.readyGrace()
	s.mgr.mu.Unlock()

	s.ring.AppendSystem(fmt.Sprintf("started %s (pid %d)", strings.Join(s.spec.Argv, " "), handle.PID()))
	a.handle = handle
	a.doneCh = handle.Done()
	a.readyCh = make(chan bool, 1)
	a.probeCancel = make(chan struct{})
	go probePort(port, grace, a.probeCancel, a.readyCh)

	if reply != nil {
		reply <- opResult{view: s.view()}
	}
}

// respawn re-enters the starting state reusing the session id, and the
// port when it is still ours or still free.
func (s *Session) respawn(a *actorState, reply chan opResult) {
	s.mgr.mu.Lock()
	oldPort := s.port
	if oldPort == 0 {
		// released at the terminal transition, try it again anyway
		oldPort = s.lastPort
	}
	if s.ringFreed {
		// the retention janitor closed the old ring
		s.ring = logring.New(s.mgr.opts.RingCapacity, s.mgr.opts.RingMaxBytes)
		s.ringFreed = false
	}
	s.exitCode = nil
	s.exitSignal = ""
	s.exitReason = ""
	s.startedAt = time.Now()
	s.terminalAt = time.Time{}
	s.mgr.mu.Unlock()

	alloc, ok := s.mgr.ports.Owner(oldPort)
	if !ok || alloc.SessionID != s.id {
		port, err := s.mgr.ports.Allocate(s.spec.Class, s.id, s.spec.Name, oldPort)
		if err != nil {
			// previous port taken, fall back to auto
			port, err = s.mgr.ports.Allocate(s.spec.Class, s.id, s.spec.Name, 0)
		}
		if err != nil {
			s.transition(Failed, "cannot allocate port: "+err.Error())
			if reply != nil {
				reply <- opResult{err: err}
			}
			return
		}
		s.mgr.mu.Lock()
		s.port = port
		s.mgr.mu.Unlock()
		if port != oldPort && oldPort != 0 {
			s.ring.AppendSystem(fmt.Sprintf("port %d no longer available, now on %d", oldPort, port))
		}
	}

	s.transition(Starting, "")
	s.doSpawn(a, reply)
}

func (s *Session) deliverLine(stream logring.Stream, line []byte, truncated bool) {
	s.ring.Append(stream, line, truncated)
}

// procSpec builds the child description from the session spec, merging
// the daemon environment with the session variables and PORT.
func (s *Session) procSpec() *proc.Spec {
	s.mgr.mu.Lock()
	port := s.port
	s.mgr.mu.Unlock()

	env := append([]string(nil), s.mgr.opts.Environ()...)
	keys := make([]string, 0, len(s.spec.Env))
	for k := range s.spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+s.spec.Env[k])
	}
	if port != 0 {
		env = append(env, fmt.Sprintf("PORT=%d", port))
	}

	image := s.spec.Image
	if image == "" {
		if img, ok := s.mgr.opts.Images[string(s.spec.Class)]; ok {
			image = img
		} else {
			image = proc.DefaultImages[string(s.spec.Class)]
		}
	}

	return &proc.Spec{
		Argv:         s.spec.Argv,
		Dir:          s.spec.Dir,
		Env:          env,
		Port:         port,
		Backend:      s.spec.Backend,
		Image:        image,
		ContainerEnv: s.spec.Env,
	}
}

func (s *Session) readyGrace() time.Duration {
	if s.spec.ReadyGraceMs > 0 {
		return time.Duration(s.spec.ReadyGraceMs) * time.Millisecond
	}
	return s.mgr.opts.ReadyGrace
}

func (s *Session) shutdownDeadline() time.Duration {
	if s.spec.ShutdownDeadlineMs > 0 {
		return time.Duration(s.spec.ShutdownDeadlineMs) * time.Millisecond
	}
	return s.mgr.opts.ShutdownDeadline
}

// transition moves the session to a new state, notifies status
// subscribers and checkpoints the catalog.
func (s *Session) transition(state State, reason string) {
	s.mgr.mu.Lock()
	prev := s.state
	s.state = state
	s.stateChangedAt = time.Now()
	if reason != "" {
		s.exitReason = reason
	}
	if state.Terminal() {
		s.terminalAt = time.Now()
	} else {
		s.terminalAt = time.Time{}
	}
	name := s.spec.Name
	s.mgr.mu.Unlock()

	logger.Debugf("session %s (%s): %s -> %s (%s)", s.id, name, prev, state, reason)
	s.mgr.notifier.Publish(StatusEvent{
		SessionID: s.id,
		Name:      name,
		State:     state,
		Prev:      prev,
		Reason:    reason,
	})
	s.mgr.checkpoint()
}

// releasePort frees the allocation before any terminal transition so
// that the on-disk registry never records a port for a dead session.
func (s *Session) releasePort() {
	s.mgr.mu.Lock()
	port := s.port
	if port != 0 {
		s.lastPort = port
	}
	s.port = 0
	s.mgr.mu.Unlock()
	if port != 0 {
		if err := s.mgr.ports.Release(port); err != nil {
			logger.Noticef("cannot release port %d of session %s: %v", port, s.id, err)
		}
	}
}

func (s *Session) view() *SessionView {
	s.mgr.mu.Lock()
	defer s.mgr.mu.Unlock()
	return s.viewLocked()
}
