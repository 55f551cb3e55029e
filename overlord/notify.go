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
	"sync"
	"time"
)

// A StatusEvent announces one session state transition. Events for a
// given session are published in transition order; across sessions no
// order is guaranteed.
type StatusEvent struct {
	Seq       uint64    `json:"seq"`
	SessionID string    `json:"session_id"`
	Name      string    `json:"name,omitempty"`
	State     State     `json:"state"`
	Prev      State     `json:"prev,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	When      time.Time `json:"when"`
}

const statusSubscriberBuffer = 64

// A StatusNotifier fans out state transitions to any number of
// subscribers without ever blocking the publisher.
type StatusNotifier struct {
	mu   sync.Mutex
	seq  uint64
	subs map[*StatusSubscriber]struct{}
}

// A StatusSubscriber receives transition events on a bounded channel;
// when it falls behind its oldest undelivered events are dropped.
type StatusSubscriber struct {
	notifier *StatusNotifier
	ch       chan StatusEvent
	closed   bool
}

func NewStatusNotifier() *StatusNotifier {
	return &StatusNotifier{
		subs: make(map[*StatusSubscriber]struct{}),
	}
}

// Publish stamps ev with the next sequence number and delivers it.
func (n *StatusNotifier) Publish(ev StatusEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.seq++
	ev.Seq = n.seq
	if ev.When.IsZero() {
		ev.When = time.Now()
	}

	for sub := range n.subs {
		select {
		case sub.ch <- ev:
			continue
		default:
		}
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Subscribe registers a new transition listener.
func (n *StatusNotifier) Subscribe() *StatusSubscriber {
	n.mu.Lock()
	defer n.mu.Unlock()

	sub := &StatusSubscriber{
		notifier: n,
		ch:       make(chan StatusEvent, statusSubscriberBuffer),
	}
	n.subs[sub] = struct{}{}
	return sub
}

// Close drops every subscriber, closing their channels.
func (n *StatusNotifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for sub := range n.subs {
		sub.closed = true
		close(sub.ch)
	}
	n.subs = make(map[*StatusSubscriber]struct{})
}

// C is the delivery channel; closed by Close.
func (s *StatusSubscriber) C() <-chan StatusEvent {
	return s.ch
}

// Close releases the subscription. Safe to call more than once.
func (s *StatusSubscriber) Close() {
	s.notifier.mu.Lock()
	defer s.notifier.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	delete(s.notifier.subs, s)
	close(s.ch)
}
