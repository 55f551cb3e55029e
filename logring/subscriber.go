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

package logring

import (
	"fmt"
)

// SubscribeFrom selects the starting position of a subscription.
// Exactly one of the fields is honoured: Latest wins, then TailN, then
// Seq (all events with seq > Seq that are still retained).
type SubscribeFrom struct {
	Latest bool
	TailN  int
	Seq    uint64
}

// A Subscriber is one cursor over a ring with a bounded delivery
// channel. A subscriber that cannot keep up loses its own oldest
// undelivered events; the loss is announced in-band with a synthetic
// system event carrying the Lost count.
type Subscriber struct {
	ring *Ring
	ch   chan Event

	// guarded by ring.mu
	lost   int
	closed bool

	// Gap is true when the subscription resumed from an evicted seq;
	// Earliest is then the oldest seq still retained at subscribe
	// time.
	Gap      bool
	Earliest uint64
}

// Subscribe registers a new subscriber. The backfill implied by from is
// delivered through the same bounded channel as live events, so a large
// backfill is subject to the slow-subscriber policy like everything
// else.
func (r *Ring) Subscribe(from SubscribeFrom) *Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub := &Subscriber{
		ring: r,
		ch:   make(chan Event, subscriberBuffer),
	}

	if r.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}

	var backfill []Event
	switch {
	case from.Latest:
		// nothing to replay
	case from.TailN > 0:
		n := from.TailN
		if n > r.count {
			n = r.count
		}
		for i := r.count - n; i < r.count; i++ {
			backfill = append(backfill, r.buf[(r.start+i)%r.capacity])
		}
	default:
		if r.count > 0 {
			earliest := r.buf[r.start].Seq
			if from.Seq+1 < earliest {
				sub.Gap = true
				sub.Earliest = earliest
			}
			for i := 0; i < r.count; i++ {
				ev := r.buf[(r.start+i)%r.capacity]
				if ev.Seq > from.Seq {
					backfill = append(backfill, ev)
				}
			}
		} else if from.Seq+1 < r.nextSeq {
			sub.Gap = true
		}
	}

	for _, ev := range backfill {
		sub.offer(ev)
	}
	r.subs[sub] = struct{}{}
	return sub
}

// C is the delivery channel. It is closed when the subscriber or the
// ring is closed.
func (s *Subscriber) C() <-chan Event {
	return s.ch
}

// Close releases the cursor. Safe to call more than once and after the
// ring itself was closed.
func (s *Subscriber) Close() {
	s.ring.mu.Lock()
	defer s.ring.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	delete(s.ring.subs, s)
	close(s.ch)
}

// offer delivers ev without ever blocking the producer. Called with the
// ring lock held.
func (s *Subscriber) offer(ev Event) {
	if s.lost > 0 && len(s.ch) <= cap(s.ch)-2 {
		s.ch <- Event{
			Stream: System,
			Line:   []byte(fmt.Sprintf("subscriber too slow, dropped %d event(s)", s.lost)),
			Lost:   s.lost,
		}
		s.lost = 0
	}

	select {
	case s.ch <- ev:
		return
	default:
	}

	// full: drop this subscriber's oldest undelivered event to make
	// room; the shared ring is unaffected
	select {
	case dropped := <-s.ch:
		if dropped.Lost > 0 {
			// a pending lost-notice was displaced; carry its count
			s.lost += dropped.Lost
		} else {
			s.lost++
		}
	default:
	}
	select {
	case s.ch <- ev:
	default:
		s.lost++
	}
}
