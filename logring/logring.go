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

// Package logring implements the per-session bounded log buffer with
// multi-subscriber fan-out.
//
// Producers never block: a full ring evicts its oldest events, and a
// slow subscriber loses its own oldest undelivered events, announced
// with a synthetic system event. Sequence numbers are per-session,
// strictly increasing and gap-free.
package logring

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Stream identifies the origin of an event.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
	// System marks synthetic events generated by devhostd itself
	// (eviction notices, lost-event notices, lifecycle markers).
	System Stream = "system"
)

// Level is the parsed severity of a line, when detectable.
type Level string

const (
	LevelUnset Level = ""
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// An Event is one captured line of output.
type Event struct {
	Seq       uint64    `json:"seq"`
	TS        time.Time `json:"ts"`
	Stream    Stream    `json:"stream"`
	Line      []byte    `json:"-"`
	Level     Level     `json:"level,omitempty"`
	Truncated bool      `json:"truncated,omitempty"`
	// Lost is set on synthetic per-subscriber notices and counts
	// events dropped for that subscriber only.
	Lost int `json:"lost,omitempty"`
	// Evicted is set on synthetic eviction notices and counts events
	// dropped from the shared ring since the previous notice.
	Evicted int `json:"evicted,omitempty"`
}

// eventJSON mirrors Event with the line as a string; the bytes are kept
// verbatim and the decode on the far side is lossy for non-UTF-8.
type eventJSON struct {
	Seq       uint64    `json:"seq"`
	TS        time.Time `json:"ts"`
	Stream    Stream    `json:"stream"`
	Line      string    `json:"line"`
	Level     Level     `json:"level,omitempty"`
	Truncated bool      `json:"truncated,omitempty"`
	Lost      int       `json:"lost,omitempty"`
	Evicted   int       `json:"evicted,omitempty"`
}

// MarshalJSON makes Event a json.Marshaler.
func (ev Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventJSON{
		Seq:       ev.Seq,
		TS:        ev.TS,
		Stream:    ev.Stream,
		Line:      string(ev.Line),
		Level:     ev.Level,
		Truncated: ev.Truncated,
		Lost:      ev.Lost,
		Evicted:   ev.Evicted,
	})
}

// UnmarshalJSON makes Event a json.Unmarshaler.
func (ev *Event) UnmarshalJSON(data []byte) error {
	var j eventJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*ev = Event{
		Seq:       j.Seq,
		TS:        j.TS,
		Stream:    j.Stream,
		Line:      []byte(j.Line),
		Level:     j.Level,
		Truncated: j.Truncated,
		Lost:      j.Lost,
		Evicted:   j.Evicted,
	}
	return nil
}

const (
	// DefaultCapacity is the default entry bound of a ring.
	DefaultCapacity = 10000
	// DefaultMaxBytes is the default byte ceiling of a ring.
	DefaultMaxBytes = 8 * 1024 * 1024
	// subscriberBuffer is the per-subscriber channel bound.
	subscriberBuffer = 256
)

// A Ring is the bounded event buffer of one session.
type Ring struct {
	mu sync.Mutex

	capacity int
	maxBytes int

	buf   []Event
	start int
	count int
	bytes int

	nextSeq uint64

	subs map[*Subscriber]struct{}

	// true while the previous append evicted, to coalesce eviction
	// notices into one per burst
	evicting bool

	closed bool
}

// New returns a ring bounded by the given entry capacity and byte
// ceiling; zero values select the defaults.
func New(capacity, maxBytes int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Ring{
		capacity: capacity,
		maxBytes: maxBytes,
		buf:      make([]Event, 0, capacity),
		nextSeq:  1,
		subs:     make(map[*Subscriber]struct{}),
	}
}

// Append records one captured line. It never blocks.
func (r *Ring) Append(stream Stream, line []byte, truncated bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.appendLocked(Event{
		Stream:    stream,
		Line:      line,
		Level:     parseLevel(stream, line),
		Truncated: truncated,
	})
}

// AppendSystem records a synthetic system event with the given text.
func (r *Ring) AppendSystem(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.appendLocked(Event{Stream: System, Line: []byte(text)})
}

func (r *Ring) appendLocked(ev Event) {
	evicted := r.evictFor(len(ev.Line))
	if evicted > 0 && !r.evicting {
		// one notice per eviction burst; a burst ends with the first
		// append that does not evict
		r.evicting = true
		notice := Event{
			Stream:  System,
			Line:    []byte(fmt.Sprintf("ring capacity reached, dropped %d event(s)", evicted)),
			Evicted: evicted,
		}
		r.evictFor(len(notice.Line) + len(ev.Line))
		r.insertLocked(notice)
	} else if evicted == 0 {
		r.evicting = false
	}
	r.evictFor(len(ev.Line))
	r.insertLocked(ev)
}

// evictFor drops oldest events until an event of n line bytes fits,
// returning how many were dropped.
func (r *Ring) evictFor(n int) int {
	evicted := 0
	for r.count > 0 && (r.count >= r.capacity || r.bytes+n > r.maxBytes) {
		old := &r.buf[r.start]
		r.bytes -= len(old.Line)
		old.Line = nil
		r.start = (r.start + 1) % r.capacity
		r.count--
		evicted++
	}
	return evicted
}

// insertLocked assigns the next seq, stores the event and fans it out.
func (r *Ring) insertLocked(ev Event) {
	ev.Seq = r.nextSeq
	r.nextSeq++
	if ev.TS.IsZero() {
		ev.TS = time.Now()
	}

	if len(r.buf) < r.capacity {
		r.buf = append(r.buf, ev)
	} else {
		r.buf[(r.start+r.count)%r.capacity] = ev
	}
	r.count++
	r.bytes += len(ev.Line)

	for sub := range r.subs {
		sub.offer(ev)
	}
}

// EarliestSeq returns the seq of the oldest retained event, or 0 when
// the ring is empty.
func (r *Ring) EarliestSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return 0
	}
	return r.buf[r.start].Seq
}

// LatestSeq returns the seq of the newest event, or 0 when the ring is
// empty.
func (r *Ring) LatestSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.nextSeq - 1
}

// Tail returns the last n events currently in the ring.
func (r *Ring) Tail(n int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n > r.count {
		n = r.count
	}
	out := make([]Event, 0, n)
	for i := r.count - n; i < r.count; i++ {
		out = append(out, r.buf[(r.start+i)%r.capacity])
	}
	return out
}

// Since returns all events with seq strictly greater than seq. The gap
// result is true when events after seq were already evicted; earliest
// is then the oldest seq still retained.
func (r *Ring) Since(seq uint64) (events []Event, gap bool, earliest uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return nil, seq+1 < r.nextSeq, 0
	}
	earliest = r.buf[r.start].Seq
	if seq+1 < earliest {
		gap = true
	}
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%r.capacity]
		if ev.Seq > seq {
			events = append(events, ev)
		}
	}
	return events, gap, earliest
}

// Close drops all subscribers and releases the buffer. Tail and Since
// on a closed ring return nothing.
func (r *Ring) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	for sub := range r.subs {
		sub.closed = true
		close(sub.ch)
	}
	r.subs = nil
	r.buf = nil
	r.count = 0
	r.bytes = 0
}
