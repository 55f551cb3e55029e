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

package logring_test

import (
	"fmt"

	. "gopkg.in/check.v1"

	"github.com/devhostd/devhostd/logring"
)

type subscriberSuite struct{}

var _ = Suite(&subscriberSuite{})

func drain(sub *logring.Subscriber) []logring.Event {
	var out []logring.Event
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func (s *subscriberSuite) TestSubscribeLatestSkipsBacklog(c *C) {
	r := logring.New(100, 0)
	defer r.Close()

	r.Append(logring.Stdout, []byte("old"), false)
	sub := r.Subscribe(logring.SubscribeFrom{Latest: true})
	defer sub.Close()

	c.Check(drain(sub), HasLen, 0)

	r.Append(logring.Stdout, []byte("new"), false)
	events := drain(sub)
	c.Assert(events, HasLen, 1)
	c.Check(string(events[0].Line), Equals, "new")
}

func (s *subscriberSuite) TestSubscribeTailBackfills(c *C) {
	r := logring.New(100, 0)
	defer r.Close()

	for i := 0; i < 5; i++ {
		r.Append(logring.Stdout, []byte(fmt.Sprintf("line %d", i)), false)
	}
	sub := r.Subscribe(logring.SubscribeFrom{TailN: 2})
	defer sub.Close()

	events := drain(sub)
	c.Assert(events, HasLen, 2)
	c.Check(string(events[0].Line), Equals, "line 3")
	c.Check(string(events[1].Line), Equals, "line 4")
}

func (s *subscriberSuite) TestSubscribeSeqResumes(c *C) {
	r := logring.New(100, 0)
	defer r.Close()

	for i := 0; i < 5; i++ {
		r.Append(logring.Stdout, []byte("x"), false)
	}
	sub := r.Subscribe(logring.SubscribeFrom{Seq: 3})
	defer sub.Close()

	events := drain(sub)
	c.Assert(events, HasLen, 2)
	c.Check(events[0].Seq, Equals, uint64(4))
	c.Check(events[1].Seq, Equals, uint64(5))
	c.Check(sub.Gap, Equals, false)
}

func (s *subscriberSuite) TestSubscribeSeqGapAfterEviction(c *C) {
	r := logring.New(4, 0)
	defer r.Close()

	for i := 0; i < 10; i++ {
		r.Append(logring.Stdout, []byte("x"), false)
	}
	sub := r.Subscribe(logring.SubscribeFrom{Seq: 1})
	defer sub.Close()

	c.Check(sub.Gap, Equals, true)
	c.Check(sub.Earliest, Equals, r.EarliestSeq())
}

func (s *subscriberSuite) TestSlowSubscriberDropsItsOldest(c *C) {
	r := logring.New(1000, 0)
	defer r.Close()

	sub := r.Subscribe(logring.SubscribeFrom{Latest: true})
	defer sub.Close()

	// overflow the subscriber channel without reading
	for i := 0; i < 300; i++ {
		r.Append(logring.Stdout, []byte(fmt.Sprintf("line %d", i)), false)
	}

	events := drain(sub)
	c.Assert(len(events) < 300, Equals, true)
	// delivery is gap-ful but ordered: the newest event made it
	c.Check(string(events[len(events)-1].Line), Equals, "line 299")
	var last uint64
	for _, ev := range events {
		c.Check(ev.Seq > last, Equals, true)
		last = ev.Seq
	}

	// a loss notice is delivered in-band once there is room again
	r.Append(logring.Stdout, []byte("after"), false)
	events = drain(sub)
	c.Assert(len(events) >= 2, Equals, true)
	c.Check(events[0].Stream, Equals, logring.System)
	c.Check(events[0].Lost > 0, Equals, true)
	c.Check(string(events[len(events)-1].Line), Equals, "after")

	// other subscribers are unaffected by this one's losses
	sub2 := r.Subscribe(logring.SubscribeFrom{TailN: 1})
	defer sub2.Close()
	events = drain(sub2)
	c.Assert(events, HasLen, 1)
	c.Check(string(events[0].Line), Equals, "after")
}

func (s *subscriberSuite) TestSubscriberCloseIsIdempotent(c *C) {
	r := logring.New(10, 0)
	defer r.Close()

	sub := r.Subscribe(logring.SubscribeFrom{Latest: true})
	sub.Close()
	sub.Close()

	// ring keeps working
	r.Append(logring.Stdout, []byte("x"), false)
	c.Check(r.Tail(1), HasLen, 1)
}
