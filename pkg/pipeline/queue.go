// Copyright 2022 The klvsync Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// ErrQueueFull queue cannot accept more buffers.
var ErrQueueFull = errors.New("queue is full")

type queueItem struct {
	buf   *Buffer
	event *Event
}

// Queue decouples two pipeline segments with a bounded buffer.
// The sink side never blocks: pushing to a full queue fails and
// the error propagates back to the pusher.
type Queue struct {
	name string
	sink *Pad
	src  *Pad
	ch   chan queueItem
}

// NewQueue .
func NewQueue(name string, size int) *Queue {
	q := &Queue{
		name: name,
		src:  NewSrcPad(name),
		ch:   make(chan queueItem, size),
	}
	q.sink = NewSinkPad(name, q.push, q.pushEvent)
	return q
}

// Name .
func (q *Queue) Name() string {
	return q.name
}

// SinkPad .
func (q *Queue) SinkPad() *Pad {
	return q.sink
}

// SrcPad .
func (q *Queue) SrcPad() *Pad {
	return q.src
}

func (q *Queue) push(b *Buffer) error {
	select {
	case q.ch <- queueItem{buf: b}:
		return nil
	default:
		return fmt.Errorf("%v: %w", q.name, ErrQueueFull)
	}
}

func (q *Queue) pushEvent(e *Event) {
	select {
	case q.ch <- queueItem{event: e}:
	default:
		// Events are terminal and rare, hand off instead of
		// dropping when saturated.
		go func() { q.ch <- queueItem{event: e} }()
	}
}

// Run drains the queue until ctx is canceled or end of stream is
// forwarded.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case item := <-q.ch:
			if item.event != nil {
				err := q.src.PushEvent(item.event)
				if err != nil && !errors.Is(err, ErrPadNotLinked) {
					return fmt.Errorf("%v: forward event: %w", q.name, err)
				}
				if item.event.Kind == EventEOS {
					return nil
				}
				continue
			}
			if err := q.src.Push(item.buf); err != nil {
				return fmt.Errorf("%v: %w", q.name, err)
			}
		}
	}
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	return len(q.ch)
}
