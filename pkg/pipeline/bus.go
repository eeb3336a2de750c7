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

// Message is posted on the pipeline bus.
type Message interface {
	Source() string
}

// MessageEOS all sinks reached end of stream.
type MessageEOS struct {
	Src string
}

// Source .
func (m MessageEOS) Source() string { return m.Src }

// MessageError a fatal pipeline error.
type MessageError struct {
	Src   string
	Err   error
	Debug string
}

// Source .
func (m MessageError) Source() string { return m.Src }

// MessageStateChanged the pipeline changed state.
type MessageStateChanged struct {
	Src     string
	Old     State
	Current State
}

// Source .
func (m MessageStateChanged) Source() string { return m.Src }

const busSize = 32

// Bus carries messages out of the pipeline.
type Bus struct {
	ch chan Message
}

func newBus() *Bus {
	return &Bus{ch: make(chan Message, busSize)}
}

// Post a message. Never blocks the pipeline, a full bus hands the
// message off to a goroutine.
func (b *Bus) Post(msg Message) {
	select {
	case b.ch <- msg:
	default:
		go func() { b.ch <- msg }()
	}
}

// Messages returns the message channel. A single consumer is
// expected to service it.
func (b *Bus) Messages() <-chan Message {
	return b.ch
}
