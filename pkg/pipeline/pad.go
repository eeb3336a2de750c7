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
	"errors"
	"sync"
)

// ErrPadNotLinked pad is not linked.
var ErrPadNotLinked = errors.New("pad is not linked")

// ErrPadAlreadyLinked pad is already linked.
var ErrPadAlreadyLinked = errors.New("pad is already linked")

// ProbeInfo is passed to pad probes. Exactly one field is set.
type ProbeInfo struct {
	Buffer *Buffer
	Event  *Event
}

// ProbeReturn .
type ProbeReturn int

// Probe return values.
const (
	// ProbeOK lets the data through.
	ProbeOK ProbeReturn = iota

	// ProbeDrop drops the data. The push still succeeds.
	ProbeDrop
)

// ProbeFunc runs on the pushing goroutine and must not block.
type ProbeFunc func(ProbeInfo) ProbeReturn

// Pad is a connection point between pipeline stages. Src pads are
// linked to sink pads, sink pads deliver to their owner.
type Pad struct {
	name string

	onBuffer func(*Buffer) error
	onEvent  func(*Event)

	mu     sync.Mutex
	peer   *Pad
	probes []*probe
}

type probe struct {
	fn ProbeFunc
}

// NewSrcPad returns a pad that can be linked to a sink pad.
func NewSrcPad(name string) *Pad {
	return &Pad{name: name}
}

// NewSinkPad returns a pad that delivers buffers and events to the
// given handlers. Either handler may be nil.
func NewSinkPad(name string, onBuffer func(*Buffer) error, onEvent func(*Event)) *Pad {
	return &Pad{
		name:     name,
		onBuffer: onBuffer,
		onEvent:  onEvent,
	}
}

// Name .
func (p *Pad) Name() string {
	return p.name
}

// Link the src pad to a sink pad.
func (p *Pad) Link(sink *Pad) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.peer != nil {
		return ErrPadAlreadyLinked
	}
	p.peer = sink
	return nil
}

// Linked returns true if the pad has a peer.
func (p *Pad) Linked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peer != nil
}

// AddProbe attaches a probe and returns its remove function.
// Probes run in attachment order on the pushing goroutine.
func (p *Pad) AddProbe(fn ProbeFunc) func() {
	pr := &probe{fn: fn}

	p.mu.Lock()
	p.probes = append(p.probes, pr)
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, pr2 := range p.probes {
			if pr2 == pr {
				p.probes = append(p.probes[:i], p.probes[i+1:]...)
				return
			}
		}
	}
}

// Push runs the pad probes and delivers the buffer to the linked
// sink pad. The caller gives up ownership of the buffer. Delivery
// errors propagate back to the pusher.
func (p *Pad) Push(b *Buffer) error {
	if !p.runProbes(ProbeInfo{Buffer: b}) {
		return nil
	}

	p.mu.Lock()
	peer := p.peer
	p.mu.Unlock()

	if peer == nil {
		return ErrPadNotLinked
	}
	return peer.deliver(b)
}

// PushEvent runs the pad probes and delivers the event to the
// linked sink pad.
func (p *Pad) PushEvent(e *Event) error {
	if !p.runProbes(ProbeInfo{Event: e}) {
		return nil
	}

	p.mu.Lock()
	peer := p.peer
	p.mu.Unlock()

	if peer == nil {
		return ErrPadNotLinked
	}
	peer.deliverEvent(e)
	return nil
}

func (p *Pad) deliver(b *Buffer) error {
	if !p.runProbes(ProbeInfo{Buffer: b}) {
		return nil
	}
	if p.onBuffer == nil {
		return nil
	}
	return p.onBuffer(b)
}

func (p *Pad) deliverEvent(e *Event) {
	if !p.runProbes(ProbeInfo{Event: e}) {
		return
	}
	if p.onEvent == nil {
		return
	}
	p.onEvent(e)
}

func (p *Pad) runProbes(info ProbeInfo) bool {
	p.mu.Lock()
	probes := make([]*probe, len(p.probes))
	copy(probes, p.probes)
	p.mu.Unlock()

	for _, pr := range probes {
		if pr.fn(info) == ProbeDrop {
			return false
		}
	}
	return true
}
