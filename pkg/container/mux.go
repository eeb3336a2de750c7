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

// Package container packs tagged elementary streams into a single
// packet sequence and unpacks them again on the far side.
package container

import (
	"errors"
	"fmt"
	"sync"

	"klvsync/pkg/pipeline"
)

// Stream errors.
var (
	ErrStreamExists = errors.New("stream already exists")
	ErrStreamFull   = errors.New("stream is full")
	ErrStreamClosed = errors.New("stream is closed")
)

// firstStreamID is the ID assigned to the first stream. Later
// streams count up from here.
const firstStreamID = 0x100

// Packet is one multiplexed unit. The ID identifies the stream it
// belongs to, the tag travels with every packet so the demuxer can
// type streams without out-of-band signaling.
type Packet struct {
	ID   uint16
	Tag  string
	PTS  pipeline.Timestamp
	Data []byte
}

// Muxer interleaves buffers from multiple inputs into a single
// packet stream. The output channel is closed once every input has
// received EOS.
type Muxer struct {
	mu         sync.Mutex
	out        chan Packet
	streams    map[string]*Input
	nextID     uint16
	openInputs int
}

// NewMuxer creates a muxer with the given output queue size.
func NewMuxer(size int) *Muxer {
	return &Muxer{
		out:     make(chan Packet, size),
		streams: make(map[string]*Input),
		nextID:  firstStreamID,
	}
}

// AddStream registers a new input for the given tag. Add all
// streams before pushing data.
func (m *Muxer) AddStream(tag string) (*Input, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.streams[tag]; exists {
		return nil, fmt.Errorf("%v: %w", tag, ErrStreamExists)
	}

	input := &Input{
		mux: m,
		id:  m.nextID,
		tag: tag,
	}
	input.pad = pipeline.NewSinkPad(
		fmt.Sprintf("sink_%04x", input.id),
		input.Push,
		func(e *pipeline.Event) {
			if e.Kind == pipeline.EventEOS {
				input.PushEOS()
			}
		},
	)

	m.streams[tag] = input
	m.nextID++
	m.openInputs++
	return input, nil
}

// Output returns the multiplexed packet stream.
func (m *Muxer) Output() <-chan Packet {
	return m.out
}

func (m *Muxer) inputClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.openInputs--
	if m.openInputs == 0 {
		close(m.out)
	}
}

// Input accepts buffers for a single stream.
type Input struct {
	mux *Muxer
	id  uint16
	tag string
	pad *pipeline.Pad

	mu     sync.Mutex
	closed bool
}

// ID returns the stream ID.
func (in *Input) ID() uint16 {
	return in.id
}

// SinkPad returns the pad feeding this input.
func (in *Input) SinkPad() *pipeline.Pad {
	return in.pad
}

// Push packs a buffer into the output stream. The payload is copied
// so the caller keeps ownership of the buffer.
func (in *Input) Push(b *pipeline.Buffer) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return fmt.Errorf("%v: %w", in.tag, ErrStreamClosed)
	}

	data := make([]byte, len(b.Data))
	copy(data, b.Data)

	select {
	case in.mux.out <- Packet{
		ID:   in.id,
		Tag:  in.tag,
		PTS:  b.PTS,
		Data: data,
	}:
		return nil
	default:
		return fmt.Errorf("%v: %w", in.tag, ErrStreamFull)
	}
}

// PushEOS marks the input as finished. The muxer output closes when
// the last input finishes.
func (in *Input) PushEOS() {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return
	}
	in.closed = true
	in.mu.Unlock()

	in.mux.inputClosed()
}
