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

// Sink delivers buffers to a callback. The callback runs on the
// pushing goroutine and must return quickly. Errors it returns
// propagate back to the pusher.
type Sink struct {
	name string
	pad  *Pad
}

// NewSink .
func NewSink(name string, onBuffer func(*Buffer) error, onEOS func()) *Sink {
	s := &Sink{name: name}
	s.pad = NewSinkPad(name, onBuffer, func(e *Event) {
		if e.Kind == EventEOS && onEOS != nil {
			onEOS()
		}
	})
	return s
}

// Name .
func (s *Sink) Name() string {
	return s.name
}

// Pad returns the sink pad.
func (s *Sink) Pad() *Pad {
	return s.pad
}
