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

// Package overlay caches the latest metadata record and renders
// the per-frame comparison overlay.
package overlay

import (
	"sync"

	"klvsync/pkg/pipeline"
)

// Slot holds the most recent metadata buffer. Publish overwrites
// unconditionally, there is no history. Readers always see either
// the previous or the new value, never a mix. The lock is only
// held for the swap, copies are made outside it where possible.
type Slot struct {
	mu  sync.Mutex
	buf *pipeline.Buffer
}

// Publish stores a snapshot of the buffer, replacing any previous
// value.
func (s *Slot) Publish(b *pipeline.Buffer) {
	clone := b.Clone()

	s.mu.Lock()
	s.buf = clone
	s.mu.Unlock()
}

// Read returns a snapshot of the latest buffer, or false if
// nothing has been published yet.
func (s *Slot) Read() (*pipeline.Buffer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buf == nil {
		return nil, false
	}
	return s.buf.Clone(), true
}
