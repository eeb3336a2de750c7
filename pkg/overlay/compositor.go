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

package overlay

import (
	"errors"
	"fmt"
	"sync"

	"klvsync/pkg/log"
	"klvsync/pkg/pipeline"
)

// ErrNoDimensions means no video dimensions have been reported yet.
var ErrNoDimensions = errors.New("overlay: dimensions not known")

// Renderer draws text into an ARGB pixel buffer.
type Renderer interface {
	Render(text string, width int, height int, pix []byte)
}

// Instruction tells the surface where to blend the overlay.
type Instruction struct {
	Pix    []byte
	Width  int
	Height int
	Stride int
	X      int
	Y      int
}

// Compositor renders the timing comparison overlay for each frame.
// Dimensions are updated from the surface callback and may change
// mid-stream, the pixel buffer is reallocated to match.
type Compositor struct {
	slot     *Slot
	renderer Renderer
	logf     log.Func

	mu     sync.Mutex
	width  int
	height int

	// Only touched by Compose.
	pix []byte
}

// NewCompositor creates a compositor reading metadata from slot.
func NewCompositor(slot *Slot, renderer Renderer, logf log.Func) *Compositor {
	return &Compositor{
		slot:     slot,
		renderer: renderer,
		logf:     logf,
	}
}

// SetDimensions updates the overlay geometry. Safe to call from the
// surface while Compose runs on the streaming goroutine.
func (c *Compositor) SetDimensions(width, height int) {
	c.mu.Lock()
	c.width = width
	c.height = height
	c.mu.Unlock()
}

// Compose renders the overlay for a frame with the given timestamp.
// Returns ErrNoDimensions until the surface has reported a size.
func (c *Compositor) Compose(framePTS pipeline.Timestamp) (*Instruction, error) {
	c.mu.Lock()
	width := c.width
	height := c.height
	c.mu.Unlock()

	if width == 0 || height == 0 {
		return nil, ErrNoDimensions
	}

	if size := 4 * width * height; len(c.pix) != size {
		c.logf(log.LevelDebug, "allocating %vx%v overlay buffer", width, height)
		c.pix = make([]byte, size)
	}

	var klvTime interface{} = "not available"
	if rec, ok := c.slot.Read(); ok && rec.PTS.IsValid() {
		klvTime = rec.PTS
	}

	text := fmt.Sprintf("frame time: %v\n  klv time: %v", framePTS, klvTime)
	c.renderer.Render(text, width, height, c.pix)

	return &Instruction{
		Pix:    c.pix,
		Width:  width,
		Height: height,
		Stride: 4 * width,
		X:      0,
		Y:      0,
	}, nil
}
