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

// Package display runs the video sink chain, decode then composite
// then present.
package display

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"klvsync/pkg/log"
	"klvsync/pkg/overlay"
	"klvsync/pkg/pipeline"
)

// Decoder turns an encoded frame into a presentable one.
type Decoder interface {
	Decode(*pipeline.Buffer) (*pipeline.Buffer, error)
}

// NopDecoder passes frames through untouched. Codec integration is
// out of scope, timestamps are all that matter downstream.
type NopDecoder struct{}

// Decode implements Decoder.
func (NopDecoder) Decode(b *pipeline.Buffer) (*pipeline.Buffer, error) {
	return b, nil
}

// Surface displays frames. Present must not block the streaming
// goroutine.
type Surface interface {
	Present(frame *pipeline.Buffer, overlay *overlay.Instruction) error
	OnDimensionsChanged(fn func(width, height int))
}

// LogSurface is a surface that logs presents instead of drawing.
// Stands in for a real windowing sink.
type LogSurface struct {
	logf log.Func

	mu     sync.Mutex
	width  int
	height int
	onDims func(width, height int)

	presented uint64
}

// NewLogSurface .
func NewLogSurface(logf log.Func) *LogSurface {
	return &LogSurface{logf: logf}
}

// SetDimensions reports the display size. The registered callback
// fires on every change.
func (s *LogSurface) SetDimensions(width, height int) {
	s.mu.Lock()
	s.width = width
	s.height = height
	onDims := s.onDims
	s.mu.Unlock()

	s.logf(log.LevelInfo, "display size %vx%v", width, height)
	if onDims != nil {
		onDims(width, height)
	}
}

// OnDimensionsChanged implements Surface. Fires immediately if the
// size is already known.
func (s *LogSurface) OnDimensionsChanged(fn func(width, height int)) {
	s.mu.Lock()
	s.onDims = fn
	width := s.width
	height := s.height
	s.mu.Unlock()

	if width != 0 && height != 0 {
		fn(width, height)
	}
}

// Present implements Surface.
func (s *LogSurface) Present(frame *pipeline.Buffer, inst *overlay.Instruction) error {
	atomic.AddUint64(&s.presented, 1)
	s.logf(log.LevelDebug, "presenting frame pts=%v overlay=%v", frame.PTS, inst != nil)
	return nil
}

// Presented returns the number of presented frames.
func (s *LogSurface) Presented() uint64 {
	return atomic.LoadUint64(&s.presented)
}

// Chain is the video sink. Each buffer is decoded, composited and
// presented on the pushing goroutine. A missing overlay size is not
// fatal, the frame is presented without the overlay.
type Chain struct {
	decoder Decoder
	comp    *overlay.Compositor
	surface Surface
	logf    log.Func
	sink    *pipeline.Sink
}

// NewChain .
func NewChain(
	decoder Decoder,
	comp *overlay.Compositor,
	surface Surface,
	logf log.Func,
	onEOS func(),
) *Chain {
	c := &Chain{
		decoder: decoder,
		comp:    comp,
		surface: surface,
		logf:    logf,
	}
	c.sink = pipeline.NewSink("videosink", c.handle, onEOS)
	return c
}

// Pad returns the chain's sink pad.
func (c *Chain) Pad() *pipeline.Pad {
	return c.sink.Pad()
}

func (c *Chain) handle(b *pipeline.Buffer) error {
	frame, err := c.decoder.Decode(b)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	inst, err := c.comp.Compose(frame.PTS)
	if err != nil {
		if !errors.Is(err, overlay.ErrNoDimensions) {
			return fmt.Errorf("compose: %w", err)
		}
		c.logf(log.LevelWarning, "no overlay for frame pts=%v: %v", frame.PTS, err)
		inst = nil
	}

	if err := c.surface.Present(frame, inst); err != nil {
		return fmt.Errorf("present: %w", err)
	}
	return nil
}
