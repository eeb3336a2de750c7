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

// Package capture produces the video elementary stream.
package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"klvsync/pkg/log"
	"klvsync/pkg/pipeline"
)

// Source is a pipeline element that pushes video buffers through
// its src pad.
type Source interface {
	pipeline.Element
	SrcPad() *pipeline.Pad
}

// TestSource generates synthetic frames at a fixed rate. Payloads
// are deterministic, downstream only looks at timestamps.
type TestSource struct {
	pad       *pipeline.Pad
	width     int
	height    int
	frameDur  time.Duration
	maxFrames int
	logf      log.Func

	// Replaces the ticker in tests.
	tick <-chan time.Time
}

// NewTestSource creates a source producing maxFrames frames, or an
// unbounded stream if maxFrames is zero.
func NewTestSource(width, height, frameRate, maxFrames int, logf log.Func) *TestSource {
	return &TestSource{
		pad:       pipeline.NewSrcPad("src"),
		width:     width,
		height:    height,
		frameDur:  time.Second / time.Duration(frameRate),
		maxFrames: maxFrames,
		logf:      logf,
	}
}

// Name implements pipeline.Element.
func (s *TestSource) Name() string {
	return "testsrc"
}

// SrcPad implements Source.
func (s *TestSource) SrcPad() *pipeline.Pad {
	return s.pad
}

// Run implements pipeline.Element. Pushes one frame per tick until
// maxFrames is reached, then pushes end-of-stream and returns.
func (s *TestSource) Run(ctx context.Context) error {
	tick := s.tick
	if tick == nil {
		ticker := time.NewTicker(s.frameDur)
		defer ticker.Stop()
		tick = ticker.C
	}

	for i := 0; s.maxFrames == 0 || i < s.maxFrames; i++ {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
		}

		buf := &pipeline.Buffer{
			Data: encodeFrame(i, s.width, s.height),
			PTS:  pipeline.Timestamp(time.Duration(i) * s.frameDur),
			Tag:  pipeline.TagVideo,
		}
		if err := s.pad.Push(buf); err != nil {
			return fmt.Errorf("push frame %v: %w", i, err)
		}
	}

	s.logf(log.LevelDebug, "pushed %v frames, sending EOS", s.maxFrames)
	if err := s.pad.PushEvent(&pipeline.Event{Kind: pipeline.EventEOS}); err != nil {
		return fmt.Errorf("push EOS: %w", err)
	}
	return nil
}

// encodeFrame returns a synthetic frame payload.
func encodeFrame(index, width, height int) []byte {
	b := make([]byte, 12)
	binary.BigEndian.PutUint32(b[0:4], uint32(index))
	binary.BigEndian.PutUint32(b[4:8], uint32(width))
	binary.BigEndian.PutUint32(b[8:12], uint32(height))
	return b
}
