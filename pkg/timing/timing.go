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

// Package timing measures inter-frame arrival time on the capture
// path against a real-time budget.
package timing

import (
	"time"

	"klvsync/pkg/log"
	"klvsync/pkg/pipeline"
)

// FrameStats per-stream arrival statistics.
type FrameStats struct {
	LastObserved time.Time
	FrameIndex   uint64
}

// SampleFunc observes every measured interval.
type SampleFunc func(delta time.Duration, late bool)

// Probe classifies frame arrival against the budget. Observe is
// called from a single pad context, so the stats need no lock and
// the update is constant-time.
type Probe struct {
	budget   time.Duration
	logf     log.Func
	onSample SampleFunc

	now   func() time.Time
	stats FrameStats
}

// NewProbe returns a probe with the given real-time budget.
// onSample may be nil.
func NewProbe(budget time.Duration, logf log.Func, onSample SampleFunc) *Probe {
	return &Probe{
		budget:   budget,
		logf:     logf,
		onSample: onSample,
		now:      time.Now,
	}
}

// Observe one frame. A frame is late only if the time since the
// previous frame exceeds the budget, a delta equal to the budget
// is on time. The first frame has no predecessor and reports a
// zero delta.
func (p *Probe) Observe(pts pipeline.Timestamp) {
	now := p.now()

	var delta time.Duration
	if !p.stats.LastObserved.IsZero() {
		delta = now.Sub(p.stats.LastObserved)
	}
	p.stats.LastObserved = now

	index := p.stats.FrameIndex
	p.stats.FrameIndex++

	late := delta > p.budget
	if p.onSample != nil {
		p.onSample(delta, late)
	}

	if late {
		p.logf(log.LevelError,
			"late frame %v: %v since previous exceeds budget %v pts=%v",
			index, delta, p.budget, pts)
		return
	}
	p.logf(log.LevelInfo, "frame %v: %v since previous pts=%v", index, delta, pts)
}

// Stats returns a copy of the current statistics.
func (p *Probe) Stats() FrameStats {
	return p.stats
}
