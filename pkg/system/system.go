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

// Package system reports process health for the status API.
package system

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"klvsync/pkg/log"
)

// Status is a point-in-time health snapshot.
type Status struct {
	CPUUsage      int    `json:"cpuUsage"`
	RAMUsage      int    `json:"ramUsage"`
	PipelineState string `json:"pipelineState"`
}

type (
	cpuFunc   func(context.Context, time.Duration, bool) ([]float64, error)
	ramFunc   func() (*mem.VirtualMemoryStat, error)
	stateFunc func() string
)

// System polls resource usage in the background.
type System struct {
	cpu   cpuFunc
	ram   ramFunc
	state stateFunc
	logf  log.Func

	duration time.Duration

	mu     sync.Mutex
	status Status
	o      sync.Once
}

// New .
func New(state stateFunc, logf log.Func) *System {
	return &System{
		cpu:   cpu.PercentWithContext,
		ram:   mem.VirtualMemory,
		state: state,
		logf:  logf,

		duration: 10 * time.Second,
	}
}

func (s *System) update(ctx context.Context) error {
	cpuUsage, err := s.cpu(ctx, s.duration, false)
	if err != nil {
		return fmt.Errorf("get cpu usage: %w", err)
	}
	ramUsage, err := s.ram()
	if err != nil {
		return fmt.Errorf("get ram usage: %w", err)
	}

	s.mu.Lock()
	s.status.CPUUsage = int(cpuUsage[0])
	s.status.RAMUsage = int(ramUsage.UsedPercent)
	s.mu.Unlock()

	return nil
}

// StatusLoop updates the status until the context is canceled. The
// cpu sample blocks for the poll interval.
func (s *System) StatusLoop(ctx context.Context) {
	s.o.Do(func() {
		for {
			if ctx.Err() != nil {
				return
			}
			if err := s.update(ctx); err != nil {
				if ctx.Err() != nil {
					// The logger stops with the same context.
					return
				}
				s.logf(log.LevelError, "update status: %v", err)
				select {
				case <-ctx.Done():
				case <-time.After(s.duration):
				}
			}
		}
	})
}

// Status returns the latest resource snapshot and the live pipeline
// state.
func (s *System) Status() Status {
	s.mu.Lock()
	status := s.status
	s.mu.Unlock()

	status.PipelineState = s.state()
	return status
}
