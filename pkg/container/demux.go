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

package container

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"klvsync/pkg/log"
	"klvsync/pkg/pipeline"
)

// Demuxer splits a packet stream back into per-stream outputs.
// Outputs appear dynamically when the first packet of a stream
// arrives. Buffers for outputs that were never linked are dropped.
type Demuxer struct {
	name string
	in   <-chan Packet
	logf log.Func

	mu       sync.Mutex
	onOutput func(*Output)
	outputs  map[uint16]*Output
	order    []uint16
}

// NewDemuxer creates a demuxer reading from the given packet stream.
func NewDemuxer(in <-chan Packet, logf log.Func) *Demuxer {
	return &Demuxer{
		name:    "demux",
		in:      in,
		logf:    logf,
		outputs: make(map[uint16]*Output),
	}
}

// Name implements pipeline.Element.
func (d *Demuxer) Name() string {
	return d.name
}

// OnOutputAdded sets the callback invoked when a new output
// appears. The callback runs on the demuxer goroutine before the
// output's first buffer is delivered, linking the pad inside it is
// race-free.
func (d *Demuxer) OnOutputAdded(fn func(*Output)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onOutput = fn
}

// Outputs returns the outputs in order of appearance.
func (d *Demuxer) Outputs() []*Output {
	d.mu.Lock()
	defer d.mu.Unlock()

	outputs := make([]*Output, 0, len(d.order))
	for _, id := range d.order {
		outputs = append(outputs, d.outputs[id])
	}
	return outputs
}

// Run implements pipeline.Element. Returns when the input closes,
// after forwarding EOS to every output, or when the context is
// canceled. Delivery errors other than unlinked pads are fatal.
func (d *Demuxer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case pkt, ok := <-d.in:
			if !ok {
				d.pushEOS()
				return nil
			}
			if err := d.handlePacket(pkt); err != nil {
				return err
			}
		}
	}
}

func (d *Demuxer) handlePacket(pkt Packet) error {
	out := d.output(pkt.ID, pkt.Tag)

	err := out.pad.Push(&pipeline.Buffer{
		Data: pkt.Data,
		PTS:  pkt.PTS,
		Tag:  pkt.Tag,
	})
	if errors.Is(err, pipeline.ErrPadNotLinked) {
		atomic.AddUint64(&out.dropped, 1)
		d.logf(log.LevelDebug, "dropping buffer for unlinked output %v", out.name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("push to %v: %w", out.name, err)
	}
	return nil
}

// output returns the output for a stream ID, creating it on first
// sight.
func (d *Demuxer) output(id uint16, tag string) *Output {
	d.mu.Lock()
	if out, exists := d.outputs[id]; exists {
		d.mu.Unlock()
		return out
	}

	name := fmt.Sprintf("%v_%04x", classifyTag(tag), id)
	out := &Output{
		name: name,
		tag:  tag,
		pad:  pipeline.NewSrcPad(name),
	}
	d.outputs[id] = out
	d.order = append(d.order, id)
	onOutput := d.onOutput
	d.mu.Unlock()

	d.logf(log.LevelDebug, "new output %v tag=%v", name, tag)
	if onOutput != nil {
		onOutput(out)
	}
	return out
}

func (d *Demuxer) pushEOS() {
	for _, out := range d.Outputs() {
		err := out.pad.PushEvent(&pipeline.Event{Kind: pipeline.EventEOS})
		if err != nil && !errors.Is(err, pipeline.ErrPadNotLinked) {
			d.logf(log.LevelWarning, "push EOS to %v: %v", out.name, err)
		}
	}
}

// classifyTag maps a stream tag to an output name prefix.
func classifyTag(tag string) string {
	switch {
	case strings.HasPrefix(tag, "video/"):
		return "video"
	case strings.HasPrefix(tag, "meta/"):
		return "private"
	case strings.HasPrefix(tag, "audio/"):
		return "audio"
	default:
		return "data"
	}
}

// Output is a dynamically created demuxer stream.
type Output struct {
	name    string
	tag     string
	pad     *pipeline.Pad
	dropped uint64
}

// Name returns the output name, "<class>_<id>".
func (o *Output) Name() string {
	return o.name
}

// Tag returns the stream tag.
func (o *Output) Tag() string {
	return o.tag
}

// Pad returns the output's src pad.
func (o *Output) Pad() *pipeline.Pad {
	return o.pad
}

// Dropped returns the number of buffers discarded because the
// output was not linked.
func (o *Output) Dropped() uint64 {
	return atomic.LoadUint64(&o.dropped)
}
