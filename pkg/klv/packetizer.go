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

package klv

import (
	"encoding/binary"
	"fmt"

	"klvsync/pkg/log"
	"klvsync/pkg/pipeline"
)

// MetadataInput accepts the metadata stream.
type MetadataInput interface {
	Push(*pipeline.Buffer) error
	PushEOS()
}

// Packetizer synthesizes one KLV record per video frame, stamped
// with the frame's presentation timestamp, and pushes it into the
// metadata stream. OnFrame runs in the frame's own push context,
// so records leave in frame order.
type Packetizer struct {
	input MetadataInput
	logf  log.Func

	count uint32
}

// NewPacketizer .
func NewPacketizer(input MetadataInput, logf log.Func) *Packetizer {
	return &Packetizer{
		input: input,
		logf:  logf,
	}
}

// OnFrame synthesizes and pushes the record for one frame. A
// rejected push is returned to the caller, never dropped.
func (p *Packetizer) OnFrame(pts pipeline.Timestamp) error {
	var value [4]byte
	binary.LittleEndian.PutUint32(value[:], p.count)

	rec := Record{Key: KeyFrameCounter, Value: value[:]}
	data, err := rec.Marshal()
	if err != nil {
		return fmt.Errorf("marshal record %v: %w", p.count, err)
	}

	p.logf(log.LevelDebug, "pushing record %v pts=%v", p.count, pts)
	p.count++

	buf := &pipeline.Buffer{
		Data: data,
		PTS:  pts,
		Tag:  pipeline.TagKLV,
	}
	if err := p.input.Push(buf); err != nil {
		return fmt.Errorf("push record: %w", err)
	}
	return nil
}

// Close ends the metadata stream.
func (p *Packetizer) Close() {
	p.input.PushEOS()
}

// Count returns the number of synthesized records.
func (p *Packetizer) Count() uint32 {
	return p.count
}
