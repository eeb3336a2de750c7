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

// Stream tags.
const (
	// TagVideo video elementary stream. The payload is opaque to
	// the pipeline, codecs are external.
	TagVideo = "video/h264"

	// TagKLV parsed KLV metadata records.
	TagKLV = "meta/x-klv"
)

// Buffer is the unit of data flow. A buffer is owned by exactly
// one stage at a time, ownership transfers on push.
type Buffer struct {
	Data []byte
	PTS  Timestamp
	Tag  string
}

// Clone returns an independently owned copy.
func (b *Buffer) Clone() *Buffer {
	data := make([]byte, len(b.Data))
	copy(data, b.Data)

	return &Buffer{
		Data: data,
		PTS:  b.PTS,
		Tag:  b.Tag,
	}
}

// EventKind .
type EventKind int

// Event kinds.
const (
	// EventEOS end of stream.
	EventEOS EventKind = iota
)

// Event flows through pads alongside buffers.
type Event struct {
	Kind EventKind
}
