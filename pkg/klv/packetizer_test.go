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
	"errors"
	"testing"
	"time"

	"klvsync/pkg/log"
	"klvsync/pkg/pipeline"

	"github.com/stretchr/testify/require"
)

type mockInput struct {
	pushed  []*pipeline.Buffer
	pushErr error
	eos     bool
}

func (i *mockInput) Push(b *pipeline.Buffer) error {
	if i.pushErr != nil {
		return i.pushErr
	}
	i.pushed = append(i.pushed, b)
	return nil
}

func (i *mockInput) PushEOS() {
	i.eos = true
}

func newTestPacketizer(input MetadataInput) *Packetizer {
	logf := func(log.Level, string, ...interface{}) {}
	return NewPacketizer(input, logf)
}

func TestPacketizer(t *testing.T) {
	t.Run("working", func(t *testing.T) {
		input := &mockInput{}
		p := newTestPacketizer(input)

		pts1 := pipeline.Timestamp(33 * time.Millisecond)
		pts2 := pipeline.Timestamp(66 * time.Millisecond)
		require.NoError(t, p.OnFrame(pts1))
		require.NoError(t, p.OnFrame(pts2))
		require.Equal(t, uint32(2), p.Count())

		require.Len(t, input.pushed, 2)
		require.Equal(t, pts1, input.pushed[0].PTS)
		require.Equal(t, pts2, input.pushed[1].PTS)
		require.Equal(t, pipeline.TagKLV, input.pushed[0].Tag)

		var rec Record
		require.NoError(t, rec.Unmarshal(input.pushed[0].Data))
		require.Equal(t, KeyFrameCounter, rec.Key)
		require.Equal(t, uint32(0), binary.LittleEndian.Uint32(rec.Value))

		require.NoError(t, rec.Unmarshal(input.pushed[1].Data))
		require.Equal(t, uint32(1), binary.LittleEndian.Uint32(rec.Value))
	})
	t.Run("rejected", func(t *testing.T) {
		mockErr := errors.New("mock")
		input := &mockInput{pushErr: mockErr}
		p := newTestPacketizer(input)

		err := p.OnFrame(0)
		require.ErrorIs(t, err, mockErr)
	})
	t.Run("close", func(t *testing.T) {
		input := &mockInput{}
		p := newTestPacketizer(input)

		p.Close()
		require.True(t, input.eos)
	})
}
