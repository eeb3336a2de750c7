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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"klvsync/pkg/log"
	"klvsync/pkg/pipeline"
)

func discardLog(log.Level, string, ...interface{}) {}

type recordingSink struct {
	pad     *pipeline.Pad
	buffers []*pipeline.Buffer
	eos     bool
}

func newRecordingSink(onEOS func()) *recordingSink {
	sink := &recordingSink{}
	sink.pad = pipeline.NewSinkPad("test",
		func(b *pipeline.Buffer) error {
			sink.buffers = append(sink.buffers, b)
			return nil
		},
		func(e *pipeline.Event) {
			if e.Kind == pipeline.EventEOS {
				sink.eos = true
				if onEOS != nil {
					onEOS()
				}
			}
		},
	)
	return sink
}

func runDemuxer(t *testing.T, d *Demuxer) chan error {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()
	return done
}

func waitForDone(t *testing.T, done chan error) error {
	t.Helper()

	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
		return nil
	}
}

func TestDemuxer(t *testing.T) {
	t.Run("roundTrip", func(t *testing.T) {
		m := NewMuxer(16)
		videoIn, err := m.AddStream(pipeline.TagVideo)
		require.NoError(t, err)
		klvIn, err := m.AddStream(pipeline.TagKLV)
		require.NoError(t, err)

		d := NewDemuxer(m.Output(), discardLog)

		var eosOrder []string
		sinks := map[string]*recordingSink{}
		d.OnOutputAdded(func(out *Output) {
			name := out.Name()
			sink := newRecordingSink(func() {
				eosOrder = append(eosOrder, name)
			})
			sinks[name] = sink
			require.NoError(t, out.Pad().Link(sink.pad))
		})

		require.NoError(t, videoIn.Push(&pipeline.Buffer{
			Data: []byte{1},
			PTS:  pipeline.Timestamp(33 * time.Millisecond),
			Tag:  pipeline.TagVideo,
		}))
		require.NoError(t, klvIn.Push(&pipeline.Buffer{
			Data: []byte{2},
			PTS:  pipeline.Timestamp(33 * time.Millisecond),
			Tag:  pipeline.TagKLV,
		}))
		require.NoError(t, videoIn.Push(&pipeline.Buffer{
			Data: []byte{3},
			PTS:  pipeline.Timestamp(66 * time.Millisecond),
			Tag:  pipeline.TagVideo,
		}))
		videoIn.PushEOS()
		klvIn.PushEOS()

		done := runDemuxer(t, d)
		require.NoError(t, waitForDone(t, done))

		outputs := d.Outputs()
		require.Len(t, outputs, 2)
		require.Equal(t, "video_0100", outputs[0].Name())
		require.Equal(t, pipeline.TagVideo, outputs[0].Tag())
		require.Equal(t, "private_0101", outputs[1].Name())
		require.Equal(t, pipeline.TagKLV, outputs[1].Tag())

		video := sinks["video_0100"]
		require.Len(t, video.buffers, 2)
		require.Equal(t, []byte{1}, video.buffers[0].Data)
		require.Equal(t, pipeline.Timestamp(33*time.Millisecond), video.buffers[0].PTS)
		require.Equal(t, []byte{3}, video.buffers[1].Data)

		klv := sinks["private_0101"]
		require.Len(t, klv.buffers, 1)
		require.Equal(t, []byte{2}, klv.buffers[0].Data)
		require.Equal(t, pipeline.TagKLV, klv.buffers[0].Tag)

		require.True(t, video.eos)
		require.True(t, klv.eos)
		require.Equal(t, []string{"video_0100", "private_0101"}, eosOrder)
	})
	t.Run("unlinked", func(t *testing.T) {
		in := make(chan Packet, 4)
		d := NewDemuxer(in, discardLog)

		in <- Packet{ID: 0x100, Tag: pipeline.TagKLV, Data: []byte{1}}
		in <- Packet{ID: 0x100, Tag: pipeline.TagKLV, Data: []byte{2}}
		close(in)

		done := runDemuxer(t, d)
		require.NoError(t, waitForDone(t, done))

		outputs := d.Outputs()
		require.Len(t, outputs, 1)
		require.Equal(t, uint64(2), outputs[0].Dropped())
	})
	t.Run("downstreamErr", func(t *testing.T) {
		mockErr := errors.New("mock")

		in := make(chan Packet, 4)
		d := NewDemuxer(in, discardLog)
		d.OnOutputAdded(func(out *Output) {
			sink := pipeline.NewSinkPad("test",
				func(*pipeline.Buffer) error { return mockErr },
				nil,
			)
			require.NoError(t, out.Pad().Link(sink))
		})

		in <- Packet{ID: 0x100, Tag: pipeline.TagVideo}

		done := runDemuxer(t, d)
		require.ErrorIs(t, waitForDone(t, done), mockErr)
	})
	t.Run("cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())

		d := NewDemuxer(make(chan Packet), discardLog)
		done := make(chan error, 1)
		go func() { done <- d.Run(ctx) }()

		cancel()
		require.NoError(t, waitForDone(t, done))
	})
}

func TestClassifyTag(t *testing.T) {
	cases := []struct {
		tag      string
		expected string
	}{
		{"video/h264", "video"},
		{"meta/x-klv", "private"},
		{"audio/aac", "audio"},
		{"application/x-test", "data"},
		{"", "data"},
	}
	for _, tc := range cases {
		t.Run(tc.tag, func(t *testing.T) {
			require.Equal(t, tc.expected, classifyTag(tc.tag))
		})
	}
}

func TestOutputNaming(t *testing.T) {
	in := make(chan Packet, 1)
	d := NewDemuxer(in, discardLog)

	in <- Packet{ID: 0x2a, Tag: "application/x-test"}
	close(in)

	done := runDemuxer(t, d)
	require.NoError(t, waitForDone(t, done))

	outputs := d.Outputs()
	require.Len(t, outputs, 1)
	require.Equal(t, "data_002a", outputs[0].Name())
}
