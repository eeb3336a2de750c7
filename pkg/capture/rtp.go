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

package capture

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pion/rtp/v2"
	"github.com/pion/sdp/v3"

	"klvsync/pkg/log"
	"klvsync/pkg/pipeline"
)

// RTP errors.
var (
	ErrNoVideoMedia = errors.New("no video media in session description")
	ErrSourceClosed = errors.New("source is closed")
)

const defaultClockRate = 90000

// RTPSource depacketizes a video RTP stream. The transport is owned
// by the caller, raw packets are fed through Write. Payloads are
// grouped until the marker bit and pushed as a single buffer.
type RTPSource struct {
	pad       *pipeline.Pad
	logf      log.Func
	clockRate int

	timeDec timeDecoder
	parts   [][]byte
	closed  bool
}

// NewRTPSource creates a source from an SDP session description.
// The clock rate is taken from the rtpmap of the first video media
// section.
func NewRTPSource(sdpRaw []byte, logf log.Func) (*RTPSource, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(sdpRaw); err != nil {
		return nil, fmt.Errorf("unmarshal session description: %w", err)
	}

	var media *sdp.MediaDescription
	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media == "video" {
			media = md
			break
		}
	}
	if media == nil {
		return nil, ErrNoVideoMedia
	}

	clockRate := videoClockRate(media)
	logf(log.LevelDebug, "video clock rate %v", clockRate)

	return &RTPSource{
		pad:       pipeline.NewSrcPad("src"),
		logf:      logf,
		clockRate: clockRate,
		timeDec:   timeDecoder{clockRate: time.Duration(clockRate)},
	}, nil
}

// videoClockRate extracts the clock rate from the media rtpmap
// attribute, "<payload type> <codec>/<clock rate>".
func videoClockRate(md *sdp.MediaDescription) int {
	if len(md.MediaName.Formats) == 0 {
		return defaultClockRate
	}
	payloadType := md.MediaName.Formats[0]

	for _, attr := range md.Attributes {
		if attr.Key != "rtpmap" {
			continue
		}
		v := strings.TrimSpace(attr.Value)
		parts := strings.SplitN(v, " ", 2)
		if len(parts) != 2 || parts[0] != payloadType {
			continue
		}
		parts2 := strings.SplitN(parts[1], "/", 2)
		if len(parts2) != 2 {
			continue
		}
		rate, err := strconv.Atoi(parts2[1])
		if err != nil || rate <= 0 {
			continue
		}
		return rate
	}
	return defaultClockRate
}

// Name implements pipeline.Element.
func (s *RTPSource) Name() string {
	return "rtpsrc"
}

// SrcPad implements Source.
func (s *RTPSource) SrcPad() *pipeline.Pad {
	return s.pad
}

// Run implements pipeline.Element. The source is driven by Write,
// Run only waits for shutdown.
func (s *RTPSource) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// Write parses one raw RTP packet. Must not be called concurrently.
// When the packet carries the marker bit, the accumulated payloads
// are pushed downstream as one buffer.
func (s *RTPSource) Write(raw []byte) error {
	if s.closed {
		return ErrSourceClosed
	}

	var pkt rtp.Packet
	if err := pkt.Unmarshal(raw); err != nil {
		return fmt.Errorf("unmarshal packet: %w", err)
	}

	if len(pkt.Payload) != 0 {
		payload := make([]byte, len(pkt.Payload))
		copy(payload, pkt.Payload)
		s.parts = append(s.parts, payload)
	}

	if !pkt.Marker {
		return nil
	}

	size := 0
	for _, part := range s.parts {
		size += len(part)
	}
	data := make([]byte, 0, size)
	for _, part := range s.parts {
		data = append(data, part...)
	}
	s.parts = s.parts[:0]

	buf := &pipeline.Buffer{
		Data: data,
		PTS:  pipeline.Timestamp(s.timeDec.decode(pkt.Timestamp)),
		Tag:  pipeline.TagVideo,
	}
	if err := s.pad.Push(buf); err != nil {
		return fmt.Errorf("push frame: %w", err)
	}
	return nil
}

// Close pushes end-of-stream. Further writes fail.
func (s *RTPSource) Close() {
	if s.closed {
		return
	}
	s.closed = true

	err := s.pad.PushEvent(&pipeline.Event{Kind: pipeline.EventEOS})
	if err != nil && !errors.Is(err, pipeline.ErrPadNotLinked) {
		s.logf(log.LevelWarning, "push EOS: %v", err)
	}
}

// timeDecoder converts 32-bit RTP timestamps to stream-relative
// durations, handling timestamp wraparound.
type timeDecoder struct {
	clockRate   time.Duration
	initialized bool
	overall     time.Duration
	prev        uint32
}

func (d *timeDecoder) decode(ts uint32) time.Duration {
	if !d.initialized {
		d.initialized = true
		d.prev = ts
		return 0
	}

	diff := int32(ts - d.prev)
	d.prev = ts
	d.overall += time.Duration(diff)

	// Split to avoid overflowing the multiplication.
	secs := d.overall / d.clockRate
	rem := d.overall % d.clockRate
	return secs*time.Second + rem*time.Second/d.clockRate
}
