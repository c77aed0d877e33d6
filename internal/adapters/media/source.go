// Package media acquires local capture tracks through pion/mediadevices and
// wraps them behind the engine's LocalTrack contract.
package media

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	// Driver registration; capture finds nothing without these.
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"

	"github.com/nmezh/huddle/internal/core"
)

var errNoTracks = errors.New("media: capture produced no tracks")

const (
	defaultWidth     = 1280
	defaultHeight    = 720
	defaultFrameRate = 30

	videoBitRate = 1_000_000
	audioBitRate = 48_000
)

// Source captures camera, microphone and screen media.
type Source struct {
	log      zerolog.Logger
	selector *mediadevices.CodecSelector
}

func NewSource() (*Source, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = videoBitRate
	vpxParams.KeyFrameInterval = 15
	vpxParams.RateControlEndUsage = vpx.RateControlVBR

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}
	opusParams.BitRate = audioBitRate
	opusParams.Latency = opus.Latency20ms

	return &Source{
		log: log.With().Str("module", "media").Logger(),
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// DeviceKinds reports which capture kinds have a device behind them.
func (s *Source) DeviceKinds(_ context.Context) (core.DeviceKinds, error) {
	var kinds core.DeviceKinds
	for _, d := range mediadevices.EnumerateDevices() {
		switch d.Kind {
		case mediadevices.AudioInput:
			kinds.Audio = true
		case mediadevices.VideoInput:
			kinds.Video = true
		}
	}
	return kinds, nil
}

// CaptureStream opens camera and/or microphone per the request.
func (s *Source) CaptureStream(_ context.Context, req core.StreamRequest) ([]core.LocalTrack, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: s.selector}
	if req.Video {
		width, height, rate := req.Width, req.Height, req.FrameRate
		if width == 0 {
			width = defaultWidth
		}
		if height == 0 {
			height = defaultHeight
		}
		if rate == 0 {
			rate = defaultFrameRate
		}
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			if req.VideoDevice != "" {
				c.DeviceID = prop.String(req.VideoDevice)
			}
			c.Width = prop.Int(width)
			c.Height = prop.Int(height)
			c.FrameRate = prop.Float(float32(rate))
		}
	}
	if req.Audio {
		constraints.Audio = func(c *mediadevices.MediaTrackConstraints) {
			if req.AudioDevice != "" {
				c.DeviceID = prop.String(req.AudioDevice)
			}
			c.SampleRate = prop.Int(48000)
			c.ChannelCount = prop.Int(1)
		}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, err
	}
	return s.wrapStream(stream)
}

// CaptureScreen opens the display capture source.
func (s *Source) CaptureScreen(_ context.Context) ([]core.LocalTrack, error) {
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Codec: s.selector,
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.FrameRate = prop.Float(defaultFrameRate)
		},
	})
	if err != nil {
		return nil, err
	}
	return s.wrapStream(stream)
}

func (s *Source) wrapStream(stream mediadevices.MediaStream) ([]core.LocalTrack, error) {
	tracks := stream.GetTracks()
	if len(tracks) == 0 {
		return nil, errNoTracks
	}
	out := make([]core.LocalTrack, 0, len(tracks))
	for _, t := range tracks {
		s.log.Info().Str("kind", t.Kind().String()).Str("track_id", t.ID()).Msg("captured track")
		lt := &localTrack{track: t}
		lt.enabled.Store(true)
		out = append(out, lt)
	}
	return out, nil
}

// localTrack adapts a mediadevices track. The enabled flag is engine-level
// state; capture keeps running while disabled so re-enabling is instant.
type localTrack struct {
	track   mediadevices.Track
	enabled atomic.Bool
}

func (t *localTrack) ID() string { return t.track.ID() }

func (t *localTrack) Kind() core.MediaKind {
	if t.track.Kind() == webrtc.RTPCodecTypeVideo {
		return core.KindVideo
	}
	return core.KindAudio
}

func (t *localTrack) Enabled() bool             { return t.enabled.Load() }
func (t *localTrack) SetEnabled(v bool)         { t.enabled.Store(v) }
func (t *localTrack) Unwrap() webrtc.TrackLocal { return t.track }
func (t *localTrack) Stop() error               { return t.track.Close() }
