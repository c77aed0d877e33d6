package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// DeviceKinds reports which capture kinds are actually present, so a stream
// request never asks for a kind with no device behind it.
type DeviceKinds struct {
	Audio bool
	Video bool
}

// StreamRequest constrains outgoing stream acquisition.
type StreamRequest struct {
	Audio bool
	Video bool

	Width     int
	Height    int
	FrameRate int

	AudioDevice string
	VideoDevice string
}

// MediaSource acquires local capture tracks. Implementations talk to real
// devices; the engine only sees LocalTracks.
type MediaSource interface {
	DeviceKinds(ctx context.Context) (DeviceKinds, error)
	CaptureStream(ctx context.Context, req StreamRequest) ([]LocalTrack, error)
	// CaptureScreen grabs the active screen-share source.
	CaptureScreen(ctx context.Context) ([]LocalTrack, error)
}

// LoudnessMonitor tracks smoothed per-member audio levels for presenter
// selection. Attach is called for every remote audio track that arrives;
// Level returns the current smoothed RMS-style value in [0, 1].
type LoudnessMonitor interface {
	Attach(addr MemberAddr, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	Level(addr MemberAddr) float64
	Detach(addr MemberAddr)
}
