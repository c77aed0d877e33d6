package rtc

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmezh/huddle/internal/core"
)

// staticTrack adapts a sample track for tests; capture-side behavior is
// irrelevant here.
type staticTrack struct {
	t *webrtc.TrackLocalStaticSample
}

func (s *staticTrack) ID() string                { return s.t.ID() }
func (s *staticTrack) Kind() core.MediaKind      { return core.KindVideo }
func (s *staticTrack) Enabled() bool             { return true }
func (s *staticTrack) SetEnabled(bool)           {}
func (s *staticTrack) Unwrap() webrtc.TrackLocal { return s.t }
func (s *staticTrack) Stop() error               { return nil }

func newVideoTrack(t *testing.T, id string) *staticTrack {
	t.Helper()
	tl, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, id, "cam",
	)
	require.NoError(t, err)
	return &staticTrack{t: tl}
}

func newTestConn(t *testing.T) core.RTCConn {
	t.Helper()
	dial, err := NewConnFactory(DefaultConfig())
	require.NoError(t, err)
	conn, err := dial()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// A receive-only transceiver has no sender in pion, so a plain ReplaceTrack
// can never make it send. Installing a track must upgrade it to send-receive.
func TestReplaceSendTrackUpgradesRecvOnlyTransceiver(t *testing.T) {
	conn := newTestConn(t)
	require.NoError(t, conn.AddRecvTransceiver(core.KindVideo))

	trs := conn.Transceivers()
	require.Len(t, trs, 1)
	require.NoError(t, trs[0].ReplaceSendTrack(newVideoTrack(t, "v1")))

	pcTr := conn.(*Connection).pc.GetTransceivers()[0]
	assert.Equal(t, webrtc.RTPTransceiverDirectionSendrecv, pcTr.Direction())
	require.NotNil(t, pcTr.Sender())
	require.NotNil(t, pcTr.Sender().Track())
	assert.Equal(t, "v1", pcTr.Sender().Track().ID())
}

func TestReplaceSendTrackSwapsExistingSender(t *testing.T) {
	conn := newTestConn(t)
	require.NoError(t, conn.AddTrack(newVideoTrack(t, "v1")))

	trs := conn.Transceivers()
	require.Len(t, trs, 1)
	require.NoError(t, trs[0].ReplaceSendTrack(newVideoTrack(t, "v2")))

	pcTr := conn.(*Connection).pc.GetTransceivers()[0]
	assert.Equal(t, "v2", pcTr.Sender().Track().ID())
}
