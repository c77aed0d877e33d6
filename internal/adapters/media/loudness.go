package media

import (
	"context"
	"math"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nmezh/huddle/internal/core"
)

// smoothing factor of the running loudness average; higher reacts faster.
const levelAlpha = 0.3

// Loudness meters remote members from the ssrc-audio-level RTP header
// extension (RFC 6464) when negotiated, so no decoding is needed. Tracks
// without the extension read as silent.
type Loudness struct {
	log zerolog.Logger

	mu      sync.Mutex
	members map[core.MemberAddr]*meter
}

type meter struct {
	cancel context.CancelFunc

	mu    sync.Mutex
	level float64
}

func NewLoudness() *Loudness {
	return &Loudness{
		log:     log.With().Str("module", "media.loudness").Logger(),
		members: make(map[core.MemberAddr]*meter),
	}
}

// Attach starts metering a member's audio track. A newer track for the same
// member replaces the old meter, which matches link replacement upstream.
func (l *Loudness) Attach(addr core.MemberAddr, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	extID := audioLevelExtensionID(receiver)
	if extID == 0 {
		l.log.Debug().Str("addr", addr.String()).Msg("audio-level extension not negotiated")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &meter{cancel: cancel}

	l.mu.Lock()
	if prev, ok := l.members[addr]; ok {
		prev.cancel()
	}
	l.members[addr] = m
	l.mu.Unlock()

	go l.readLoop(ctx, addr, track, extID, m)
}

func (l *Loudness) Level(addr core.MemberAddr) float64 {
	l.mu.Lock()
	m, ok := l.members[addr]
	l.mu.Unlock()
	if !ok {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

func (l *Loudness) Detach(addr core.MemberAddr) {
	l.mu.Lock()
	m, ok := l.members[addr]
	delete(l.members, addr)
	l.mu.Unlock()
	if ok {
		m.cancel()
	}
}

func (l *Loudness) readLoop(ctx context.Context, addr core.MemberAddr, track *webrtc.TrackRemote, extID uint8, m *meter) {
	for {
		if ctx.Err() != nil {
			return
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			l.log.Debug().Err(err).Str("addr", addr.String()).Msg("audio track ended")
			return
		}
		if extID == 0 {
			continue
		}
		payload := pkt.GetExtension(extID)
		if payload == nil {
			continue
		}
		var ext rtp.AudioLevelExtension
		if err := ext.Unmarshal(payload); err != nil {
			continue
		}
		m.observe(dbovToLinear(ext.Level))
	}
}

func (m *meter) observe(linear float64) {
	m.mu.Lock()
	m.level = levelAlpha*linear + (1-levelAlpha)*m.level
	m.mu.Unlock()
}

// dbovToLinear maps the extension's 0..127 dBov attenuation to [0, 1].
// 127 means digital silence.
func dbovToLinear(level uint8) float64 {
	if level >= 127 {
		return 0
	}
	return math.Pow(10, -float64(level)/20)
}

func audioLevelExtensionID(receiver *webrtc.RTPReceiver) uint8 {
	for _, ext := range receiver.GetParameters().HeaderExtensions {
		if ext.URI == sdp.AudioLevelURI {
			return uint8(ext.ID)
		}
	}
	return 0
}
