// Package rtc adapts pion peer connections to the engine's transport
// contract: negotiation is handled here, the engine only ships descriptions.
package rtc

import (
	"sync"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nmezh/huddle/internal/core"
)

func DefaultConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// NewConnFactory builds peer connections with the audio-level header
// extension negotiated, so receivers can meter loudness without decoding.
func NewConnFactory(cfg webrtc.Configuration) (core.ConnFactory, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	if err := me.RegisterHeaderExtension(
		webrtc.RTPHeaderExtensionCapability{URI: sdp.AudioLevelURI},
		webrtc.RTPCodecTypeAudio,
	); err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(me))

	return func() (core.RTCConn, error) {
		pc, err := api.NewPeerConnection(cfg)
		if err != nil {
			return nil, err
		}
		return newConnection(pc), nil
	}, nil
}

// Connection implements core.RTCConn on top of one pion PeerConnection.
// pion allows a single handler per event, so state listeners are fanned out
// to keep the engine's subscribe/unsubscribe contract.
type Connection struct {
	pc  *webrtc.PeerConnection
	log zerolog.Logger

	mu           sync.Mutex
	stateSubs    map[int]func(webrtc.ICEConnectionState)
	nextSub      int
	onCandidate  func(*webrtc.ICECandidateInit)
	onLocalOffer func(webrtc.SessionDescription)
	onTrack      func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
}

func newConnection(pc *webrtc.PeerConnection) *Connection {
	c := &Connection{
		pc:        pc,
		log:       log.With().Str("module", "rtc").Logger(),
		stateSubs: make(map[int]func(webrtc.ICEConnectionState)),
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.log.Debug().Str("ice_state", s.String()).Msg("ICE state")
		c.mu.Lock()
		subs := make([]func(webrtc.ICEConnectionState), 0, len(c.stateSubs))
		for _, fn := range c.stateSubs {
			subs = append(subs, fn)
		}
		c.mu.Unlock()
		for _, fn := range subs {
			fn(s)
		}
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		c.mu.Lock()
		fn := c.onCandidate
		c.mu.Unlock()
		if fn == nil {
			return
		}
		if cand == nil {
			fn(nil)
			return
		}
		ci := cand.ToJSON()
		fn(&ci)
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.log.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("remote track")
		c.mu.Lock()
		fn := c.onTrack
		c.mu.Unlock()
		if fn != nil {
			fn(track, receiver)
		}
	})

	pc.OnNegotiationNeeded(func() {
		c.negotiate()
	})

	return c
}

// negotiate creates and installs a fresh local offer, then hands it to the
// engine for delivery. Candidates trickle via OnICECandidate.
func (c *Connection) negotiate() {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		c.log.Error().Err(err).Msg("create offer")
		return
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		c.log.Error().Err(err).Msg("set local offer")
		return
	}
	c.mu.Lock()
	fn := c.onLocalOffer
	c.mu.Unlock()
	if fn != nil {
		fn(offer)
	}
}

func (c *Connection) Close() error {
	return c.pc.Close()
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *Connection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *Connection) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (c *Connection) AddTrack(t core.LocalTrack) error {
	_, err := c.pc.AddTrack(t.Unwrap())
	return err
}

func (c *Connection) AddRecvTransceiver(kind core.MediaKind) error {
	ct := webrtc.RTPCodecTypeAudio
	if kind == core.KindVideo {
		ct = webrtc.RTPCodecTypeVideo
	}
	_, err := c.pc.AddTransceiverFromKind(ct, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	return err
}

func (c *Connection) Transceivers() []core.Transceiver {
	trs := c.pc.GetTransceivers()
	out := make([]core.Transceiver, 0, len(trs))
	for _, tr := range trs {
		out = append(out, &transceiver{pc: c.pc, tr: tr})
	}
	return out
}

func (c *Connection) ICEState() webrtc.ICEConnectionState {
	return c.pc.ICEConnectionState()
}

func (c *Connection) OnICEStateChange(fn func(webrtc.ICEConnectionState)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.stateSubs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.stateSubs, id)
		c.mu.Unlock()
	}
}

func (c *Connection) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onCandidate = fn
	c.mu.Unlock()
}

func (c *Connection) OnLocalOffer(fn func(webrtc.SessionDescription)) {
	c.mu.Lock()
	c.onLocalOffer = fn
	c.mu.Unlock()
}

func (c *Connection) OnTrack(fn func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

type transceiver struct {
	pc *webrtc.PeerConnection
	tr *webrtc.RTPTransceiver
}

func (t *transceiver) Kind() core.MediaKind {
	if t.tr.Kind() == webrtc.RTPCodecTypeVideo {
		return core.KindVideo
	}
	return core.KindAudio
}

func (t *transceiver) CanRecv() bool {
	d := t.tr.Direction()
	return d == webrtc.RTPTransceiverDirectionSendrecv || d == webrtc.RTPTransceiverDirectionRecvonly
}

// ReplaceSendTrack installs lt as the transceiver's outgoing track. A
// receive-only transceiver (pion creates those with no sender) goes through
// AddTrack, which reuses it, flips its direction to send-receive and arms
// renegotiation.
func (t *transceiver) ReplaceSendTrack(lt core.LocalTrack) error {
	sender := t.tr.Sender()
	if sender == nil || t.tr.Direction() == webrtc.RTPTransceiverDirectionRecvonly {
		_, err := t.pc.AddTrack(lt.Unwrap())
		return err
	}
	return sender.ReplaceTrack(lt.Unwrap())
}
