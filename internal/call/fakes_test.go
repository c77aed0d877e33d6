package call

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/nmezh/huddle/internal/core"
)

// manualClock drives the engine's injected now().
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func newManualClock() *manualClock {
	return &manualClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeTrack struct {
	id      string
	kind    core.MediaKind
	enabled atomic.Bool
	stopped atomic.Bool
}

func newFakeTrack(id string, kind core.MediaKind) *fakeTrack {
	t := &fakeTrack{id: id, kind: kind}
	t.enabled.Store(true)
	return t
}

func (t *fakeTrack) ID() string                { return t.id }
func (t *fakeTrack) Kind() core.MediaKind      { return t.kind }
func (t *fakeTrack) Enabled() bool             { return t.enabled.Load() }
func (t *fakeTrack) SetEnabled(v bool)         { t.enabled.Store(v) }
func (t *fakeTrack) Unwrap() webrtc.TrackLocal { return nil }
func (t *fakeTrack) Stop() error               { t.stopped.Store(true); return nil }

type fakeTransceiver struct {
	kind    core.MediaKind
	canRecv bool

	mu         sync.Mutex
	recvOnly   bool
	sent       core.LocalTrack
	replaceErr error
}

func (t *fakeTransceiver) Kind() core.MediaKind { return t.kind }
func (t *fakeTransceiver) CanRecv() bool        { return t.canRecv }

// ReplaceSendTrack mirrors the transport contract: installing a track on a
// receive-only transceiver upgrades it to send-receive.
func (t *fakeTransceiver) ReplaceSendTrack(lt core.LocalTrack) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.replaceErr != nil {
		return t.replaceErr
	}
	t.sent = lt
	t.recvOnly = false
	return nil
}

func (t *fakeTransceiver) sending() (core.LocalTrack, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent, !t.recvOnly && t.sent != nil
}

// fakeConn records transport interactions and lets tests drive ICE state.
type fakeConn struct {
	mu           sync.Mutex
	state        webrtc.ICEConnectionState
	subs         map[int]func(webrtc.ICEConnectionState)
	nextSub      int
	unsubCount   int
	onCandidate  func(*webrtc.ICECandidateInit)
	onLocalOffer func(webrtc.SessionDescription)
	onTrack      func(*webrtc.TrackRemote, *webrtc.RTPReceiver)

	remote     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	trans      []*fakeTransceiver
	closed     bool

	remoteErr error
	answerErr error

	// closeHook lets ordering-sensitive tests observe the close.
	closeHook func()
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		state: webrtc.ICEConnectionStateNew,
		subs:  make(map[int]func(webrtc.ICEConnectionState)),
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	hook := c.closeHook
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates = append(c.candidates, ci)
	return nil
}

func (c *fakeConn) addedCandidates() []webrtc.ICECandidateInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(c.candidates))
	copy(out, c.candidates)
	return out
}

func (c *fakeConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remoteErr != nil {
		return c.remoteErr
	}
	c.remote = append(c.remote, desc)
	return nil
}

func (c *fakeConn) remoteCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.remote)
}

func (c *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.answerErr != nil {
		return webrtc.SessionDescription{}, c.answerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer}, nil
}

func (c *fakeConn) AddTrack(t core.LocalTrack) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tr := &fakeTransceiver{kind: t.Kind(), canRecv: true}
	tr.sent = t
	c.trans = append(c.trans, tr)
	return nil
}

func (c *fakeConn) AddRecvTransceiver(kind core.MediaKind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trans = append(c.trans, &fakeTransceiver{kind: kind, canRecv: true, recvOnly: true})
	return nil
}

func (c *fakeConn) Transceivers() []core.Transceiver {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Transceiver, 0, len(c.trans))
	for _, tr := range c.trans {
		out = append(out, tr)
	}
	return out
}

func (c *fakeConn) transceiverKinds() []core.MediaKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.MediaKind, 0, len(c.trans))
	for _, tr := range c.trans {
		out = append(out, tr.kind)
	}
	return out
}

func (c *fakeConn) ICEState() webrtc.ICEConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeConn) OnICEStateChange(fn func(webrtc.ICEConnectionState)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.unsubCount++
		c.mu.Unlock()
	}
}

func (c *fakeConn) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onCandidate = fn
	c.mu.Unlock()
}

func (c *fakeConn) OnLocalOffer(fn func(webrtc.SessionDescription)) {
	c.mu.Lock()
	c.onLocalOffer = fn
	c.mu.Unlock()
}

func (c *fakeConn) OnTrack(fn func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

// setState fires every subscribed listener, like the transport would.
func (c *fakeConn) setState(s webrtc.ICEConnectionState) {
	c.mu.Lock()
	c.state = s
	subs := make([]func(webrtc.ICEConnectionState), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}

// fakeSignal records outbound signaling.
type fakeSignal struct {
	mu         sync.Mutex
	joins      []core.JoinType
	leaves     int
	offers     []core.OfferPayload
	answers    []core.AnswerPayload
	candidates []core.CandidatesPayload
	flushes    []core.PeerID
	joinErr    error
}

func (s *fakeSignal) AnnounceJoin(_ context.Context, _ core.CallID, jt core.JoinType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joinErr != nil {
		return s.joinErr
	}
	s.joins = append(s.joins, jt)
	return nil
}

func (s *fakeSignal) AnnounceLeave(_ context.Context, _ core.CallID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaves++
	return nil
}

func (s *fakeSignal) SendOffer(_ context.Context, _ core.CallID, _ core.MemberAddr, p core.OfferPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers = append(s.offers, p)
	return nil
}

func (s *fakeSignal) SendAnswer(_ context.Context, _ core.CallID, _ core.MemberAddr, p core.AnswerPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = append(s.answers, p)
	return nil
}

func (s *fakeSignal) SendCandidates(_ context.Context, _ core.CallID, _ core.MemberAddr, p core.CandidatesPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = append(s.candidates, p)
	return nil
}

func (s *fakeSignal) FlushCandidates(_ core.MemberAddr, peer core.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes = append(s.flushes, peer)
}

func (s *fakeSignal) sentAnswers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.answers)
}

func (s *fakeSignal) sentJoins() []core.JoinType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.JoinType, len(s.joins))
	copy(out, s.joins)
	return out
}
