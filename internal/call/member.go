package call

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nmezh/huddle/internal/core"
)

// Member status indicator values surfaced to the presentation side.
const (
	StatusCalling     = "calling"
	StatusUnavailable = "unavailable"
)

// memberHooks are the session-side callbacks a member drives. All hooks are
// invoked without member locks held.
type memberHooks struct {
	onStreaming func(addr core.MemberAddr, peer core.PeerID, streaming bool)
	onStatus    func(addr core.MemberAddr, status string)
	onTrack     func(addr core.MemberAddr, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onGone      func(addr core.MemberAddr)
}

type memberConfig struct {
	addr    core.MemberAddr
	call    core.CallID
	signal  core.SignalSender
	dial    core.ConnFactory
	stream  *LocalStream
	queue   *taskQueue
	timings Timings
	// joinType yields the session's current join type; video attachment is
	// only required when it is not audio-only.
	joinType func() core.JoinType
	// ingress/egress read the current bitrate ceilings from settings.
	ingress func() uint64
	egress  func() uint64
	hooks   memberHooks

	now   func() time.Time
	after func(time.Duration, func()) *Deferred
}

// MemberConnection owns the peer links for one remote participant and runs
// the connect/reconcile/garbage-collect protocol over them. Handshake
// operations are serialized per member address; both ends may race to offer,
// so more than one link can transiently exist until reconciliation converges
// on the streaming one.
type MemberConnection struct {
	cfg     memberConfig
	log     zerolog.Logger
	ctx     context.Context
	qkey    string
	pending *CandidateQueue

	mu               sync.Mutex
	links            map[core.PeerID]*PeerLink
	streamingID      core.PeerID
	lastStreamChange time.Time
	unavailable      *Deferred
	emptyCheck       *Deferred
	removal          *Deferred
	closed           bool

	inflight atomic.Int32
}

func newMemberConnection(ctx context.Context, cfg memberConfig) *MemberConnection {
	if cfg.now == nil {
		cfg.now = time.Now
	}
	if cfg.after == nil {
		cfg.after = Schedule
	}
	m := &MemberConnection{
		cfg:     cfg,
		log:     log.With().Str("module", "call.member").Str("addr", cfg.addr.String()).Logger(),
		ctx:     ctx,
		qkey:    cfg.addr.String() + "#" + uuid.NewString(),
		pending: NewCandidateQueue(),
		links:   make(map[core.PeerID]*PeerLink),
	}
	m.lastStreamChange = cfg.now()
	return m
}

func (m *MemberConnection) Addr() core.MemberAddr { return m.cfg.addr }

// key names this member's serialization lane. It is unique per instance so a
// lane retired by Close cannot come back for a successor member on the same
// address; the session holds at most one live member per address, which keeps
// handshakes for one address serialized regardless.
func (m *MemberConnection) key() string { return m.qkey }

// serialized queues op behind every other handshake operation for this
// member address.
func (m *MemberConnection) serialized(op func()) {
	m.cfg.queue.Do(m.key(), func() {
		m.inflight.Add(1)
		metricHandshakesInflight.Inc()
		defer func() {
			m.inflight.Add(-1)
			metricHandshakesInflight.Dec()
		}()
		op()
	})
}

// Establish starts a caller-side handshake: a fresh peer link whose offer is
// produced by the transport once local tracks are attached.
func (m *MemberConnection) Establish() {
	m.serialized(func() {
		if err := m.establish(); err != nil {
			m.log.Error().Err(err).Msg("establish failed")
		}
	})
}

func (m *MemberConnection) establish() error {
	if m.isClosed() {
		return nil
	}
	id := core.PeerID(uuid.NewString())
	link, err := m.newLink(id)
	if err != nil {
		return err
	}
	m.cfg.hooks.onStatus(m.cfg.addr, StatusCalling)

	// Attaching tracks arms the transport's renegotiation; the resulting
	// offer is shipped from the OnLocalOffer callback. All the handshake does
	// here is start the unavailable timer.
	if err := m.attachTracks(link); err != nil {
		return err
	}
	m.armUnavailable()
	m.log.Debug().Str("peer", string(id)).Msg("establishing link")
	return nil
}

// newLink creates and registers a peer link with all listeners bound.
func (m *MemberConnection) newLink(id core.PeerID) (*PeerLink, error) {
	conn, err := m.cfg.dial()
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	link := newPeerLink(id, m.cfg.addr, conn, m.cfg.now)
	m.bindLink(link)

	m.mu.Lock()
	m.links[id] = link
	m.mu.Unlock()
	metricLinksCreated.Inc()
	return link, nil
}

func (m *MemberConnection) bindLink(link *PeerLink) {
	link.bindStateListener(func(s webrtc.ICEConnectionState) {
		m.handleLinkState(link, s)
	})
	conn := link.Conn()
	conn.OnICECandidate(func(c *webrtc.ICECandidateInit) {
		if c == nil {
			m.cfg.signal.FlushCandidates(m.cfg.addr, link.ID)
			return
		}
		p := core.CandidatesPayload{PeerID: link.ID, Candidates: []webrtc.ICECandidateInit{*c}}
		if err := m.cfg.signal.SendCandidates(m.ctx, m.cfg.call, m.cfg.addr, p); err != nil {
			m.log.Warn().Err(err).Msg("send candidates")
		}
	})
	conn.OnLocalOffer(func(offer webrtc.SessionDescription) {
		m.sendOffer(link, offer)
	})
	conn.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		m.cfg.hooks.onTrack(m.cfg.addr, track, receiver)
	})
}

func (m *MemberConnection) sendOffer(link *PeerLink, offer webrtc.SessionDescription) {
	shaped, err := ShapeBandwidth(offer, m.cfg.ingress())
	if err != nil {
		m.log.Error().Err(err).Msg("shape local offer")
		shaped = offer
	}
	p := core.OfferPayload{PeerID: link.ID, Offer: shaped}
	if err := m.cfg.signal.SendOffer(m.ctx, m.cfg.call, m.cfg.addr, p); err != nil {
		m.log.Warn().Err(err).Str("peer", string(link.ID)).Msg("send offer")
	}
}

func (m *MemberConnection) handleLinkState(link *PeerLink, s webrtc.ICEConnectionState) {
	m.log.Debug().Str("peer", string(link.ID)).Str("ice_state", s.String()).Msg("ICE state")
	if s == webrtc.ICEConnectionStateConnected || s == webrtc.ICEConnectionStateCompleted {
		m.mu.Lock()
		if m.unavailable != nil {
			m.unavailable.Cancel()
			m.unavailable = nil
		}
		m.mu.Unlock()
	}
	m.cfg.hooks.onStatus(m.cfg.addr, s.String())
}

func (m *MemberConnection) armUnavailable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable != nil {
		m.unavailable.Cancel()
	}
	m.unavailable = m.cfg.after(m.cfg.timings.UnavailableAfter, func() {
		m.cfg.hooks.onStatus(m.cfg.addr, StatusUnavailable)
	})
}

// HandleAnswer processes an accept for a previously sent offer.
func (m *MemberConnection) HandleAnswer(p core.AnswerPayload) {
	m.serialized(func() {
		if err := m.handleAnswer(p); err != nil {
			m.log.Error().Err(err).Str("peer", string(p.PeerID)).Msg("accept failed")
		}
	})
}

func (m *MemberConnection) handleAnswer(p core.AnswerPayload) error {
	if m.isClosed() {
		return nil
	}
	m.mu.Lock()
	link, ok := m.links[p.PeerID]
	// The timer guards the live offer; only an answer for a known peer may
	// disarm it.
	if ok && m.unavailable != nil {
		m.unavailable.Cancel()
		m.unavailable = nil
	}
	m.mu.Unlock()
	if !ok {
		// Accept for a rescinded offer: a signaling race, not an error.
		m.log.Warn().Str("peer", string(p.PeerID)).Msg("answer for unknown peer, ignoring")
		return nil
	}

	shaped, err := ShapeBandwidth(p.Answer, m.cfg.egress())
	if err != nil {
		return fmt.Errorf("shape remote answer: %w", err)
	}
	if err := link.Conn().SetRemoteDescription(shaped); err != nil {
		return fmt.Errorf("apply remote answer: %w", err)
	}
	link.markRemoteSet()
	m.replayCandidates(link)
	return nil
}

// HandleOffer processes a callee-side offer: a renegotiation when the peer id
// is known, otherwise a brand new link.
func (m *MemberConnection) HandleOffer(p core.OfferPayload) {
	m.serialized(func() {
		if err := m.handleOffer(p); err != nil {
			m.log.Error().Err(err).Str("peer", string(p.PeerID)).Msg("accept offer failed")
		}
	})
}

func (m *MemberConnection) handleOffer(p core.OfferPayload) error {
	if m.isClosed() {
		return nil
	}
	if p.Offer.Type != webrtc.SDPTypeOffer {
		return fmt.Errorf("%w: got %s", core.ErrNotAnOffer, p.Offer.Type)
	}
	m.mu.Lock()
	link, known := m.links[p.PeerID]
	m.mu.Unlock()

	if !known {
		var err error
		if link, err = m.newLink(p.PeerID); err != nil {
			return err
		}
	}

	shaped, err := ShapeBandwidth(p.Offer, m.cfg.egress())
	if err != nil {
		return fmt.Errorf("shape remote offer: %w", err)
	}
	if err := link.Conn().SetRemoteDescription(shaped); err != nil {
		return fmt.Errorf("apply remote offer: %w", err)
	}
	link.markRemoteSet()

	if !known {
		if err := m.attachTracks(link); err != nil {
			return err
		}
	}
	m.replayCandidates(link)

	answer, err := link.Conn().CreateAnswer()
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	shapedAnswer, err := ShapeBandwidth(answer, m.cfg.ingress())
	if err != nil {
		return fmt.Errorf("shape answer: %w", err)
	}

	// Fire and forget relative to the caller: no acknowledgment is awaited.
	ap := core.AnswerPayload{PeerID: p.PeerID, Answer: shapedAnswer}
	if err := m.cfg.signal.SendAnswer(m.ctx, m.cfg.call, m.cfg.addr, ap); err != nil {
		m.log.Warn().Err(err).Str("peer", string(p.PeerID)).Msg("send answer")
	}
	return nil
}

// HandleCandidates applies remote candidates when the addressed link has its
// remote description, and queues them otherwise. A candidate is never
// discarded.
func (m *MemberConnection) HandleCandidates(p core.CandidatesPayload) {
	m.serialized(func() {
		m.handleCandidates(p)
	})
}

func (m *MemberConnection) handleCandidates(p core.CandidatesPayload) {
	if m.isClosed() {
		return
	}
	m.mu.Lock()
	link, ok := m.links[p.PeerID]
	m.mu.Unlock()

	if !ok || !link.remoteDescriptionSet() {
		m.pending.Enqueue(p.PeerID, p.Candidates)
		metricCandidatesQueued.Add(float64(len(p.Candidates)))
		return
	}
	for _, c := range p.Candidates {
		if err := link.Conn().AddICECandidate(c); err != nil {
			m.log.Warn().Err(err).Str("peer", string(p.PeerID)).Msg("add ice candidate")
		}
	}
}

// replayCandidates drains early-queued candidates for the link and applies
// them in arrival order.
func (m *MemberConnection) replayCandidates(link *PeerLink) {
	cands, ok := m.pending.Drain(link.ID)
	if !ok {
		return
	}
	m.log.Debug().Str("peer", string(link.ID)).Int("count", len(cands)).Msg("replaying queued candidates")
	for _, c := range cands {
		if err := link.Conn().AddICECandidate(c); err != nil {
			m.log.Warn().Err(err).Str("peer", string(link.ID)).Msg("replay ice candidate")
		}
	}
}

// attachTracks adds every enabled outgoing track to the link and backfills a
// receive-only transceiver for each required kind that ended up without a
// send track, so the remote side still has somewhere to send media.
func (m *MemberConnection) attachTracks(link *PeerLink) error {
	if err := link.markTracksAdded(); err != nil {
		return err
	}

	attached := make(map[core.MediaKind]bool)
	for _, t := range m.cfg.stream.Tracks() {
		if !t.Enabled() {
			continue
		}
		if err := link.Conn().AddTrack(t); err != nil {
			return fmt.Errorf("attach %s track: %w", t.Kind(), err)
		}
		attached[t.Kind()] = true
	}

	required := []core.MediaKind{core.KindAudio}
	if m.cfg.joinType() != core.JoinTypeAudio {
		required = append(required, core.KindVideo)
	}
	for _, kind := range required {
		if attached[kind] || m.hasRecvTransceiver(link, kind) {
			continue
		}
		if err := link.Conn().AddRecvTransceiver(kind); err != nil {
			return fmt.Errorf("add %s recv transceiver: %w", kind, err)
		}
	}
	return nil
}

func (m *MemberConnection) hasRecvTransceiver(link *PeerLink, kind core.MediaKind) bool {
	for _, tr := range link.Conn().Transceivers() {
		if tr.Kind() == kind && tr.CanRecv() {
			return true
		}
	}
	return false
}

// ReplaceTrack swaps the outgoing track of t's kind on every transceiver of
// every link and returns how many transceivers matched. The session treats a
// zero total across all members as an invariant violation.
func (m *MemberConnection) ReplaceTrack(t core.LocalTrack) int {
	replaced := 0
	for _, link := range m.snapshotLinks() {
		for _, tr := range link.Conn().Transceivers() {
			if tr.Kind() != t.Kind() {
				continue
			}
			if err := tr.ReplaceSendTrack(t); err != nil {
				m.log.Warn().Err(err).Str("peer", string(link.ID)).Msg("replace track")
				continue
			}
			replaced++
		}
	}
	return replaced
}

// Reconcile runs one pass of the per-member repair loop. Destructive
// follow-ups are scheduled behind a randomized delay with at most one removal
// in flight, so racing ends do not flap in lockstep and in-flight connections
// get a chance to finish.
func (m *MemberConnection) Reconcile() {
	if m.isClosed() {
		return
	}
	links := m.snapshotLinks()

	if len(links) == 0 {
		m.mu.Lock()
		if m.emptyCheck == nil {
			m.emptyCheck = m.cfg.after(m.cfg.timings.jitter(), m.recheckEmpty)
		}
		m.mu.Unlock()
		return
	}

	var connected []*PeerLink
	for _, l := range links {
		if l.Connected() {
			connected = append(connected, l)
		}
	}

	if len(connected) > 0 && !m.streamingConnected() {
		m.bindNewestStreaming(connected)
	}

	if len(connected) > 1 {
		m.scheduleRemoval(m.removeSurplus)
		return
	}

	for _, l := range links {
		if l.Stale(m.cfg.timings.StaleAfter) {
			id := l.ID
			m.scheduleRemoval(func() { m.reapStale(id) })
			break
		}
	}
}

func (m *MemberConnection) streamingConnected() bool {
	m.mu.Lock()
	link, ok := m.links[m.streamingID]
	m.mu.Unlock()
	return ok && link.Connected()
}

// bindNewestStreaming marks the most recently added connected link as the one
// supplying rendered media.
func (m *MemberConnection) bindNewestStreaming(connected []*PeerLink) {
	newest := connected[0]
	for _, l := range connected[1:] {
		if l.AddedAt().After(newest.AddedAt()) {
			newest = l
		}
	}

	m.mu.Lock()
	prev := m.streamingID
	m.streamingID = newest.ID
	m.lastStreamChange = m.cfg.now()
	m.mu.Unlock()

	if prev != "" && prev != newest.ID {
		m.cfg.hooks.onStreaming(m.cfg.addr, prev, false)
	}
	m.log.Debug().Str("peer", string(newest.ID)).Msg("streaming link bound")
	m.cfg.hooks.onStreaming(m.cfg.addr, newest.ID, true)
}

func (m *MemberConnection) scheduleRemoval(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removal != nil || m.closed {
		return
	}
	m.removal = m.cfg.after(m.cfg.timings.jitter(), fn)
}

// recheckEmpty fires after the randomized delay when no links existed: either
// the member is dropped (nothing restored within GoneAfter of the last stream
// change) or a fresh establish is attempted.
func (m *MemberConnection) recheckEmpty() {
	m.mu.Lock()
	m.emptyCheck = nil
	empty := len(m.links) == 0
	last := m.lastStreamChange
	closed := m.closed
	m.mu.Unlock()
	if closed || !empty {
		return
	}
	if m.cfg.now().Sub(last) > m.cfg.timings.GoneAfter {
		m.log.Info().Msg("no link restored, dropping member")
		m.cfg.hooks.onGone(m.cfg.addr)
		return
	}
	m.Establish()
}

// removeSurplus discards one redundant connected link, keeping the streaming
// one. One removal per cycle keeps the visible stream uninterrupted.
func (m *MemberConnection) removeSurplus() {
	m.mu.Lock()
	m.removal = nil
	var victim *PeerLink
	connectedCount := 0
	for id, l := range m.links {
		if !l.Connected() {
			continue
		}
		connectedCount++
		if id == m.streamingID {
			continue
		}
		if victim == nil || l.AddedAt().Before(victim.AddedAt()) {
			victim = l
		}
	}
	if connectedCount < 2 || victim == nil {
		m.mu.Unlock()
		return
	}
	delete(m.links, victim.ID)
	m.mu.Unlock()

	m.log.Debug().Str("peer", string(victim.ID)).Msg("removing surplus link")
	victim.close()
	metricLinksReaped.WithLabelValues("surplus").Inc()
}

// reapStale closes a link that stayed unconnected past the staleness window,
// unless it connected while the removal was pending.
func (m *MemberConnection) reapStale(id core.PeerID) {
	m.mu.Lock()
	m.removal = nil
	link, ok := m.links[id]
	if !ok || link.Connected() {
		m.mu.Unlock()
		return
	}
	wasStreaming := id == m.streamingID
	if wasStreaming {
		m.streamingID = ""
		m.lastStreamChange = m.cfg.now()
	}
	delete(m.links, id)
	m.mu.Unlock()

	// The rendered stream is cleared before the link goes away.
	if wasStreaming {
		m.cfg.hooks.onStreaming(m.cfg.addr, id, false)
	}
	m.log.Debug().Str("peer", string(id)).Msg("reaping stale link")
	link.close()
	metricLinksReaped.WithLabelValues("stale").Inc()
}

func (m *MemberConnection) snapshotLinks() []*PeerLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*PeerLink, 0, len(m.links))
	for _, l := range m.links {
		out = append(out, l)
	}
	return out
}

// LinkCount reports how many links the member currently owns.
func (m *MemberConnection) LinkCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links)
}

// StreamingPeer returns the peer id of the streaming link, if any.
func (m *MemberConnection) StreamingPeer() (core.PeerID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamingID, m.streamingID != ""
}

func (m *MemberConnection) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close tears the member down: timers cancelled, links closed, the serialized
// worker retired. The streaming link is unbound before its connection closes.
func (m *MemberConnection) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, d := range []*Deferred{m.unavailable, m.emptyCheck, m.removal} {
		if d != nil {
			d.Cancel()
		}
	}
	links := make([]*PeerLink, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	m.links = make(map[core.PeerID]*PeerLink)
	streaming := m.streamingID
	m.streamingID = ""
	m.mu.Unlock()

	if streaming != "" {
		m.cfg.hooks.onStreaming(m.cfg.addr, streaming, false)
	}
	for _, l := range links {
		l.close()
	}
	m.cfg.queue.Drop(m.key())
}
