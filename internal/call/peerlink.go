package call

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/nmezh/huddle/internal/core"
)

// PeerLink wraps one underlying peer connection with identity, timestamps and
// the liveness predicates driving garbage collection. A link is exclusively
// owned by its member and never shared.
type PeerLink struct {
	ID   core.PeerID
	Addr core.MemberAddr

	conn core.RTCConn
	now  func() time.Time

	mu          sync.Mutex
	iceState    webrtc.ICEConnectionState
	addedAt     time.Time
	connectedAt time.Time
	remoteSet   bool
	tracksAdded bool

	unsubOnce   sync.Once
	unsubscribe func()
}

func newPeerLink(id core.PeerID, addr core.MemberAddr, conn core.RTCConn, now func() time.Time) *PeerLink {
	return &PeerLink{
		ID:       id,
		Addr:     addr,
		conn:     conn,
		now:      now,
		iceState: webrtc.ICEConnectionStateNew,
		addedAt:  now(),
	}
}

// Conn exposes the underlying transport connection.
func (l *PeerLink) Conn() core.RTCConn { return l.conn }

// bindStateListener subscribes to ICE state updates, mirroring them into the
// link and forwarding to fn. The transport's disposer is kept for teardown.
func (l *PeerLink) bindStateListener(fn func(webrtc.ICEConnectionState)) {
	unsubscribe := l.conn.OnICEStateChange(func(s webrtc.ICEConnectionState) {
		l.observeICEState(s)
		if fn != nil {
			fn(s)
		}
	})
	l.mu.Lock()
	l.unsubscribe = unsubscribe
	l.mu.Unlock()
}

func (l *PeerLink) observeICEState(s webrtc.ICEConnectionState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.iceState = s
	if (s == webrtc.ICEConnectionStateConnected || s == webrtc.ICEConnectionStateCompleted) &&
		l.connectedAt.IsZero() {
		l.connectedAt = l.now()
	}
}

func (l *PeerLink) ICEState() webrtc.ICEConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.iceState
}

// Connected is true while the transport reports connected or completed.
func (l *PeerLink) Connected() bool {
	s := l.ICEState()
	return s == webrtc.ICEConnectionStateConnected || s == webrtc.ICEConnectionStateCompleted
}

// Stale is true when the link is not connected and has made no progress for
// longer than staleAfter, counted from the later of its creation and its last
// observed connection. This is the sole staleness signal the reconciler uses.
func (l *PeerLink) Stale(staleAfter time.Duration) bool {
	if l.Connected() {
		return false
	}
	l.mu.Lock()
	since := l.addedAt
	if l.connectedAt.After(since) {
		since = l.connectedAt
	}
	l.mu.Unlock()
	return l.now().Sub(since) > staleAfter
}

func (l *PeerLink) AddedAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addedAt
}

// markRemoteSet flags that the remote description has been applied; early
// candidates become applicable from this point.
func (l *PeerLink) markRemoteSet() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remoteSet = true
}

func (l *PeerLink) remoteDescriptionSet() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remoteSet
}

// markTracksAdded flags the one-shot track attachment; attaching twice to the
// same link is a protocol invariant violation.
func (l *PeerLink) markTracksAdded() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tracksAdded {
		return core.ErrTracksAlreadyAdded
	}
	l.tracksAdded = true
	return nil
}

// close tears the link down: the state listener is disposed exactly once and
// the transport connection is closed with all its receivers.
func (l *PeerLink) close() {
	l.unsubOnce.Do(func() {
		l.mu.Lock()
		unsubscribe := l.unsubscribe
		l.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
	})
	if err := l.conn.Close(); err != nil {
		log.Warn().Err(err).Str("module", "call.link").Str("peer", string(l.ID)).Msg("close peer connection")
	}
}
