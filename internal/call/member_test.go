package call

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmezh/huddle/internal/core"
)

type streamingEvent struct {
	peer core.PeerID
	on   bool
}

type hookLog struct {
	mu        sync.Mutex
	statuses  []string
	streaming []streamingEvent
	gone      atomic.Int32
}

func (h *hookLog) onStreaming(_ core.MemberAddr, peer core.PeerID, on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.streaming = append(h.streaming, streamingEvent{peer: peer, on: on})
}

func (h *hookLog) onStatus(_ core.MemberAddr, status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses = append(h.statuses, status)
}

func (h *hookLog) statusSeen(status string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.statuses {
		if s == status {
			return true
		}
	}
	return false
}

func (h *hookLog) streamingEvents() []streamingEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]streamingEvent, len(h.streaming))
	copy(out, h.streaming)
	return out
}

type memberEnv struct {
	clock  *manualClock
	queue  *taskQueue
	signal *fakeSignal
	hooks  *hookLog
	stream *LocalStream
	member *MemberConnection

	mu    sync.Mutex
	conns []*fakeConn
}

func testTimings() Timings {
	t := DefaultTimings()
	t.JitterMin = 5 * time.Millisecond
	t.JitterMax = 5 * time.Millisecond
	t.UnavailableAfter = time.Minute
	return t
}

func newMemberEnv(t *testing.T, jt core.JoinType, timings Timings, tracks ...core.LocalTrack) *memberEnv {
	t.Helper()
	env := &memberEnv{
		clock:  newManualClock(),
		queue:  newTaskQueue(),
		signal: &fakeSignal{},
		hooks:  &hookLog{},
		stream: NewLocalStream(tracks),
	}
	t.Cleanup(env.queue.Close)

	env.member = newMemberConnection(context.Background(), memberConfig{
		addr:     testAddr("remote", "dev"),
		call:     core.CallID("call-1"),
		signal:   env.signal,
		dial:     env.dial,
		stream:   env.stream,
		queue:    env.queue,
		timings:  timings,
		joinType: func() core.JoinType { return jt },
		ingress:  func() uint64 { return 0 },
		egress:   func() uint64 { return 0 },
		hooks: memberHooks{
			onStreaming: env.hooks.onStreaming,
			onStatus:    env.hooks.onStatus,
			onTrack:     func(core.MemberAddr, *webrtc.TrackRemote, *webrtc.RTPReceiver) {},
			onGone:      func(core.MemberAddr) { env.hooks.gone.Add(1) },
		},
		now: env.clock.Now,
	})
	return env
}

func (e *memberEnv) dial() (core.RTCConn, error) {
	conn := newFakeConn()
	e.mu.Lock()
	e.conns = append(e.conns, conn)
	e.mu.Unlock()
	return conn, nil
}

func (e *memberEnv) conn(i int) *fakeConn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conns[i]
}

func (e *memberEnv) connCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.conns)
}

// sync waits for every queued handshake operation to finish.
func (e *memberEnv) sync() {
	done := make(chan struct{})
	e.queue.Do(e.member.key(), func() { close(done) })
	<-done
}

func kindsOf(conn *fakeConn) map[core.MediaKind]int {
	out := make(map[core.MediaKind]int)
	for _, k := range conn.transceiverKinds() {
		out[k]++
	}
	return out
}

func TestMemberEstablishAttachesTracksAndBackfillsRecv(t *testing.T) {
	audio := newFakeTrack("a1", core.KindAudio)
	env := newMemberEnv(t, core.JoinTypeVideo, testTimings(), audio)

	env.member.Establish()
	env.sync()

	require.Equal(t, 1, env.connCount())
	kinds := kindsOf(env.conn(0))
	assert.Equal(t, 1, kinds[core.KindAudio], "audio sent from the local track")
	assert.Equal(t, 1, kinds[core.KindVideo], "video backfilled receive-only")
	assert.True(t, env.hooks.statusSeen(StatusCalling))
	assert.Equal(t, 1, env.member.LinkCount())
}

func TestMemberEstablishSkipsDisabledTracks(t *testing.T) {
	audio := newFakeTrack("a1", core.KindAudio)
	video := newFakeTrack("v1", core.KindVideo)
	video.SetEnabled(false)
	env := newMemberEnv(t, core.JoinTypeVideo, testTimings(), audio, video)

	env.member.Establish()
	env.sync()

	conn := env.conn(0)
	kinds := kindsOf(conn)
	assert.Equal(t, 1, kinds[core.KindVideo])
	for _, tr := range conn.trans {
		if tr.kind == core.KindVideo {
			assert.Nil(t, tr.sent, "disabled video must not be attached, only received")
		}
	}
}

func TestMemberAudioOnlyJoinSkipsVideoBackfill(t *testing.T) {
	audio := newFakeTrack("a1", core.KindAudio)
	env := newMemberEnv(t, core.JoinTypeAudio, testTimings(), audio)

	env.member.Establish()
	env.sync()

	kinds := kindsOf(env.conn(0))
	assert.Equal(t, 1, kinds[core.KindAudio])
	assert.Zero(t, kinds[core.KindVideo])
}

func TestMemberHandleOfferCreatesLinkAndAnswers(t *testing.T) {
	env := newMemberEnv(t, core.JoinTypeVideo, testTimings(), newFakeTrack("a1", core.KindAudio))

	env.member.HandleOffer(core.OfferPayload{
		PeerID: core.PeerID("their-peer"),
		Offer:  webrtc.SessionDescription{Type: webrtc.SDPTypeOffer},
	})
	env.sync()

	require.Equal(t, 1, env.connCount())
	assert.Equal(t, 1, env.conn(0).remoteCount())
	assert.Equal(t, 1, env.signal.sentAnswers())
	assert.Equal(t, 1, env.member.LinkCount())
}

func TestMemberHandleOfferRejectsNonOffer(t *testing.T) {
	env := newMemberEnv(t, core.JoinTypeVideo, testTimings())

	err := env.member.handleOffer(core.OfferPayload{
		PeerID: core.PeerID("their-peer"),
		Offer:  webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer},
	})

	assert.ErrorIs(t, err, core.ErrNotAnOffer)
	assert.Zero(t, env.signal.sentAnswers())
	assert.Zero(t, env.member.LinkCount(), "a rejected payload must not leave a link behind")
}

func TestMemberAnswerForUnknownPeerIgnored(t *testing.T) {
	env := newMemberEnv(t, core.JoinTypeVideo, testTimings())

	env.member.HandleAnswer(core.AnswerPayload{
		PeerID: core.PeerID("nope"),
		Answer: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer},
	})
	env.sync()

	assert.Zero(t, env.connCount())
}

func TestMemberCandidatesQueuedUntilRemoteSet(t *testing.T) {
	env := newMemberEnv(t, core.JoinTypeVideo, testTimings(), newFakeTrack("a1", core.KindAudio))

	env.member.Establish()
	env.sync()
	peer := env.member.snapshotLinks()[0].ID

	env.member.HandleCandidates(core.CandidatesPayload{
		PeerID:     peer,
		Candidates: []webrtc.ICECandidateInit{cand("c1"), cand("c2")},
	})
	env.sync()

	assert.Empty(t, env.conn(0).addedCandidates(), "no remote description yet")
	assert.Equal(t, 1, env.member.pending.Len())

	env.member.HandleAnswer(core.AnswerPayload{
		PeerID: peer,
		Answer: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer},
	})
	env.sync()

	got := env.conn(0).addedCandidates()
	require.Len(t, got, 2)
	assert.Equal(t, "c1", got[0].Candidate)
	assert.Equal(t, "c2", got[1].Candidate)
	assert.Zero(t, env.member.pending.Len())
}

func TestMemberCandidatesAppliedOnceRemoteSet(t *testing.T) {
	env := newMemberEnv(t, core.JoinTypeVideo, testTimings())
	peer := core.PeerID("their-peer")

	env.member.HandleOffer(core.OfferPayload{
		PeerID: peer,
		Offer:  webrtc.SessionDescription{Type: webrtc.SDPTypeOffer},
	})
	env.member.HandleCandidates(core.CandidatesPayload{
		PeerID:     peer,
		Candidates: []webrtc.ICECandidateInit{cand("c1")},
	})
	env.sync()

	got := env.conn(0).addedCandidates()
	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0].Candidate)
}

func TestMemberReplaceTrackCountsMatches(t *testing.T) {
	audio := newFakeTrack("a1", core.KindAudio)
	video := newFakeTrack("v1", core.KindVideo)
	env := newMemberEnv(t, core.JoinTypeVideo, testTimings(), audio, video)

	env.member.Establish()
	env.member.HandleOffer(core.OfferPayload{
		PeerID: core.PeerID("their-peer"),
		Offer:  webrtc.SessionDescription{Type: webrtc.SDPTypeOffer},
	})
	env.sync()

	replaced := env.member.ReplaceTrack(newFakeTrack("v2", core.KindVideo))
	assert.Equal(t, 2, replaced, "one video transceiver per link")

	replaced = env.member.ReplaceTrack(newFakeTrack("a2", core.KindAudio))
	assert.Equal(t, 2, replaced)
}

func TestMemberUnmuteAfterMutedJoinStartsSendingVideo(t *testing.T) {
	audio := newFakeTrack("a1", core.KindAudio)
	video := newFakeTrack("v1", core.KindVideo)
	video.SetEnabled(false)
	env := newMemberEnv(t, core.JoinTypeVideo, testTimings(), audio, video)

	env.member.Establish()
	env.sync()

	// Joining muted leaves only the receive-only backfill for video.
	var videoTr *fakeTransceiver
	for _, tr := range env.conn(0).trans {
		if tr.kind == core.KindVideo {
			videoTr = tr
		}
	}
	require.NotNil(t, videoTr)
	_, sending := videoTr.sending()
	require.False(t, sending)

	video.SetEnabled(true)
	replaced := env.member.ReplaceTrack(video)
	require.Equal(t, 1, replaced, "the receive-only backfill must take the send track")

	sent, sending := videoTr.sending()
	assert.True(t, sending, "the transceiver must send after the unmute")
	assert.Same(t, video, sent)
}

func TestMemberReconcileBindsNewestConnectedAndRemovesSurplus(t *testing.T) {
	env := newMemberEnv(t, core.JoinTypeVideo, testTimings(), newFakeTrack("a1", core.KindAudio))

	env.member.Establish()
	env.sync()
	env.clock.Advance(time.Second)
	env.member.HandleOffer(core.OfferPayload{
		PeerID: core.PeerID("their-peer"),
		Offer:  webrtc.SessionDescription{Type: webrtc.SDPTypeOffer},
	})
	env.sync()
	require.Equal(t, 2, env.member.LinkCount())

	env.conn(0).setState(webrtc.ICEConnectionStateConnected)
	env.conn(1).setState(webrtc.ICEConnectionStateConnected)

	env.member.Reconcile()

	peer, ok := env.member.StreamingPeer()
	require.True(t, ok)
	assert.Equal(t, core.PeerID("their-peer"), peer, "newest connected link streams")

	// The surplus link goes away after the jittered delay, streaming stays.
	require.Eventually(t, func() bool { return env.member.LinkCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, env.conn(0).isClosed())
	assert.False(t, env.conn(1).isClosed())
	peer, ok = env.member.StreamingPeer()
	require.True(t, ok)
	assert.Equal(t, core.PeerID("their-peer"), peer)
}

func TestMemberReconcileReapsStaleLink(t *testing.T) {
	env := newMemberEnv(t, core.JoinTypeVideo, testTimings(), newFakeTrack("a1", core.KindAudio))

	env.member.Establish()
	env.sync()
	env.clock.Advance(31 * time.Second)

	env.member.Reconcile()

	require.Eventually(t, func() bool { return env.member.LinkCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, env.conn(0).isClosed())
}

func TestMemberReapSkipsLinkThatReconnected(t *testing.T) {
	env := newMemberEnv(t, core.JoinTypeVideo, testTimings(), newFakeTrack("a1", core.KindAudio))

	env.member.Establish()
	env.sync()
	env.clock.Advance(31 * time.Second)

	env.member.Reconcile()
	// The link connects while the removal is pending; the reap must back off.
	env.conn(0).setState(webrtc.ICEConnectionStateConnected)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, env.member.LinkCount())
	assert.False(t, env.conn(0).isClosed())
}

func TestMemberStreamingUnboundBeforeStaleClose(t *testing.T) {
	env := newMemberEnv(t, core.JoinTypeVideo, testTimings(), newFakeTrack("a1", core.KindAudio))

	env.member.Establish()
	env.sync()
	conn := env.conn(0)
	conn.setState(webrtc.ICEConnectionStateConnected)
	env.member.Reconcile()
	peer, ok := env.member.StreamingPeer()
	require.True(t, ok)

	// When the close happens, the unbind notification must already be out.
	var unboundAtClose atomic.Bool
	conn.mu.Lock()
	conn.closeHook = func() {
		events := env.hooks.streamingEvents()
		if len(events) > 0 && !events[len(events)-1].on {
			unboundAtClose.Store(true)
		}
	}
	conn.mu.Unlock()

	conn.setState(webrtc.ICEConnectionStateDisconnected)
	env.clock.Advance(31 * time.Second)
	env.member.Reconcile()

	require.Eventually(t, func() bool { return env.member.LinkCount() == 0 }, time.Second, 5*time.Millisecond)

	events := env.hooks.streamingEvents()
	require.NotEmpty(t, events)
	assert.Equal(t, streamingEvent{peer: peer, on: false}, events[len(events)-1])
	assert.True(t, unboundAtClose.Load(), "stream must be unbound before the connection closes")
	_, ok = env.member.StreamingPeer()
	assert.False(t, ok)
}

func TestMemberDroppedAfterGoneWindow(t *testing.T) {
	env := newMemberEnv(t, core.JoinTypeVideo, testTimings())

	env.clock.Advance(61 * time.Second)
	env.member.Reconcile()

	require.Eventually(t, func() bool { return env.hooks.gone.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestMemberReestablishesBeforeGoneWindow(t *testing.T) {
	env := newMemberEnv(t, core.JoinTypeVideo, testTimings(), newFakeTrack("a1", core.KindAudio))

	env.clock.Advance(10 * time.Second)
	env.member.Reconcile()

	require.Eventually(t, func() bool { return env.member.LinkCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, env.hooks.gone.Load())
	assert.True(t, env.hooks.statusSeen(StatusCalling))
}

func TestMemberUnavailableFiresWithoutAnswer(t *testing.T) {
	timings := testTimings()
	timings.UnavailableAfter = 20 * time.Millisecond
	env := newMemberEnv(t, core.JoinTypeVideo, timings, newFakeTrack("a1", core.KindAudio))

	env.member.Establish()
	env.sync()

	require.Eventually(t, func() bool { return env.hooks.statusSeen(StatusUnavailable) }, time.Second, 5*time.Millisecond)
}

func TestMemberStaleAnswerKeepsUnavailableTimer(t *testing.T) {
	timings := testTimings()
	timings.UnavailableAfter = 30 * time.Millisecond
	env := newMemberEnv(t, core.JoinTypeVideo, timings, newFakeTrack("a1", core.KindAudio))

	env.member.Establish()
	env.sync()

	// An accept for a rescinded offer must not disarm the live offer's timer.
	env.member.HandleAnswer(core.AnswerPayload{
		PeerID: core.PeerID("rescinded"),
		Answer: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer},
	})
	env.sync()

	require.Eventually(t, func() bool { return env.hooks.statusSeen(StatusUnavailable) }, time.Second, 5*time.Millisecond)
}

func TestMemberCloseUnbindsStreamingAndClosesLinks(t *testing.T) {
	env := newMemberEnv(t, core.JoinTypeVideo, testTimings(), newFakeTrack("a1", core.KindAudio))

	env.member.Establish()
	env.sync()
	env.conn(0).setState(webrtc.ICEConnectionStateConnected)
	env.member.Reconcile()
	peer, ok := env.member.StreamingPeer()
	require.True(t, ok)

	env.member.Close()

	assert.True(t, env.conn(0).isClosed())
	events := env.hooks.streamingEvents()
	require.NotEmpty(t, events)
	assert.Equal(t, streamingEvent{peer: peer, on: false}, events[len(events)-1])

	// A closed member ignores late signaling.
	env.member.HandleOffer(core.OfferPayload{
		PeerID: core.PeerID("late"),
		Offer:  webrtc.SessionDescription{Type: webrtc.SDPTypeOffer},
	})
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, env.member.LinkCount())
}

func TestMemberLateSignalingAfterCloseLeavesNoWorker(t *testing.T) {
	env := newMemberEnv(t, core.JoinTypeVideo, testTimings(), newFakeTrack("a1", core.KindAudio))

	env.member.Establish()
	env.sync()
	require.Equal(t, 1, env.queue.workerCount())

	env.member.Close()
	assert.Zero(t, env.queue.workerCount())

	// A serialized call racing the close must not bring the worker back.
	env.member.HandleOffer(core.OfferPayload{
		PeerID: core.PeerID("late"),
		Offer:  webrtc.SessionDescription{Type: webrtc.SDPTypeOffer},
	})
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, env.queue.workerCount())
	assert.Zero(t, env.member.LinkCount())
}
