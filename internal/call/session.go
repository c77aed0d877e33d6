package call

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nmezh/huddle/internal/core"
)

// Join lifecycle states.
const (
	StateNotJoined = "not-joined"
	StateJoining   = "joining"
	StateJoined    = "joined"
	StateLeaving   = "leaving"
)

// SessionConfig wires a CallSession to its collaborators.
type SessionConfig struct {
	Call     core.CallID
	Local    core.MemberAddr
	Signal   core.SignalSender
	Media    core.MediaSource
	Surface  core.Surface
	Settings core.Settings
	Loudness core.LoudnessMonitor
	Dial     core.ConnFactory
	Timings  Timings

	// Now and After are injectable for tests; nil means real time.
	Now   func() time.Time
	After func(time.Duration, func()) *Deferred
}

type invite struct {
	video bool
	at    time.Time
}

// CallSession owns the member set and the local outgoing stream for one
// call. Signaling messages are routed to the addressed member; liveness
// results flow back up to drive presenter selection and membership changes.
type CallSession struct {
	cfg SessionConfig
	log zerolog.Logger

	state *fsm.FSM
	queue *taskQueue

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	members      map[core.MemberAddr]*MemberConnection
	prejoin      map[core.MemberAddr][]core.CandidatesPayload
	stream       *LocalStream
	joinType     core.JoinType
	screenShare  bool
	invites      map[core.MemberAddr]*invite
	inviteExpiry *Deferred
	presenter    PresenterSelector
	current      core.MemberAddr
	currentSince time.Time
	pinned       core.MemberAddr
	silenced     map[core.MemberAddr]bool
	videoSeen    map[core.MemberAddr]bool
	destroying   bool
}

// NewCallSession creates a session and starts its reconciliation and
// presenter loops. The session lives until Close.
func NewCallSession(ctx context.Context, cfg SessionConfig) *CallSession {
	if cfg.Timings == (Timings{}) {
		cfg.Timings = DefaultTimings()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.After == nil {
		cfg.After = Schedule
	}

	s := &CallSession{
		cfg:       cfg,
		log:       log.With().Str("module", "call.session").Str("call", string(cfg.Call)).Logger(),
		queue:     newTaskQueue(),
		members:   make(map[core.MemberAddr]*MemberConnection),
		prejoin:   make(map[core.MemberAddr][]core.CandidatesPayload),
		invites:   make(map[core.MemberAddr]*invite),
		silenced:  make(map[core.MemberAddr]bool),
		videoSeen: make(map[core.MemberAddr]bool),
		stream:    NewLocalStream(nil),
		presenter: PresenterSelector{
			Margin: cfg.Timings.DethroneMargin,
			Hold:   cfg.Timings.PresenterHold,
		},
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.state = fsm.NewFSM(
		StateNotJoined,
		fsm.Events{
			{Name: "join", Src: []string{StateNotJoined}, Dst: StateJoining},
			{Name: "joined", Src: []string{StateJoining}, Dst: StateJoined},
			{Name: "abort", Src: []string{StateJoining}, Dst: StateNotJoined},
			{Name: "leave", Src: []string{StateJoined}, Dst: StateLeaving},
			{Name: "left", Src: []string{StateLeaving}, Dst: StateNotJoined},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				s.log.Debug().Str("from", e.Src).Str("to", e.Dst).Str("event", e.Event).Msg("join state")
			},
		},
	)

	go s.reconcileLoop()
	go s.presenterLoop()
	return s
}

// State returns the current join state.
func (s *CallSession) State() string { return s.state.Current() }

// Stream exposes the local outgoing stream.
func (s *CallSession) Stream() *LocalStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// Join announces the local side into the call. A second Join while one is in
// flight is a no-op (last-writer protection, not queued); the joining state
// is cleared on every path before returning.
func (s *CallSession) Join(ctx context.Context, jt core.JoinType) error {
	if err := s.state.Event(ctx, "join"); err != nil {
		s.log.Debug().Str("state", s.state.Current()).Msg("join ignored")
		return nil
	}

	s.mu.Lock()
	s.joinType = jt
	empty := len(s.stream.Tracks()) == 0
	s.mu.Unlock()

	if empty {
		s.acquireStream(ctx)
	}
	if jt == core.JoinTypeAudio {
		for _, t := range s.Stream().StripKind(core.KindVideo) {
			_ = t.Stop()
		}
	}

	if err := s.cfg.Signal.AnnounceJoin(ctx, s.cfg.Call, jt); err != nil {
		_ = s.state.Event(ctx, "abort")
		return err
	}
	_ = s.state.Event(ctx, "joined")
	s.clearInvites(false)
	s.log.Info().Str("type", string(jt)).Msg("joined call")
	return nil
}

// Leave departs the call: every member view is torn down and, unless the
// session is being destroyed, the outgoing stream is rebuilt from current
// device settings. A Leave while not joined or already leaving is a no-op.
func (s *CallSession) Leave(ctx context.Context) error {
	return s.leave(ctx, false)
}

func (s *CallSession) leave(ctx context.Context, destroying bool) error {
	if err := s.state.Event(ctx, "leave"); err != nil {
		return nil
	}

	if err := s.cfg.Signal.AnnounceLeave(ctx, s.cfg.Call); err != nil {
		s.log.Warn().Err(err).Msg("announce leave")
	}

	s.mu.Lock()
	members := s.members
	s.members = make(map[core.MemberAddr]*MemberConnection)
	s.prejoin = make(map[core.MemberAddr][]core.CandidatesPayload)
	s.current = core.MemberAddr{}
	s.pinned = core.MemberAddr{}
	s.mu.Unlock()

	for addr, m := range members {
		m.Close()
		s.cfg.Loudness.Detach(addr)
		s.cfg.Surface.MemberRemoved(addr)
	}

	if !destroying {
		s.rebuildStream(ctx)
	}
	_ = s.state.Event(ctx, "left")
	s.log.Info().Msg("left call")
	return nil
}

// Reannounce repeats the join announcement. Called after a signaling
// reconnect so the other members re-learn the local presence.
func (s *CallSession) Reannounce(ctx context.Context) {
	if s.state.Current() != StateJoined {
		return
	}
	if err := s.cfg.Signal.AnnounceJoin(ctx, s.cfg.Call, s.currentJoinType()); err != nil {
		s.log.Warn().Err(err).Msg("reannounce join")
	}
}

// Close destroys the session: leaves the call if joined and stops the
// outgoing stream for good.
func (s *CallSession) Close() {
	s.mu.Lock()
	if s.destroying {
		s.mu.Unlock()
		return
	}
	s.destroying = true
	if s.inviteExpiry != nil {
		s.inviteExpiry.Cancel()
	}
	s.mu.Unlock()

	_ = s.leave(context.Background(), true)
	s.cancel()
	s.queue.Close()
	s.Stream().StopAll()
	s.log.Info().Msg("session closed")
}

// --- inbound signaling (core.SignalHandler) ---

// HandleJoin processes a remote join announcement: a membership event while
// joined, an incoming-call invitation otherwise.
func (s *CallSession) HandleJoin(from core.MemberAddr, p core.JoinPayload) {
	if from == s.cfg.Local {
		return
	}
	if s.state.Current() != StateJoined {
		s.addInvite(from, p.Type)
		return
	}
	if err := s.addMember(from); err != nil {
		s.log.Error().Err(err).Str("addr", from.String()).Msg("add member")
	}
}

// HandleLeave removes the member view. A leave for an address we no longer
// track is a signaling race and is ignored.
func (s *CallSession) HandleLeave(from core.MemberAddr) {
	s.mu.Lock()
	_, known := s.members[from]
	delete(s.invites, from)
	s.mu.Unlock()
	if !known {
		s.log.Debug().Str("addr", from.String()).Msg("leave for detached member, ignoring")
		return
	}
	s.dropMember(from)
}

// HandleOffer routes an offer to the addressed member. An offer from an
// address we have not seen a join for yet means the announcements raced; the
// member is created on demand, the way it would have been by the join.
func (s *CallSession) HandleOffer(from core.MemberAddr, p core.OfferPayload) {
	if s.state.Current() != StateJoined {
		s.log.Debug().Str("addr", from.String()).Msg("offer while not joined, ignoring")
		return
	}
	m, ok := s.member(from)
	if !ok {
		s.log.Info().Str("addr", from.String()).Msg("offer from unannounced member, adding")
		if err := s.addMember(from); err != nil {
			s.log.Error().Err(err).Str("addr", from.String()).Msg("add member for offer")
			return
		}
		m, _ = s.member(from)
	}
	m.HandleOffer(p)
}

func (s *CallSession) HandleAnswer(from core.MemberAddr, p core.AnswerPayload) {
	m, ok := s.member(from)
	if !ok {
		s.log.Debug().Str("addr", from.String()).Msg("answer for unknown member, ignoring")
		return
	}
	m.HandleAnswer(p)
}

// HandleCandidates routes candidates to the addressed member; candidates for
// a member that does not exist yet are buffered and handed over when it does.
func (s *CallSession) HandleCandidates(from core.MemberAddr, p core.CandidatesPayload) {
	m, ok := s.member(from)
	if ok {
		m.HandleCandidates(p)
		return
	}
	s.mu.Lock()
	s.prejoin[from] = append(s.prejoin[from], p)
	s.mu.Unlock()
	s.log.Debug().Str("addr", from.String()).Str("peer", string(p.PeerID)).Msg("buffering candidates for unknown member")
}

// --- membership ---

func (s *CallSession) member(addr core.MemberAddr) (*MemberConnection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[addr]
	return m, ok
}

func (s *CallSession) addMember(addr core.MemberAddr) error {
	s.mu.Lock()
	if _, ok := s.members[addr]; ok {
		s.mu.Unlock()
		return core.ErrDuplicateMember
	}
	m := newMemberConnection(s.ctx, memberConfig{
		addr:     addr,
		call:     s.cfg.Call,
		signal:   s.cfg.Signal,
		dial:     s.cfg.Dial,
		stream:   s.stream,
		queue:    s.queue,
		timings:  s.cfg.Timings,
		joinType: func() core.JoinType { s.mu.Lock(); defer s.mu.Unlock(); return s.joinType },
		ingress:  func() uint64 { return uint64(s.cfg.Settings.Int(core.SettingIngressBitrate)) },
		egress:   func() uint64 { return uint64(s.cfg.Settings.Int(core.SettingEgressBitrate)) },
		hooks: memberHooks{
			onStreaming: s.memberStreaming,
			onStatus:    s.cfg.Surface.StatusChanged,
			onTrack:     s.memberTrack,
			onGone:      s.dropMember,
		},
		now:   s.cfg.Now,
		after: s.cfg.After,
	})
	s.members[addr] = m
	queued := s.prejoin[addr]
	delete(s.prejoin, addr)
	s.mu.Unlock()

	s.cfg.Surface.MemberAdded(addr)
	m.Establish()
	// A newly joined member takes over candidates that arrived before it
	// existed; the member queues them again if its link is not ready.
	for _, p := range queued {
		m.HandleCandidates(p)
	}
	return nil
}

func (s *CallSession) dropMember(addr core.MemberAddr) {
	s.mu.Lock()
	m, ok := s.members[addr]
	delete(s.members, addr)
	if s.current == addr {
		s.current = core.MemberAddr{}
	}
	if s.pinned == addr {
		s.pinned = core.MemberAddr{}
	}
	delete(s.silenced, addr)
	delete(s.videoSeen, addr)
	s.mu.Unlock()
	if !ok {
		return
	}
	m.Close()
	s.cfg.Loudness.Detach(addr)
	s.cfg.Surface.MemberRemoved(addr)
	s.log.Info().Str("addr", addr.String()).Msg("member dropped")
}

func (s *CallSession) memberStreaming(addr core.MemberAddr, _ core.PeerID, streaming bool) {
	s.cfg.Surface.StreamingChanged(addr, streaming)
	s.cfg.Surface.StreamUpdated(addr)
}

func (s *CallSession) memberTrack(addr core.MemberAddr, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	switch track.Kind() {
	case webrtc.RTPCodecTypeAudio:
		s.cfg.Loudness.Attach(addr, track, receiver)
		s.mu.Lock()
		audioOnly := !s.videoSeen[addr]
		s.mu.Unlock()
		if audioOnly {
			s.cfg.Surface.AudioOnlyChanged(addr, true)
		}
	case webrtc.RTPCodecTypeVideo:
		s.mu.Lock()
		first := !s.videoSeen[addr]
		s.videoSeen[addr] = true
		s.mu.Unlock()
		if first {
			s.cfg.Surface.AudioOnlyChanged(addr, false)
		}
	}
	s.cfg.Surface.StreamUpdated(addr)
}

// --- incoming-call invitations ---

// addInvite records a join announcement received while not joined. Video
// wins over audio when announcements of both kinds arrive; every new
// announcement refreshes the expiry of the whole set.
func (s *CallSession) addInvite(from core.MemberAddr, jt core.JoinType) {
	s.mu.Lock()
	inv, ok := s.invites[from]
	if !ok {
		inv = &invite{}
		s.invites[from] = inv
	}
	inv.video = inv.video || jt == core.JoinTypeVideo
	inv.at = s.cfg.Now()
	video := inv.video
	if s.inviteExpiry != nil {
		s.inviteExpiry.Cancel()
	}
	s.inviteExpiry = s.cfg.After(s.cfg.Timings.InviteTTL, s.expireInvites)
	s.mu.Unlock()

	s.cfg.Surface.IncomingCall(from, video)
	s.log.Info().Str("addr", from.String()).Bool("video", video).Msg("incoming call")
}

func (s *CallSession) expireInvites() {
	s.clearInvites(true)
}

func (s *CallSession) clearInvites(notify bool) {
	s.mu.Lock()
	had := len(s.invites) > 0
	s.invites = make(map[core.MemberAddr]*invite)
	if s.inviteExpiry != nil {
		s.inviteExpiry.Cancel()
		s.inviteExpiry = nil
	}
	s.mu.Unlock()
	if notify && had {
		s.cfg.Surface.InvitesExpired()
	}
}

// Accept joins the call a pending invitation announced. The join type is
// video when any invitation carried video.
func (s *CallSession) Accept(ctx context.Context) error {
	jt := core.JoinTypeAudio
	s.mu.Lock()
	for _, inv := range s.invites {
		if inv.video {
			jt = core.JoinTypeVideo
		}
	}
	s.mu.Unlock()
	s.clearInvites(false)
	return s.Join(ctx, jt)
}

// Ignore dismisses a single invitation.
func (s *CallSession) Ignore(from core.MemberAddr) {
	s.mu.Lock()
	delete(s.invites, from)
	empty := len(s.invites) == 0
	if empty && s.inviteExpiry != nil {
		s.inviteExpiry.Cancel()
		s.inviteExpiry = nil
	}
	s.mu.Unlock()
}

// InviteCount reports pending invitations.
func (s *CallSession) InviteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.invites)
}

// --- outgoing stream ---

// acquireStream builds the outgoing stream: an active screen share is
// preferred, then camera/microphone capture constrained to the kinds that
// actually exist. Muted kinds are applied by disabling tracks, not by
// omitting them, which keeps re-enabling cheap.
func (s *CallSession) acquireStream(ctx context.Context) {
	tracks := s.captureTracks(ctx)

	stream := NewLocalStream(tracks)
	if s.cfg.Settings.Bool(core.SettingVideoMuted) {
		stream.SetEnabled(core.KindVideo, false)
	}
	if s.cfg.Settings.Bool(core.SettingAudioMuted) {
		stream.SetEnabled(core.KindAudio, false)
	}

	s.mu.Lock()
	s.stream = stream
	members := s.snapshotMembersLocked()
	s.mu.Unlock()

	// Members hold the stream by reference through their config; a fresh
	// stream object means rebinding via replace passes.
	for _, t := range stream.Tracks() {
		s.replaceAcross(members, t)
	}
}

func (s *CallSession) captureTracks(ctx context.Context) []core.LocalTrack {
	if s.screenSharing() {
		tracks, err := s.cfg.Media.CaptureScreen(ctx)
		if err == nil {
			return tracks
		}
		s.cfg.Surface.StatusMessage("screen share error")
		s.log.Warn().Err(err).Msg("screen capture failed, falling back to devices")
	}

	kinds, err := s.cfg.Media.DeviceKinds(ctx)
	if err != nil {
		s.cfg.Surface.StatusMessage("media devices not available")
		s.log.Warn().Err(err).Msg("device enumeration failed")
		return nil
	}
	req := core.StreamRequest{
		Audio:       kinds.Audio,
		Video:       kinds.Video && s.currentJoinType() != core.JoinTypeAudio,
		Width:       s.cfg.Settings.Int(core.SettingVideoWidth),
		Height:      s.cfg.Settings.Int(core.SettingVideoHeight),
		FrameRate:   s.cfg.Settings.Int(core.SettingVideoFPS),
		AudioDevice: s.cfg.Settings.String(core.SettingAudioDevice),
		VideoDevice: s.cfg.Settings.String(core.SettingVideoDevice),
	}
	if !req.Audio && !req.Video {
		s.cfg.Surface.StatusMessage("no camera or microphone available")
		return nil
	}
	tracks, err := s.cfg.Media.CaptureStream(ctx, req)
	if err != nil {
		// Not retried, only reported; the call continues with an empty stream.
		s.cfg.Surface.StatusMessage("video device not available")
		s.log.Warn().Err(err).Msg("stream acquisition failed")
		return nil
	}
	return tracks
}

func (s *CallSession) rebuildStream(ctx context.Context) {
	s.Stream().StopAll()
	s.acquireStream(ctx)
}

func (s *CallSession) currentJoinType() core.JoinType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joinType
}

func (s *CallSession) screenSharing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screenShare
}

// SetVideoMuted flips the outgoing video mute. Muting only disables the
// track; unmuting pushes the track back out through a replace pass.
func (s *CallSession) SetVideoMuted(muted bool) error {
	return s.setMuted(core.KindVideo, core.SettingVideoMuted, muted)
}

// SetAudioMuted flips the outgoing audio mute.
func (s *CallSession) SetAudioMuted(muted bool) error {
	return s.setMuted(core.KindAudio, core.SettingAudioMuted, muted)
}

func (s *CallSession) setMuted(kind core.MediaKind, key string, muted bool) error {
	if err := s.cfg.Settings.Set(key, muted); err != nil {
		s.log.Warn().Err(err).Str("setting", key).Msg("persist mute")
	}
	stream := s.Stream()
	stream.SetEnabled(kind, !muted)
	if muted {
		return nil
	}
	t := stream.TrackOfKind(kind)
	if t == nil {
		return nil
	}
	return s.broadcastReplace(t)
}

// SwitchDevice rebinds a capture kind to another device and swaps the new
// track into every member's senders.
func (s *CallSession) SwitchDevice(ctx context.Context, kind core.MediaKind, deviceID string) error {
	key := core.SettingAudioDevice
	req := core.StreamRequest{Audio: true, AudioDevice: deviceID}
	if kind == core.KindVideo {
		key = core.SettingVideoDevice
		req = core.StreamRequest{
			Video:       true,
			VideoDevice: deviceID,
			Width:       s.cfg.Settings.Int(core.SettingVideoWidth),
			Height:      s.cfg.Settings.Int(core.SettingVideoHeight),
			FrameRate:   s.cfg.Settings.Int(core.SettingVideoFPS),
		}
	}
	if err := s.cfg.Settings.Set(key, deviceID); err != nil {
		s.log.Warn().Err(err).Str("setting", key).Msg("persist device")
	}

	tracks, err := s.cfg.Media.CaptureStream(ctx, req)
	if err != nil {
		s.cfg.Surface.StatusMessage("device not available")
		return err
	}
	var replaced core.LocalTrack
	var fresh core.LocalTrack
	for _, t := range tracks {
		if t.Kind() == kind {
			fresh = t
			replaced = s.Stream().Replace(t)
			break
		}
	}
	if replaced != nil {
		_ = replaced.Stop()
	}
	if fresh == nil {
		return nil
	}
	return s.broadcastReplace(fresh)
}

// SetScreenShare toggles screen sharing: the video track is swapped between
// screen capture and the camera across every member.
func (s *CallSession) SetScreenShare(ctx context.Context, on bool) error {
	s.mu.Lock()
	s.screenShare = on
	s.mu.Unlock()

	var tracks []core.LocalTrack
	var err error
	if on {
		tracks, err = s.cfg.Media.CaptureScreen(ctx)
	} else {
		tracks, err = s.cfg.Media.CaptureStream(ctx, core.StreamRequest{
			Video:       true,
			VideoDevice: s.cfg.Settings.String(core.SettingVideoDevice),
			Width:       s.cfg.Settings.Int(core.SettingVideoWidth),
			Height:      s.cfg.Settings.Int(core.SettingVideoHeight),
			FrameRate:   s.cfg.Settings.Int(core.SettingVideoFPS),
		})
	}
	if err != nil {
		s.cfg.Surface.StatusMessage("screen share error")
		return err
	}
	for _, t := range tracks {
		if t.Kind() != core.KindVideo {
			_ = t.Stop()
			continue
		}
		if old := s.Stream().Replace(t); old != nil {
			_ = old.Stop()
		}
		return s.broadcastReplace(t)
	}
	return nil
}

// broadcastReplace swaps t into every matching transceiver across all
// members. Zero matches across a non-empty member set means a track the
// engine believes should be forwarded has nowhere to go.
func (s *CallSession) broadcastReplace(t core.LocalTrack) error {
	s.mu.Lock()
	members := s.snapshotMembersLocked()
	s.mu.Unlock()
	return s.replaceAcross(members, t)
}

func (s *CallSession) replaceAcross(members []*MemberConnection, t core.LocalTrack) error {
	if len(members) == 0 {
		return nil
	}
	total := 0
	for _, m := range members {
		total += m.ReplaceTrack(t)
	}
	if total == 0 {
		s.log.Error().Str("kind", string(t.Kind())).Msg("no transceiver accepted replacement track")
		return core.ErrNoTransceiver
	}
	return nil
}

func (s *CallSession) snapshotMembersLocked() []*MemberConnection {
	out := make([]*MemberConnection, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, m)
	}
	return out
}

// --- pin / silence ---

// Pin forces a member to stay presented until unpinned.
func (s *CallSession) Pin(addr core.MemberAddr) {
	s.mu.Lock()
	s.pinned = addr
	s.mu.Unlock()
	s.cfg.Surface.PinnedChanged(addr, true)
}

func (s *CallSession) Unpin() {
	s.mu.Lock()
	prev := s.pinned
	s.pinned = core.MemberAddr{}
	s.mu.Unlock()
	if !prev.IsZero() {
		s.cfg.Surface.PinnedChanged(prev, false)
	}
}

// Silence suppresses a member's audio locally; a silenced member never wins
// presenter selection on loudness.
func (s *CallSession) Silence(addr core.MemberAddr, silenced bool) {
	s.mu.Lock()
	if silenced {
		s.silenced[addr] = true
	} else {
		delete(s.silenced, addr)
	}
	s.mu.Unlock()
	s.cfg.Surface.SilencedChanged(addr, silenced)
}

// --- loops ---

func (s *CallSession) reconcileLoop() {
	ticker := time.NewTicker(s.cfg.Timings.ReconcileEvery)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			members := s.snapshotMembersLocked()
			s.mu.Unlock()
			for _, m := range members {
				m.Reconcile()
			}
		}
	}
}

func (s *CallSession) presenterLoop() {
	ticker := time.NewTicker(s.cfg.Timings.PresenterEvery)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.evaluatePresenter()
		}
	}
}

func (s *CallSession) evaluatePresenter() {
	if s.state.Current() != StateJoined {
		return
	}
	s.mu.Lock()
	remotes := make([]MemberLevel, 0, len(s.members))
	for addr := range s.members {
		level := 0.0
		if !s.silenced[addr] {
			level = s.cfg.Loudness.Level(addr)
		}
		remotes = append(remotes, MemberLevel{Addr: addr, Level: level})
	}
	in := PresenterInput{
		Local:   s.cfg.Local,
		Current: s.current,
		Since:   s.currentSince,
		Pinned:  s.pinned,
		Remotes: remotes,
		Now:     s.cfg.Now(),
	}
	s.mu.Unlock()

	next, changed := s.presenter.Select(in)
	if !changed {
		return
	}
	s.mu.Lock()
	s.current = next
	s.currentSince = s.cfg.Now()
	s.mu.Unlock()
	metricPresenterSwitches.Inc()
	s.cfg.Surface.PresentMember(next)
	s.log.Debug().Str("addr", next.String()).Msg("presenter switched")
}

// --- debug snapshot ---

// MemberInfo is a read-only view for the debug surface.
type MemberInfo struct {
	Addr      string `json:"addr"`
	Links     int    `json:"links"`
	Streaming string `json:"streaming,omitempty"`
}

type SessionInfo struct {
	Call     string       `json:"call"`
	State    string       `json:"state"`
	JoinType string       `json:"join_type,omitempty"`
	Members  []MemberInfo `json:"members"`
	Invites  int          `json:"invites"`
}

func (s *CallSession) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := SessionInfo{
		Call:     string(s.cfg.Call),
		State:    s.state.Current(),
		JoinType: string(s.joinType),
		Invites:  len(s.invites),
	}
	for _, m := range s.members {
		mi := MemberInfo{Addr: m.Addr().String(), Links: m.LinkCount()}
		if peer, ok := m.StreamingPeer(); ok {
			mi.Streaming = string(peer)
		}
		info.Members = append(info.Members, mi)
	}
	return info
}
