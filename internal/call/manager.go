package call

import (
	"context"
	"sync"

	"github.com/nmezh/huddle/internal/core"
)

// SessionDeps are the collaborators shared by every session the manager
// creates; everything per-call comes from the call ID itself.
type SessionDeps struct {
	Local    core.MemberAddr
	Signal   core.SignalSender
	Media    core.MediaSource
	Surface  core.Surface
	Settings core.Settings
	Loudness core.LoudnessMonitor
	Dial     core.ConnFactory
	Timings  Timings
}

// Manager keys live sessions by call ID. One session per call thread; a
// session survives leave/re-join and dies on Stop.
type Manager struct {
	ctx  context.Context
	deps SessionDeps

	mu       sync.RWMutex
	sessions map[core.CallID]*CallSession
}

func NewManager(ctx context.Context, deps SessionDeps) *Manager {
	return &Manager{
		ctx:      ctx,
		deps:     deps,
		sessions: make(map[core.CallID]*CallSession),
	}
}

func (m *Manager) GetOrCreate(id core.CallID) *CallSession {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return s
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok = m.sessions[id]; ok {
		return s
	}
	s = NewCallSession(m.ctx, SessionConfig{
		Call:     id,
		Local:    m.deps.Local,
		Signal:   m.deps.Signal,
		Media:    m.deps.Media,
		Surface:  m.deps.Surface,
		Settings: m.deps.Settings,
		Loudness: m.deps.Loudness,
		Dial:     m.deps.Dial,
		Timings:  m.deps.Timings,
	})
	m.sessions[id] = s
	return s
}

func (m *Manager) Get(id core.CallID) (*CallSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) Stop(id core.CallID) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

// List snapshots every live session for the debug surface.
func (m *Manager) List() []SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Info())
	}
	return out
}

// ReannounceAll repeats the join announcement of every joined session.
// Called when the signaling connection comes back.
func (m *Manager) ReannounceAll(ctx context.Context) {
	m.mu.RLock()
	sessions := make([]*CallSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()
	for _, s := range sessions {
		s.Reannounce(ctx)
	}
}

// StopAll tears down every session, used on shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[core.CallID]*CallSession)
	m.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}
