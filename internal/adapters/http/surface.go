// Package http serves the local UI: static assets, a websocket feed of
// surface events, and the debug endpoints.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nmezh/huddle/internal/core"
)

var ErrBackpressure = errors.New("ui: backpressure")

const uiSendBacklog = 256

// uiEvent is one surface notification pushed to every connected UI client.
type uiEvent struct {
	Event string `json:"event"`
	Addr  string `json:"addr,omitempty"`
	Flag  bool   `json:"flag,omitempty"`
	Text  string `json:"text,omitempty"`
}

type uiConn struct {
	ws   *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *uiConn) trySend(frame []byte) error {
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrBackpressure
	}
}

// close shuts the socket; the send channel stays open so a broadcast racing
// a detach cannot hit a closed channel. The write pump exits via its context.
func (c *uiConn) close() {
	c.once.Do(func() {
		_ = c.ws.Close()
	})
}

// UISurface implements core.Surface by fanning events out to every
// connected UI websocket. A slow client loses events rather than stalling
// the engine.
type UISurface struct {
	log zerolog.Logger

	mu    sync.Mutex
	conns map[*uiConn]struct{}
}

func NewUISurface() *UISurface {
	return &UISurface{
		log:   log.With().Str("module", "adapters.ui").Logger(),
		conns: make(map[*uiConn]struct{}),
	}
}

func (s *UISurface) attach(ctx context.Context, ws *websocket.Conn) *uiConn {
	conn := &uiConn{ws: ws, send: make(chan []byte, uiSendBacklog)}
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	go s.writePump(ctx, conn)
	return conn
}

func (s *UISurface) detach(conn *uiConn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.close()
}

func (s *UISurface) writePump(ctx context.Context, conn *uiConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-conn.send:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}
}

func (s *UISurface) broadcast(ev uiEvent) {
	frame, err := json.Marshal(ev)
	if err != nil {
		s.log.Error().Err(err).Msg("marshal ui event")
		return
	}
	s.mu.Lock()
	conns := make([]*uiConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		if err := c.trySend(frame); err != nil {
			s.log.Warn().Str("event", ev.Event).Msg("ui client lagging, event dropped")
		}
	}
}

// --- core.Surface ---

func (s *UISurface) MemberAdded(addr core.MemberAddr) {
	s.broadcast(uiEvent{Event: "memberAdded", Addr: addr.String()})
}

func (s *UISurface) MemberRemoved(addr core.MemberAddr) {
	s.broadcast(uiEvent{Event: "memberRemoved", Addr: addr.String()})
}

func (s *UISurface) StreamUpdated(addr core.MemberAddr) {
	s.broadcast(uiEvent{Event: "streamUpdated", Addr: addr.String()})
}

func (s *UISurface) StreamingChanged(addr core.MemberAddr, streaming bool) {
	s.broadcast(uiEvent{Event: "streamingChanged", Addr: addr.String(), Flag: streaming})
}

func (s *UISurface) AudioOnlyChanged(addr core.MemberAddr, audioOnly bool) {
	s.broadcast(uiEvent{Event: "audioOnlyChanged", Addr: addr.String(), Flag: audioOnly})
}

func (s *UISurface) PinnedChanged(addr core.MemberAddr, pinned bool) {
	s.broadcast(uiEvent{Event: "pinnedChanged", Addr: addr.String(), Flag: pinned})
}

func (s *UISurface) SilencedChanged(addr core.MemberAddr, silenced bool) {
	s.broadcast(uiEvent{Event: "silencedChanged", Addr: addr.String(), Flag: silenced})
}

func (s *UISurface) StatusChanged(addr core.MemberAddr, status string) {
	s.broadcast(uiEvent{Event: "statusChanged", Addr: addr.String(), Text: status})
}

func (s *UISurface) PresentMember(addr core.MemberAddr) {
	s.broadcast(uiEvent{Event: "presentMember", Addr: addr.String()})
}

func (s *UISurface) IncomingCall(addr core.MemberAddr, video bool) {
	s.broadcast(uiEvent{Event: "incomingCall", Addr: addr.String(), Flag: video})
}

func (s *UISurface) InvitesExpired() {
	s.broadcast(uiEvent{Event: "invitesExpired"})
}

func (s *UISurface) StatusMessage(text string) {
	s.broadcast(uiEvent{Event: "statusMessage", Text: text})
}
