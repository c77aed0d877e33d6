// Package signal speaks the chat server's call-signaling channel: one
// outbound websocket carrying JSON envelopes, best-effort delivery.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nmezh/huddle/internal/core"
)

var (
	ErrBackpressure = errors.New("signal: send buffer full")
	ErrNotConnected = errors.New("signal: not connected")
)

const (
	sendBacklog  = 32
	writeTimeout = 5 * time.Second

	reconnectMin = time.Second
	reconnectMax = 30 * time.Second

	inboundLimit  = 120
	inboundWindow = 10 * time.Second
)

type wireAddr struct {
	User   string `json:"user"`
	Device string `json:"device"`
}

func toWire(a core.MemberAddr) wireAddr {
	return wireAddr{User: string(a.User), Device: string(a.Device)}
}

func (w wireAddr) addr() core.MemberAddr {
	return core.MemberAddr{User: core.UserID(w.User), Device: core.DeviceID(w.Device)}
}

// envelope is the wire frame. Data carries the type-specific payload.
type envelope struct {
	Type string          `json:"type"`
	Call string          `json:"call"`
	From wireAddr        `json:"from"`
	To   *wireAddr       `json:"to,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Config identifies the local instance to the chat server.
type Config struct {
	URL   string
	Token string
	Local core.MemberAddr

	// OnConnect fires after every successful dial, including reconnects.
	// Used to replay join announcements for calls that stayed active.
	OnConnect func(ctx context.Context)
}

// HandlerResolver maps a call ID to the engine that handles its messages.
// Resolving may create the session, which is how incoming calls surface.
type HandlerResolver func(core.CallID) core.SignalHandler

// Client implements core.SignalSender over a dialed websocket and routes
// inbound envelopes to the resolved handler. It reconnects with doubling
// backoff; messages sent while disconnected are dropped, the engine's
// reconciliation absorbs the loss.
type Client struct {
	cfg     Config
	log     zerolog.Logger
	resolve HandlerResolver
	outbox  *candidateOutbox
	limiter *senderRateLimiter

	mu   sync.Mutex
	conn *wsConn
}

type wsConn struct {
	ws   *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *wsConn) trySend(frame []byte) error {
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrBackpressure
	}
}

// close shuts the socket only. The send channel stays open so concurrent
// trySend calls cannot hit a closed channel; the write pump exits via its
// context instead.
func (c *wsConn) close() {
	c.once.Do(func() {
		_ = c.ws.Close()
	})
}

func NewClient(cfg Config, resolve HandlerResolver) *Client {
	c := &Client{
		cfg:     cfg,
		log:     log.With().Str("module", "signal").Logger(),
		resolve: resolve,
		limiter: newSenderRateLimiter(inboundLimit, inboundWindow),
	}
	c.outbox = newCandidateOutbox(c.sendEnvelope)
	return c
}

// Run dials and keeps the connection alive until ctx is done. Backoff
// doubles from one second up to thirty and resets after a successful dial.
func (c *Client) Run(ctx context.Context) {
	backoff := reconnectMin
	for {
		dialed, err := c.connectOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if dialed {
			backoff = reconnectMin
		}
		if err != nil {
			c.log.Warn().Err(err).Dur("retry_in", backoff).Msg("signaling connection lost")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

func (c *Client) connectOnce(ctx context.Context) (bool, error) {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	header.Set("X-Device-ID", string(c.cfg.Local.Device))

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return false, err
	}
	conn := &wsConn{ws: ws, send: make(chan []byte, sendBacklog)}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.log.Info().Str("url", c.cfg.URL).Msg("signaling connected")
	if c.cfg.OnConnect != nil {
		c.cfg.OnConnect(ctx)
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	go c.writePump(pumpCtx, conn)
	err = c.readPump(pumpCtx, conn)

	cancel()
	conn.close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	return true, err
}

func (c *Client) writePump(ctx context.Context, conn *wsConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-conn.send:
			if err := conn.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				c.log.Warn().Err(err).Msg("write deadline")
				return
			}
			if err := conn.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Warn().Err(err).Msg("write")
				return
			}
		}
	}
}

func (c *Client) readPump(ctx context.Context, conn *wsConn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			_, data, err := conn.ws.ReadMessage()
			if err != nil {
				return err
			}
			c.dispatch(data)
		}
	}
}

func (c *Client) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Warn().Err(err).Msg("bad envelope")
		return
	}
	from := env.From.addr()
	if from.IsZero() || env.Call == "" {
		c.log.Warn().Str("type", env.Type).Msg("envelope missing sender or call")
		return
	}
	if !c.limiter.Allow(from) {
		c.log.Warn().Str("addr", from.String()).Str("type", env.Type).Msg("sender rate limited")
		return
	}
	h := c.resolve(core.CallID(env.Call))
	if h == nil {
		return
	}

	switch env.Type {
	case core.SignalJoin:
		var p core.JoinPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			c.log.Warn().Err(err).Msg("bad join payload")
			return
		}
		h.HandleJoin(from, p)
	case core.SignalLeave:
		h.HandleLeave(from)
		c.limiter.Forget(from)
	case core.SignalOffer:
		var p core.OfferPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			c.log.Warn().Err(err).Msg("bad offer payload")
			return
		}
		h.HandleOffer(from, p)
	case core.SignalAcceptOffer:
		var p core.AnswerPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			c.log.Warn().Err(err).Msg("bad answer payload")
			return
		}
		h.HandleAnswer(from, p)
	case core.SignalCandidates:
		var p core.CandidatesPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			c.log.Warn().Err(err).Msg("bad candidates payload")
			return
		}
		h.HandleCandidates(from, p)
	default:
		c.log.Debug().Str("type", env.Type).Msg("unknown signal")
	}
}

func (c *Client) sendEnvelope(typ string, call core.CallID, to *core.MemberAddr, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env := envelope{
		Type: typ,
		Call: string(call),
		From: toWire(c.cfg.Local),
		Data: data,
	}
	if to != nil {
		w := toWire(*to)
		env.To = &w
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.trySend(frame)
}

// --- core.SignalSender ---

func (c *Client) AnnounceJoin(_ context.Context, call core.CallID, jt core.JoinType) error {
	return c.sendEnvelope(core.SignalJoin, call, nil, core.JoinPayload{Type: jt})
}

func (c *Client) AnnounceLeave(_ context.Context, call core.CallID) error {
	return c.sendEnvelope(core.SignalLeave, call, nil, core.LeavePayload{})
}

func (c *Client) SendOffer(_ context.Context, call core.CallID, to core.MemberAddr, p core.OfferPayload) error {
	return c.sendEnvelope(core.SignalOffer, call, &to, p)
}

func (c *Client) SendAnswer(_ context.Context, call core.CallID, to core.MemberAddr, p core.AnswerPayload) error {
	return c.sendEnvelope(core.SignalAcceptOffer, call, &to, p)
}

// SendCandidates hands candidates to the outbox; batches go out after a
// short debounce so bursts from the gatherer share one message.
func (c *Client) SendCandidates(_ context.Context, call core.CallID, to core.MemberAddr, p core.CandidatesPayload) error {
	c.outbox.add(call, to, p.PeerID, p.Candidates)
	return nil
}

func (c *Client) FlushCandidates(to core.MemberAddr, peer core.PeerID) {
	c.outbox.flush(to, peer)
}

// Close flushes nothing and drops the connection.
func (c *Client) Close() {
	c.outbox.stop()
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.close()
	}
}
