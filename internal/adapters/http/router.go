package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/nmezh/huddle/internal/call"
	"github.com/nmezh/huddle/internal/config"
	"github.com/nmezh/huddle/internal/core"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, settings core.Settings, mgr *call.Manager, surface *UISurface) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("HuddleSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	ctl := &uiController{mgr: mgr, surface: surface}

	api := r.Group("/api")
	api.GET("/ws/ui", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ui websocket endpoint hit")
		ctl.handleUI(ctx, c)
	})
	api.GET("/calls", func(c *gin.Context) {
		c.JSON(http.StatusOK, mgr.List())
	})

	debug := r.Group("/debug")
	debug.Use(func(c *gin.Context) {
		if !settings.Bool(core.SettingDebugStats) {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		c.Next()
	})
	debug.GET("/calls", func(c *gin.Context) {
		c.JSON(http.StatusOK, mgr.List())
	})
	debug.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// uiIntent is one command from the UI websocket.
type uiIntent struct {
	Action string `json:"action"`
	Call   string `json:"call"`
	User   string `json:"user,omitempty"`
	Device string `json:"device,omitempty"`
	Flag   bool   `json:"flag,omitempty"`
	Kind   string `json:"kind,omitempty"`
	Value  string `json:"value,omitempty"`
}

type uiController struct {
	mgr     *call.Manager
	surface *UISurface
}

func (ctl *uiController) handleUI(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.ui").Msg("ws upgrade")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	conn := ctl.surface.attach(ctx, ws)
	defer func() {
		cancel()
		ctl.surface.detach(conn)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			ctl.handleIntent(ctx, data)
		}
	}
}

func (ctl *uiController) handleIntent(ctx context.Context, data []byte) {
	var in uiIntent
	if err := json.Unmarshal(data, &in); err != nil {
		log.Warn().Err(err).Str("module", "adapters.ui").Msg("bad intent")
		return
	}
	if in.Call == "" {
		log.Warn().Str("action", in.Action).Str("module", "adapters.ui").Msg("intent without call")
		return
	}
	sess := ctl.mgr.GetOrCreate(core.CallID(in.Call))

	var err error
	switch in.Action {
	case "join":
		jt := core.JoinTypeAudio
		if in.Flag {
			jt = core.JoinTypeVideo
		}
		err = sess.Join(ctx, jt)
	case "leave":
		err = sess.Leave(ctx)
	case "accept":
		err = sess.Accept(ctx)
	case "ignore":
		if addr, aerr := core.NewMemberAddr(core.UserID(in.User), core.DeviceID(in.Device)); aerr == nil {
			sess.Ignore(addr)
		}
	case "pin":
		if addr, aerr := core.NewMemberAddr(core.UserID(in.User), core.DeviceID(in.Device)); aerr == nil {
			sess.Pin(addr)
		}
	case "unpin":
		sess.Unpin()
	case "silence":
		if addr, aerr := core.NewMemberAddr(core.UserID(in.User), core.DeviceID(in.Device)); aerr == nil {
			sess.Silence(addr, in.Flag)
		}
	case "muteAudio":
		err = sess.SetAudioMuted(in.Flag)
	case "muteVideo":
		err = sess.SetVideoMuted(in.Flag)
	case "screenShare":
		err = sess.SetScreenShare(ctx, in.Flag)
	case "switchDevice":
		kind := core.KindAudio
		if in.Kind == string(core.KindVideo) {
			kind = core.KindVideo
		}
		err = sess.SwitchDevice(ctx, kind, in.Value)
	default:
		log.Debug().Str("action", in.Action).Str("module", "adapters.ui").Msg("unknown intent")
	}
	if err != nil {
		log.Warn().Err(err).Str("action", in.Action).Str("module", "adapters.ui").Msg("intent failed")
	}
}
