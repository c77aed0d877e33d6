package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/nmezh/huddle/internal/adapters/http"
	"github.com/nmezh/huddle/internal/adapters/media"
	"github.com/nmezh/huddle/internal/adapters/rtc"
	"github.com/nmezh/huddle/internal/adapters/signal"
	"github.com/nmezh/huddle/internal/call"
	"github.com/nmezh/huddle/internal/config"
	"github.com/nmezh/huddle/internal/core"
)

func main() {
	ctx, cancel := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, settings, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	local, err := core.NewMemberAddr(core.UserID(cfg.UserID), core.DeviceID(cfg.DeviceID))
	if err != nil {
		log.Fatal().Err(err).Msg("user_id and device_id must be configured")
	}

	source, err := media.NewSource()
	if err != nil {
		log.Fatal().Err(err).Msg("media codecs unavailable")
	}
	dial, err := rtc.NewConnFactory(rtc.DefaultConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc engine init")
	}

	surface := router.NewUISurface()
	loudness := media.NewLoudness()

	// The client resolves handlers through the manager, which is built right
	// after; resolution only happens once the connection is up.
	var mgr *call.Manager
	client := signal.NewClient(signal.Config{
		URL:   cfg.SignalURL,
		Token: cfg.SignalToken,
		Local: local,
		OnConnect: func(ctx context.Context) {
			mgr.ReannounceAll(ctx)
		},
	}, func(id core.CallID) core.SignalHandler {
		return mgr.GetOrCreate(id)
	})

	mgr = call.NewManager(ctx, call.SessionDeps{
		Local:    local,
		Signal:   client,
		Media:    source,
		Surface:  surface,
		Settings: settings,
		Loudness: loudness,
		Dial:     dial,
		Timings:  call.DefaultTimings(),
	})

	go client.Run(ctx)

	r := router.SetupRouter(ctx, cfg, settings, mgr, surface)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("user", cfg.UserID).Msg("huddle started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	mgr.StopAll()
	client.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Exited gracefully")
}
