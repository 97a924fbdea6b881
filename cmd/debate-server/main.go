package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"debate-arena/internal/aiclient"
	"debate-arena/internal/clock"
	"debate-arena/internal/config"
	"debate-arena/internal/connection"
	"debate-arena/internal/debate"
	"debate-arena/internal/events"
	"debate-arena/internal/logging"
	"debate-arena/internal/rooms"
	"debate-arena/internal/scheduler"
	"debate-arena/internal/store"
	httptransport "debate-arena/internal/transport/http"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type aiBackend interface {
	debate.ResponseGenerator
	debate.Evaluator
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("load .env failed")
	}
	cfg, err := config.LoadApp()
	if err != nil {
		panic(err)
	}
	logging.Init(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.System{}
	st, err := store.Open(ctx, cfg.Server.PostgresDSN, clk)
	if err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}
	defer st.Close()
	if cfg.Server.PostgresDSN == "" {
		log.Warn().Msg("POSTGRES_DSN not set, using in-memory store")
	}

	hub := events.NewHub(cfg.Server.EventBufferSize, clk)
	defer hub.Close()
	sched := scheduler.New(st, clk, scheduler.OptionsFromConfig(cfg.Scheduler), logging.Component("scheduler"))

	aiTimeout := time.Duration(cfg.Server.AIRequestTimeoutMS) * time.Millisecond
	var ai aiBackend = aiclient.Noop{Log: logging.Component("ai_client")}
	if cfg.Server.AIServiceURL != "" {
		ai = aiclient.New(cfg.Server.AIServiceURL, aiTimeout)
	}
	dispatcher := debate.NewAIDispatcher(ctx, ai, hub, aiTimeout, log.Logger)

	coord := debate.NewCoordinator(debate.Deps{
		Repo:       st,
		Scheduler:  sched,
		Clock:      clk,
		Events:     hub,
		Dispatcher: dispatcher,
		Evaluator:  ai,
	}, debate.OptionsFromConfig(cfg.Debate), log.Logger)
	coord.RegisterJobs(sched)

	tracker := connection.NewTracker(connection.TrackerDeps{
		Repo:      st,
		Scheduler: sched,
		Clock:     clk,
		Events:    hub,
		Grace:     connection.GracePolicyFromConfig(cfg.Connection),
	}, log.Logger)
	tracker.RegisterJobs(sched)
	tracker.AddFinalizeListener(rooms.NewMembership(st, coord, clk, log.Logger))

	sched.Start(ctx)

	r := httptransport.NewRouter(httptransport.Deps{
		Store:       st,
		Debates:     coord,
		Connections: tracker,
		Analytics:   tracker.Analytics(),
		Events:      hub,
		Config:      cfg.Server,
		Logger:      log.Logger,
	})
	httptransport.LogRoutes(r, log.Logger)

	server := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown failed")
		}
	}()

	log.Info().Str("addr", cfg.Server.HTTPAddr).Msg("http listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server stopped")
	}
	dispatcher.Wait()
	log.Info().Msg("server stopped")
}
