package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/pysugar/kiro-nexus/internal/auth/token"
	"github.com/pysugar/kiro-nexus/internal/config"
	"github.com/pysugar/kiro-nexus/internal/db"
	"github.com/pysugar/kiro-nexus/internal/logging"
	"github.com/pysugar/kiro-nexus/internal/proxy/handlers"
	"github.com/pysugar/kiro-nexus/internal/proxy/middleware"
	"github.com/pysugar/kiro-nexus/internal/proxy/monitor"
	"github.com/pysugar/kiro-nexus/internal/registry"
	"github.com/pysugar/kiro-nexus/internal/upstream"
	"github.com/pysugar/kiro-nexus/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.Setup(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	database, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	store := db.NewAccountStore(database)
	accounts, err := store.LoadAccounts()
	if err != nil {
		log.Fatalf("Failed to load accounts: %v", err)
	}

	reg := registry.New(accounts, store)
	selector := registry.NewSelector(reg, cfg.Selector.MinQuotaRemaining)
	upstreamClient := upstream.NewClient()
	recorder := monitor.NewRecorder(reg, database)

	refresher := token.NewRefresher(reg, upstreamClient, token.Options{
		Interval:       cfg.RefreshInterval(),
		Lookahead:      cfg.RefreshLookahead(),
		AttemptTimeout: cfg.RefreshAttemptTimeout(),
		MaxAttempts:    cfg.Refresh.MaxAttempts,
		BackoffBase:    cfg.RefreshBackoffBase(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	refresher.Start(ctx)

	gw := &handlers.Gateway{
		Registry:  reg,
		Selector:  selector,
		Upstream:  upstreamClient,
		Recorder:  recorder,
		Refresher: refresher,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","version":"` + version.Version + `"}`))
	})

	// Operator endpoints
	r.Route("/api", func(r chi.Router) {
		r.Get("/accounts", gw.ListAccounts)
		r.Post("/accounts/{id}/refresh", gw.RefreshAccount)
		r.Post("/refresh", gw.RefreshAll)
		r.Get("/stats", gw.Stats)
	})

	// OpenAI-compatible API
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(database))
		r.Post("/chat/completions", gw.OpenAIChat)
		r.Get("/models", gw.OpenAIModels)
	})

	// Anthropic-compatible API
	r.Route("/anthropic/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(database))
		r.Post("/messages", gw.ClaudeMessages)
		r.Get("/models", gw.ClaudeModels)
	})

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: r,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Infof("kiro-nexus %s starting on http://%s", version.Version, cfg.Addr())
	log.Infof("OpenAI API:    http://%s/v1", cfg.Addr())
	log.Infof("Anthropic API: http://%s/anthropic/v1", cfg.Addr())

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed: %v", err)
	}
	recorder.Close()
	log.Info("server stopped")
}
