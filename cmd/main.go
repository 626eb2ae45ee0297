package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Vovarama1992/amocrm-ai-bridge/internal/ai"
	"github.com/Vovarama1992/amocrm-ai-bridge/internal/amocrm"
	"github.com/Vovarama1992/amocrm-ai-bridge/internal/analyzer"
	"github.com/Vovarama1992/amocrm-ai-bridge/internal/config"
	"github.com/Vovarama1992/amocrm-ai-bridge/internal/dialog"
	"github.com/Vovarama1992/amocrm-ai-bridge/internal/knowledge"
	"github.com/Vovarama1992/amocrm-ai-bridge/internal/logger"
	"github.com/Vovarama1992/amocrm-ai-bridge/internal/responder"
	"github.com/Vovarama1992/amocrm-ai-bridge/internal/store"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	lg, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer lg.Sync()
	for _, w := range cfg.Warnings {
		lg.Warn("config", "warning", w)
	}

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	st, err := store.Open(ctx, store.Options{
		Driver: cfg.DBDriver,
		DSN:    cfg.DatabaseURL,
		Logger: lg,
	})
	cancel()
	if err != nil {
		lg.Fatal("store open failed", "error", err)
	}
	defer st.Close()

	// --- templates & knowledge ---
	var templates responder.Templates
	if cfg.TemplatesPath != "" {
		if templates, err = responder.LoadTemplates(cfg.TemplatesPath); err != nil {
			lg.Fatal("templates load failed", "path", cfg.TemplatesPath, "error", err)
		}
	}

	kb := knowledge.Defaults()
	if cfg.KnowledgePath != "" {
		if kb, err = knowledge.LoadFile(cfg.KnowledgePath); err != nil {
			lg.Fatal("knowledge base load failed", "path", cfg.KnowledgePath, "error", err)
		}
	}
	lg.Info("knowledge base ready", "entries", kb.Len())

	// --- AI ---
	// env first, then the config table
	apiKey := cfg.OpenAIKey
	if apiKey == "" {
		if v, ok, err := st.GetConfig(context.Background(), "openai_api_key"); err == nil && ok {
			apiKey = v
		}
	}
	var aiClient ai.AI
	if c, err := ai.NewOpenAIClient(ai.OpenAIOptions{APIKey: apiKey, Model: cfg.OpenAIModel}, lg); err == nil {
		aiClient = c
	} else {
		lg.Warn("ai disabled, replies come from templates", "error", err)
	}

	// --- amoCRM ---
	var outbound dialog.Outbound
	if notes, err := amocrm.NewNotesOutbound(amocrm.NotesOptions{
		Domain:      cfg.AmoCRMDomain,
		AccessToken: cfg.AmoCRMAccessToken,
	}, lg); err == nil {
		outbound = notes
	} else {
		lg.Warn("amocrm delivery disabled", "error", err)
	}

	// --- dialog module wiring ---
	an := analyzer.New(st, lg, analyzer.WithHistoryWindow(cfg.HistoryWindow))
	svc := dialog.NewService(st, an, responder.NewSelector(templates), lg)
	replier := dialog.NewReplier(st, an, aiClient, kb, outbound, lg)

	hk := dialog.NewHousekeeper(st, cfg.InactivityDays, cfg.CleanupInterval, lg)
	if err := hk.Start(); err != nil {
		lg.Fatal("housekeeping start failed", "error", err)
	}
	defer hk.Stop()

	handler := dialog.NewHandler(dialog.HandlerDeps{
		Service:      svc,
		Replier:      replier,
		Analyzer:     an,
		Store:        st,
		Importer:     amocrm.NewImporter(st, lg),
		ActiveWindow: cfg.ActiveWindow,
		Logger:       lg,
	})

	if cfg.WebhookSecret == "" {
		lg.Warn("WEBHOOK_SECRET is empty, endpoints are unauthenticated")
	}

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Webhook-Secret"},
	}))

	dialog.RegisterRoutes(r, handler, cfg.WebhookSecret)

	// --- health ---
	r.Get("/ping", handler.Ping)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		lg.Info("listening", "addr", srv.Addr, "db_driver", cfg.DBDriver, "ai", aiClient != nil, "amocrm", outbound != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	lg.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("graceful shutdown failed", "error", err)
	}
}
