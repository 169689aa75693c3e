package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ent0n29/taskmaster/internal/access"
	"github.com/ent0n29/taskmaster/internal/config"
	"github.com/ent0n29/taskmaster/internal/httpapi"
	"github.com/ent0n29/taskmaster/internal/observability"
	"github.com/ent0n29/taskmaster/internal/rooms"
	"github.com/ent0n29/taskmaster/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := tasks.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("task store init failed: %v", err)
	}
	defer store.Close()

	signer := access.NewSigner(cfg.LiveKitAPIKey, cfg.LiveKitAPISecret, cfg.AccessTokenTTL)
	if !signer.Enabled() {
		log.Printf("LIVEKIT_API_KEY/LIVEKIT_API_SECRET not set; token exchange disabled")
	}

	var dispatcher httpapi.AgentDispatcher
	if signer.Enabled() && cfg.AgentName != "" {
		dispatcher = access.NewDispatchClient(cfg.LiveKitURL, signer, nil)
	}

	registry := rooms.NewRegistry(cfg.RoomRetention)
	api := httpapi.New(cfg, httpapi.Deps{
		Store:      store,
		Rooms:      registry,
		Signer:     signer,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger.With("component", "httpapi"),
	})
	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	registry.StartJanitor(runCtx, 30*time.Second)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
