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

	"github.com/ent0n29/taskmaster/internal/app"
	"github.com/ent0n29/taskmaster/internal/config"
	"github.com/ent0n29/taskmaster/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	metrics := observability.NewMetrics(cfg.MetricsNamespace + "_voice")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Client metrics are served only when a bind address is set explicitly.
	if addr := os.Getenv("TASKVOICE_METRICS_ADDR"); addr != "" {
		srv := &http.Server{Addr: addr, Handler: observability.MetricsHandler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("metrics listener failed: %v", err)
			}
		}()
		defer srv.Close()
	}

	client := app.New(cfg, app.Deps{Metrics: metrics, Logger: logger})
	log.Printf("voice client starting (server %s)", cfg.ServerURL)
	if err := client.Run(ctx, os.Stdin); err != nil {
		log.Fatalf("voice client stopped: %v", err)
	}
	log.Printf("voice client stopped")
}
