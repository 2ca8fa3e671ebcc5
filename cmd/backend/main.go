package main

import (
	"context"
	"log"

	"github.com/x402-rs/x402-ask/pkg/app"
	"github.com/x402-rs/x402-ask/pkg/backend"
	"github.com/x402-rs/x402-ask/pkg/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := app.NewLogger(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := app.SignalContext(context.Background())
	defer stop()

	b, err := backend.New(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "failed to start backend", "error", err)
		log.Fatalf("%v", err)
	}
	defer b.Close(context.Background())

	logger.Info(ctx, "starting x402 backend", "addr", cfg.Addr(), "backend_url", cfg.BackendURL)
	if err := app.Serve(ctx, app.NewHTTPServer(cfg.Addr(), b.Handler), logger); err != nil {
		logger.Error(ctx, "backend stopped", "error", err)
	}
	logger.Info(context.Background(), "backend exited")
}
