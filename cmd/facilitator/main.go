package main

import (
	"context"
	"log"
	"net/http"
	"sort"

	"github.com/x402-rs/x402-ask/pkg/app"
	"github.com/x402-rs/x402-ask/pkg/config"
	"github.com/x402-rs/x402-ask/pkg/facilitator"
	"github.com/x402-rs/x402-ask/pkg/handlers"
	"github.com/x402-rs/x402-ask/pkg/middleware"
	"github.com/x402-rs/x402-ask/pkg/network"
	"github.com/x402-rs/x402-ask/pkg/types"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.ValidateFacilitator(); err != nil {
		log.Fatalf("%v", err)
	}

	logger, err := app.NewLogger(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := app.SignalContext(context.Background())
	defer stop()

	// Every known network is verifiable; balance checks only on NETWORK
	fac, err := facilitator.NewLocalFromConfig(ctx, cfg, logger, allNetworks()...)
	if err != nil {
		logger.Error(ctx, "failed to initialize facilitator", "error", err)
		log.Fatalf("%v", err)
	}

	handler := handlers.NewHandler(fac, logger)
	mux := http.NewServeMux()
	handler.SetupRoutes(mux)

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPM, cfg.RateLimitBurst)
	root := middleware.Chain(mux,
		middleware.LoggingMiddleware(logger),
		middleware.CORSMiddleware,
		middleware.RateLimitMiddleware(limiter),
		middleware.SizeLimitMiddleware(1<<20),
	)

	logger.Info(ctx, "starting x402 facilitator", "addr", cfg.Addr())
	if err := app.Serve(ctx, app.NewHTTPServer(cfg.Addr(), root), logger); err != nil {
		logger.Error(ctx, "facilitator stopped", "error", err)
	}
	logger.Info(context.Background(), "facilitator exited")
}

func allNetworks() []types.Network {
	nets := make([]types.Network, 0, len(network.NetworkInfoMap))
	for net := range network.NetworkInfoMap {
		nets = append(nets, net)
	}
	sort.Slice(nets, func(i, j int) bool { return nets[i] < nets[j] })
	return nets
}
