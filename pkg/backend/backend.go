// Package backend assembles the paid question service: the payment gate in
// front of the answer handler, plus banner and health routes.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/x402-rs/x402-ask/middleware/server"
	"github.com/x402-rs/x402-ask/pkg/account"
	"github.com/x402-rs/x402-ask/pkg/answer"
	"github.com/x402-rs/x402-ask/pkg/config"
	"github.com/x402-rs/x402-ask/pkg/facilitator"
	"github.com/x402-rs/x402-ask/pkg/logging"
	"github.com/x402-rs/x402-ask/pkg/middleware"
	"github.com/x402-rs/x402-ask/pkg/network"
	"github.com/x402-rs/x402-ask/pkg/replay"
	"github.com/x402-rs/x402-ask/pkg/store"
)

const (
	Banner       = "x402 AI Backend Running 🚀"
	Description  = "AI Query via Telegram Bot"
	maxBodyBytes = 1 << 20
)

// Backend owns the HTTP handler and the resources behind it
type Backend struct {
	Handler http.Handler
	PayTo   string

	closers []func(context.Context) error
}

// New wires the backend from configuration. Redis and MongoDB are used when
// their URLs are set, in-memory stores otherwise.
func New(ctx context.Context, cfg *config.Config, log logging.Logger) (*Backend, error) {
	if err := cfg.ValidateBackend(); err != nil {
		return nil, err
	}
	info, err := network.GetNetworkInfo(cfg.Network)
	if err != nil {
		return nil, err
	}

	b := &Backend{}
	if b.PayTo, err = payee(cfg); err != nil {
		return nil, err
	}

	fac, err := facilitator.FromConfig(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	replayStore, err := b.replayStore(ctx, cfg, log)
	if err != nil {
		b.Close(ctx)
		return nil, err
	}

	responses, err := b.responseLog(ctx, cfg, log)
	if err != nil {
		b.Close(ctx)
		return nil, err
	}

	tag, err := server.NewPriceTagBuilder().
		Network(cfg.Network).
		Amount(cfg.Amount).
		PayTo(b.PayTo).
		FacilitatorURL(cfg.FacilitatorURL).
		Description(Description).
		TTL(cfg.ChallengeTTL).
		Build()
	if err != nil {
		b.Close(ctx)
		return nil, err
	}

	gate := server.NewX402Middleware(fac, replayStore,
		server.WithLogger(log),
		server.WithVerifyTimeout(cfg.VerifyTimeout),
	)
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPM, cfg.RateLimitBurst)

	b.Handler = middleware.Chain(
		NewRouter(cfg, gate, tag, answer.NewHandler(info, cfg.Amount, responses, log)),
		middleware.LoggingMiddleware(log),
		middleware.CORSMiddleware,
		middleware.RateLimitMiddleware(limiter),
		middleware.SizeLimitMiddleware(maxBodyBytes),
	)

	log.Info(ctx, "backend configured",
		"network", cfg.Network, "pay_to", b.PayTo, "amount", cfg.Amount, "token", info.TokenSymbol)
	return b, nil
}

// NewRouter mounts the routes. The paid route validates the question before
// the gate so malformed questions are never charged.
func NewRouter(cfg *config.Config, gate *server.X402Middleware, tag *server.PriceTag, handler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(Banner))
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"network": string(cfg.Network),
		})
	})

	mux.Handle(answer.Path, answer.ValidateQuery(gate.Protect(handler, tag)))
	return mux
}

// Close releases the stores in reverse order of creation
func (b *Backend) Close(ctx context.Context) error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

func (b *Backend) replayStore(ctx context.Context, cfg *config.Config, log logging.Logger) (replay.Store, error) {
	if cfg.RedisURL == "" {
		mem := replay.NewMemoryStore(time.Minute)
		b.closers = append(b.closers, func(context.Context) error {
			mem.Stop()
			return nil
		})
		log.Info(ctx, "using in-memory replay cache")
		return mem, nil
	}

	rs, client, err := replay.NewRedisStoreFromURL(ctx, cfg.RedisURL, replay.DefaultGrace)
	if err != nil {
		return nil, err
	}
	b.closers = append(b.closers, func(context.Context) error { return client.Close() })
	log.Info(ctx, "using redis replay cache")
	return rs, nil
}

func (b *Backend) responseLog(ctx context.Context, cfg *config.Config, log logging.Logger) (store.ResponseLog, error) {
	if cfg.MongoURI == "" {
		log.Info(ctx, "MONGO_URI not set, keeping responses in memory")
		return store.NewMemoryStore(), nil
	}

	ms, err := store.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return nil, err
	}
	b.closers = append(b.closers, ms.Close)
	log.Info(ctx, "connected to mongodb", "database", cfg.MongoDatabase)
	return ms, nil
}

// payee is PAY_TO, or the address of BOT_PRIVATE_KEY
func payee(cfg *config.Config) (string, error) {
	if cfg.PayTo != "" {
		return cfg.PayTo, nil
	}
	acct, err := account.FromPrivateKey(cfg.BotPrivateKey, cfg.Network)
	if err != nil {
		return "", fmt.Errorf("BOT_PRIVATE_KEY: %w", err)
	}
	return acct.Address(), nil
}
