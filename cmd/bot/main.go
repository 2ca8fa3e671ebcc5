package main

import (
	"context"
	"log"

	"github.com/x402-rs/x402-ask/middleware/client"
	"github.com/x402-rs/x402-ask/pkg/account"
	"github.com/x402-rs/x402-ask/pkg/app"
	"github.com/x402-rs/x402-ask/pkg/balance"
	"github.com/x402-rs/x402-ask/pkg/bot"
	"github.com/x402-rs/x402-ask/pkg/config"
	"github.com/x402-rs/x402-ask/pkg/logging"
	"github.com/x402-rs/x402-ask/pkg/network"
	"github.com/x402-rs/x402-ask/pkg/store"
	"github.com/x402-rs/x402-ask/pkg/telegram"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.ValidateBot(); err != nil {
		log.Fatalf("%v", err)
	}

	logger, err := app.NewLogger(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := app.SignalContext(context.Background())
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error(ctx, "bot stopped", "error", err)
		log.Fatalf("%v", err)
	}
	logger.Info(context.Background(), "bot exited")
}

func run(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	wallets, closeWallets, err := walletStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeWallets()

	api, err := telegram.Connect(cfg.TelegramToken)
	if err != nil {
		return err
	}
	logger.Info(ctx, "authorized on telegram", "username", api.Self.UserName)

	asker := bot.NewHTTPAsker(cfg.BackendURL,
		client.WithTimeout(cfg.ClientTimeout),
		client.WithMaxAmount(cfg.Amount),
		client.WithLogger(logger),
	)

	opts := []bot.Option{bot.WithLogger(logger)}
	if cfg.RPCURL != "" {
		info, err := network.GetNetworkInfo(cfg.Network)
		if err != nil {
			return err
		}
		inq, err := balance.New(ctx, info, cfg.RPCURL, cfg.TokenAddress)
		if err != nil {
			return err
		}
		opts = append(opts, bot.WithBalances(inq))
	}

	svc, err := bot.NewService(bot.Config{
		Network:    cfg.Network,
		Amount:     cfg.Amount,
		BotAddress: botAddress(cfg),
	}, telegram.NewMessenger(api, logger), wallets, asker, opts...)
	if err != nil {
		return err
	}

	svc.Start()
	defer svc.Stop()

	return telegram.NewPoller(api, svc, logger).Run(ctx)
}

func walletStore(ctx context.Context, cfg *config.Config, logger logging.Logger) (store.WalletRepository, func(), error) {
	if cfg.MongoURI == "" {
		logger.Warn(ctx, "MONGO_URI not set, wallets will not survive a restart")
		return store.NewMemoryStore(), func() {}, nil
	}

	ms, err := store.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return nil, nil, err
	}
	logger.Info(ctx, "connected to mongodb", "database", cfg.MongoDatabase)
	return ms, func() { ms.Close(context.Background()) }, nil
}

// botAddress is shown in /info. It is empty when neither PAY_TO nor a valid
// BOT_PRIVATE_KEY is configured.
func botAddress(cfg *config.Config) string {
	if cfg.PayTo != "" || cfg.BotPrivateKey == "" {
		return cfg.PayTo
	}
	acct, err := account.FromPrivateKey(cfg.BotPrivateKey, cfg.Network)
	if err != nil {
		return ""
	}
	return acct.Address()
}
