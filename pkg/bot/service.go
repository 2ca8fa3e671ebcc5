// Package bot implements the chat front-end: per-user custodial wallets and
// paid questions forwarded to the backend through the paying client.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/x402-rs/x402-ask/pkg/account"
	"github.com/x402-rs/x402-ask/pkg/balance"
	"github.com/x402-rs/x402-ask/pkg/logging"
	"github.com/x402-rs/x402-ask/pkg/network"
	"github.com/x402-rs/x402-ask/pkg/store"
	"github.com/x402-rs/x402-ask/pkg/types"
)

// ErrNotReady is returned for updates that arrive before Start or after Stop
var ErrNotReady = errors.New("bot not ready")

// Messenger delivers replies to a user
type Messenger interface {
	// Send returns the id of the sent message
	Send(ctx context.Context, userID, text string) (int, error)
	Delete(ctx context.Context, userID string, messageID int) error
}

// Config is the fixed part of every reply
type Config struct {
	Network    types.Network
	Amount     uint64 // per query, smallest units
	BotAddress string
}

// userState is what the service remembers about a user between commands
type userState struct {
	HasWallet    bool
	LastQuestion string
}

// Service dispatches commands to handlers. It only accepts updates while
// ready.
type Service struct {
	cfg       Config
	info      network.NetworkInfo
	messenger Messenger
	wallets   store.WalletRepository
	balances  balance.Inquirer
	asker     Asker
	log       logging.Logger
	now       func() time.Time

	ready atomic.Bool

	mu    sync.Mutex
	users map[string]*userState
}

// Option configures a Service
type Option func(*Service)

// WithBalances enables /balance lookups
func WithBalances(inq balance.Inquirer) Option {
	return func(s *Service) { s.balances = inq }
}

func WithLogger(log logging.Logger) Option {
	return func(s *Service) { s.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a service in the not-ready state
func NewService(cfg Config, messenger Messenger, wallets store.WalletRepository, asker Asker, opts ...Option) (*Service, error) {
	info, err := network.GetNetworkInfo(cfg.Network)
	if err != nil {
		return nil, err
	}
	if cfg.Amount == 0 {
		return nil, fmt.Errorf("%w: payment amount must be positive", types.ErrConfig)
	}

	s := &Service{
		cfg:       cfg,
		info:      info,
		messenger: messenger,
		wallets:   wallets,
		asker:     asker,
		log:       logging.Discard(),
		now:       time.Now,
		users:     make(map[string]*userState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start marks the service ready to handle updates
func (s *Service) Start() {
	s.ready.Store(true)
	s.log.Info(context.Background(), "bot ready",
		"network", s.cfg.Network, "bot_address", s.cfg.BotAddress, "balances", s.balances != nil)
}

// Stop makes the service refuse further updates
func (s *Service) Stop() {
	s.ready.Store(false)
}

func (s *Service) Ready() bool {
	return s.ready.Load()
}

// HandleCommand runs the handler registered for command. Unknown commands
// get the help text.
func (s *Service) HandleCommand(ctx context.Context, userID, command, args string) error {
	if !s.Ready() {
		return ErrNotReady
	}

	handler, ok := commands[strings.ToLower(command)]
	if !ok {
		return s.reply(ctx, userID, s.helpMessage())
	}

	log := s.log.With("user_id", userID, "command", command)
	log.Debug(ctx, "handling command")
	if err := handler(ctx, s, userID, strings.TrimSpace(args)); err != nil {
		log.Error(ctx, "command failed", "error", err)
		return err
	}
	return nil
}

// HandleText answers plain, non-command messages with a usage hint
func (s *Service) HandleText(ctx context.Context, userID, text string) error {
	if !s.Ready() {
		return ErrNotReady
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if _, err := s.wallet(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return s.reply(ctx, userID, msgStartFirst)
		}
		return err
	}
	return s.reply(ctx, userID, tipMessage(text))
}

func (s *Service) reply(ctx context.Context, userID, text string) error {
	if _, err := s.messenger.Send(ctx, userID, text); err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	return nil
}

// user returns the record for userID, creating it on first use
func (s *Service) user(userID string) *userState {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		u = &userState{}
		s.users[userID] = u
	}
	return u
}

func (s *Service) updateUser(userID string, fn func(u *userState)) {
	u := s.user(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(u)
}

func (s *Service) snapshot(userID string) userState {
	u := s.user(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return *u
}

// wallet loads the user's wallet and keeps HasWallet in sync with storage
func (s *Service) wallet(ctx context.Context, userID string) (*store.Wallet, error) {
	w, err := s.wallets.Get(ctx, userID)
	switch {
	case err == nil:
		s.updateUser(userID, func(u *userState) { u.HasWallet = true })
		return w, nil
	case errors.Is(err, store.ErrNotFound):
		s.updateUser(userID, func(u *userState) { u.HasWallet = false })
		return nil, err
	default:
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}
}

// accountFor rebuilds the signing account of a stored wallet
func (s *Service) accountFor(w *store.Wallet) (*account.Account, error) {
	if w.Network != "" && w.Network != s.cfg.Network {
		wInfo, err := network.GetNetworkInfo(w.Network)
		if err != nil || wInfo.Family != s.info.Family {
			return nil, fmt.Errorf("%w: wallet belongs to %s, bot runs on %s", types.ErrConfig, w.Network, s.cfg.Network)
		}
	}
	return account.FromPrivateKey(w.PrivateKey, s.cfg.Network)
}
