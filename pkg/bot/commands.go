package bot

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"

	"github.com/x402-rs/x402-ask/pkg/account"
	"github.com/x402-rs/x402-ask/pkg/store"
	"github.com/x402-rs/x402-ask/pkg/types"
)

type commandFunc func(ctx context.Context, s *Service, userID, args string) error

// commands is the full command table; anything else gets the help text
var commands = map[string]commandFunc{
	"start":   cmdStart,
	"info":    cmdInfo,
	"help":    cmdInfo,
	"balance": cmdBalance,
	"export":  cmdExport,
	"import":  cmdImport,
	"reset":   cmdReset,
	"ask":     cmdAsk,
}

func cmdStart(ctx context.Context, s *Service, userID, _ string) error {
	w, err := s.wallet(ctx, userID)
	if err == nil {
		return s.reply(ctx, userID, s.welcomeBackMessage(w))
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	acct, err := account.Generate(s.cfg.Network)
	if err != nil {
		return err
	}
	w = &store.Wallet{
		UserID:     userID,
		Address:    acct.Address(),
		PrivateKey: acct.PrivateKey(),
		Network:    s.cfg.Network,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.wallets.Save(ctx, w); err != nil {
		return fmt.Errorf("failed to save wallet: %w", err)
	}
	s.updateUser(userID, func(u *userState) { u.HasWallet = true })

	s.log.Info(ctx, "wallet created", "user_id", userID, "address", w.Address)
	return s.reply(ctx, userID, s.welcomeMessage(w))
}

func cmdInfo(ctx context.Context, s *Service, userID, _ string) error {
	return s.reply(ctx, userID, s.infoMessage())
}

func cmdBalance(ctx context.Context, s *Service, userID, _ string) error {
	w, ok, err := s.requireWallet(ctx, userID)
	if !ok {
		return err
	}

	if s.balances == nil {
		return s.reply(ctx, userID, s.balanceUnavailableMessage(w))
	}

	units, err := s.balances.GetBalance(ctx, w.Address)
	if err != nil {
		s.log.Warn(ctx, "balance lookup failed", "user_id", userID, "address", w.Address, "error", err)
		return s.reply(ctx, userID, s.balanceErrorMessage(w))
	}
	return s.reply(ctx, userID, s.balanceMessage(w, units))
}

func cmdExport(ctx context.Context, s *Service, userID, _ string) error {
	w, ok, err := s.requireWallet(ctx, userID)
	if !ok {
		return err
	}
	return s.reply(ctx, userID, exportMessage(w))
}

func cmdImport(ctx context.Context, s *Service, userID, args string) error {
	if args == "" {
		return s.reply(ctx, userID, msgImportUsage)
	}

	acct, err := account.FromPrivateKey(args, s.cfg.Network)
	if err != nil {
		s.log.Info(ctx, "rejected wallet import", "user_id", userID, "error", err)
		return s.reply(ctx, userID, msgInvalidKey)
	}

	now := s.now().UTC()
	w := &store.Wallet{
		UserID:     userID,
		Address:    acct.Address(),
		PrivateKey: acct.PrivateKey(),
		Network:    s.cfg.Network,
		CreatedAt:  now,
		ImportedAt: &now,
	}
	if err := s.wallets.Save(ctx, w); err != nil {
		return fmt.Errorf("failed to save wallet: %w", err)
	}
	s.updateUser(userID, func(u *userState) { u.HasWallet = true })

	s.log.Info(ctx, "wallet imported", "user_id", userID, "address", w.Address)
	return s.reply(ctx, userID, importedMessage(w))
}

func cmdReset(ctx context.Context, s *Service, userID, _ string) error {
	if err := s.wallets.Delete(ctx, userID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to delete wallet: %w", err)
	}
	s.updateUser(userID, func(u *userState) {
		u.HasWallet = false
		u.LastQuestion = ""
	})

	s.log.Info(ctx, "wallet reset", "user_id", userID)
	return s.reply(ctx, userID, msgReset)
}

func cmdAsk(ctx context.Context, s *Service, userID, question string) error {
	if question == "" {
		return s.reply(ctx, userID, msgAskUsage)
	}

	w, ok, err := s.requireWallet(ctx, userID)
	if !ok {
		return err
	}
	acct, err := s.accountFor(w)
	if err != nil {
		s.log.Warn(ctx, "stored wallet unusable", "user_id", userID, "error", err)
		return s.reply(ctx, userID, msgWalletUnusable)
	}

	s.updateUser(userID, func(u *userState) { u.LastQuestion = question })

	processingID, err := s.messenger.Send(ctx, userID, s.processingMessage(question))
	if err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}

	result, askErr := s.asker.Ask(ctx, acct, question, userID)

	// best-effort
	if err := s.messenger.Delete(ctx, userID, processingID); err != nil {
		s.log.Debug(ctx, "failed to delete processing message", "user_id", userID, "error", err)
	}

	if askErr != nil {
		if isPaymentFailure(askErr) {
			s.log.Info(ctx, "question not paid", "user_id", userID, "error", askErr)
			return s.reply(ctx, userID, s.paymentRequiredMessage(w))
		}
		s.log.Error(ctx, "question failed", "user_id", userID, "error", askErr)
		return s.reply(ctx, userID, requestErrorMessage(askErr))
	}

	s.log.Info(ctx, "question paid", "user_id", userID, "transaction", result.Receipt.Transaction)
	return s.reply(ctx, userID, s.answerMessage(result))
}

// requireWallet loads the wallet or tells the user to /start. ok is false
// when the caller should stop; err is then the outcome of the command.
func (s *Service) requireWallet(ctx context.Context, userID string) (*store.Wallet, bool, error) {
	w, err := s.wallet(ctx, userID)
	switch {
	case err == nil:
		return w, true, nil
	case errors.Is(err, store.ErrNotFound):
		return nil, false, s.reply(ctx, userID, msgStartFirst)
	default:
		return nil, false, err
	}
}

// isPaymentFailure reports whether the backend refused the payment itself,
// which the user can fix by funding the wallet
func isPaymentFailure(err error) bool {
	var perr *types.PaymentError
	if errors.As(err, &perr) && perr.StatusCode == http.StatusPaymentRequired {
		return true
	}
	return errors.Is(err, types.ErrPaymentRequired) || errors.Is(err, types.ErrInsufficientAmount)
}

// queriesAffordable is how many paid questions units covers, or -1 when the
// balance is not in the payment currency
func (s *Service) queriesAffordable(units *big.Int) int64 {
	if s.balances.Symbol() != s.info.TokenSymbol || s.balances.Decimals() != s.info.Decimals {
		return -1
	}
	return new(big.Int).Quo(units, new(big.Int).SetUint64(s.cfg.Amount)).Int64()
}
