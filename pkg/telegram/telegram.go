// Package telegram connects the bot service to the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"github.com/x402-rs/x402-ask/pkg/logging"
)

const (
	pollTimeout       = 60
	defaultConcurrent = 16
)

// Handler receives decoded chat updates. Both methods are called
// concurrently for different updates.
type Handler interface {
	HandleCommand(ctx context.Context, userID, command, args string) error
	HandleText(ctx context.Context, userID, text string) error
}

// API is the subset of *tgbotapi.BotAPI used here
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Connect authenticates with the Bot API
func Connect(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram: %w", err)
	}
	return api, nil
}

// Messenger sends Markdown replies, falling back to plain text when
// Telegram cannot parse the markup
type Messenger struct {
	api API
	log logging.Logger
}

func NewMessenger(api API, log logging.Logger) *Messenger {
	return &Messenger{api: api, log: log}
}

func (m *Messenger) Send(ctx context.Context, userID, text string) (int, error) {
	chatID, err := parseChatID(userID)
	if err != nil {
		return 0, err
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	sent, err := m.api.Send(msg)
	if err != nil && isParseError(err) {
		m.log.Debug(ctx, "markdown rejected, resending as plain text", "chat_id", chatID, "error", err)
		msg.ParseMode = ""
		sent, err = m.api.Send(msg)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to send message: %w", err)
	}
	return sent.MessageID, nil
}

func (m *Messenger) Delete(ctx context.Context, userID string, messageID int) error {
	chatID, err := parseChatID(userID)
	if err != nil {
		return err
	}
	if _, err := m.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// Poller long-polls for updates and hands each message to the handler
type Poller struct {
	api        API
	handler    Handler
	log        logging.Logger
	concurrent int
}

func NewPoller(api API, handler Handler, log logging.Logger) *Poller {
	return &Poller{api: api, handler: handler, log: log, concurrent: defaultConcurrent}
}

// Run processes updates until ctx is done, then waits for in-flight
// handlers to return
func (p *Poller) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = pollTimeout
	updates := p.api.GetUpdatesChan(cfg)

	g := new(errgroup.Group)
	g.SetLimit(p.concurrent)

	defer g.Wait()
	for {
		select {
		case <-ctx.Done():
			p.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			g.Go(func() error {
				p.Dispatch(ctx, update)
				return nil
			})
		}
	}
}

// Dispatch routes one update. Handler errors are logged, not returned.
func (p *Poller) Dispatch(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	userID := strconv.FormatInt(msg.Chat.ID, 10)
	log := p.log.With("user_id", userID, "update_id", update.UpdateID)

	var err error
	if msg.IsCommand() {
		err = p.handler.HandleCommand(ctx, userID, msg.Command(), msg.CommandArguments())
	} else if msg.Text != "" {
		err = p.handler.HandleText(ctx, userID, msg.Text)
	}
	if err != nil {
		log.Error(ctx, "failed to handle update", "error", err)
	}
}

func parseChatID(userID string) (int64, error) {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q: %w", userID, err)
	}
	return chatID, nil
}

func isParseError(err error) bool {
	return strings.Contains(err.Error(), "can't parse entities")
}
