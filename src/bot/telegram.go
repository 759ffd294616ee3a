package bot

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/Vafelkin/outline-tg-bot/src/logging"
	"github.com/Vafelkin/outline-tg-bot/src/models"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Handler consumes inbound events
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// TelegramConfig configures the Telegram adapter
type TelegramConfig struct {
	Token       string
	APIEndpoint string // defaults to the public Bot API
	PollTimeout int    // long polling timeout in seconds
	Workers     int    // concurrently handled updates
	Debug       bool
	HTTPClient  *http.Client
}

// TelegramTransport implements Transport over the Telegram Bot API and
// long-polls updates into Events
type TelegramTransport struct {
	api         *tgbotapi.BotAPI
	pollTimeout int
	workers     int
	logger      zerolog.Logger
}

// NewTelegramTransport authenticates the bot token with getMe
func NewTelegramTransport(cfg TelegramConfig) (*TelegramTransport, error) {
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 60
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}

	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.APIEndpoint, cfg.HTTPClient)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram: %w", err)
	}
	api.Debug = cfg.Debug

	t := &TelegramTransport{
		api:         api,
		pollTimeout: cfg.PollTimeout,
		workers:     cfg.Workers,
		logger:      logging.NewLogger("telegram"),
	}
	t.logger.Info().Str("username", api.Self.UserName).Msg("authorized on telegram")
	return t, nil
}

// Username returns the bot account name
func (t *TelegramTransport) Username() string {
	return t.api.Self.UserName
}

// Run long-polls updates and hands them to h until ctx is cancelled.
// In-flight handlers are awaited before Run returns.
func (t *TelegramTransport) Run(ctx context.Context, h Handler) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.pollTimeout
	updates := t.api.GetUpdatesChan(u)

	sem := make(chan struct{}, t.workers)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			t.api.StopReceivingUpdates()
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			ev, ok := toEvent(upd)
			if !ok {
				continue
			}

			sem <- struct{}{}
			wg.Add(1)
			go func() {
				defer func() {
					<-sem
					wg.Done()
				}()
				if err := h.Handle(ctx, ev); err != nil {
					t.logger.Error().Err(err).Int64("actor_id", ev.Profile.ID).Str("kind", string(ev.Kind)).Msg("failed to handle update")
				}
			}()
		}
	}
}

// toEvent translates an update. Updates without a sender are dropped.
func toEvent(u tgbotapi.Update) (Event, bool) {
	if cq := u.CallbackQuery; cq != nil {
		if cq.From == nil {
			return Event{}, false
		}
		ev := Event{
			Kind:       EventCallback,
			Profile:    profileOf(cq.From),
			Payload:    cq.Data,
			CallbackID: cq.ID,
			ChatID:     cq.From.ID,
		}
		if cq.Message != nil && cq.Message.Chat != nil {
			ev.ChatID = cq.Message.Chat.ID
			ev.Message = models.MessageRef{ChatID: cq.Message.Chat.ID, MessageID: cq.Message.MessageID}
		}
		return ev, true
	}

	m := u.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return Event{}, false
	}
	ev := Event{
		Profile: profileOf(m.From),
		ChatID:  m.Chat.ID,
		Message: models.MessageRef{ChatID: m.Chat.ID, MessageID: m.MessageID},
	}
	switch {
	case m.IsCommand():
		ev.Kind = EventCommand
		ev.Command = m.Command()
		ev.Payload = m.CommandArguments()
	case strings.TrimSpace(m.Text) != "":
		ev.Kind = EventText
		ev.Payload = m.Text
	default:
		return Event{}, false
	}
	return ev, true
}

func profileOf(u *tgbotapi.User) models.ActorProfile {
	return models.ActorProfile{
		ID:           u.ID,
		Username:     u.UserName,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		LanguageCode: u.LanguageCode,
	}
}

func markup(kb Keyboard) *tgbotapi.InlineKeyboardMarkup {
	if len(kb) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, r := range kb {
		row := make([]tgbotapi.InlineKeyboardButton, 0, len(r))
		for _, b := range r {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		rows = append(rows, row)
	}
	m := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &m
}

// Send posts a new HTML message
func (t *TelegramTransport) Send(ctx context.Context, chatID int64, text string, kb Keyboard) (models.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return models.MessageRef{}, err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if m := markup(kb); m != nil {
		msg.ReplyMarkup = *m
	}

	sent, err := t.api.Send(msg)
	if err != nil {
		return models.MessageRef{}, fmt.Errorf("failed to send message: %w", err)
	}
	return models.MessageRef{ChatID: chatID, MessageID: sent.MessageID}, nil
}

// Edit replaces the text and keyboard of an existing message
func (t *TelegramTransport) Edit(ctx context.Context, ref models.MessageRef, text string, kb Keyboard) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageText(ref.ChatID, ref.MessageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	edit.DisableWebPagePreview = true
	edit.ReplyMarkup = markup(kb)

	if _, err := t.api.Request(edit); err != nil {
		if strings.Contains(err.Error(), "message is not modified") {
			return nil
		}
		return fmt.Errorf("failed to edit message: %w", err)
	}
	return nil
}

// Delete removes a message
func (t *TelegramTransport) Delete(ctx context.Context, ref models.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.api.Request(tgbotapi.NewDeleteMessage(ref.ChatID, ref.MessageID)); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// AnswerCallback acknowledges a button press, optionally with a toast
func (t *TelegramTransport) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("failed to answer callback: %w", err)
	}
	return nil
}
