package notifier

import (
	"context"
	"errors"
	"net/http"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "postpilot/pkg/logx"
)

// LogSender writes alerts to the log. It is the sender when no chat is configured.
type LogSender struct {
	Log logx.Logger
}

func (s LogSender) Send(_ context.Context, text string) error {
	s.Log.Warn("operator alert", logx.String("alert", text))
	return nil
}

type TelegramConfig struct {
	Token  string
	ChatID int64
	// URL overrides the Bot API endpoint.
	URL     string
	Timeout time.Duration
}

// TelegramSender posts alerts to an operator chat.
type TelegramSender struct {
	bot  *tele.Bot
	chat *tele.Chat
}

func NewTelegramSender(cfg TelegramConfig) (*TelegramSender, error) {
	if cfg.Token == "" || cfg.ChatID == 0 {
		return nil, errors.New("telegram alert sender needs a token and a chat id")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.URL,
		Token:   cfg.Token,
		Client:  &http.Client{Timeout: cfg.Timeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &TelegramSender{bot: b, chat: &tele.Chat{ID: cfg.ChatID}}, nil
}

func (s *TelegramSender) Send(ctx context.Context, text string) error {
	done := make(chan error, 1)
	go func() {
		_, err := s.bot.Send(s.chat, text, &tele.SendOptions{DisableWebPagePreview: true})
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
