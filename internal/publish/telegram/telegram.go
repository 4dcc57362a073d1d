// Package telegram publishes posts to a Telegram channel or chat.
//
// The linked account's credential is the bot token and its external id is
// the target chat id.
package telegram

import (
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	tele "gopkg.in/telebot.v4"

	"postpilot/internal/publish"
	logx "postpilot/pkg/logx"
	"postpilot/pkg/models"
)

const Platform = "telegram"

// maxBots bounds the per-token client cache.
const maxBots = 64

type Config struct {
	// URL overrides the Bot API endpoint (tests, local bot API server).
	URL     string
	Timeout time.Duration
}

type Publisher struct {
	cfg  Config
	log  logx.Logger
	http *http.Client
	// bots maps bot token to an offline client. Least recently used
	// tokens are evicted; rejected tokens are dropped at once.
	bots *lru.Cache
}

func New(cfg Config, log logx.Logger) *Publisher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	bots, _ := lru.New(maxBots) // only fails for size <= 0
	return &Publisher{
		cfg:  cfg,
		log:  log.With(logx.String("comp", "publish"), logx.String("platform", Platform)),
		http: &http.Client{Timeout: cfg.Timeout},
		bots: bots,
	}
}

func (p *Publisher) Platform() string { return Platform }

func (p *Publisher) bot(token string) (*tele.Bot, error) {
	if v, ok := p.bots.Get(token); ok {
		return v.(*tele.Bot), nil
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     p.cfg.URL,
		Token:   token,
		Client:  p.http,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	p.bots.Add(token, b)
	return b, nil
}

func (p *Publisher) Publish(ctx context.Context, c models.Content, cred publish.Credential) publish.Outcome {
	token := strings.TrimSpace(cred.Token)
	if token == "" {
		return publish.Fail(publish.ErrRejected, "empty bot token")
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(cred.ExternalID), 10, 64)
	if err != nil {
		return publish.Fail(publish.ErrRejected, "invalid chat id")
	}
	b, err := p.bot(token)
	if err != nil {
		return publish.Fail(publish.ErrInternal, err.Error())
	}

	text := publish.Format(Platform, c.Caption, c.Hashtags)

	type result struct {
		msg *tele.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := b.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{DisableWebPagePreview: true})
		done <- result{msg, err}
	}()

	select {
	case <-ctx.Done():
		return publish.Fail(publish.ErrTimeout, ctx.Err().Error())
	case r := <-done:
		if r.err != nil {
			kind := classify(r.err)
			if kind == publish.ErrRejected {
				p.bots.Remove(token)
			}
			p.log.Warn("telegram send failed", logx.Int64("chat_id", chatID), logx.String("kind", string(kind)), logx.Err(r.err))
			return publish.Fail(kind, r.err.Error())
		}
		if r.msg == nil {
			return publish.Fail(publish.ErrInternal, "empty response")
		}
		return publish.Ok(strconv.FormatInt(chatID, 10) + ":" + strconv.Itoa(r.msg.ID))
	}
}

// apiCode matches the "telegram: <description> (<code>)" form telebot uses
// for Bot API errors it has no named value for.
var apiCode = regexp.MustCompile(`^telegram: .* \((\d{3})\)$`)

func classify(err error) publish.ErrorKind {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return publish.ErrRateLimited
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return publish.ErrTimeout
	}
	code := 0
	var terr *tele.Error
	if errors.As(err, &terr) {
		code = terr.Code
	} else if m := apiCode.FindStringSubmatch(err.Error()); m != nil {
		code, _ = strconv.Atoi(m[1])
	}
	switch {
	case code == http.StatusTooManyRequests:
		return publish.ErrRateLimited
	case code >= 400 && code < 500:
		return publish.ErrRejected
	default:
		return publish.ErrInternal
	}
}
