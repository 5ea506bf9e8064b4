package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/imsgclaw/internal/config"
)

const Provider = "telegram"

var ErrNoToken = errors.New("telegram token not configured")

// Notifier sends approval notices through the Bot API.
type Notifier struct {
	bot *telego.Bot
}

// NewNotifier builds a bot client from cfg. Extra options are appended
// after the proxy client.
func NewNotifier(cfg config.TelegramConfig, extra ...telego.BotOption) (*Notifier, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrNoToken
	}
	var opts []telego.BotOption
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Proxy, err)
		}
		opts = append(opts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyURL(proxyURL),
			},
		}))
	}
	opts = append(opts, extra...)

	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Notifier{bot: bot}, nil
}

func (n *Notifier) Provider() string { return Provider }

// NotifyApproved messages the approved user; id is the numeric user id,
// which doubles as the private chat id.
func (n *Notifier) NotifyApproved(ctx context.Context, id, message string) error {
	chatID, err := parseUserID(id)
	if err != nil {
		return err
	}
	if _, err := n.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), message)); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func parseUserID(id string) (int64, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: invalid user id %q", id)
	}
	return chatID, nil
}
