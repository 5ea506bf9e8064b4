// Package slack sends pairing approval notices as Slack bot DMs.
package slack

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/nextlevelbuilder/imsgclaw/internal/config"
)

const Provider = "slack"

var ErrNoToken = errors.New("slack bot token not configured")

type Notifier struct {
	api *slack.Client
}

// NewNotifier builds a Web API client; opts are passed to slack.New.
func NewNotifier(cfg config.SlackConfig, opts ...slack.Option) (*Notifier, error) {
	token := strings.TrimSpace(cfg.BotToken)
	if token == "" {
		return nil, ErrNoToken
	}
	return &Notifier{api: slack.New(token, opts...)}, nil
}

func (n *Notifier) Provider() string { return Provider }

// NotifyApproved opens (or reuses) the DM with the user and posts message.
func (n *Notifier) NotifyApproved(ctx context.Context, id, message string) error {
	userID := strings.TrimSpace(id)
	if userID == "" {
		return fmt.Errorf("slack: empty user id")
	}
	ch, _, _, err := n.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{
		Users:    []string{userID},
		ReturnIM: true,
	})
	if err != nil {
		return fmt.Errorf("slack conversations.open: %w", err)
	}
	if _, _, err := n.api.PostMessageContext(ctx, ch.ID, slack.MsgOptionText(message, false)); err != nil {
		return fmt.Errorf("slack chat.postMessage: %w", err)
	}
	return nil
}
