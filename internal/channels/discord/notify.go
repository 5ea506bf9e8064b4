package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/imsgclaw/internal/config"
)

const Provider = "discord"

var ErrNoToken = errors.New("discord token not configured")

// Notifier sends approval notices as bot DMs over the REST API. The
// gateway connection is never opened.
type Notifier struct {
	session *discordgo.Session
}

func NewNotifier(cfg config.DiscordConfig) (*Notifier, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, ErrNoToken
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &Notifier{session: session}, nil
}

func (n *Notifier) Provider() string { return Provider }

func (n *Notifier) NotifyApproved(ctx context.Context, id, message string) error {
	userID := strings.TrimSpace(id)
	if userID == "" {
		return fmt.Errorf("discord: empty user id")
	}
	ch, err := n.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord open dm: %w", err)
	}
	if _, err := n.session.ChannelMessageSend(ch.ID, message, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}
