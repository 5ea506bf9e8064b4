// Package notifiers picks the approval notifier for a pairing provider.
package notifiers

import (
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/imsgclaw/internal/channels"
	"github.com/nextlevelbuilder/imsgclaw/internal/channels/discord"
	"github.com/nextlevelbuilder/imsgclaw/internal/channels/imessage"
	"github.com/nextlevelbuilder/imsgclaw/internal/channels/signal"
	"github.com/nextlevelbuilder/imsgclaw/internal/channels/slack"
	"github.com/nextlevelbuilder/imsgclaw/internal/channels/telegram"
	"github.com/nextlevelbuilder/imsgclaw/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/imsgclaw/internal/config"
)

// New returns the notifier for provider, built from its config section.
// Missing credentials surface as an error here, before any send.
func New(provider string, cfg *config.Config, logger *slog.Logger) (channels.Notifier, error) {
	ch := cfg.ChannelsSnapshot()
	var (
		n   channels.Notifier
		err error
	)
	switch provider {
	case imessage.Provider:
		n = imessage.NewNotifier(cfg, nil, logger)
	case telegram.Provider:
		n, err = wrap(telegram.NewNotifier(ch.Telegram))
	case discord.Provider:
		n, err = wrap(discord.NewNotifier(ch.Discord))
	case slack.Provider:
		n, err = wrap(slack.NewNotifier(ch.Slack))
	case signal.Provider:
		n, err = wrap(signal.NewNotifier(ch.Signal, nil))
	case whatsapp.Provider:
		n = whatsapp.Notifier{}
	default:
		err = fmt.Errorf("no notifier for provider %q", provider)
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

// wrap drops the typed nil a failed constructor returns.
func wrap[T channels.Notifier](n T, err error) (channels.Notifier, error) {
	if err != nil {
		return nil, err
	}
	return n, nil
}
