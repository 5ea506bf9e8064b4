package imessage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/imsgclaw/internal/channels"
	"github.com/nextlevelbuilder/imsgclaw/internal/config"
)

// Notifier sends the approval notice over a short-lived bridge connection.
type Notifier struct {
	cfg     *config.Config
	connect ConnectFunc
	logger  *slog.Logger
}

// NewNotifier uses connect, or DefaultConnect when nil.
func NewNotifier(cfg *config.Config, connect ConnectFunc, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if connect == nil {
		connect = DefaultConnect(cfg, logger)
	}
	return &Notifier{cfg: cfg, connect: connect, logger: logger}
}

func (n *Notifier) Provider() string { return Provider }

func (n *Notifier) NotifyApproved(ctx context.Context, id, message string) error {
	t, err := n.connect(ctx)
	if err != nil {
		return fmt.Errorf("imessage: connect: %w", err)
	}
	client := NewClient(t, n.logger)
	defer client.Stop()

	im := n.cfg.IMessageSnapshot()
	sender := NewSender(client, im.Service, im.Region, n.logger)
	return sender.Send(ctx, id, message, channels.SendOptions{AccountID: im.AccountID})
}
