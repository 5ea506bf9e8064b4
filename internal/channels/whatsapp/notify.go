package whatsapp

import (
	"context"

	"github.com/nextlevelbuilder/imsgclaw/internal/channels"
)

const Provider = "whatsapp"

// Notifier accepts approvals but cannot message the requester.
type Notifier struct{}

func (Notifier) Provider() string { return Provider }

func (Notifier) NotifyApproved(context.Context, string, string) error {
	return channels.ErrNotifyUnsupported
}
