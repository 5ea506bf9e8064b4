package imessage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/imsgclaw/internal/channels"
)

// RPC is the request half of Client, narrowed for senders and tests.
type RPC interface {
	Request(ctx context.Context, method string, params, out interface{}) error
}

// Sender implements channels.Sender on the bridge "send" method.
type Sender struct {
	rpc        RPC
	service    string
	region     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSender builds a sender. service is the default for bare handles
// (imessage, sms or auto); region is the phone-number region (default US).
func NewSender(rpc RPC, service, region string, logger *slog.Logger) *Sender {
	if service == "" {
		service = ServiceAuto
	}
	if region == "" {
		region = "US"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{rpc: rpc, service: strings.ToLower(service), region: region, logger: logger}
}

type sendResult struct {
	OK bool `json:"ok"`
}

// Send delivers text and optional media to target. opts.ChatID overrides
// target. Text may be empty when media is set.
func (s *Sender) Send(ctx context.Context, target, text string, opts channels.SendOptions) error {
	if opts.ChatID != "" {
		target = FormatChatTarget(opts.ChatID)
	}
	t, err := ParseTarget(target)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" && opts.MediaURL == "" {
		return nil
	}

	params := map[string]interface{}{
		"text":   text,
		"region": s.region,
	}
	switch t.Kind {
	case TargetChatID:
		params["chat_id"] = t.ChatID
	case TargetChatGUID:
		params["chat_guid"] = t.Value
	case TargetChatIdentifier:
		params["chat_identifier"] = t.Value
	default:
		params["to"] = t.Value
		service := s.service
		if t.Service != ServiceAuto {
			service = t.Service
		}
		params["service"] = service
	}

	if opts.MediaURL != "" {
		media, err := prepareMedia(ctx, s.httpClient, opts.MediaURL, opts.MaxBytes)
		if err != nil {
			return fmt.Errorf("imessage media: %w", err)
		}
		defer media.Close()
		params["file"] = media.Path
	}

	var res sendResult
	if err := s.rpc.Request(ctx, "send", params, &res); err != nil {
		if errors.Is(err, channels.ErrSessionClosed) {
			return err
		}
		return fmt.Errorf("imessage send to %s: %w", t.Kind, err)
	}
	s.logger.Debug("imessage: sent", "target_kind", t.Kind, "len", len(text), "media", opts.MediaURL != "")
	return nil
}
