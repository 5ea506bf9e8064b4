// Package signal sends pairing approval notices through a signal-cli REST
// API instance.
package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/imsgclaw/internal/config"
)

const Provider = "signal"

var ErrNotConfigured = errors.New("signal base_url and account not configured")

type Notifier struct {
	baseURL string
	account string
	client  *http.Client
}

func NewNotifier(cfg config.SignalConfig, client *http.Client) (*Notifier, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	account := strings.TrimSpace(cfg.Account)
	if base == "" || account == "" {
		return nil, ErrNotConfigured
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Notifier{baseURL: base, account: account, client: client}, nil
}

func (n *Notifier) Provider() string { return Provider }

type sendRequest struct {
	Message    string   `json:"message"`
	Number     string   `json:"number"`
	Recipients []string `json:"recipients"`
}

func (n *Notifier) NotifyApproved(ctx context.Context, id, message string) error {
	recipient := strings.TrimSpace(id)
	if recipient == "" {
		return fmt.Errorf("signal: empty recipient")
	}
	body, err := json.Marshal(sendRequest{Message: message, Number: n.account, Recipients: []string{recipient}})
	if err != nil {
		return fmt.Errorf("encode signal send: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/v2/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build signal request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("signal send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("signal send: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
