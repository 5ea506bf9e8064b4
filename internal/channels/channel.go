// Package channels holds the provider-neutral inbound governance and reply
// delivery pipeline: allow lists, DM/group policy, mention gating, the
// normalized envelope handed to the agent backend, and the queued reply
// dispatcher. Provider packages (imessage, telegram, ...) supply transport.
package channels

import (
	"context"
	"errors"
	"strings"
)

// DMPolicy controls how DMs from unknown senders are handled.
type DMPolicy string

const (
	DMPolicyPairing   DMPolicy = "pairing"   // Require pairing code
	DMPolicyAllowlist DMPolicy = "allowlist" // Only whitelisted senders
	DMPolicyOpen      DMPolicy = "open"      // Accept all
	DMPolicyDisabled  DMPolicy = "disabled"  // Reject all DMs
)

// ParseDMPolicy maps a config string to a DMPolicy. Unknown values fall back to pairing.
func ParseDMPolicy(s string) DMPolicy {
	switch DMPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case DMPolicyAllowlist:
		return DMPolicyAllowlist
	case DMPolicyOpen:
		return DMPolicyOpen
	case DMPolicyDisabled:
		return DMPolicyDisabled
	default:
		return DMPolicyPairing
	}
}

// GroupPolicy controls how group messages are handled.
type GroupPolicy string

const (
	GroupPolicyOpen      GroupPolicy = "open"      // Accept all groups
	GroupPolicyAllowlist GroupPolicy = "allowlist" // Only whitelisted senders/groups
	GroupPolicyDisabled  GroupPolicy = "disabled"  // No group messages
)

// ParseGroupPolicy maps a config string to a GroupPolicy. Unknown values fall back to open.
func ParseGroupPolicy(s string) GroupPolicy {
	switch GroupPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case GroupPolicyAllowlist:
		return GroupPolicyAllowlist
	case GroupPolicyDisabled:
		return GroupPolicyDisabled
	default:
		return GroupPolicyOpen
	}
}

// ErrSessionClosed is returned by a Sender once its provider session is gone.
// The dispatcher stops delivering when it sees it.
var ErrSessionClosed = errors.New("provider session closed")

// ErrNotifyUnsupported is returned by notifiers for providers that cannot
// send an approval notice.
var ErrNotifyUnsupported = errors.New("notify not supported for provider")

// ReplyPayload is one unit of agent output.
type ReplyPayload struct {
	Text      string   `json:"text,omitempty"`
	MediaURL  string   `json:"mediaUrl,omitempty"`
	MediaURLs []string `json:"mediaUrls,omitempty"`
}

// Media returns the media list: MediaURLs when set, else the single MediaURL.
func (p ReplyPayload) Media() []string {
	if len(p.MediaURLs) > 0 {
		return p.MediaURLs
	}
	if p.MediaURL != "" {
		return []string{p.MediaURL}
	}
	return nil
}

// IsEmpty reports a payload with neither text nor media.
func (p ReplyPayload) IsEmpty() bool {
	return strings.TrimSpace(p.Text) == "" && len(p.Media()) == 0
}

// ReplyKind tags where a reply came from in the agent run.
type ReplyKind string

const (
	ReplyTool  ReplyKind = "tool"
	ReplyBlock ReplyKind = "block"
	ReplyFinal ReplyKind = "final"
)

// SendOptions carries per-send parameters for a provider Sender.
type SendOptions struct {
	MediaURL  string
	MaxBytes  int64
	AccountID string
	ChatID    string // when set, replies go to the chat instead of the target handle
}

// Sender is the provider send primitive. Text may be empty when MediaURL is set.
type Sender interface {
	Send(ctx context.Context, target, text string, opts SendOptions) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, target, text string, opts SendOptions) error

func (f SenderFunc) Send(ctx context.Context, target, text string, opts SendOptions) error {
	return f(ctx, target, text, opts)
}

// Notifier delivers the one-off "access approved" notice after an operator
// approves a pairing code.
type Notifier interface {
	Provider() string
	NotifyApproved(ctx context.Context, id, message string) error
}

// Truncate shortens a string to maxLen runes, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

// Preview returns a single-line, truncated rendering of s for logs.
func Preview(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", `\n`)
	return Truncate(s, maxLen)
}
