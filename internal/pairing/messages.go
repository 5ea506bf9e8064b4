package pairing

import (
	"errors"
	"fmt"
	"strings"
)

// ApprovedMessage is sent to a requester when --notify is given.
const ApprovedMessage = "✅ imsgclaw access approved. Send a message to start chatting."

// Providers accepted by the pairing CLI, in display order.
var Providers = []string{"telegram", "signal", "imessage", "discord", "slack", "whatsapp"}

var ErrUnknownProvider = errors.New("unknown provider")

// ProviderError reports a provider name outside Providers.
type ProviderError struct {
	Value string
}

func (e *ProviderError) Error() string {
	shown := e.Value
	if shown == "" {
		shown = "(empty)"
	}
	return fmt.Sprintf("Invalid provider: %s (expected one of: %s)", shown, strings.Join(Providers, ", "))
}

func (e *ProviderError) Is(target error) bool { return target == ErrUnknownProvider }

var idLabels = map[string]string{
	"telegram": "telegramUserId",
	"signal":   "signalNumber",
	"imessage": "imessageSenderId",
	"discord":  "discordUserId",
	"slack":    "slackUserId",
	"whatsapp": "whatsappSenderId",
}

// ParseProvider validates a provider name case-insensitively.
func ParseProvider(raw string) (string, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if _, ok := idLabels[v]; ok {
		return v, nil
	}
	return "", &ProviderError{Value: v}
}

// IDLabel names the subject id field of provider in list output.
func IDLabel(provider string) string {
	if l, ok := idLabels[provider]; ok {
		return l
	}
	return "id"
}

// BuildPairingReply renders the one-shot reply sent with a fresh code.
func BuildPairingReply(provider, idLine, code string) string {
	return strings.Join([]string{
		"imsgclaw: access not configured.",
		"",
		idLine,
		"",
		"Pairing code: " + code,
		"",
		"Ask the bot owner to approve with:",
		"  imsgclaw pairing approve --provider " + provider + " " + code,
	}, "\n")
}
