package imessage

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/nextlevelbuilder/imsgclaw/internal/channels"
)

// Target kinds accepted by the send RPC.
const (
	TargetChatID         = "chat_id"
	TargetChatGUID       = "chat_guid"
	TargetChatIdentifier = "chat_identifier"
	TargetHandle         = "handle"
)

// Services a handle may be prefixed with.
const (
	ServiceIMessage = "imessage"
	ServiceSMS      = "sms"
	ServiceAuto     = "auto"
)

var servicePrefixes = []string{ServiceIMessage + ":", ServiceSMS + ":", ServiceAuto + ":"}

// NormalizeHandle canonicalizes a sender handle: service prefixes are
// stripped, emails lower-cased, phone numbers reduced to +digits.
func NormalizeHandle(raw string) string {
	s := strings.TrimSpace(raw)
	for {
		lower := strings.ToLower(s)
		stripped := false
		for _, p := range servicePrefixes {
			if strings.HasPrefix(lower, p) {
				s = strings.TrimSpace(s[len(p):])
				stripped = true
				break
			}
		}
		if !stripped {
			break
		}
	}
	if s == "" {
		return ""
	}
	if strings.Contains(s, "@") {
		return strings.ToLower(s)
	}
	if phone := normalizePhone(s); phone != "" {
		return phone
	}
	return strings.Join(strings.Fields(s), "")
}

// normalizePhone returns +digits when s only holds phone punctuation.
func normalizePhone(s string) string {
	var digits strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits.WriteRune(r)
		case r == '+' || r == '-' || r == '(' || r == ')' || r == '.' || unicode.IsSpace(r):
		default:
			return ""
		}
	}
	if digits.Len() == 0 {
		return ""
	}
	return "+" + digits.String()
}

// Target is a parsed send destination.
type Target struct {
	Kind    string
	ChatID  int64
	Value   string
	Service string
}

// ParseTarget accepts chat_id:<n>, chat_guid:<g>, chat_identifier:<s>, or a
// handle optionally prefixed by imessage:, sms: or auto:.
func ParseTarget(raw string) (Target, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Target{}, fmt.Errorf("imessage: empty target")
	}
	lower := strings.ToLower(s)

	for _, p := range []string{"chat_id:", "chatid:", "chat:"} {
		if strings.HasPrefix(lower, p) {
			v := strings.TrimSpace(s[len(p):])
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n <= 0 {
				return Target{}, fmt.Errorf("imessage: invalid chat_id target %q", raw)
			}
			return Target{Kind: TargetChatID, ChatID: n, Value: strconv.FormatInt(n, 10)}, nil
		}
	}
	for _, p := range []string{"chat_guid:", "chatguid:", "guid:"} {
		if strings.HasPrefix(lower, p) {
			v := strings.TrimSpace(s[len(p):])
			if v == "" {
				return Target{}, fmt.Errorf("imessage: empty chat_guid target")
			}
			return Target{Kind: TargetChatGUID, Value: v}, nil
		}
	}
	for _, p := range []string{"chat_identifier:", "chatidentifier:", "chatident:"} {
		if strings.HasPrefix(lower, p) {
			v := strings.TrimSpace(s[len(p):])
			if v == "" {
				return Target{}, fmt.Errorf("imessage: empty chat_identifier target")
			}
			return Target{Kind: TargetChatIdentifier, Value: v}, nil
		}
	}

	service := ServiceAuto
	for _, p := range servicePrefixes {
		if strings.HasPrefix(lower, p) {
			service = strings.TrimSuffix(p, ":")
			s = strings.TrimSpace(s[len(p):])
			break
		}
	}
	handle := NormalizeHandle(s)
	if handle == "" {
		return Target{}, fmt.Errorf("imessage: empty handle in target %q", raw)
	}
	return Target{Kind: TargetHandle, Value: handle, Service: service}, nil
}

// FormatChatTarget returns "chat_id:<id>", or "" without a chat id.
func FormatChatTarget(chatID string) string {
	if strings.TrimSpace(chatID) == "" {
		return ""
	}
	return TargetChatID + ":" + strings.TrimSpace(chatID)
}

// IsAllowedSender matches sender or chat identity against allow-list
// entries. Entries may be handles or chat_id:, chat_guid:,
// chat_identifier: targets.
func IsAllowedSender(allow channels.AllowList, sender, chatID, chatGUID, chatIdentifier string) bool {
	if allow.HasWildcard() {
		return true
	}
	senderNorm := NormalizeHandle(sender)
	for _, entry := range allow {
		t, err := ParseTarget(entry)
		if err != nil {
			continue
		}
		switch t.Kind {
		case TargetChatID:
			if chatID != "" && t.Value == chatID {
				return true
			}
		case TargetChatGUID:
			if chatGUID != "" && t.Value == chatGUID {
				return true
			}
		case TargetChatIdentifier:
			if chatIdentifier != "" && t.Value == chatIdentifier {
				return true
			}
		case TargetHandle:
			if senderNorm != "" && t.Value == senderNorm {
				return true
			}
		}
	}
	return false
}
