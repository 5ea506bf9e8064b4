package channels

import (
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/imsgclaw/internal/sessions"
)

// Envelope is the normalized inbound context handed to the agent backend.
type Envelope struct {
	Body               string    `json:"Body"`
	RawBody            string    `json:"RawBody"`
	From               string    `json:"From"`
	To                 string    `json:"To"`
	SessionKey         string    `json:"SessionKey"`
	AgentID            string    `json:"AgentId"`
	AccountID          string    `json:"AccountId"`
	ChatType           string    `json:"ChatType"`
	GroupSubject       string    `json:"GroupSubject,omitempty"`
	GroupMembers       string    `json:"GroupMembers,omitempty"`
	SenderName         string    `json:"SenderName"`
	SenderID           string    `json:"SenderId"`
	Provider           string    `json:"Provider"`
	Surface            string    `json:"Surface"`
	MessageSID         string    `json:"MessageSid,omitempty"`
	Timestamp          time.Time `json:"Timestamp,omitzero"`
	MediaPath          string    `json:"MediaPath,omitempty"`
	MediaType          string    `json:"MediaType,omitempty"`
	MediaURL           string    `json:"MediaUrl,omitempty"`
	WasMentioned       bool      `json:"WasMentioned"`
	CommandAuthorized  bool      `json:"CommandAuthorized"`
	OriginatingChannel string    `json:"OriginatingChannel"`
	OriginatingTo      string    `json:"OriginatingTo"`
}

// IsGroup reports a group conversation.
func (e *Envelope) IsGroup() bool { return e.ChatType == string(sessions.PeerGroup) }

// EnvelopeInput is the provider-normalized message the builder consumes.
type EnvelopeInput struct {
	Provider      string // "imessage"
	ProviderLabel string // "iMessage"
	IsGroup       bool
	SenderID      string // raw sender as received
	SenderName    string // normalized handle used for display
	ChatID        string
	ChatName      string
	ChatTarget    string // provider reply target, e.g. "chat_id:42"; empty falls back to provider:sender
	Participants  []string
	MessageID     string
	Timestamp     time.Time
	Text          string
	MediaPath     string
	MediaType     string
	Attachments   int
}

// mediaKinds maps MIME major types to placeholder kinds.
var mediaKinds = map[string]string{
	"image":       "image",
	"audio":       "audio",
	"video":       "video",
	"application": "document",
}

// MediaKind returns the placeholder kind for a MIME type, or "" when the
// type is missing or not one of image, audio, video or application.
func MediaKind(mediaType string) string {
	major, _, ok := strings.Cut(strings.ToLower(strings.TrimSpace(mediaType)), "/")
	if !ok {
		return ""
	}
	return mediaKinds[major]
}

// MediaPlaceholder returns "<media:kind>" for a recognized MIME type,
// "<media:attachment>" when attachments exist otherwise, else "".
func MediaPlaceholder(mediaType string, attachments int) string {
	if kind := MediaKind(mediaType); kind != "" {
		return "<media:" + kind + ">"
	}
	if attachments > 0 {
		return "<media:attachment>"
	}
	return ""
}

// FormatAgentEnvelope prefixes body with a one-line header naming the
// provider, sender label and time: "[iMessage Alice id:+1555 2026-01-02 15:04 UTC] hi".
func FormatAgentEnvelope(providerLabel, from string, ts time.Time, body string) string {
	parts := []string{providerLabel}
	if from != "" {
		parts = append(parts, from)
	}
	if !ts.IsZero() {
		parts = append(parts, ts.UTC().Format("2006-01-02 15:04")+" UTC")
	}
	return fmt.Sprintf("[%s] %s", strings.Join(parts, " "), body)
}

// FromLabel renders the human-readable sender label used in the envelope header.
func FromLabel(in EnvelopeInput) string {
	if in.IsGroup {
		name := strings.TrimSpace(in.ChatName)
		if name == "" {
			name = in.ProviderLabel + " Group"
		}
		return fmt.Sprintf("%s id:%s", name, in.ChatID)
	}
	return fmt.Sprintf("%s id:%s", in.SenderName, in.SenderID)
}

// BuildEnvelope assembles the normalized context. bodyText is the message
// text or media placeholder and must be non-empty.
func BuildEnvelope(in EnvelopeInput, bodyText string, d Decision, route sessions.Route) Envelope {
	kind := sessions.PeerKindFromGroup(in.IsGroup)

	from := in.Provider + ":" + in.SenderID
	if in.IsGroup {
		from = "group:" + in.ChatID
	}
	to := in.ChatTarget
	if to == "" {
		to = in.Provider + ":" + in.SenderID
	}

	env := Envelope{
		Body:               FormatAgentEnvelope(in.ProviderLabel, FromLabel(in), in.Timestamp, bodyText),
		RawBody:            bodyText,
		From:               from,
		To:                 to,
		SessionKey:         route.SessionKey,
		AgentID:            route.AgentID,
		AccountID:          route.AccountID,
		ChatType:           string(kind),
		SenderName:         in.SenderName,
		SenderID:           in.SenderID,
		Provider:           in.Provider,
		Surface:            in.Provider,
		MessageSID:         in.MessageID,
		Timestamp:          in.Timestamp,
		MediaPath:          in.MediaPath,
		MediaType:          in.MediaType,
		MediaURL:           in.MediaPath,
		WasMentioned:       d.WasMentioned,
		CommandAuthorized:  d.CommandAuthorized,
		OriginatingChannel: in.Provider,
		OriginatingTo:      to,
	}
	if in.IsGroup {
		env.GroupSubject = in.ChatName
		env.GroupMembers = strings.Join(NormalizeAllowList(in.Participants), ", ")
	}
	return env
}
