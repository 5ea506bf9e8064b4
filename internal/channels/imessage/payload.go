package imessage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// flexInt accepts a JSON number or a numeric string.
type flexInt struct {
	Value int64
	Set   bool
}

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("not an integer: %q", s)
		}
		f.Value, f.Set = n, true
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	v, err := n.Int64()
	if err != nil {
		fl, ferr := n.Float64()
		if ferr != nil {
			return err
		}
		v = int64(fl)
	}
	f.Value, f.Set = v, true
	return nil
}

// Attachment is one attachment as reported by the bridge.
type Attachment struct {
	OriginalPath *string `json:"original_path"`
	MimeType     *string `json:"mime_type"`
	Missing      *bool   `json:"missing"`
}

// Payload is the raw "message" notification body. Every field is optional.
type Payload struct {
	ID             *flexInt     `json:"id"`
	ChatID         *flexInt     `json:"chat_id"`
	Sender         *string      `json:"sender"`
	IsFromMe       *bool        `json:"is_from_me"`
	Text           *string      `json:"text"`
	CreatedAt      *string      `json:"created_at"`
	Attachments    []Attachment `json:"attachments"`
	ChatIdentifier *string      `json:"chat_identifier"`
	ChatGUID       *string      `json:"chat_guid"`
	ChatName       *string      `json:"chat_name"`
	Participants   []string     `json:"participants"`
	IsGroup        *bool        `json:"is_group"`
}

// InboundAttachment is a normalized Attachment.
type InboundAttachment struct {
	Path     string
	MimeType string
	Missing  bool
}

// Inbound is a Payload normalized once at the boundary: empty strings and
// zero values stand for absent fields.
type Inbound struct {
	ID             string
	ChatID         string
	Sender         string
	IsFromMe       bool
	Text           string
	CreatedAt      time.Time
	Attachments    []InboundAttachment
	ChatIdentifier string
	ChatGUID       string
	ChatName       string
	Participants   []string
	IsGroup        bool
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func flag(p *bool) bool { return p != nil && *p }

// Normalize converts the raw payload. Sender and text are trimmed.
func (p *Payload) Normalize() Inbound {
	in := Inbound{
		Sender:         strings.TrimSpace(str(p.Sender)),
		IsFromMe:       flag(p.IsFromMe),
		Text:           strings.TrimSpace(str(p.Text)),
		ChatIdentifier: strings.TrimSpace(str(p.ChatIdentifier)),
		ChatGUID:       strings.TrimSpace(str(p.ChatGUID)),
		ChatName:       strings.TrimSpace(str(p.ChatName)),
		IsGroup:        flag(p.IsGroup),
	}
	if p.ID != nil && p.ID.Set && p.ID.Value != 0 {
		in.ID = strconv.FormatInt(p.ID.Value, 10)
	}
	if p.ChatID != nil && p.ChatID.Set && p.ChatID.Value != 0 {
		in.ChatID = strconv.FormatInt(p.ChatID.Value, 10)
	}
	if ts := strings.TrimSpace(str(p.CreatedAt)); ts != "" {
		in.CreatedAt = parseTimestamp(ts)
	}
	for _, a := range p.Attachments {
		in.Attachments = append(in.Attachments, InboundAttachment{
			Path:     strings.TrimSpace(str(a.OriginalPath)),
			MimeType: strings.TrimSpace(str(a.MimeType)),
			Missing:  flag(a.Missing),
		})
	}
	for _, part := range p.Participants {
		if part = strings.TrimSpace(part); part != "" {
			in.Participants = append(in.Participants, part)
		}
	}
	return in
}

// FirstAttachment returns the first attachment with a path that is not missing.
func (in Inbound) FirstAttachment() (InboundAttachment, bool) {
	for _, a := range in.Attachments {
		if a.Path != "" && !a.Missing {
			return a, true
		}
	}
	return InboundAttachment{}, false
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// parseTimestamp returns the zero time for unparseable input.
func parseTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

type messageParams struct {
	Message *Payload `json:"message"`
}

// ParseMessageNotification decodes the params of a "message" notification.
// A notification without a message yields nil, nil.
func ParseMessageNotification(params json.RawMessage) (*Inbound, error) {
	if len(params) == 0 {
		return nil, nil
	}
	var mp messageParams
	if err := json.Unmarshal(params, &mp); err != nil {
		return nil, fmt.Errorf("decode message notification: %w", err)
	}
	if mp.Message == nil {
		return nil, nil
	}
	in := mp.Message.Normalize()
	return &in, nil
}
