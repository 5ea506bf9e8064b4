package config

// ChannelsConfig contains per-channel configuration. Only iMessage carries an
// inbound pipeline; the others hold credentials for approval notices.
type ChannelsConfig struct {
	IMessage IMessageConfig `json:"imessage"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	Slack    SlackConfig    `json:"slack"`
	Signal   SignalConfig   `json:"signal"`
}

type IMessageConfig struct {
	Enabled            bool                           `json:"enabled"`
	AccountID          string                         `json:"account_id,omitempty"`   // default "default"
	CLIPath            string                         `json:"cli_path,omitempty"`     // default "imsg"
	DBPath             string                         `json:"db_path,omitempty"`      // Messages chat.db override
	BridgeURL          string                         `json:"bridge_url,omitempty"`   // ws:// bridge instead of spawning cli_path
	BridgeToken        string                         `json:"bridge_token,omitempty"` // bearer token for bridge_url
	Service            string                         `json:"service,omitempty"`      // "imessage", "sms", "auto" (default)
	Region             string                         `json:"region,omitempty"`       // default "US"
	AllowFrom          FlexibleStringSlice            `json:"allow_from"`
	GroupAllowFrom     FlexibleStringSlice            `json:"group_allow_from,omitempty"` // nil = fall back to allow_from
	DMPolicy           string                         `json:"dm_policy,omitempty"`        // "pairing" (default), "allowlist", "open", "disabled"
	GroupPolicy        string                         `json:"group_policy,omitempty"`     // "open" (default), "allowlist", "disabled"
	RequireMention     *bool                          `json:"require_mention,omitempty"`  // account default when no group entry sets it (default true)
	Groups             map[string]IMessageGroupConfig `json:"groups,omitempty"`           // chat_id or "*"; non-empty map enables group listing
	IncludeAttachments bool                           `json:"include_attachments,omitempty"`
	MediaMaxMB         int                            `json:"media_max_mb,omitempty"`     // default 16
	TextChunkLimit     int                            `json:"text_chunk_limit,omitempty"` // default 4000
	SendRatePerSec     float64                        `json:"send_rate_per_sec,omitempty"` // 0 = unlimited
}

// IMessageGroupConfig is a per-group override keyed by chat id.
type IMessageGroupConfig struct {
	RequireMention *bool `json:"require_mention,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	Proxy string `json:"proxy,omitempty"`
}

type DiscordConfig struct {
	Token string `json:"token"`
}

type SlackConfig struct {
	BotToken string `json:"bot_token"`
}

// SignalConfig points at a signal-cli REST API instance.
type SignalConfig struct {
	BaseURL string `json:"base_url,omitempty"` // e.g. "http://127.0.0.1:8080"
	Account string `json:"account,omitempty"`  // registered number, "+15551234567"
}

// GatewayConfig points at the agent gateway that produces replies.
type GatewayConfig struct {
	URL        string `json:"url"`                   // ws://host:port/ws
	Token      string `json:"token,omitempty"`       // bearer token for the connect RPC
	TimeoutSec int    `json:"timeout_sec,omitempty"` // per-dispatch timeout (default 300)
}

// IMessageSnapshot returns a copy of the iMessage section taken under the read lock.
// The monitor calls this per message so hot reloads apply to the next message.
func (c *Config) IMessageSnapshot() IMessageConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	im := c.Channels.IMessage
	im.AllowFrom = append(FlexibleStringSlice(nil), im.AllowFrom...)
	if im.GroupAllowFrom != nil {
		im.GroupAllowFrom = append(FlexibleStringSlice{}, im.GroupAllowFrom...)
	}
	if im.Groups != nil {
		groups := make(map[string]IMessageGroupConfig, len(im.Groups))
		for k, v := range im.Groups {
			groups[k] = v
		}
		im.Groups = groups
	}
	return im
}

// ChannelsSnapshot returns a shallow copy of all channel sections.
func (c *Config) ChannelsSnapshot() ChannelsConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Channels
}
