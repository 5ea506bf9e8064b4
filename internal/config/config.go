package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// DefaultAgentID is used when no agent in the list is marked as default.
const DefaultAgentID = "default"

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
// Phone numbers are commonly written as bare numbers in allow lists.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for imsgclaw.
type Config struct {
	Agents    AgentsConfig    `json:"agents"`
	Channels  ChannelsConfig  `json:"channels"`
	Messages  MessagesConfig  `json:"messages"`
	Gateway   GatewayConfig   `json:"gateway"`
	Sessions  SessionsConfig  `json:"sessions"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Dedup     DedupConfig     `json:"dedup,omitempty"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Bindings  []AgentBinding  `json:"bindings,omitempty"`
	mu        sync.RWMutex
}

// DatabaseConfig selects the persistence backend for pairing and route state.
// PostgresDSN is NEVER read from the config file, only from env IMSGCLAW_POSTGRES_DSN.
type DatabaseConfig struct {
	Driver      string `json:"driver,omitempty"`      // "file" (default), "sqlite", "postgres"
	SQLitePath  string `json:"sqlite_path,omitempty"` // default {sessions.storage}/imsgclaw.db
	PostgresDSN string `json:"-"`
}

// DedupConfig configures inbound message de-duplication.
// Without a Redis address an in-process TTL set is used.
type DedupConfig struct {
	RedisAddr     string `json:"redis_addr,omitempty"`
	RedisPassword string `json:"-"` // from env IMSGCLAW_REDIS_PASSWORD only
	RedisDB       int    `json:"redis_db,omitempty"`
	KeyPrefix     string `json:"key_prefix,omitempty"` // default "imsgclaw:dedup:"
	TTLSec        int    `json:"ttl_sec,omitempty"`    // default 600
}

// MetricsConfig controls the Prometheus /metrics listener.
type MetricsConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Listen  string `json:"listen,omitempty"` // default "127.0.0.1:9464"
}

// TelemetryConfig configures OpenTelemetry export for inbound message spans.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // plaintext transport for local collectors
	ServiceName string            `json:"service_name,omitempty"` // default "imsgclaw"
	Headers     map[string]string `json:"headers,omitempty"`
}

// AgentBinding maps a channel/peer pattern to a specific agent.
type AgentBinding struct {
	AgentID string       `json:"agentId"`
	Match   BindingMatch `json:"match"`
}

// BindingMatch specifies what messages this binding applies to.
type BindingMatch struct {
	Channel   string       `json:"channel"`             // "imessage"
	AccountID string       `json:"accountId,omitempty"` // bridge account
	Peer      *BindingPeer `json:"peer,omitempty"`      // specific DM/group
}

// BindingPeer specifies a specific chat target.
type BindingPeer struct {
	Kind string `json:"kind"` // "direct" or "group"
	ID   string `json:"id"`
}

// AgentsConfig contains agent defaults and per-agent overrides.
type AgentsConfig struct {
	Defaults AgentDefaults        `json:"defaults"`
	List     map[string]AgentSpec `json:"list,omitempty"`
}

// AgentDefaults are default settings for all agents.
type AgentDefaults struct {
	MentionPatterns []string `json:"mention_patterns,omitempty"` // regex, matched case-insensitively
}

// AgentSpec is the per-agent configuration override.
type AgentSpec struct {
	DisplayName     string          `json:"displayName,omitempty"`
	Aliases         []string        `json:"aliases,omitempty"`
	MentionPatterns []string        `json:"mention_patterns,omitempty"`
	Default         bool            `json:"default,omitempty"`
	Identity        *IdentityConfig `json:"identity,omitempty"`
}

// IdentityConfig defines agent persona / display identity.
type IdentityConfig struct {
	Name  string `json:"name,omitempty"`
	Emoji string `json:"emoji,omitempty"`
}

// MessagesConfig controls reply formatting.
type MessagesConfig struct {
	ResponsePrefix string `json:"response_prefix,omitempty"`
}

// SessionsConfig controls session key shape and the state directory.
type SessionsConfig struct {
	Storage string `json:"storage"`            // directory for file-backed state
	Scope   string `json:"scope,omitempty"`    // "per-sender" (default), "global"
	DmScope string `json:"dm_scope,omitempty"` // "main" (default), "per-peer", "per-channel-peer", "per-account-channel-peer"
	MainKey string `json:"main_key,omitempty"` // main session key suffix (default "main")
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	src.mu.RLock()
	defer src.mu.RUnlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Agents = src.Agents
	c.Channels = src.Channels
	c.Messages = src.Messages
	c.Gateway = src.Gateway
	c.Sessions = src.Sessions
	c.Database = src.Database
	c.Dedup = src.Dedup
	c.Metrics = src.Metrics
	c.Telemetry = src.Telemetry
	c.Bindings = src.Bindings
}
