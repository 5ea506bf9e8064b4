package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Channels: ChannelsConfig{
			IMessage: IMessageConfig{
				AccountID:      "default",
				CLIPath:        "imsg",
				Service:        "auto",
				Region:         "US",
				DMPolicy:       "pairing",
				GroupPolicy:    "open",
				MediaMaxMB:     16,
				TextChunkLimit: 4000,
			},
		},
		Gateway: GatewayConfig{
			URL:        "ws://127.0.0.1:18790/ws",
			TimeoutSec: 300,
		},
		Sessions: SessionsConfig{
			Storage: "~/.imsgclaw",
			DmScope: "main",
			MainKey: "main",
		},
		Database: DatabaseConfig{
			Driver: "file",
		},
		Dedup: DedupConfig{
			KeyPrefix: "imsgclaw:dedup:",
			TTLSec:    600,
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9464",
		},
	}
}

// Load reads config from a JSON5 or YAML file (by extension), then overlays env vars.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = unmarshalYAML(data, cfg)
	default:
		err = json5.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	return cfg, nil
}

// unmarshalYAML decodes YAML into a generic tree and re-encodes it as JSON so
// the json tags (and FlexibleStringSlice) apply to both formats.
func unmarshalYAML(data []byte, cfg *Config) error {
	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return err
	}
	if tree == nil {
		return nil
	}
	raw, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, cfg)
}

// applyDefaults restores defaults for fields a file explicitly blanked.
func (c *Config) applyDefaults() {
	d := Default()
	im := &c.Channels.IMessage
	setStr := func(dst *string, def string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = def
		}
	}
	setStr(&im.AccountID, d.Channels.IMessage.AccountID)
	setStr(&im.CLIPath, d.Channels.IMessage.CLIPath)
	setStr(&im.Service, d.Channels.IMessage.Service)
	setStr(&im.Region, d.Channels.IMessage.Region)
	setStr(&im.DMPolicy, d.Channels.IMessage.DMPolicy)
	setStr(&im.GroupPolicy, d.Channels.IMessage.GroupPolicy)
	if im.MediaMaxMB <= 0 {
		im.MediaMaxMB = d.Channels.IMessage.MediaMaxMB
	}
	if im.TextChunkLimit <= 0 {
		im.TextChunkLimit = d.Channels.IMessage.TextChunkLimit
	}
	setStr(&c.Sessions.Storage, d.Sessions.Storage)
	setStr(&c.Sessions.MainKey, d.Sessions.MainKey)
	setStr(&c.Database.Driver, d.Database.Driver)
	setStr(&c.Dedup.KeyPrefix, d.Dedup.KeyPrefix)
	if c.Dedup.TTLSec <= 0 {
		c.Dedup.TTLSec = d.Dedup.TTLSec
	}
	if c.Gateway.TimeoutSec <= 0 {
		c.Gateway.TimeoutSec = d.Gateway.TimeoutSec
	}
	setStr(&c.Metrics.Listen, d.Metrics.Listen)
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	// Agent gateway
	envStr("IMSGCLAW_GATEWAY_URL", &c.Gateway.URL)
	envStr("IMSGCLAW_GATEWAY_TOKEN", &c.Gateway.Token)

	// iMessage bridge
	envStr("IMSGCLAW_IMESSAGE_CLI_PATH", &c.Channels.IMessage.CLIPath)
	envStr("IMSGCLAW_IMESSAGE_DB_PATH", &c.Channels.IMessage.DBPath)
	envStr("IMSGCLAW_IMESSAGE_BRIDGE_URL", &c.Channels.IMessage.BridgeURL)
	envStr("IMSGCLAW_IMESSAGE_BRIDGE_TOKEN", &c.Channels.IMessage.BridgeToken)
	if v := os.Getenv("IMSGCLAW_IMESSAGE_ENABLED"); v != "" {
		c.Channels.IMessage.Enabled = v == "true" || v == "1"
	}

	// Notifier credentials
	envStr("IMSGCLAW_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("IMSGCLAW_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("IMSGCLAW_SLACK_BOT_TOKEN", &c.Channels.Slack.BotToken)
	envStr("IMSGCLAW_SIGNAL_URL", &c.Channels.Signal.BaseURL)
	envStr("IMSGCLAW_SIGNAL_ACCOUNT", &c.Channels.Signal.Account)

	// Sessions & database
	envStr("IMSGCLAW_STATE_DIR", &c.Sessions.Storage)
	envStr("IMSGCLAW_DB_DRIVER", &c.Database.Driver)
	envStr("IMSGCLAW_SQLITE_PATH", &c.Database.SQLitePath)
	envStr("IMSGCLAW_POSTGRES_DSN", &c.Database.PostgresDSN)

	// Dedup
	envStr("IMSGCLAW_REDIS_ADDR", &c.Dedup.RedisAddr)
	envStr("IMSGCLAW_REDIS_PASSWORD", &c.Dedup.RedisPassword)
	if v := os.Getenv("IMSGCLAW_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil && db >= 0 {
			c.Dedup.RedisDB = db
		}
	}

	// Metrics & telemetry
	envBool("IMSGCLAW_METRICS_ENABLED", &c.Metrics.Enabled)
	envStr("IMSGCLAW_METRICS_LISTEN", &c.Metrics.Listen)
	envStr("IMSGCLAW_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("IMSGCLAW_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("IMSGCLAW_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("IMSGCLAW_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envBool("IMSGCLAW_TELEMETRY_INSECURE", &c.Telemetry.Insecure)
}

// Hash returns a SHA-256 hash of the config, used to skip no-op reloads.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// StateDir returns the expanded directory for file-backed state.
func (c *Config) StateDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Sessions.Storage)
}

// SessionsSnapshot returns a copy of the sessions section.
func (c *Config) SessionsSnapshot() SessionsConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Sessions
}

// BindingsSnapshot returns a copy of the agent bindings.
func (c *Config) BindingsSnapshot() []AgentBinding {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]AgentBinding(nil), c.Bindings...)
}

// ResponsePrefix returns the configured reply prefix.
func (c *Config) ResponsePrefix() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Messages.ResponsePrefix
}

// ResolveDefaultAgentID returns the ID of the agent marked as default,
// or "default" if none is explicitly marked.
func (c *Config) ResolveDefaultAgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for id, spec := range c.Agents.List {
		if spec.Default {
			return id
		}
	}
	return DefaultAgentID
}

// ResolveDisplayName returns the display name for an agent.
// Falls back to the identity name, then to the agent ID.
func (c *Config) ResolveDisplayName(agentID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if spec, ok := c.Agents.List[agentID]; ok {
		if spec.DisplayName != "" {
			return spec.DisplayName
		}
		if spec.Identity != nil && spec.Identity.Name != "" {
			return spec.Identity.Name
		}
	}
	return agentID
}

// MentionConfig is the resolved mention configuration for one agent.
type MentionConfig struct {
	Name     string
	Aliases  []string
	Patterns []string
}

// ResolveMention merges default mention patterns with per-agent ones.
// An agent without a display name contributes no name pattern.
func (c *Config) ResolveMention(agentID string) MentionConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	mc := MentionConfig{
		Patterns: append([]string(nil), c.Agents.Defaults.MentionPatterns...),
	}
	spec, ok := c.Agents.List[agentID]
	if !ok {
		return mc
	}
	mc.Name = spec.DisplayName
	if mc.Name == "" && spec.Identity != nil {
		mc.Name = spec.Identity.Name
	}
	mc.Aliases = append(mc.Aliases, spec.Aliases...)
	if len(spec.MentionPatterns) > 0 {
		mc.Patterns = append([]string(nil), spec.MentionPatterns...)
	}
	return mc
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
