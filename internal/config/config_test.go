package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestFlexibleStringSlice(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{`["a","b"]`, []string{"a", "b"}},
		{`[15551234567, "+1 555"]`, []string{"15551234567", "+1 555"}},
		{`[]`, []string{}},
	}
	for _, tt := range tests {
		var got FlexibleStringSlice
		if err := json.Unmarshal([]byte(tt.in), &got); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.in, err)
		}
		if !reflect.DeepEqual([]string(got), tt.want) {
			t.Errorf("unmarshal %s = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	im := cfg.IMessageSnapshot()
	if im.DMPolicy != "pairing" || im.GroupPolicy != "open" {
		t.Errorf("policies = %q/%q, want pairing/open", im.DMPolicy, im.GroupPolicy)
	}
	if im.MediaMaxMB != 16 || im.TextChunkLimit != 4000 {
		t.Errorf("limits = %d/%d, want 16/4000", im.MediaMaxMB, im.TextChunkLimit)
	}
	if im.IncludeAttachments {
		t.Error("include_attachments should default to false")
	}
}

func TestLoadJSON5(t *testing.T) {
	path := writeFile(t, "config.json", `{
  // comments are allowed
  channels: {
    imessage: {
      enabled: true,
      allow_from: ["+15551234567"],
      group_allow_from: [],
      dm_policy: "allowlist",
      groups: { "42": { require_mention: false } },
    },
  },
  messages: { response_prefix: "[bot]" },
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	im := cfg.IMessageSnapshot()
	if !im.Enabled || im.DMPolicy != "allowlist" {
		t.Errorf("enabled=%v dm_policy=%q", im.Enabled, im.DMPolicy)
	}
	if im.GroupAllowFrom == nil {
		t.Error("explicit empty group_allow_from should not be nil")
	}
	if g, ok := im.Groups["42"]; !ok || g.RequireMention == nil || *g.RequireMention {
		t.Errorf("groups[42] = %+v", im.Groups["42"])
	}
	// Blank-or-missing fields keep defaults.
	if im.GroupPolicy != "open" || im.CLIPath != "imsg" {
		t.Errorf("group_policy=%q cli_path=%q", im.GroupPolicy, im.CLIPath)
	}
	if cfg.ResponsePrefix() != "[bot]" {
		t.Errorf("ResponsePrefix() = %q", cfg.ResponsePrefix())
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
channels:
  imessage:
    allow_from: [15551234567, "me@example.com"]
    group_policy: allowlist
agents:
  list:
    clawd:
      displayName: Clawd
      default: true
      aliases: [claw]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	im := cfg.IMessageSnapshot()
	want := []string{"15551234567", "me@example.com"}
	if !reflect.DeepEqual([]string(im.AllowFrom), want) {
		t.Errorf("allow_from = %q, want %q", im.AllowFrom, want)
	}
	if im.GroupAllowFrom != nil {
		t.Errorf("absent group_allow_from = %q, want nil", im.GroupAllowFrom)
	}
	if im.GroupPolicy != "allowlist" {
		t.Errorf("group_policy = %q", im.GroupPolicy)
	}
	if id := cfg.ResolveDefaultAgentID(); id != "clawd" {
		t.Errorf("ResolveDefaultAgentID() = %q, want clawd", id)
	}
	mc := cfg.ResolveMention("clawd")
	if mc.Name != "Clawd" || !reflect.DeepEqual(mc.Aliases, []string{"claw"}) {
		t.Errorf("ResolveMention = %+v", mc)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("IMSGCLAW_GATEWAY_TOKEN", "secret")
	t.Setenv("IMSGCLAW_POSTGRES_DSN", "postgres://x")
	t.Setenv("IMSGCLAW_METRICS_ENABLED", "1")

	path := writeFile(t, "config.json", `{"gateway": {"token": "from-file"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Token != "secret" {
		t.Errorf("gateway token = %q, want env value", cfg.Gateway.Token)
	}
	if cfg.Database.PostgresDSN != "postgres://x" {
		t.Errorf("postgres dsn = %q", cfg.Database.PostgresDSN)
	}
	if !cfg.Metrics.Enabled {
		t.Error("metrics should be enabled from env")
	}
}

func TestReplaceFromChangesHash(t *testing.T) {
	a := Default()
	b := Default()
	if a.Hash() != b.Hash() {
		t.Fatal("identical configs should hash equal")
	}
	b.Channels.IMessage.AllowFrom = FlexibleStringSlice{"+1555"}
	a.ReplaceFrom(b)
	if a.Hash() != b.Hash() {
		t.Error("hash should match after ReplaceFrom")
	}
	if got := a.IMessageSnapshot().AllowFrom; len(got) != 1 || got[0] != "+1555" {
		t.Errorf("allow_from after replace = %q", got)
	}
}
