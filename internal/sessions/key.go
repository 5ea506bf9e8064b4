// Package sessions — session key builder, parser and agent route resolution.
//
// Session keys follow the canonical format:
//
//	agent:{agentId}:{rest}
//
// Where {rest} depends on the conversation and the DM scope:
//
//	DM (main):         {mainKey}
//	DM (per-peer):     direct:{peerId}
//	DM (per-channel):  {channel}:direct:{peerId}
//	DM (per-account):  {channel}:{accountId}:direct:{peerId}
//	Group:             {channel}:group:{chatId}
//
// Examples:
//
//	agent:default:main
//	agent:default:imessage:direct:+15551234567
//	agent:default:imessage:group:42
package sessions

import (
	"fmt"
	"strings"
)

// PeerKind distinguishes DM from group conversations.
type PeerKind string

const (
	PeerDirect PeerKind = "direct"
	PeerGroup  PeerKind = "group"
)

// BuildSessionKey builds the canonical agent session key for a channel conversation.
//
//	DM:    agent:{agentId}:{channel}:direct:{peerID}
//	Group: agent:{agentId}:{channel}:group:{chatID}
func BuildSessionKey(agentID, channel string, kind PeerKind, chatID string) string {
	return fmt.Sprintf("agent:%s:%s:%s:%s", agentID, channel, kind, chatID)
}

// BuildAgentMainSessionKey builds the shared "main" session key for an agent.
// All DMs share one session per agent when dm_scope="main".
//
//	agent:{agentId}:{mainKey}
func BuildAgentMainSessionKey(agentID, mainKey string) string {
	if mainKey == "" {
		mainKey = "main"
	}
	return fmt.Sprintf("agent:%s:%s", agentID, mainKey)
}

// BuildScopedSessionKey builds session key based on scope config.
//
// scope:
//   - "global"     → "global"
//   - "per-sender" → depends on dmScope (default)
//
// dmScope (for DMs only; groups always use the full key):
//   - "main"                     → agent:{agentId}:{mainKey} (default)
//   - "per-peer"                 → agent:{agentId}:direct:{peerId}
//   - "per-channel-peer"         → agent:{agentId}:{channel}:direct:{peerId}
//   - "per-account-channel-peer" → agent:{agentId}:{channel}:{accountId}:direct:{peerId}
func BuildScopedSessionKey(agentID, channel, accountID string, kind PeerKind, chatID, scope, dmScope, mainKey string) string {
	if scope == "global" {
		return "global"
	}

	if kind == PeerGroup {
		return BuildSessionKey(agentID, channel, kind, chatID)
	}

	switch dmScope {
	case "per-peer":
		return fmt.Sprintf("agent:%s:direct:%s", agentID, chatID)
	case "per-channel-peer":
		return BuildSessionKey(agentID, channel, kind, chatID)
	case "per-account-channel-peer":
		if accountID == "" {
			accountID = "default"
		}
		return fmt.Sprintf("agent:%s:%s:%s:direct:%s", agentID, channel, accountID, chatID)
	default: // "main" or empty
		return BuildAgentMainSessionKey(agentID, mainKey)
	}
}

// ParseSessionKey extracts the agentID and rest from a canonical session key.
// Returns ("", "") if the key is not in the expected format.
func ParseSessionKey(key string) (agentID, rest string) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 || parts[0] != "agent" {
		return "", ""
	}
	return parts[1], parts[2]
}

// PeerKindFromGroup returns PeerGroup if isGroup is true, PeerDirect otherwise.
func PeerKindFromGroup(isGroup bool) PeerKind {
	if isGroup {
		return PeerGroup
	}
	return PeerDirect
}
