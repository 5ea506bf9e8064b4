package sessions

import (
	"strings"

	"github.com/nextlevelbuilder/imsgclaw/internal/config"
)

// Route is the resolved agent and session for one inbound conversation.
type Route struct {
	AgentID        string
	AccountID      string
	SessionKey     string
	MainSessionKey string
	MatchedBy      string // "binding.peer", "binding.account", "binding.channel", "default"
}

// RouteInput describes the conversation being routed.
type RouteInput struct {
	Channel   string
	AccountID string
	Kind      PeerKind
	PeerID    string
}

// ResolveAgentRoute picks the agent for a conversation from the configured
// bindings. The most specific binding wins: peer, then account, then channel.
func ResolveAgentRoute(cfg *config.Config, in RouteInput) Route {
	agentID, matchedBy := matchBinding(cfg.BindingsSnapshot(), in)
	if agentID == "" {
		agentID = cfg.ResolveDefaultAgentID()
		matchedBy = "default"
	}

	sc := cfg.SessionsSnapshot()
	accountID := in.AccountID
	if accountID == "" {
		accountID = "default"
	}
	return Route{
		AgentID:        agentID,
		AccountID:      accountID,
		SessionKey:     BuildScopedSessionKey(agentID, in.Channel, accountID, in.Kind, in.PeerID, sc.Scope, sc.DmScope, sc.MainKey),
		MainSessionKey: BuildAgentMainSessionKey(agentID, sc.MainKey),
		MatchedBy:      matchedBy,
	}
}

func matchBinding(bindings []config.AgentBinding, in RouteInput) (string, string) {
	var byAccount, byChannel string
	for _, b := range bindings {
		m := b.Match
		if !strings.EqualFold(m.Channel, in.Channel) || b.AgentID == "" {
			continue
		}
		if m.AccountID != "" && m.AccountID != "*" && m.AccountID != in.AccountID {
			continue
		}
		if m.Peer != nil {
			if PeerKind(m.Peer.Kind) == in.Kind && m.Peer.ID == in.PeerID {
				return b.AgentID, "binding.peer"
			}
			continue
		}
		if m.AccountID != "" && m.AccountID != "*" {
			if byAccount == "" {
				byAccount = b.AgentID
			}
			continue
		}
		if byChannel == "" {
			byChannel = b.AgentID
		}
	}
	if byAccount != "" {
		return byAccount, "binding.account"
	}
	if byChannel != "" {
		return byChannel, "binding.channel"
	}
	return "", ""
}
