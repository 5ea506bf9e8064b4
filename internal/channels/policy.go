package channels

import (
	"context"
	"log/slog"
	"regexp"
)

// Outcome is the terminal result of the policy gate for one message.
type Outcome string

const (
	OutcomeDeliver Outcome = "deliver"
	OutcomeDrop    Outcome = "drop"
	OutcomePair    Outcome = "pair"
)

// Reason tags why the gate reached its outcome. Used in logs and metrics.
type Reason string

const (
	ReasonAccepted            Reason = "accepted"
	ReasonEmptySender         Reason = "empty_sender"
	ReasonFromMe              Reason = "from_me"
	ReasonGroupMissingChatID  Reason = "group_missing_chat_id"
	ReasonGroupDisabled       Reason = "group_disabled"
	ReasonGroupAllowlistEmpty Reason = "group_allowlist_empty"
	ReasonGroupSenderBlocked  Reason = "group_sender_not_allowed"
	ReasonGroupNotListed      Reason = "group_not_listed"
	ReasonDMDisabled          Reason = "dm_disabled"
	ReasonDMNotAllowed        Reason = "dm_not_allowed"
	ReasonPairingRequired     Reason = "pairing_required"
	ReasonNoMention           Reason = "no_mention"
	ReasonEmptyBody           Reason = "empty_body"
	ReasonDuplicate           Reason = "duplicate"
)

// Decision is the gate's verdict plus the flags the envelope records.
type Decision struct {
	Outcome           Outcome
	Reason            Reason
	DMAuthorized      bool
	CommandAuthorized bool
	WasMentioned      bool
	MentionBypass     bool
	RequireMention    bool
}

func drop(r Reason) Decision { return Decision{Outcome: OutcomeDrop, Reason: r} }

// GateInput is what the gate needs to know about one inbound message.
// Match performs provider-specific identity matching (handles, chat ids)
// against a non-wildcard allow list.
type GateInput struct {
	SenderID string
	IsFromMe bool
	IsGroup  bool
	ChatID   string
	Text     string
	Match    func(AllowList) bool
}

func (in GateInput) allowedBy(l AllowList) bool {
	if l.HasWildcard() {
		return true
	}
	return in.Match != nil && in.Match(l)
}

// GroupRule is a per-group override.
type GroupRule struct {
	RequireMention *bool
}

// GroupRules is keyed by chat id; "*" is the default entry. A non-empty map
// turns on group listing: only listed groups (or any, with "*") pass.
type GroupRules map[string]GroupRule

// Resolve reports whether group listing is enabled and whether chatID passes it.
func (g GroupRules) Resolve(chatID string) (listEnabled, allowed bool) {
	if len(g) == 0 {
		return false, true
	}
	_, listed := g[chatID]
	_, wildcard := g[Wildcard]
	return true, listed || wildcard
}

// RequireMention resolves the mention requirement for a group. A non-nil
// override wins, then the group entry, then the "*" entry, then true.
func (g GroupRules) RequireMention(chatID string, override *bool) bool {
	if override != nil {
		return *override
	}
	if r, ok := g[chatID]; ok && r.RequireMention != nil {
		return *r.RequireMention
	}
	if r, ok := g[Wildcard]; ok && r.RequireMention != nil {
		return *r.RequireMention
	}
	return true
}

// Gate evaluates DM/group policy for one provider account.
type Gate struct {
	Provider       string
	DMPolicy       DMPolicy
	GroupPolicy    GroupPolicy
	AllowFrom      []string
	GroupAllowFrom []string
	Groups         GroupRules
	Store          AllowFromSource
	Logger         *slog.Logger
}

func (g *Gate) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

// Authorize runs the sender, group and DM checks. It never consults the
// dynamic allow store for messages rejected before allow lists matter.
// A deliver outcome still needs ApplyMention for groups.
func (g *Gate) Authorize(ctx context.Context, in GateInput) Decision {
	log := g.logger()

	if in.SenderID == "" {
		return drop(ReasonEmptySender)
	}
	if in.IsFromMe {
		return drop(ReasonFromMe)
	}
	if in.IsGroup && in.ChatID == "" {
		log.Debug("dropping group message without chat id", "provider", g.Provider, "sender_id", in.SenderID)
		return drop(ReasonGroupMissingChatID)
	}

	dynamic := LoadDynamicAllowFrom(ctx, g.Store, g.Provider, log)

	if in.IsGroup {
		groupAllow := MergeAllowLists(g.GroupAllowFrom, dynamic)
		switch g.GroupPolicy {
		case GroupPolicyDisabled:
			log.Debug("group messages disabled", "provider", g.Provider, "chat_id", in.ChatID)
			return drop(ReasonGroupDisabled)
		case GroupPolicyAllowlist:
			if len(groupAllow) == 0 {
				log.Debug("group allowlist empty", "provider", g.Provider, "chat_id", in.ChatID)
				return drop(ReasonGroupAllowlistEmpty)
			}
			if !in.allowedBy(groupAllow) {
				log.Debug("group sender not in group allowlist", "provider", g.Provider, "sender_id", in.SenderID, "chat_id", in.ChatID)
				return drop(ReasonGroupSenderBlocked)
			}
		}
		if enabled, allowed := g.Groups.Resolve(in.ChatID); enabled && !allowed {
			log.Debug("group not in groups list", "provider", g.Provider, "chat_id", in.ChatID)
			return drop(ReasonGroupNotListed)
		}
		return Decision{
			Outcome:           OutcomeDeliver,
			Reason:            ReasonAccepted,
			CommandAuthorized: len(groupAllow) == 0 || in.allowedBy(groupAllow),
		}
	}

	dmAllow := MergeAllowLists(g.AllowFrom, dynamic)
	if g.DMPolicy == DMPolicyDisabled {
		log.Debug("DMs disabled", "provider", g.Provider, "sender_id", in.SenderID)
		return drop(ReasonDMDisabled)
	}
	authorized := g.DMPolicy == DMPolicyOpen || dmAllow.HasWildcard() ||
		(len(dmAllow) > 0 && in.allowedBy(dmAllow))
	if !authorized {
		if g.DMPolicy == DMPolicyPairing {
			return Decision{Outcome: OutcomePair, Reason: ReasonPairingRequired}
		}
		log.Debug("DM sender not in allowlist", "provider", g.Provider, "sender_id", in.SenderID, "policy", g.DMPolicy)
		return drop(ReasonDMNotAllowed)
	}
	return Decision{
		Outcome:           OutcomeDeliver,
		Reason:            ReasonAccepted,
		DMAuthorized:      true,
		CommandAuthorized: true,
	}
}

// ApplyMention runs the group mention gate on an authorized decision.
// DMs always count as mentioned. With no patterns the requirement cannot be
// enforced and the message passes.
func ApplyMention(d Decision, in GateInput, requireMention bool, patterns []*regexp.Regexp) Decision {
	if d.Outcome != OutcomeDeliver {
		return d
	}
	if !in.IsGroup {
		d.WasMentioned = true
		return d
	}
	d.RequireMention = requireMention
	d.WasMentioned = MatchesMention(in.Text, patterns)
	d.MentionBypass = requireMention && !d.WasMentioned && d.CommandAuthorized && HasControlCommand(in.Text)
	if requireMention && len(patterns) > 0 && !d.WasMentioned && !d.MentionBypass {
		d.Outcome = OutcomeDrop
		d.Reason = ReasonNoMention
	}
	return d
}
