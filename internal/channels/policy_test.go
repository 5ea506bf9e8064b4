package channels

import (
	"context"
	"testing"
)

// exactMatch matches the sender id or chat id literally.
func exactMatch(sender, chatID string) func(AllowList) bool {
	return func(l AllowList) bool {
		return l.Contains(sender) || (chatID != "" && l.Contains("chat_id:"+chatID))
	}
}

func dm(sender, text string) GateInput {
	return GateInput{SenderID: sender, Text: text, Match: exactMatch(sender, "")}
}

func group(sender, chatID, text string) GateInput {
	return GateInput{SenderID: sender, IsGroup: true, ChatID: chatID, Text: text, Match: exactMatch(sender, chatID)}
}

func TestGateAuthorize(t *testing.T) {
	tests := []struct {
		name    string
		gate    Gate
		store   []string
		in      GateInput
		outcome Outcome
		reason  Reason
	}{
		{"empty sender", Gate{DMPolicy: DMPolicyOpen}, nil, dm("", "hi"), OutcomeDrop, ReasonEmptySender},
		{"from me", Gate{DMPolicy: DMPolicyOpen}, nil, GateInput{SenderID: "+1", IsFromMe: true}, OutcomeDrop, ReasonFromMe},
		{"group without chat id", Gate{GroupPolicy: GroupPolicyOpen}, nil, group("+1", "", "hi"), OutcomeDrop, ReasonGroupMissingChatID},
		{"group disabled", Gate{GroupPolicy: GroupPolicyDisabled}, nil, group("+1", "42", "hi"), OutcomeDrop, ReasonGroupDisabled},
		{"group allowlist empty", Gate{GroupPolicy: GroupPolicyAllowlist}, nil, group("+1", "42", "hi"), OutcomeDrop, ReasonGroupAllowlistEmpty},
		{"group allowlist miss", Gate{GroupPolicy: GroupPolicyAllowlist, GroupAllowFrom: []string{"+2"}}, nil, group("+1", "42", "hi"), OutcomeDrop, ReasonGroupSenderBlocked},
		{"group allowlist by chat id", Gate{GroupPolicy: GroupPolicyAllowlist, GroupAllowFrom: []string{"chat_id:42"}}, nil, group("+1", "42", "hi"), OutcomeDeliver, ReasonAccepted},
		{"group allowlist via store", Gate{GroupPolicy: GroupPolicyAllowlist}, []string{"+1"}, group("+1", "42", "hi"), OutcomeDeliver, ReasonAccepted},
		{"group open not listed", Gate{GroupPolicy: GroupPolicyOpen, Groups: GroupRules{"7": {}}}, nil, group("+1", "42", "hi"), OutcomeDrop, ReasonGroupNotListed},
		{"group open wildcard listing", Gate{GroupPolicy: GroupPolicyOpen, Groups: GroupRules{"*": {}}}, nil, group("+1", "42", "hi"), OutcomeDeliver, ReasonAccepted},
		{"dm disabled", Gate{DMPolicy: DMPolicyDisabled, AllowFrom: []string{"+1"}}, nil, dm("+1", "hi"), OutcomeDrop, ReasonDMDisabled},
		{"dm open", Gate{DMPolicy: DMPolicyOpen}, nil, dm("+1", "hi"), OutcomeDeliver, ReasonAccepted},
		{"dm wildcard", Gate{DMPolicy: DMPolicyAllowlist, AllowFrom: []string{"*"}}, nil, dm("+1", "hi"), OutcomeDeliver, ReasonAccepted},
		{"dm allowlist miss", Gate{DMPolicy: DMPolicyAllowlist, AllowFrom: []string{"+2"}}, nil, dm("+1", "hi"), OutcomeDrop, ReasonDMNotAllowed},
		{"dm pairing unknown", Gate{DMPolicy: DMPolicyPairing}, nil, dm("+1", "hi"), OutcomePair, ReasonPairingRequired},
		{"dm pairing approved", Gate{DMPolicy: DMPolicyPairing}, []string{"+1"}, dm("+1", "hi"), OutcomeDeliver, ReasonAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &stubAllowSource{ids: tt.store}
			g := tt.gate
			g.Provider = "imessage"
			g.Store = src
			d := g.Authorize(context.Background(), tt.in)
			if d.Outcome != tt.outcome || d.Reason != tt.reason {
				t.Errorf("Authorize() = %s/%s, want %s/%s", d.Outcome, d.Reason, tt.outcome, tt.reason)
			}
		})
	}
}

func TestGateSkipsStoreForEarlyDrops(t *testing.T) {
	src := &stubAllowSource{ids: []string{"+1"}}
	g := Gate{Provider: "imessage", GroupPolicy: GroupPolicyAllowlist, DMPolicy: DMPolicyPairing, Store: src}

	for _, in := range []GateInput{
		dm("", "hi"),
		{SenderID: "+1", IsFromMe: true},
		group("+1", "", "hi"),
	} {
		if d := g.Authorize(context.Background(), in); d.Outcome != OutcomeDrop {
			t.Errorf("Authorize(%+v) = %s, want drop", in, d.Outcome)
		}
	}
	if src.calls != 0 {
		t.Errorf("allow store read %d times, want 0", src.calls)
	}
}

func TestCommandAuthorized(t *testing.T) {
	ctx := context.Background()
	open := Gate{GroupPolicy: GroupPolicyOpen}
	if d := open.Authorize(ctx, group("+1", "42", "/status")); !d.CommandAuthorized {
		t.Error("open group with no group list should authorize commands")
	}
	listed := Gate{GroupPolicy: GroupPolicyOpen, GroupAllowFrom: []string{"+2"}}
	if d := listed.Authorize(ctx, group("+1", "42", "/status")); d.Outcome != OutcomeDeliver || d.CommandAuthorized {
		t.Errorf("unlisted sender in open group = %+v, want deliver without command auth", d)
	}
}

func TestApplyMention(t *testing.T) {
	patterns := BuildMentionPatterns("clawd", nil, nil)
	authorized := Decision{Outcome: OutcomeDeliver, Reason: ReasonAccepted, CommandAuthorized: true}
	unauthorized := Decision{Outcome: OutcomeDeliver, Reason: ReasonAccepted}

	tests := []struct {
		name     string
		d        Decision
		in       GateInput
		require  bool
		patterns bool
		outcome  Outcome
		bypass   bool
		mention  bool
	}{
		{"dm always mentioned", authorized, dm("+1", "hello"), true, true, OutcomeDeliver, false, true},
		{"group mentioned", authorized, group("+1", "42", "clawd hi"), true, true, OutcomeDeliver, false, true},
		{"group no mention dropped", authorized, group("+1", "42", "hi all"), true, true, OutcomeDrop, false, false},
		{"group mention not required", authorized, group("+1", "42", "hi all"), false, true, OutcomeDeliver, false, false},
		{"no patterns cannot enforce", authorized, group("+1", "42", "hi all"), true, false, OutcomeDeliver, false, false},
		{"control command bypass", authorized, group("+1", "42", "/status"), true, true, OutcomeDeliver, true, false},
		{"bypass needs command auth", unauthorized, group("+1", "42", "/status"), true, true, OutcomeDrop, false, false},
		{"already dropped untouched", Decision{Outcome: OutcomeDrop, Reason: ReasonFromMe}, group("+1", "42", "clawd"), true, true, OutcomeDrop, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := patterns
			if !tt.patterns {
				p = nil
			}
			got := ApplyMention(tt.d, tt.in, tt.require, p)
			if got.Outcome != tt.outcome || got.MentionBypass != tt.bypass || got.WasMentioned != tt.mention {
				t.Errorf("ApplyMention() = %+v, want outcome=%s bypass=%v mentioned=%v", got, tt.outcome, tt.bypass, tt.mention)
			}
		})
	}
}

func TestGroupRulesRequireMention(t *testing.T) {
	no, yes := false, true
	rules := GroupRules{"42": {RequireMention: &no}, "*": {RequireMention: &yes}}

	if rules.RequireMention("42", nil) {
		t.Error("group entry should disable mention")
	}
	if !rules.RequireMention("7", nil) {
		t.Error("wildcard entry should require mention")
	}
	if rules.RequireMention("7", &no) {
		t.Error("override should win over config")
	}
	if !GroupRules(nil).RequireMention("7", nil) {
		t.Error("default should require mention")
	}
}
