package imessage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/imsgclaw/internal/channels"
	"github.com/nextlevelbuilder/imsgclaw/internal/config"
	"github.com/nextlevelbuilder/imsgclaw/internal/metrics"
	"github.com/nextlevelbuilder/imsgclaw/internal/pairing"
	"github.com/nextlevelbuilder/imsgclaw/internal/sessions"
	"github.com/nextlevelbuilder/imsgclaw/internal/store"
	"github.com/nextlevelbuilder/imsgclaw/internal/tracing"
)

const (
	bytesPerMB     = 1024 * 1024
	previewLimit   = 200
	storeOpTimeout = 5 * time.Second
)

func (m *Monitor) handleNotification(ctx context.Context, params json.RawMessage) error {
	in, err := ParseMessageNotification(params)
	if err != nil {
		return err
	}
	if in == nil {
		return nil
	}
	m.handleMessage(ctx, in)
	return nil
}

// handleMessage runs one inbound message through the gate and, when
// delivered, the agent backend and reply dispatcher.
func (m *Monitor) handleMessage(ctx context.Context, in *Inbound) {
	im := m.cfg.IMessageSnapshot()
	log := m.logger.With("chat_id", in.ChatID, "message_id", in.ID)

	ctx, span := tracing.Tracer().Start(ctx, "imessage.inbound",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("imessage.chat_id", in.ChatID),
			attribute.Bool("imessage.is_group", in.IsGroup),
		))
	defer span.End()

	record := func(d channels.Decision) {
		metrics.InboundDecisions.WithLabelValues(Provider, string(d.Outcome), string(d.Reason)).Inc()
		span.SetAttributes(
			attribute.String("gate.outcome", string(d.Outcome)),
			attribute.String("gate.reason", string(d.Reason)),
		)
	}

	groupAllow := im.GroupAllowFrom
	if groupAllow == nil {
		groupAllow = im.AllowFrom
	}
	rules := groupRules(im.Groups)
	gate := &channels.Gate{
		Provider:       Provider,
		DMPolicy:       channels.ParseDMPolicy(im.DMPolicy),
		GroupPolicy:    channels.ParseGroupPolicy(im.GroupPolicy),
		AllowFrom:      im.AllowFrom,
		GroupAllowFrom: groupAllow,
		Groups:         rules,
		Logger:         log,
	}
	if m.pairing != nil {
		gate.Store = m.pairing
	}
	gin := channels.GateInput{
		SenderID: in.Sender,
		IsFromMe: in.IsFromMe,
		IsGroup:  in.IsGroup,
		ChatID:   in.ChatID,
		Text:     in.Text,
		Match: func(l channels.AllowList) bool {
			return IsAllowedSender(l, in.Sender, in.ChatID, in.ChatGUID, in.ChatIdentifier)
		},
	}

	d := gate.Authorize(ctx, gin)
	switch d.Outcome {
	case channels.OutcomeDrop:
		record(d)
		return
	case channels.OutcomePair:
		record(d)
		m.handlePairing(ctx, in, im)
		return
	}

	if in.ID != "" && !m.dedup.IsNew(ctx, Provider+":"+im.AccountID+":"+in.ID) {
		record(channels.Decision{Outcome: channels.OutcomeDrop, Reason: channels.ReasonDuplicate})
		log.Debug("imessage: duplicate message")
		return
	}

	peerID := NormalizeHandle(in.Sender)
	if in.IsGroup {
		peerID = in.ChatID
	}
	route := sessions.ResolveAgentRoute(m.cfg, sessions.RouteInput{
		Channel:   Provider,
		AccountID: im.AccountID,
		Kind:      sessions.PeerKindFromGroup(in.IsGroup),
		PeerID:    peerID,
	})
	mention := m.cfg.ResolveMention(route.AgentID)
	patterns := channels.BuildMentionPatterns(mention.Name, mention.Aliases, mention.Patterns)

	requireMention := resolveRequireMention(rules, in.ChatID, m.requireMention, im.RequireMention)
	d = channels.ApplyMention(d, gin, requireMention, patterns)
	if d.Outcome != channels.OutcomeDeliver {
		log.Debug("imessage: skipping group message (no mention)")
		record(d)
		return
	}

	var (
		mediaPath, mediaType string
		attachments          int
	)
	if im.IncludeAttachments {
		attachments = len(in.Attachments)
		if a, ok := in.FirstAttachment(); ok {
			mediaPath, mediaType = a.Path, a.MimeType
		}
	}
	bodyText := in.Text
	if bodyText == "" {
		bodyText = channels.MediaPlaceholder(mediaType, attachments)
	}
	if bodyText == "" {
		record(channels.Decision{Outcome: channels.OutcomeDrop, Reason: channels.ReasonEmptyBody})
		return
	}

	chatTarget := FormatChatTarget(in.ChatID)
	env := channels.BuildEnvelope(channels.EnvelopeInput{
		Provider:      Provider,
		ProviderLabel: ProviderLabel,
		IsGroup:       in.IsGroup,
		SenderID:      in.Sender,
		SenderName:    NormalizeHandle(in.Sender),
		ChatID:        in.ChatID,
		ChatName:      in.ChatName,
		ChatTarget:    chatTarget,
		Participants:  in.Participants,
		MessageID:     in.ID,
		Timestamp:     in.CreatedAt,
		Text:          in.Text,
		MediaPath:     mediaPath,
		MediaType:     mediaType,
		Attachments:   attachments,
	}, bodyText, d, route)
	record(d)
	span.SetAttributes(attribute.String("session.key", route.SessionKey))

	if !in.IsGroup {
		m.updateLastRoute(ctx, route, chatTarget, in.Sender)
	}

	chatLabel := in.ChatID
	if chatLabel == "" {
		chatLabel = "unknown"
	}
	log.Debug("imessage inbound",
		"chat", chatLabel,
		"from", env.From,
		"len", len(env.Body),
		"preview", channels.Preview(env.Body, previewLimit))

	deliverOpts := channels.DeliverOptions{
		TextLimit: im.TextChunkLimit,
		MaxBytes:  int64(im.MediaMaxMB) * bytesPerMB,
		AccountID: route.AccountID,
		Limiter:   m.limiter,
	}
	dispatcher := channels.NewDispatcher(ctx, channels.DispatcherOptions{
		ResponsePrefix: m.cfg.ResponsePrefix(),
		Logger:         log,
		Deliver: func(ctx context.Context, p channels.ReplyPayload, kind channels.ReplyKind) error {
			err := channels.DeliverReplies(ctx, m.sender, env.To, p, deliverOpts)
			status := "ok"
			if err != nil {
				status = "error"
			}
			metrics.ReplySends.WithLabelValues(Provider, string(kind), status).Inc()
			if err == nil {
				log.Debug("imessage: delivered reply", "target", env.To, "kind", kind)
			}
			return err
		},
		OnError: func(err error, kind channels.ReplyKind) {
			log.Error(fmt.Sprintf("imessage %s reply failed", kind), "error", err)
		},
	})

	start := time.Now()
	queuedFinal, err := m.backend.Dispatch(ctx, env, dispatcher)
	metrics.DispatchDuration.WithLabelValues(Provider).Observe(time.Since(start).Seconds())
	dispatcher.MarkComplete()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "agent dispatch failed")
		log.Warn("imessage: agent dispatch failed", "session", route.SessionKey, "error", err)
	}
	if werr := dispatcher.WaitForIdle(ctx); werr != nil {
		log.Debug("imessage: reply queue abandoned", "error", werr)
	}
	if !queuedFinal {
		log.Debug("imessage: no final reply queued", "session", route.SessionKey)
	}
}

// handlePairing issues (or re-reads) the sender's pairing code and replies
// once, on creation.
func (m *Monitor) handlePairing(ctx context.Context, in *Inbound, im config.IMessageConfig) {
	if m.pairing == nil {
		m.logger.Debug("imessage: pairing unavailable, dropping sender", "sender", in.Sender)
		return
	}
	senderID := NormalizeHandle(in.Sender)
	code, created, err := m.pairing.RequestOrGet(ctx, Provider, senderID, map[string]string{
		"sender": senderID,
		"chatId": in.ChatID,
	})
	if err != nil {
		m.logger.Warn("imessage: pairing request failed", "sender", senderID, "error", err)
		return
	}
	metrics.PairingRequests.WithLabelValues(Provider, strconv.FormatBool(created)).Inc()
	if !created {
		return
	}
	m.logger.Debug("imessage pairing request", "sender", senderID)

	reply := pairing.BuildPairingReply(Provider, "Your iMessage sender id: "+senderID, code)
	err = m.sender.Send(ctx, in.Sender, reply, channels.SendOptions{
		MaxBytes:  int64(im.MediaMaxMB) * bytesPerMB,
		AccountID: im.AccountID,
		ChatID:    in.ChatID,
	})
	if err != nil {
		m.logger.Debug("imessage pairing reply failed", "sender", senderID, "error", err)
	}
}

// updateLastRoute records where the DM session was last reachable. Failures
// are logged and never block the message.
func (m *Monitor) updateLastRoute(ctx context.Context, route sessions.Route, chatTarget, sender string) {
	if m.routes == nil {
		return
	}
	to := chatTarget
	if to == "" {
		to = sender
	}
	if to == "" {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, storeOpTimeout)
	defer cancel()
	err := m.routes.UpdateLastRoute(sctx, store.LastRoute{
		SessionKey: route.MainSessionKey,
		Provider:   Provider,
		To:         to,
		AccountID:  route.AccountID,
		UpdatedAt:  time.Now().UTC(),
	})
	if err != nil {
		m.logger.Warn("imessage: update last route failed", "session", route.MainSessionKey, "error", err)
	}
}

func groupRules(groups map[string]config.IMessageGroupConfig) channels.GroupRules {
	if len(groups) == 0 {
		return nil
	}
	rules := make(channels.GroupRules, len(groups))
	for id, g := range groups {
		rules[id] = channels.GroupRule{RequireMention: g.RequireMention}
	}
	return rules
}

// resolveRequireMention applies the override first, then the group entry
// (or "*"), then the account setting, then true.
func resolveRequireMention(rules channels.GroupRules, chatID string, override, account *bool) bool {
	if override == nil && account != nil && !hasMentionRule(rules, chatID) {
		return *account
	}
	return rules.RequireMention(chatID, override)
}

func hasMentionRule(rules channels.GroupRules, chatID string) bool {
	for _, key := range []string{chatID, channels.Wildcard} {
		if r, ok := rules[key]; ok && r.RequireMention != nil {
			return true
		}
	}
	return false
}
