package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/imsgclaw/internal/channels"
	"github.com/nextlevelbuilder/imsgclaw/pkg/protocol"
)

// GatewayBackend runs agent turns on a remote agent gateway over WebSocket.
// Each Dispatch uses its own connection: connect, chat.send, then read
// frames until the matching response arrives.
type GatewayBackend struct {
	URL     string
	Token   string
	Timeout time.Duration
	Dialer  *websocket.Dialer
	Logger  *slog.Logger
}

func NewGatewayBackend(url, token string, timeout time.Duration) *GatewayBackend {
	return &GatewayBackend{URL: url, Token: token, Timeout: timeout}
}

func (g *GatewayBackend) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

func (g *GatewayBackend) Dispatch(ctx context.Context, env channels.Envelope, d *channels.Dispatcher) (bool, error) {
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	dialer := g.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := http.Header{}
	if g.Token != "" {
		header.Set("Authorization", "Bearer "+g.Token)
	}
	conn, _, err := dialer.DialContext(ctx, g.URL, header)
	if err != nil {
		return false, fmt.Errorf("dial agent gateway: %w", err)
	}
	defer conn.Close()

	// Unblock reads when ctx ends.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	if err := wsConnect(conn, g.Token); err != nil {
		return false, ctxErr(ctx, err)
	}
	queued, err := g.chatSend(conn, env, d)
	return queued, ctxErr(ctx, err)
}

// ctxErr prefers the context error over the read error it caused.
func ctxErr(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w (%v)", ctx.Err(), err)
	}
	return err
}

// wsConnect sends the connect RPC and waits for auth response.
func wsConnect(conn *websocket.Conn, token string) error {
	params := map[string]string{}
	if token != "" {
		params["token"] = token
	}
	paramsJSON, _ := json.Marshal(params)

	reqFrame := protocol.RequestFrame{
		Type:   protocol.FrameTypeRequest,
		ID:     "connect-1",
		Method: protocol.MethodConnect,
		Params: paramsJSON,
	}
	if err := conn.WriteJSON(reqFrame); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}

	var resp protocol.ResponseFrame
	if err := conn.ReadJSON(&resp); err != nil {
		return fmt.Errorf("read connect response: %w", err)
	}
	if !resp.OK {
		if resp.Error != nil {
			return fmt.Errorf("connect rejected: %s", resp.Error.Message)
		}
		return fmt.Errorf("connect rejected")
	}
	return nil
}

func chatParams(env channels.Envelope) map[string]interface{} {
	return map[string]interface{}{
		"message":    env.Body,
		"agentId":    env.AgentID,
		"sessionKey": env.SessionKey,
		"stream":     true,
		"channel":    env.Provider,
		"chatId":     env.To,
		"accountId":  env.AccountID,
		"peerKind":   env.ChatType,
		"senderId":   env.SenderID,
		"context":    env,
	}
}

// chatSend sends chat.send and forwards streamed messages as block replies.
// The response content becomes the final reply.
func (g *GatewayBackend) chatSend(conn *websocket.Conn, env channels.Envelope, d *channels.Dispatcher) (bool, error) {
	reqID := uuid.NewString()[:8]
	params, err := json.Marshal(chatParams(env))
	if err != nil {
		return false, fmt.Errorf("encode chat params: %w", err)
	}

	reqFrame := protocol.RequestFrame{
		Type:   protocol.FrameTypeRequest,
		ID:     reqID,
		Method: protocol.MethodChatSend,
		Params: params,
	}
	if err := conn.WriteJSON(reqFrame); err != nil {
		return false, fmt.Errorf("send chat: %w", err)
	}

	var lastBlock string
	for {
		_, rawMsg, err := conn.ReadMessage()
		if err != nil {
			return false, fmt.Errorf("read: %w", err)
		}

		frameType, _ := protocol.ParseFrameType(rawMsg)

		switch frameType {
		case protocol.FrameTypeResponse:
			var resp protocol.ResponseFrame
			if err := json.Unmarshal(rawMsg, &resp); err != nil {
				continue
			}
			if resp.ID != reqID {
				continue
			}
			if !resp.OK {
				if resp.Error != nil {
					return false, fmt.Errorf("agent error: %s", resp.Error.Message)
				}
				return false, fmt.Errorf("agent error (unknown)")
			}
			final := payloadReply(resp.Payload)
			if final.IsEmpty() {
				return false, nil
			}
			// Already delivered as the last streamed block.
			if len(final.Media()) == 0 && strings.TrimSpace(final.Text) == strings.TrimSpace(lastBlock) {
				return false, nil
			}
			return d.SendFinalReply(final), nil

		case protocol.FrameTypeEvent:
			var evt protocol.EventFrame
			if err := json.Unmarshal(rawMsg, &evt); err != nil {
				continue
			}
			if p, ok := g.blockReply(evt, env.SessionKey); ok {
				if d.SendBlockReply(p) {
					lastBlock = p.Text
				}
			}
		}
	}
}

// blockReply extracts a complete streamed message for sessionKey.
// Chunks and thinking events are not delivered to the chat.
func (g *GatewayBackend) blockReply(evt protocol.EventFrame, sessionKey string) (channels.ReplyPayload, bool) {
	payload, ok := evt.Payload.(map[string]interface{})
	if !ok {
		return channels.ReplyPayload{}, false
	}
	if evt.Event != protocol.EventChat {
		if evt.Event == protocol.EventAgent {
			if t, _ := payload["type"].(string); t == protocol.AgentEventRunFailed {
				g.logger().Warn("agent run failed", "session", sessionKey, "payload", payload["payload"])
			}
		}
		return channels.ReplyPayload{}, false
	}
	if t, _ := payload["type"].(string); t != protocol.ChatEventMessage {
		return channels.ReplyPayload{}, false
	}
	if key, _ := payload["sessionKey"].(string); key != "" && key != sessionKey {
		return channels.ReplyPayload{}, false
	}
	p := payloadReply(payload)
	return p, !p.IsEmpty()
}

// payloadReply reads content and media fields from a response or event payload.
func payloadReply(raw interface{}) channels.ReplyPayload {
	payload, ok := raw.(map[string]interface{})
	if !ok {
		return channels.ReplyPayload{}
	}
	var p channels.ReplyPayload
	text, _ := payload["content"].(string)
	p.Text = cleanReplyText(text)
	p.MediaURL, _ = payload["mediaUrl"].(string)
	for _, key := range []string{"mediaUrls", "media"} {
		list, ok := payload[key].([]interface{})
		if !ok {
			continue
		}
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				p.MediaURLs = append(p.MediaURLs, s)
			}
		}
	}
	return p
}
