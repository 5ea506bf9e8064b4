package imessage

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nextlevelbuilder/imsgclaw/internal/agent"
	"github.com/nextlevelbuilder/imsgclaw/internal/channels"
	"github.com/nextlevelbuilder/imsgclaw/internal/config"
	"github.com/nextlevelbuilder/imsgclaw/internal/pairing"
	"github.com/nextlevelbuilder/imsgclaw/internal/sessions"
	"github.com/nextlevelbuilder/imsgclaw/internal/store/file"
)

type sentMessage struct {
	target string
	text   string
	opts   channels.SendOptions
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (s *recordingSender) Send(_ context.Context, target, text string, opts channels.SendOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{target, text, opts})
	return nil
}

func (s *recordingSender) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

// countingPairingStore counts allow-store reads.
type countingPairingStore struct {
	*file.FilePairingStore
	allowReads atomic.Int32
}

func (s *countingPairingStore) AllowFrom(ctx context.Context, provider string) ([]string, error) {
	s.allowReads.Add(1)
	return s.FilePairingStore.AllowFrom(ctx, provider)
}

type handlerFixture struct {
	cfg     *config.Config
	monitor *Monitor
	sender  *recordingSender
	pairing *pairing.Service
	store   *countingPairingStore
	routes  *file.FileRouteStore
	envs    []channels.Envelope
}

func newHandlerFixture(t *testing.T, cfg *config.Config) *handlerFixture {
	t.Helper()
	dir := t.TempDir()
	f := &handlerFixture{
		cfg:    cfg,
		sender: &recordingSender{},
		store:  &countingPairingStore{FilePairingStore: file.NewFilePairingStore(dir)},
		routes: file.NewFileRouteStore(dir),
	}
	f.pairing = pairing.NewService(f.store)
	backend := agent.BackendFunc(func(ctx context.Context, env channels.Envelope, d *channels.Dispatcher) (bool, error) {
		f.envs = append(f.envs, env)
		return d.SendFinalReply(channels.ReplyPayload{Text: "ack " + env.RawBody}), nil
	})
	f.monitor = NewMonitor(MonitorOptions{
		Config:  cfg,
		Pairing: f.pairing,
		Routes:  f.routes,
		Backend: backend,
	})
	f.monitor.sender = f.sender
	return f
}

func TestPairingFlow(t *testing.T) {
	ctx := context.Background()
	f := newHandlerFixture(t, config.Default())
	msg := func(id string) *Inbound {
		return &Inbound{ID: id, ChatID: "5", Sender: "+1 (555) 000-1111", Text: "hello"}
	}

	f.monitor.handleMessage(ctx, msg("1"))
	sent := f.sender.messages()
	if len(sent) != 1 {
		t.Fatalf("first contact sent %d messages, want 1", len(sent))
	}
	pending, err := f.pairing.List(ctx, Provider)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %v, %v", pending, err)
	}
	req := pending[0]
	if req.ID != "+15550001111" || req.Meta["chatId"] != "5" {
		t.Errorf("request = %+v", req)
	}
	if !strings.Contains(sent[0].text, "Pairing code: "+req.Code) ||
		!strings.Contains(sent[0].text, "Your iMessage sender id: +15550001111") {
		t.Errorf("pairing reply = %q", sent[0].text)
	}
	if sent[0].target != "+1 (555) 000-1111" || sent[0].opts.ChatID != "5" {
		t.Errorf("pairing reply routed to %q chat %q", sent[0].target, sent[0].opts.ChatID)
	}

	f.monitor.handleMessage(ctx, msg("2"))
	if n := len(f.sender.messages()); n != 1 {
		t.Errorf("second contact sent another reply (%d total)", n)
	}
	pending, _ = f.pairing.List(ctx, Provider)
	if len(pending) != 1 || pending[0].Code != req.Code {
		t.Fatalf("second contact changed pending requests: %+v", pending)
	}
	if len(f.envs) != 0 {
		t.Fatal("unpaired sender reached the backend")
	}

	approved, err := f.pairing.Approve(ctx, Provider, strings.ToLower(req.Code))
	if err != nil || approved == nil {
		t.Fatalf("Approve = %v, %v", approved, err)
	}

	f.monitor.handleMessage(ctx, msg("3"))
	if len(f.envs) != 1 {
		t.Fatalf("approved sender not delivered (envs=%d)", len(f.envs))
	}
	sent = f.sender.messages()
	if len(sent) != 2 || sent[1].target != "chat_id:5" || sent[1].text != "ack hello" {
		t.Errorf("reply = %+v", sent)
	}

	route := sessions.ResolveAgentRoute(f.cfg, sessions.RouteInput{Channel: Provider, AccountID: "default", Kind: sessions.PeerDirect, PeerID: "+15550001111"})
	last, err := f.routes.LastRoute(ctx, route.MainSessionKey)
	if err != nil || last == nil {
		t.Fatalf("LastRoute = %v, %v", last, err)
	}
	if last.To != "chat_id:5" || last.Provider != Provider {
		t.Errorf("last route = %+v", last)
	}
}

func TestPairingCapSendsNothing(t *testing.T) {
	ctx := context.Background()
	f := newHandlerFixture(t, config.Default())
	for i, sender := range []string{"+10000000001", "+10000000002", "+10000000003", "+10000000004"} {
		f.monitor.handleMessage(ctx, &Inbound{ID: strconv.Itoa(i), Sender: sender, Text: "hi"})
	}
	if n := len(f.sender.messages()); n != pairing.DefaultMaxPending {
		t.Errorf("pairing replies = %d, want %d", n, pairing.DefaultMaxPending)
	}
}

func TestHandlerGroupGating(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		configure func(*config.Config)
		delivered bool
	}{
		{"no mention dropped", "hello all", nil, false},
		{"mentioned", "@claw what's up", nil, true},
		{"control command bypasses mention", "/status", nil, true},
		{"group override disables mention", "hello all", func(c *config.Config) {
			off := false
			c.Channels.IMessage.Groups = map[string]config.IMessageGroupConfig{"42": {RequireMention: &off}}
		}, true},
		{"account setting disables mention", "hello all", func(c *config.Config) {
			off := false
			c.Channels.IMessage.RequireMention = &off
		}, true},
		{"unlisted group dropped", "@claw hi", func(c *config.Config) {
			c.Channels.IMessage.Groups = map[string]config.IMessageGroupConfig{"7": {}}
		}, false},
		{"groups disabled", "@claw hi", func(c *config.Config) {
			c.Channels.IMessage.GroupPolicy = "disabled"
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Agents.Defaults.MentionPatterns = []string{`@claw\b`}
			if tt.configure != nil {
				tt.configure(cfg)
			}
			f := newHandlerFixture(t, cfg)
			f.monitor.handleMessage(context.Background(), &Inbound{
				ID: "1", ChatID: "42", Sender: "+15550001111", Text: tt.text, IsGroup: true, ChatName: "Team",
			})
			if got := len(f.envs) == 1; got != tt.delivered {
				t.Fatalf("delivered = %v, want %v", got, tt.delivered)
			}
			if tt.delivered {
				env := f.envs[0]
				if env.From != "group:42" || env.To != "chat_id:42" || env.GroupSubject != "Team" {
					t.Errorf("envelope = %+v", env)
				}
			}
			pending, err := f.pairing.List(context.Background(), Provider)
			if err != nil || len(pending) != 0 {
				t.Errorf("group message created pairing requests: %v, %v", pending, err)
			}
		})
	}
}

func TestHandlerGroupWithoutChatIDSkipsAllowStore(t *testing.T) {
	f := newHandlerFixture(t, config.Default())
	f.monitor.handleMessage(context.Background(), &Inbound{ID: "1", Sender: "+15550001111", Text: "hi", IsGroup: true})
	if len(f.envs) != 0 {
		t.Fatal("group message without chat id delivered")
	}
	if n := f.store.allowReads.Load(); n != 0 {
		t.Errorf("allow store read %d times, want 0", n)
	}
}

func TestHandlerDropsFromMeAndEmpty(t *testing.T) {
	cfg := config.Default()
	cfg.Channels.IMessage.DMPolicy = "open"
	f := newHandlerFixture(t, cfg)
	ctx := context.Background()

	f.monitor.handleMessage(ctx, &Inbound{ID: "1", Sender: "+15550001111", Text: "hi", IsFromMe: true})
	f.monitor.handleMessage(ctx, &Inbound{ID: "2", Sender: "+15550001111"})
	if len(f.envs) != 0 {
		t.Fatalf("delivered %d messages, want 0", len(f.envs))
	}
	if len(f.sender.messages()) != 0 {
		t.Error("dropped messages produced replies")
	}
}

func TestHandlerAttachmentPlaceholder(t *testing.T) {
	cfg := config.Default()
	cfg.Channels.IMessage.DMPolicy = "open"
	cfg.Channels.IMessage.IncludeAttachments = true
	f := newHandlerFixture(t, cfg)

	f.monitor.handleMessage(context.Background(), &Inbound{
		ID: "1", Sender: "+15550001111",
		Attachments: []InboundAttachment{{Path: "/tmp/p.jpg", MimeType: "image/jpeg"}},
	})
	if len(f.envs) != 1 {
		t.Fatalf("delivered %d, want 1", len(f.envs))
	}
	env := f.envs[0]
	if env.RawBody != "<media:image>" || env.MediaPath != "/tmp/p.jpg" || env.MediaType != "image/jpeg" {
		t.Errorf("envelope = %+v", env)
	}
	if env.To != "imessage:+15550001111" {
		t.Errorf("To = %q", env.To)
	}
}

func TestResolveRequireMention(t *testing.T) {
	on, off := true, false
	tests := []struct {
		name     string
		rules    map[string]*bool
		override *bool
		account  *bool
		want     bool
	}{
		{"default", nil, nil, nil, true},
		{"account off", nil, nil, &off, false},
		{"group beats account", map[string]*bool{"42": &on}, nil, &off, true},
		{"wildcard beats account", map[string]*bool{"*": &off}, nil, &on, false},
		{"listed group without setting uses account", map[string]*bool{"42": nil}, nil, &off, false},
		{"override beats all", map[string]*bool{"42": &on}, &off, &on, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups := map[string]config.IMessageGroupConfig{}
			for id, v := range tt.rules {
				groups[id] = config.IMessageGroupConfig{RequireMention: v}
			}
			got := resolveRequireMention(groupRules(groups), "42", tt.override, tt.account)
			if got != tt.want {
				t.Errorf("resolveRequireMention = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHandlerDedup(t *testing.T) {
	cfg := config.Default()
	cfg.Channels.IMessage.DMPolicy = "open"
	f := newHandlerFixture(t, cfg)
	ctx := context.Background()

	f.monitor.handleMessage(ctx, &Inbound{Sender: "+15550001111", Text: "first"})
	f.monitor.handleMessage(ctx, &Inbound{Sender: "+15550002222", Text: "second"})
	f.monitor.handleMessage(ctx, &Inbound{Sender: "+15550001111", Text: "first"})
	if len(f.envs) != 3 {
		t.Fatalf("id-less messages delivered %d of 3", len(f.envs))
	}

	f.monitor.handleMessage(ctx, &Inbound{ID: "9", Sender: "+15550001111", Text: "again"})
	f.monitor.handleMessage(ctx, &Inbound{ID: "9", Sender: "+15550001111", Text: "again"})
	if len(f.envs) != 4 {
		t.Errorf("redelivered id delivered %d times, want once", len(f.envs)-3)
	}
}

func TestHandlerUnrecognizedAttachmentPlaceholder(t *testing.T) {
	tests := []struct {
		mime string
		want string
	}{
		{"application/pdf", "<media:document>"},
		{"text/vcard", "<media:attachment>"},
		{"x-weird", "<media:attachment>"},
	}
	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			cfg := config.Default()
			cfg.Channels.IMessage.DMPolicy = "open"
			cfg.Channels.IMessage.IncludeAttachments = true
			f := newHandlerFixture(t, cfg)

			f.monitor.handleMessage(context.Background(), &Inbound{
				ID: "1", Sender: "+15550001111",
				Attachments: []InboundAttachment{{Path: "/tmp/a", MimeType: tt.mime}},
			})
			if len(f.envs) != 1 {
				t.Fatalf("delivered %d, want 1", len(f.envs))
			}
			if got := f.envs[0].RawBody; got != tt.want {
				t.Errorf("RawBody = %q, want %q", got, tt.want)
			}
		})
	}
}
