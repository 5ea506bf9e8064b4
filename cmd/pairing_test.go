package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/imsgclaw/internal/channels"
	"github.com/nextlevelbuilder/imsgclaw/internal/config"
	"github.com/nextlevelbuilder/imsgclaw/internal/pairing"
	"github.com/nextlevelbuilder/imsgclaw/internal/store/file"
)

type fakeNotifier struct {
	provider string
	err      error
	calls    []string
}

func (f *fakeNotifier) Provider() string { return f.provider }

func (f *fakeNotifier) NotifyApproved(_ context.Context, id, message string) error {
	f.calls = append(f.calls, id+"|"+message)
	return f.err
}

func newTestService(t *testing.T) *pairing.Service {
	t.Helper()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return pairing.NewService(file.NewFilePairingStore(t.TempDir()), pairing.WithClock(func() time.Time { return now }))
}

func TestListPairingEmpty(t *testing.T) {
	var out bytes.Buffer
	if err := listPairing(context.Background(), &out, newTestService(t), "imessage", false); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "No pending imessage pairing requests.\n" {
		t.Errorf("output = %q", got)
	}
}

func TestListPairingText(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	code, _, err := svc.RequestOrGet(ctx, "imessage", "+15550001111", map[string]string{"chatId": "5"})
	if err != nil {
		t.Fatal(err)
	}
	svc.RequestOrGet(ctx, "imessage", "bob@example.com", nil)

	var out bytes.Buffer
	if err := listPairing(ctx, &out, svc, "imessage", false); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	var first string
	for _, l := range lines {
		if strings.HasPrefix(l, code+"  ") {
			first = l
		}
	}
	// ids pad to the widest column (bob@example.com is three runes longer)
	want := code + "  imessageSenderId=+15550001111     " + `meta={"chatId":"5"}` + "  2026-01-02T03:04:05Z"
	if first != want {
		t.Errorf("line = %q\nwant   %q", first, want)
	}
}

func TestListPairingJSON(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	svc.RequestOrGet(ctx, "telegram", "12345", nil)

	var out bytes.Buffer
	if err := listPairing(ctx, &out, svc, "telegram", true); err != nil {
		t.Fatal(err)
	}
	var got pairingListing
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	if got.Provider != "telegram" || len(got.Requests) != 1 || got.Requests[0].ID != "12345" {
		t.Errorf("listing = %+v", got)
	}

	out.Reset()
	if err := listPairing(ctx, &out, svc, "slack", true); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), `"requests": []`) {
		t.Errorf("empty JSON listing = %s", out.String())
	}
}

func TestApprovePairing(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	code, _, _ := svc.RequestOrGet(ctx, "imessage", "+15550001111", nil)

	n := &fakeNotifier{provider: "imessage"}
	var out bytes.Buffer
	err := approvePairing(ctx, &out, svc, "imessage", strings.ToLower(code), func(string) (channels.Notifier, error) { return n, nil })
	if err != nil {
		t.Fatalf("approvePairing: %v", err)
	}
	if got := out.String(); got != "Approved imessage sender +15550001111.\n" {
		t.Errorf("output = %q", got)
	}
	if len(n.calls) != 1 || n.calls[0] != "+15550001111|"+pairing.ApprovedMessage {
		t.Errorf("notify calls = %v", n.calls)
	}
	allow, _ := svc.AllowFrom(ctx, "imessage")
	if len(allow) != 1 || allow[0] != "+15550001111" {
		t.Errorf("allow = %v", allow)
	}

	err = approvePairing(ctx, &out, svc, "imessage", code, nil)
	if err == nil || err.Error() != "No pending pairing request found for code: "+code {
		t.Errorf("second approve err = %v", err)
	}
}

func TestApprovePairingNotifyFailureKeepsApproval(t *testing.T) {
	tests := []struct {
		name    string
		factory notifierFactory
		want    string
	}{
		{
			name:    "send fails",
			factory: func(string) (channels.Notifier, error) { return &fakeNotifier{err: errors.New("bridge down")}, nil },
			want:    "Failed to notify requester: bridge down",
		},
		{
			name:    "not configured",
			factory: func(string) (channels.Notifier, error) { return nil, errors.New("telegram token not configured") },
			want:    "Failed to notify requester: telegram token not configured",
		},
		{
			name:    "unsupported",
			factory: func(string) (channels.Notifier, error) { return &fakeNotifier{err: channels.ErrNotifyUnsupported}, nil },
			want:    "Failed to notify requester: " + channels.ErrNotifyUnsupported.Error(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			svc := newTestService(t)
			code, _, _ := svc.RequestOrGet(ctx, "whatsapp", "4412345", nil)

			var out bytes.Buffer
			if err := approvePairing(ctx, &out, svc, "whatsapp", code, tt.factory); err != nil {
				t.Fatalf("approvePairing: %v", err)
			}
			if !strings.Contains(out.String(), tt.want) {
				t.Errorf("output = %q, want %q", out.String(), tt.want)
			}
			allow, _ := svc.AllowFrom(ctx, "whatsapp")
			if len(allow) != 1 {
				t.Errorf("approval not committed: %v", allow)
			}
		})
	}
}

func TestApprovePairingEmptyCode(t *testing.T) {
	err := approvePairing(context.Background(), &bytes.Buffer{}, newTestService(t), "imessage", "  ", nil)
	if !errors.Is(err, errMissingCode) {
		t.Fatalf("err = %v", err)
	}
}

func TestPairingCommandRejectsUnknownProvider(t *testing.T) {
	t.Setenv("IMSGCLAW_CONFIG", "/nonexistent/config.json")
	cmd := pairingCmd()
	cmd.SetArgs([]string{"list", "--provider", "irc"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	if !errors.Is(err, pairing.ErrUnknownProvider) {
		t.Fatalf("err = %v, want ErrUnknownProvider", err)
	}
}

func TestOpenStoresUnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = "mongo"
	if _, err := openStores(context.Background(), cfg); err == nil {
		t.Fatal("expected error")
	}
}

func TestOpenStoresSQLite(t *testing.T) {
	cfg := config.Default()
	cfg.Sessions.Storage = t.TempDir()
	cfg.Database.Driver = "sqlite"
	stores, err := openStores(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openStores: %v", err)
	}
	defer stores.Close()
	if err := stores.Pairing.AddAllowFrom(context.Background(), "imessage", "+1"); err != nil {
		t.Fatalf("AddAllowFrom: %v", err)
	}
}
