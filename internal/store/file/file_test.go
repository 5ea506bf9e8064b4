package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/imsgclaw/internal/store"
)

func TestFilePairingStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := NewFilePairingStore(dir)

	reqs, err := s.ListRequests(ctx, "imessage")
	if err != nil || len(reqs) != 0 {
		t.Fatalf("empty store: %v %v", reqs, err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	req := store.PairingRequest{Provider: "imessage", ID: "+15550001", Code: "ABCD2345", CreatedAt: now, LastSeenAt: now}
	if err := s.PutRequest(ctx, req); err != nil {
		t.Fatal(err)
	}
	req.Meta = map[string]string{"sender": "+15550001"}
	if err := s.PutRequest(ctx, req); err != nil {
		t.Fatal(err)
	}

	// A second instance must observe the persisted state.
	other := NewFilePairingStore(dir)
	reqs, err = other.ListRequests(ctx, "imessage")
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 1 || reqs[0].Code != "ABCD2345" || reqs[0].Meta["sender"] != "+15550001" {
		t.Fatalf("requests = %+v", reqs)
	}

	if err := s.DeleteRequest(ctx, "imessage", "+15550001"); err != nil {
		t.Fatal(err)
	}
	if reqs, _ = s.ListRequests(ctx, "imessage"); len(reqs) != 0 {
		t.Errorf("after delete: %+v", reqs)
	}

	if _, err := os.Stat(filepath.Join(dir, "imessage-pairing.json")); err != nil {
		t.Errorf("pairing file missing: %v", err)
	}
}

func TestFilePairingStoreAllowFromDedupes(t *testing.T) {
	ctx := context.Background()
	s := NewFilePairingStore(t.TempDir())

	for _, id := range []string{"a", "b", "a"} {
		if err := s.AddAllowFrom(ctx, "imessage", id); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.AllowFrom(ctx, "imessage")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("AllowFrom = %v", got)
	}
	if other, _ := s.AllowFrom(ctx, "telegram"); len(other) != 0 {
		t.Errorf("providers must not share allow lists: %v", other)
	}
}

func TestFileRouteStore(t *testing.T) {
	ctx := context.Background()
	s := NewFileRouteStore(t.TempDir())

	got, err := s.LastRoute(ctx, "agent:default:main")
	if err != nil || got != nil {
		t.Fatalf("missing route = %v, %v", got, err)
	}

	r := store.LastRoute{SessionKey: "agent:default:main", Provider: "imessage", To: "imessage:+15550001", UpdatedAt: time.Now().UTC()}
	if err := s.UpdateLastRoute(ctx, r); err != nil {
		t.Fatal(err)
	}
	r.To = "imessage:+15550002"
	if err := s.UpdateLastRoute(ctx, r); err != nil {
		t.Fatal(err)
	}

	got, err = s.LastRoute(ctx, "agent:default:main")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.To != "imessage:+15550002" {
		t.Errorf("LastRoute = %+v", got)
	}
}

func TestSafeName(t *testing.T) {
	if got := safeName(" iMessage/../x "); got != "imessage____x" {
		t.Errorf("safeName = %q", got)
	}
}
