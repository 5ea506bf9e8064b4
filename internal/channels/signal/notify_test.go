package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/imsgclaw/internal/config"
)

func TestNewNotifierRequiresConfig(t *testing.T) {
	tests := []config.SignalConfig{
		{},
		{BaseURL: "http://127.0.0.1:8080"},
		{Account: "+15550001111"},
	}
	for _, cfg := range tests {
		if _, err := NewNotifier(cfg, nil); !errors.Is(err, ErrNotConfigured) {
			t.Errorf("NewNotifier(%+v) err = %v", cfg, err)
		}
	}
}

func TestNotifyApproved(t *testing.T) {
	var got sendRequest
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	n, err := NewNotifier(config.SignalConfig{BaseURL: srv.URL + "/", Account: "+15550000000"}, srv.Client())
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}
	if err := n.NotifyApproved(context.Background(), "+15550001111", "approved"); err != nil {
		t.Fatalf("NotifyApproved: %v", err)
	}
	if path != "/v2/send" {
		t.Errorf("path = %q", path)
	}
	if got.Number != "+15550000000" || got.Message != "approved" || len(got.Recipients) != 1 || got.Recipients[0] != "+15550001111" {
		t.Errorf("request = %+v", got)
	}
}

func TestNotifyApprovedHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unregistered user", http.StatusBadRequest)
	}))
	defer srv.Close()

	n, _ := NewNotifier(config.SignalConfig{BaseURL: srv.URL, Account: "+1"}, srv.Client())
	err := n.NotifyApproved(context.Background(), "+2", "approved")
	if err == nil || !strings.Contains(err.Error(), "status 400") || !strings.Contains(err.Error(), "unregistered user") {
		t.Fatalf("err = %v", err)
	}
}
