package imessage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nextlevelbuilder/imsgclaw/internal/channels"
)

func TestClientRequestResult(t *testing.T) {
	b := newFakeBridge()
	c := NewClient(b, nil)
	defer c.Stop()

	var res subscribeResult
	if err := c.Request(context.Background(), "watch.subscribe", map[string]interface{}{"attachments": true}, &res); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if res.Subscription == nil || *res.Subscription != 7 {
		t.Fatalf("subscription = %v, want 7", res.Subscription)
	}
	calls := b.callsTo("watch.subscribe")
	if len(calls) != 1 || calls[0].Params["attachments"] != true {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestClientRequestRPCError(t *testing.T) {
	b := newFakeBridge()
	b.errs["send"] = &RPCError{Code: -32000, Message: "chat not found"}
	c := NewClient(b, nil)
	defer c.Stop()

	err := c.Request(context.Background(), "send", map[string]interface{}{"text": "x"}, nil)
	if !IsRPCError(err) {
		t.Fatalf("err = %v, want RPCError", err)
	}
	if err.Error() != "imsg rpc error -32000: chat not found" {
		t.Errorf("err = %q", err.Error())
	}
}

func TestClientRequestTimeout(t *testing.T) {
	b := newFakeBridge()
	b.silent["send"] = true
	c := NewClient(b, nil)
	defer c.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.Request(ctx, "send", nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestClientNotifications(t *testing.T) {
	b := newFakeBridge()
	c := NewClient(b, nil)
	defer c.Stop()

	b.notify("message", map[string]interface{}{"message": map[string]interface{}{"id": 1}})
	select {
	case n := <-c.Notifications():
		if n.Method != "message" {
			t.Errorf("method = %q", n.Method)
		}
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}
}

func TestClientStopClosesSession(t *testing.T) {
	b := newFakeBridge()
	c := NewClient(b, nil)
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	c.Stop()
	<-c.Done()

	if err := c.Err(); err != nil {
		t.Errorf("Err after Stop = %v, want nil", err)
	}
	if b.closeCount() != 1 {
		t.Errorf("transport closed %d times, want 1", b.closeCount())
	}
	err := c.Request(context.Background(), "send", nil, nil)
	if !errors.Is(err, channels.ErrSessionClosed) {
		t.Errorf("Request after Stop = %v, want ErrSessionClosed", err)
	}
	if _, ok := <-c.Notifications(); ok {
		t.Error("notifications channel still open")
	}
}

func TestClientConnectionLost(t *testing.T) {
	b := newFakeBridge()
	b.silent["send"] = true
	c := NewClient(b, nil)
	defer c.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- c.Request(context.Background(), "send", nil, nil) }()
	b.waitForCalls(t, "send", 1)
	b.drop()

	select {
	case err := <-errCh:
		if !errors.Is(err, channels.ErrSessionClosed) {
			t.Errorf("pending request err = %v, want ErrSessionClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending request not released")
	}
	<-c.Done()
	if c.Err() == nil {
		t.Error("Err() = nil after connection loss")
	}
}
