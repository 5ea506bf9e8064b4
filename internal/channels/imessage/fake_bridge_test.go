package imessage

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"
)

type rpcCall struct {
	Method string
	Params map[string]interface{}
}

// fakeBridge is an in-memory Transport that answers requests from a
// per-method result table and lets tests push notifications.
type fakeBridge struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	calls      []rpcCall
	results    map[string]interface{}
	errs       map[string]*RPCError
	silent     map[string]bool
	closeCalls int
	readErr    error
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		frames: make(chan []byte, 128),
		closed: make(chan struct{}),
		results: map[string]interface{}{
			"watch.subscribe": map[string]interface{}{"subscription": 7},
			"send":            map[string]interface{}{"ok": true},
		},
		errs:   map[string]*RPCError{},
		silent: map[string]bool{},
	}
}

func (b *fakeBridge) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case f := <-b.frames:
		return f, nil
	case <-b.closed:
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.readErr != nil {
			return nil, b.readErr
		}
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *fakeBridge) WriteFrame(_ context.Context, data []byte) error {
	select {
	case <-b.closed:
		return io.ErrClosedPipe
	default:
	}
	var req struct {
		ID     int64                  `json:"id"`
		Method string                 `json:"method"`
		Params map[string]interface{} `json:"params"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}

	b.mu.Lock()
	b.calls = append(b.calls, rpcCall{Method: req.Method, Params: req.Params})
	silent := b.silent[req.Method]
	rpcErr := b.errs[req.Method]
	result, ok := b.results[req.Method]
	b.mu.Unlock()

	if silent {
		return nil
	}
	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	switch {
	case rpcErr != nil:
		resp["error"] = rpcErr
	case ok:
		resp["result"] = result
	default:
		resp["result"] = map[string]interface{}{}
	}
	frame, _ := json.Marshal(resp)
	b.frames <- frame
	return nil
}

func (b *fakeBridge) Close() error {
	b.mu.Lock()
	b.closeCalls++
	b.mu.Unlock()
	b.closeOnce.Do(func() { close(b.closed) })
	return nil
}

// drop simulates the bridge process exiting (reads end with io.EOF).
func (b *fakeBridge) drop() {
	b.closeOnce.Do(func() { close(b.closed) })
}

// fail breaks the connection with err.
func (b *fakeBridge) fail(err error) {
	b.mu.Lock()
	b.readErr = err
	b.mu.Unlock()
	b.closeOnce.Do(func() { close(b.closed) })
}

func (b *fakeBridge) notify(method string, params interface{}) {
	frame, _ := json.Marshal(map[string]interface{}{"jsonrpc": "2.0", "method": method, "params": params})
	b.frames <- frame
}

func (b *fakeBridge) callsTo(method string) []rpcCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []rpcCall
	for _, c := range b.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (b *fakeBridge) closeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeCalls
}

// waitForCalls polls until method was called n times.
func (b *fakeBridge) waitForCalls(t *testing.T, method string, n int) []rpcCall {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if calls := b.callsTo(method); len(calls) >= n {
			return calls
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %q calls, got %d", n, method, len(b.callsTo(method)))
	return nil
}
