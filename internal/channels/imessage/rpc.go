// Package imessage connects to the imsg bridge over JSON-RPC, gates inbound
// messages and delivers agent replies back into Messages.
package imessage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/imsgclaw/internal/channels"
)

const (
	defaultRequestTimeout = 10 * time.Second
	notificationBuffer    = 64
)

// Transport carries newline-free JSON-RPC frames to and from the bridge.
type Transport interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, data []byte) error
	Close() error
}

// RPCError is a JSON-RPC error object returned by the bridge.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("imsg rpc error %d: %s", e.Code, e.Message)
}

// Notification is a server-initiated JSON-RPC call without id.
type Notification struct {
	Method string
	Params json.RawMessage
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcMessage struct {
	ID     *int64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

type rpcResult struct {
	result json.RawMessage
	err    error
}

// Client multiplexes requests over a Transport and exposes notifications
// on a bounded channel.
type Client struct {
	t      Transport
	logger *slog.Logger

	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan rpcResult
	stopped bool
	err     error

	notifications chan Notification
	done          chan struct{}
	cancel        context.CancelFunc
	stopOnce      sync.Once
	stopErr       error
}

// NewClient starts reading frames from t.
func NewClient(t Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		t:             t,
		logger:        logger,
		pending:       make(map[int64]chan rpcResult),
		notifications: make(chan Notification, notificationBuffer),
		done:          make(chan struct{}),
		cancel:        cancel,
	}
	go c.readLoop(ctx)
	return c
}

// Notifications yields bridge notifications until the client closes.
func (c *Client) Notifications() <-chan Notification { return c.notifications }

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended. It is nil after Stop.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Request calls method and decodes the result into out (which may be nil).
// Without a ctx deadline a 10s timeout applies.
func (c *Client) Request(ctx context.Context, method string, params, out interface{}) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultRequestTimeout)
		defer cancel()
	}

	id := c.nextID.Add(1)
	ch := make(chan rpcResult, 1)

	c.mu.Lock()
	if c.stopped || c.isDone() {
		c.mu.Unlock()
		return fmt.Errorf("imsg %s: %w", method, channels.ErrSessionClosed)
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	data, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	if err := c.t.WriteFrame(ctx, data); err != nil {
		if c.isDone() {
			return fmt.Errorf("imsg %s: %w", method, channels.ErrSessionClosed)
		}
		return fmt.Errorf("write %s: %w", method, err)
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return res.err
		}
		if out != nil && len(res.result) > 0 && string(res.result) != "null" {
			if err := json.Unmarshal(res.result, out); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	case <-c.done:
		return fmt.Errorf("imsg %s: %w", method, channels.ErrSessionClosed)
	case <-ctx.Done():
		return fmt.Errorf("imsg %s: %w", method, ctx.Err())
	}
}

// Stop closes the transport once. Later calls return the first result.
func (c *Client) Stop() error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		c.mu.Unlock()
		c.cancel()
		c.stopErr = c.t.Close()
	})
	return c.stopErr
}

func (c *Client) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) readLoop(ctx context.Context) {
	var readErr error
	defer func() {
		c.mu.Lock()
		if !c.stopped && readErr != nil {
			c.err = fmt.Errorf("imsg connection lost: %w", readErr)
		}
		for id, ch := range c.pending {
			deliverResult(ch, rpcResult{err: channels.ErrSessionClosed})
			delete(c.pending, id)
		}
		c.mu.Unlock()
		close(c.done)
		close(c.notifications)
	}()

	for {
		data, err := c.t.ReadFrame(ctx)
		if err != nil {
			readErr = err
			return
		}
		if len(data) == 0 {
			continue
		}

		var msg rpcMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("imessage: malformed rpc frame", "error", err, "frame", channels.Preview(string(data), 200))
			continue
		}

		if msg.Method != "" {
			select {
			case c.notifications <- Notification{Method: msg.Method, Params: msg.Params}:
			case <-ctx.Done():
				readErr = ctx.Err()
				return
			}
			continue
		}
		if msg.ID == nil {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[*msg.ID]
		c.mu.Unlock()
		if !ok {
			continue
		}
		if msg.Error != nil {
			deliverResult(ch, rpcResult{err: msg.Error})
		} else {
			deliverResult(ch, rpcResult{result: msg.Result})
		}
	}
}

// deliverResult never blocks; a waiter takes at most one result.
func deliverResult(ch chan rpcResult, res rpcResult) {
	select {
	case ch <- res:
	default:
	}
}

// IsRPCError reports whether err carries a bridge error object.
func IsRPCError(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr)
}
