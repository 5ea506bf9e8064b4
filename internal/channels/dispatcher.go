package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// DeliverFunc sends one reply payload through the provider.
type DeliverFunc func(ctx context.Context, p ReplyPayload, kind ReplyKind) error

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Deliver        DeliverFunc
	ResponsePrefix string
	OnError        func(err error, kind ReplyKind)
	Logger         *slog.Logger
}

type dispatchItem struct {
	kind    ReplyKind
	payload ReplyPayload
}

// Dispatcher delivers agent replies for one inbound message in emission
// order through a single worker. A failed payload is reported and skipped;
// once the provider session is gone the remaining queue is drained unsent.
type Dispatcher struct {
	deliver DeliverFunc
	prefix  string
	onError func(err error, kind ReplyKind)
	logger  *slog.Logger

	mu          sync.Mutex
	pending     []dispatchItem
	complete    bool
	sessionGone bool
	queued      map[ReplyKind]int
	failed      int

	wake chan struct{}
	done chan struct{}
}

// NewDispatcher starts the delivery worker. It exits after MarkComplete once
// the queue is empty, or when ctx is cancelled.
func NewDispatcher(ctx context.Context, opts DispatcherOptions) *Dispatcher {
	d := &Dispatcher{
		deliver: opts.Deliver,
		prefix:  opts.ResponsePrefix,
		onError: opts.OnError,
		logger:  opts.Logger,
		queued:  make(map[ReplyKind]int),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	go d.run(ctx)
	return d
}

// SendToolResult queues a tool-result reply.
func (d *Dispatcher) SendToolResult(p ReplyPayload) bool { return d.enqueue(ReplyTool, p) }

// SendBlockReply queues an intermediate block reply.
func (d *Dispatcher) SendBlockReply(p ReplyPayload) bool { return d.enqueue(ReplyBlock, p) }

// SendFinalReply queues the final reply.
func (d *Dispatcher) SendFinalReply(p ReplyPayload) bool { return d.enqueue(ReplyFinal, p) }

func (d *Dispatcher) enqueue(kind ReplyKind, p ReplyPayload) bool {
	if p.IsEmpty() {
		return false
	}
	p = d.applyPrefix(p)

	d.mu.Lock()
	if d.complete {
		d.mu.Unlock()
		return false
	}
	d.pending = append(d.pending, dispatchItem{kind: kind, payload: p})
	d.queued[kind]++
	d.mu.Unlock()

	d.signal()
	return true
}

func (d *Dispatcher) applyPrefix(p ReplyPayload) ReplyPayload {
	if d.prefix == "" || strings.TrimSpace(p.Text) == "" || strings.HasPrefix(p.Text, d.prefix) {
		return p
	}
	p.Text = d.prefix + " " + p.Text
	return p
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// MarkComplete stops accepting payloads; the worker exits once drained.
func (d *Dispatcher) MarkComplete() {
	d.mu.Lock()
	d.complete = true
	d.mu.Unlock()
	d.signal()
}

// WaitForIdle blocks until the worker has drained the queue after MarkComplete.
func (d *Dispatcher) WaitForIdle(ctx context.Context) error {
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueuedCount returns how many payloads of kind were accepted.
func (d *Dispatcher) QueuedCount(kind ReplyKind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queued[kind]
}

// FailedCount returns how many payloads failed to deliver.
func (d *Dispatcher) FailedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failed
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for {
		d.mu.Lock()
		if len(d.pending) == 0 {
			if d.complete {
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			select {
			case <-d.wake:
				continue
			case <-ctx.Done():
				d.mu.Lock()
				d.complete = true
				d.mu.Unlock()
				continue
			}
		}
		item := d.pending[0]
		d.pending = d.pending[1:]
		skip := d.sessionGone
		d.mu.Unlock()

		if skip || ctx.Err() != nil {
			continue
		}
		if err := d.safeDeliver(ctx, item); err != nil {
			d.mu.Lock()
			d.failed++
			if errors.Is(err, ErrSessionClosed) {
				d.sessionGone = true
			}
			d.mu.Unlock()
			d.reportError(err, item.kind)
		}
	}
}

func (d *Dispatcher) safeDeliver(ctx context.Context, item dispatchItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("deliver panic: %v", r)
		}
	}()
	return d.deliver(ctx, item.payload, item.kind)
}

func (d *Dispatcher) reportError(err error, kind ReplyKind) {
	if d.onError != nil {
		d.onError(err, kind)
		return
	}
	d.logger.Warn("reply delivery failed", "kind", kind, "error", err)
}
