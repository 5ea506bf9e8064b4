// Package agent hands inbound envelopes to the agent runtime and streams the
// replies back into a channels.Dispatcher.
package agent

import (
	"context"

	"github.com/nextlevelbuilder/imsgclaw/internal/channels"
)

// Backend runs one agent turn for env. Replies are queued on d as they are
// produced; queuedFinal reports whether a final reply was accepted.
// Dispatch does not call d.MarkComplete.
type Backend interface {
	Dispatch(ctx context.Context, env channels.Envelope, d *channels.Dispatcher) (queuedFinal bool, err error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, env channels.Envelope, d *channels.Dispatcher) (bool, error)

func (f BackendFunc) Dispatch(ctx context.Context, env channels.Envelope, d *channels.Dispatcher) (bool, error) {
	return f(ctx, env, d)
}
