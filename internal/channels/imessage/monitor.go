package imessage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/nextlevelbuilder/imsgclaw/internal/agent"
	"github.com/nextlevelbuilder/imsgclaw/internal/channels"
	"github.com/nextlevelbuilder/imsgclaw/internal/config"
	"github.com/nextlevelbuilder/imsgclaw/internal/dedup"
	"github.com/nextlevelbuilder/imsgclaw/internal/pairing"
	"github.com/nextlevelbuilder/imsgclaw/internal/store"
)

const (
	Provider      = "imessage"
	ProviderLabel = "iMessage"

	unsubscribeTimeout = 2 * time.Second
)

// ConnectFunc opens the bridge transport.
type ConnectFunc func(ctx context.Context) (Transport, error)

// MonitorOptions wires a Monitor. Config is read per message, so hot
// reloads apply to the next inbound message.
type MonitorOptions struct {
	Config  *config.Config
	Pairing *pairing.Service
	Routes  store.RouteStore
	Backend agent.Backend
	Dedup   dedup.Filter
	Connect ConnectFunc

	// RequireMention overrides every group mention setting when non-nil.
	RequireMention *bool
	Logger         *slog.Logger
}

// Monitor is the iMessage provider session: one bridge connection, one
// watch subscription, one handler goroutine per inbound message.
type Monitor struct {
	cfg            *config.Config
	pairing        *pairing.Service
	routes         store.RouteStore
	backend        agent.Backend
	dedup          dedup.Filter
	connect        ConnectFunc
	requireMention *bool
	logger         *slog.Logger

	sender   channels.Sender
	limiter  *channels.SendLimiter
	handlers sync.WaitGroup
}

func NewMonitor(opts MonitorOptions) *Monitor {
	m := &Monitor{
		cfg:            opts.Config,
		pairing:        opts.Pairing,
		routes:         opts.Routes,
		backend:        opts.Backend,
		dedup:          opts.Dedup,
		connect:        opts.Connect,
		requireMention: opts.RequireMention,
		logger:         opts.Logger,
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("provider", Provider)
	if m.dedup == nil {
		m.dedup = dedup.NewMemoryFilter(dedup.DefaultTTL)
	}
	if m.connect == nil {
		m.connect = DefaultConnect(opts.Config, m.logger)
	}
	im := opts.Config.IMessageSnapshot()
	m.limiter = channels.NewSendLimiter(im.SendRatePerSec, 1)
	return m
}

// DefaultConnect dials bridge_url when set, else spawns cli_path rpc.
func DefaultConnect(cfg *config.Config, logger *slog.Logger) ConnectFunc {
	return func(ctx context.Context) (Transport, error) {
		im := cfg.IMessageSnapshot()
		if im.BridgeURL != "" {
			return DialBridge(ctx, im.BridgeURL, im.BridgeToken)
		}
		return StartStdio(config.ExpandHome(im.CLIPath), config.ExpandHome(im.DBPath), logger)
	}
}

type subscribeResult struct {
	Subscription *int64 `json:"subscription"`
}

// Run connects, subscribes to new messages and blocks until ctx is
// cancelled (returns nil) or the bridge connection fails (returns the error).
func (m *Monitor) Run(ctx context.Context) error {
	im := m.cfg.IMessageSnapshot()
	if im.GroupAllowFrom == nil && len(im.AllowFrom) > 0 {
		m.logger.Warn("imessage: group_allow_from not set, groups use allow_from")
	}

	t, err := m.connect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("imessage: connect: %w", err)
	}
	client := NewClient(t, m.logger)
	m.sender = NewSender(client, im.Service, im.Region, m.logger)

	var (
		subMu        sync.Mutex
		subscription *int64
		cleanupOnce  sync.Once
	)
	cleanup := func() {
		cleanupOnce.Do(func() {
			subMu.Lock()
			sub := subscription
			subMu.Unlock()
			if sub != nil {
				uctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
				if err := client.Request(uctx, "watch.unsubscribe", map[string]interface{}{"subscription": *sub}, nil); err != nil {
					m.logger.Debug("imessage: unsubscribe failed", "error", err)
				}
				cancel()
			}
			if err := client.Stop(); err != nil {
				m.logger.Debug("imessage: stop failed", "error", err)
			}
		})
	}

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		m.consume(ctx, client.Notifications())
	}()
	finish := func() {
		cleanup()
		<-loopDone
		m.handlers.Wait()
	}

	var res subscribeResult
	if err := client.Request(ctx, "watch.subscribe", map[string]interface{}{"attachments": im.IncludeAttachments}, &res); err != nil {
		finish()
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("imessage: watch.subscribe: %w", err)
	}
	subMu.Lock()
	subscription = res.Subscription
	subMu.Unlock()
	m.logger.Info("imessage monitor started", "account", im.AccountID, "attachments", im.IncludeAttachments)

	select {
	case <-ctx.Done():
		finish()
		m.logger.Info("imessage monitor stopped")
		return nil
	case <-client.Done():
		finish()
		if ctx.Err() != nil {
			return nil
		}
		err := client.Err()
		if cleanClose(err) {
			m.logger.Info("imessage monitor stopped: bridge closed")
			return nil
		}
		if err == nil {
			err = errors.New("imessage: bridge connection closed")
		}
		m.logger.Error("imessage: monitor failed", "error", err)
		return err
	}
}

// cleanClose reports whether the bridge ended normally: the rpc process
// closed stdout, or the WebSocket peer sent a normal closure.
func cleanClose(err error) bool {
	return errors.Is(err, io.EOF) || websocket.CloseStatus(err) == websocket.StatusNormalClosure
}

// consume drains notifications until the client closes them.
func (m *Monitor) consume(ctx context.Context, notes <-chan Notification) {
	for n := range notes {
		switch n.Method {
		case "message":
			params := n.Params
			m.handlers.Add(1)
			go func() {
				defer m.handlers.Done()
				defer func() {
					if r := recover(); r != nil {
						m.logger.Error("imessage: handler panic", "panic", r, "stack", string(debug.Stack()))
					}
				}()
				if err := m.handleNotification(ctx, params); err != nil {
					m.logger.Error("imessage: handler failed", "error", err)
				}
			}()
		case "error":
			m.logger.Error("imessage: watch error", "params", string(n.Params))
		default:
			m.logger.Debug("imessage: ignoring notification", "method", n.Method)
		}
	}
}
