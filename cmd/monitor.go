package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/imsgclaw/internal/agent"
	"github.com/nextlevelbuilder/imsgclaw/internal/channels/imessage"
	"github.com/nextlevelbuilder/imsgclaw/internal/config"
	"github.com/nextlevelbuilder/imsgclaw/internal/dedup"
	"github.com/nextlevelbuilder/imsgclaw/internal/metrics"
	"github.com/nextlevelbuilder/imsgclaw/internal/pairing"
	"github.com/nextlevelbuilder/imsgclaw/internal/tracing"
)

type monitorOptions struct {
	requireMention *bool
}

func monitorCmd() *cobra.Command {
	var requireMention string
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Watch iMessage and relay allowed messages to the agent gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts monitorOptions
			switch requireMention {
			case "":
			case "true":
				v := true
				opts.requireMention = &v
			case "false":
				v := false
				opts.requireMention = &v
			default:
				return fmt.Errorf("--require-mention must be true or false, got %q", requireMention)
			}
			return runMonitor(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&requireMention, "require-mention", "", "override group mention gating for every group (true|false)")
	return cmd
}

func runMonitor(parent context.Context, opts monitorOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, cfgPath, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	im := cfg.IMessageSnapshot()
	if !im.Enabled {
		slog.Warn("channels.imessage.enabled is false; starting anyway", "config", cfgPath)
	}

	shutdownTracing, err := tracing.Init(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Debug("tracing shutdown", "error", err)
		}
	}()

	stores, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	filter, closeFilter := newDedupFilter(cfg)
	defer closeFilter()

	logger := slog.Default()
	backend := agent.NewGatewayBackend(cfg.Gateway.URL, cfg.Gateway.Token, time.Duration(cfg.Gateway.TimeoutSec)*time.Second)
	backend.Logger = logger

	monitor := imessage.NewMonitor(imessage.MonitorOptions{
		Config:         cfg,
		Pairing:        pairing.NewService(stores.Pairing, pairing.WithLogger(logger)),
		Routes:         stores.Routes,
		Backend:        backend,
		Dedup:          filter,
		RequireMention: opts.requireMention,
		Logger:         logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return monitor.Run(gctx)
	})
	g.Go(func() error {
		err := config.Watch(gctx, cfgPath, cfg, func() {
			slog.Info("config reloaded", "path", cfgPath, "hash", cfg.Hash())
		})
		if err != nil {
			slog.Warn("config hot reload unavailable", "error", err)
		}
		return nil
	})
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return metrics.Serve(gctx, cfg.Metrics.Listen)
		})
	}

	slog.Info("imsgclaw monitor running", "version", Version, "gateway", cfg.Gateway.URL, "store", cfg.Database.Driver)
	if err := g.Wait(); err != nil {
		slog.Error("monitor exited", "error", err)
		return err
	}
	slog.Info("imsgclaw stopped")
	return nil
}

// newDedupFilter returns a Redis filter when an address is configured,
// else an in-process one.
func newDedupFilter(cfg *config.Config) (dedup.Filter, func()) {
	ttl := time.Duration(cfg.Dedup.TTLSec) * time.Second
	if ttl <= 0 {
		ttl = dedup.DefaultTTL
	}
	if cfg.Dedup.RedisAddr == "" {
		return dedup.NewMemoryFilter(ttl), func() {}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Dedup.RedisAddr,
		Password: cfg.Dedup.RedisPassword,
		DB:       cfg.Dedup.RedisDB,
	})
	f := dedup.NewRedisFilter(rdb, cfg.Dedup.KeyPrefix, ttl, slog.Default())
	slog.Info("dedup using redis", "addr", cfg.Dedup.RedisAddr)
	return f, func() {
		if err := f.Close(); err != nil {
			slog.Debug("redis close", "error", err)
		}
	}
}
