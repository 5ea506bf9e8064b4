// Package pairing issues and approves short access codes for senders that
// are not yet on a provider's allow list.
package pairing

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/imsgclaw/internal/store"
)

const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 8

	DefaultTTL        = time.Hour
	DefaultMaxPending = 3
)

// Service serializes pairing operations over a store.PairingStore.
// All methods are safe for concurrent use within one process.
type Service struct {
	store      store.PairingStore
	logger     *slog.Logger
	ttl        time.Duration
	maxPending int
	now        func() time.Time

	mu sync.Mutex
}

// Option customizes a Service.
type Option func(*Service)

func WithTTL(d time.Duration) Option { return func(s *Service) { s.ttl = d } }

func WithMaxPending(n int) Option { return func(s *Service) { s.maxPending = n } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func NewService(ps store.PairingStore, opts ...Option) *Service {
	s := &Service{
		store:      ps,
		logger:     slog.Default(),
		ttl:        DefaultTTL,
		maxPending: DefaultMaxPending,
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RequestOrGet returns the pending code for (provider, id), creating one on
// first contact. created is true only for the call that issued the code.
// When the provider already has maxPending live requests, it returns an
// empty code and created=false.
func (s *Service) RequestOrGet(ctx context.Context, provider, id string, meta map[string]string) (string, bool, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	id = strings.TrimSpace(id)
	if id == "" {
		return "", false, fmt.Errorf("pairing: empty subject id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	pending, err := s.livePending(ctx, provider, now)
	if err != nil {
		return "", false, err
	}

	meta = cleanMeta(meta)
	for _, req := range pending {
		if req.ID != id {
			continue
		}
		req.LastSeenAt = now
		if len(meta) > 0 {
			req.Meta = meta
		}
		if err := s.store.PutRequest(ctx, req); err != nil {
			return "", false, fmt.Errorf("refresh pairing request: %w", err)
		}
		return req.Code, false, nil
	}

	if s.maxPending > 0 && len(pending) >= s.maxPending {
		s.logger.Debug("pairing: pending cap reached", "provider", provider, "pending", len(pending))
		return "", false, nil
	}

	used := make(map[string]bool, len(pending))
	for _, req := range pending {
		used[req.Code] = true
	}
	code, err := generateCode(used)
	if err != nil {
		return "", false, err
	}

	req := store.PairingRequest{
		Provider:   provider,
		ID:         id,
		Code:       code,
		Meta:       meta,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	if err := s.store.PutRequest(ctx, req); err != nil {
		return "", false, fmt.Errorf("store pairing request: %w", err)
	}
	s.logger.Info("pairing request created", "provider", provider, "id", id)
	return code, true, nil
}

// Approve consumes the pending request carrying code and adds its subject
// to the provider's allow store. It returns nil, nil for an unknown,
// expired or already-approved code.
func (s *Service) Approve(ctx context.Context, provider, code string) (*store.PairingRequest, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pending, err := s.livePending(ctx, provider, s.now().UTC())
	if err != nil {
		return nil, err
	}
	for _, req := range pending {
		if req.Code != code {
			continue
		}
		if err := s.store.AddAllowFrom(ctx, provider, req.ID); err != nil {
			return nil, fmt.Errorf("add allow-from: %w", err)
		}
		if err := s.store.DeleteRequest(ctx, provider, req.ID); err != nil {
			return nil, fmt.Errorf("delete pairing request: %w", err)
		}
		s.logger.Info("pairing approved", "provider", provider, "id", req.ID)
		approved := req
		return &approved, nil
	}
	return nil, nil
}

// List returns the live pending requests of provider, oldest first.
func (s *Service) List(ctx context.Context, provider string) ([]store.PairingRequest, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.livePending(ctx, provider, s.now().UTC())
}

// AllowFrom returns the approved subject ids of provider.
func (s *Service) AllowFrom(ctx context.Context, provider string) ([]string, error) {
	return s.store.AllowFrom(ctx, strings.ToLower(strings.TrimSpace(provider)))
}

// livePending lists requests and deletes the expired ones. Caller holds s.mu.
func (s *Service) livePending(ctx context.Context, provider string, now time.Time) ([]store.PairingRequest, error) {
	all, err := s.store.ListRequests(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("list pairing requests: %w", err)
	}
	live := make([]store.PairingRequest, 0, len(all))
	for _, req := range all {
		if s.ttl > 0 && now.Sub(req.CreatedAt) > s.ttl {
			if err := s.store.DeleteRequest(ctx, provider, req.ID); err != nil {
				s.logger.Warn("pairing: prune expired request failed", "provider", provider, "id", req.ID, "error", err)
			}
			continue
		}
		live = append(live, req)
	}
	return live, nil
}

func cleanMeta(meta map[string]string) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		if v = strings.TrimSpace(v); v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// generateCode draws codeLength characters from codeAlphabet with
// crypto/rand, retrying on collision with a pending code.
func generateCode(used map[string]bool) (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	for attempt := 0; attempt < 100; attempt++ {
		b := make([]byte, codeLength)
		for i := range b {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", fmt.Errorf("generate pairing code: %w", err)
			}
			b[i] = codeAlphabet[n.Int64()]
		}
		if code := string(b); !used[code] {
			return code, nil
		}
	}
	return "", fmt.Errorf("generate pairing code: exhausted attempts")
}
