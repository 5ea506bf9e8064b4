package store

import (
	"context"
	"time"
)

// PairingRequest is a pending access request from an unknown sender.
// One request exists per (provider, id); repeat contact reuses its code.
type PairingRequest struct {
	Provider   string            `json:"provider"`
	ID         string            `json:"id"`
	Code       string            `json:"code"`
	Meta       map[string]string `json:"meta,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	LastSeenAt time.Time         `json:"lastSeenAt"`
}

// PairingStore persists pending pairing requests and approved sender ids.
type PairingStore interface {
	ListRequests(ctx context.Context, provider string) ([]PairingRequest, error)
	// PutRequest inserts or replaces the request for (req.Provider, req.ID).
	PutRequest(ctx context.Context, req PairingRequest) error
	DeleteRequest(ctx context.Context, provider, id string) error
	AllowFrom(ctx context.Context, provider string) ([]string, error)
	AddAllowFrom(ctx context.Context, provider, id string) error
}

// LastRoute records where a session was last reachable, so proactive
// replies can find their way back.
type LastRoute struct {
	SessionKey string    `json:"sessionKey"`
	Provider   string    `json:"provider"`
	To         string    `json:"to"`
	AccountID  string    `json:"accountId,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// RouteStore persists last-route records keyed by session key.
type RouteStore interface {
	UpdateLastRoute(ctx context.Context, r LastRoute) error
	// LastRoute returns nil, nil when no route is recorded.
	LastRoute(ctx context.Context, sessionKey string) (*LastRoute, error)
}

// Stores is the top-level container for all storage backends.
type Stores struct {
	Pairing PairingStore
	Routes  RouteStore
	closer  func() error
}

// NewStores bundles backends with an optional close function.
func NewStores(p PairingStore, r RouteStore, closer func() error) *Stores {
	return &Stores{Pairing: p, Routes: r, closer: closer}
}

// Close releases backend resources.
func (s *Stores) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer()
}
