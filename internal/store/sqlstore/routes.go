package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/nextlevelbuilder/imsgclaw/internal/store"
)

// SQLRouteStore implements store.RouteStore.
type SQLRouteStore struct {
	db *DB
}

func NewSQLRouteStore(db *DB) *SQLRouteStore {
	return &SQLRouteStore{db: db}
}

func (s *SQLRouteStore) UpdateLastRoute(ctx context.Context, r store.LastRoute) error {
	_, err := s.db.exec(ctx,
		`INSERT INTO last_routes (session_key, provider, target, account_id, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (session_key) DO UPDATE SET
		   provider = excluded.provider, target = excluded.target,
		   account_id = excluded.account_id, updated_at = excluded.updated_at`,
		r.SessionKey, r.Provider, r.To, r.AccountID, toMillis(r.UpdatedAt),
	)
	return err
}

func (s *SQLRouteStore) LastRoute(ctx context.Context, sessionKey string) (*store.LastRoute, error) {
	var (
		r       store.LastRoute
		updated int64
	)
	err := s.db.queryRow(ctx,
		`SELECT session_key, provider, target, account_id, updated_at FROM last_routes WHERE session_key = ?`,
		sessionKey,
	).Scan(&r.SessionKey, &r.Provider, &r.To, &r.AccountID, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.UpdatedAt = fromMillis(updated)
	return &r, nil
}
