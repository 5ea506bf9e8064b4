package sqlstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/imsgclaw/internal/store"
)

// SQLPairingStore implements store.PairingStore.
type SQLPairingStore struct {
	db *DB
}

func NewSQLPairingStore(db *DB) *SQLPairingStore {
	return &SQLPairingStore{db: db}
}

func (s *SQLPairingStore) ListRequests(ctx context.Context, provider string) ([]store.PairingRequest, error) {
	rows, err := s.db.query(ctx,
		`SELECT sender_id, code, meta, created_at, last_seen_at
		 FROM pairing_requests WHERE provider = ? ORDER BY created_at`, provider)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []store.PairingRequest
	for rows.Next() {
		var (
			req               store.PairingRequest
			metaJSON          string
			created, lastSeen int64
		)
		if err := rows.Scan(&req.ID, &req.Code, &metaJSON, &created, &lastSeen); err != nil {
			return nil, err
		}
		req.Provider = provider
		req.CreatedAt = fromMillis(created)
		req.LastSeenAt = fromMillis(lastSeen)
		if metaJSON != "" && metaJSON != "{}" {
			_ = json.Unmarshal([]byte(metaJSON), &req.Meta)
		}
		result = append(result, req)
	}
	return result, rows.Err()
}

func (s *SQLPairingStore) PutRequest(ctx context.Context, req store.PairingRequest) error {
	meta := req.Meta
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = s.db.exec(ctx,
		`INSERT INTO pairing_requests (id, provider, sender_id, code, meta, created_at, last_seen_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (provider, sender_id) DO UPDATE SET
		   code = excluded.code, meta = excluded.meta,
		   created_at = excluded.created_at, last_seen_at = excluded.last_seen_at`,
		uuid.Must(uuid.NewV7()).String(), req.Provider, req.ID, req.Code, string(metaJSON),
		toMillis(req.CreatedAt), toMillis(req.LastSeenAt),
	)
	return err
}

func (s *SQLPairingStore) DeleteRequest(ctx context.Context, provider, id string) error {
	_, err := s.db.exec(ctx, `DELETE FROM pairing_requests WHERE provider = ? AND sender_id = ?`, provider, id)
	return err
}

func (s *SQLPairingStore) AllowFrom(ctx context.Context, provider string) ([]string, error) {
	rows, err := s.db.query(ctx,
		`SELECT sender_id FROM pairing_allow_from WHERE provider = ? ORDER BY created_at, sender_id`, provider)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLPairingStore) AddAllowFrom(ctx context.Context, provider, id string) error {
	_, err := s.db.exec(ctx,
		`INSERT INTO pairing_allow_from (provider, sender_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (provider, sender_id) DO NOTHING`,
		provider, id, time.Now().UnixMilli())
	return err
}
