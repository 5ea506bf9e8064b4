package file

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/nextlevelbuilder/imsgclaw/internal/store"
)

// FileRouteStore implements store.RouteStore in a single routes.json map.
type FileRouteStore struct {
	path string
	mu   sync.Mutex
}

func NewFileRouteStore(dir string) *FileRouteStore {
	return &FileRouteStore{path: filepath.Join(dir, "routes.json")}
}

func (s *FileRouteStore) UpdateLastRoute(_ context.Context, r store.LastRoute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	routes := map[string]store.LastRoute{}
	if err := readJSON(s.path, &routes); err != nil {
		return err
	}
	routes[r.SessionKey] = r
	return writeJSON(s.path, routes)
}

func (s *FileRouteStore) LastRoute(_ context.Context, sessionKey string) (*store.LastRoute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	routes := map[string]store.LastRoute{}
	if err := readJSON(s.path, &routes); err != nil {
		return nil, err
	}
	r, ok := routes[sessionKey]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// NewFileStores creates file-backed stores rooted at dir.
func NewFileStores(dir string) *store.Stores {
	return store.NewStores(NewFilePairingStore(dir), NewFileRouteStore(dir), nil)
}
