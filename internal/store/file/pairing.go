package file

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/nextlevelbuilder/imsgclaw/internal/store"
)

type pairingFile struct {
	Version  int                    `json:"version"`
	Requests []store.PairingRequest `json:"requests"`
}

type allowFromFile struct {
	Version   int      `json:"version"`
	AllowFrom []string `json:"allowFrom"`
}

// FilePairingStore implements store.PairingStore with two files per provider:
// {provider}-pairing.json and {provider}-allowFrom.json.
type FilePairingStore struct {
	dir string
	mu  sync.Mutex
}

func NewFilePairingStore(dir string) *FilePairingStore {
	return &FilePairingStore{dir: dir}
}

func (s *FilePairingStore) requestsPath(provider string) string {
	return filepath.Join(s.dir, safeName(provider)+"-pairing.json")
}

func (s *FilePairingStore) allowPath(provider string) string {
	return filepath.Join(s.dir, safeName(provider)+"-allowFrom.json")
}

func (s *FilePairingStore) loadRequests(provider string) (pairingFile, error) {
	var f pairingFile
	if err := readJSON(s.requestsPath(provider), &f); err != nil {
		return pairingFile{}, err
	}
	return f, nil
}

func (s *FilePairingStore) ListRequests(_ context.Context, provider string) ([]store.PairingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.loadRequests(provider)
	if err != nil {
		return nil, err
	}
	return f.Requests, nil
}

func (s *FilePairingStore) PutRequest(_ context.Context, req store.PairingRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.loadRequests(req.Provider)
	if err != nil {
		return err
	}
	replaced := false
	for i := range f.Requests {
		if f.Requests[i].ID == req.ID {
			f.Requests[i] = req
			replaced = true
			break
		}
	}
	if !replaced {
		f.Requests = append(f.Requests, req)
	}
	f.Version = 1
	return writeJSON(s.requestsPath(req.Provider), f)
}

func (s *FilePairingStore) DeleteRequest(_ context.Context, provider, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.loadRequests(provider)
	if err != nil {
		return err
	}
	kept := f.Requests[:0]
	for _, r := range f.Requests {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(f.Requests) {
		return nil
	}
	f.Requests = kept
	f.Version = 1
	return writeJSON(s.requestsPath(provider), f)
}

func (s *FilePairingStore) AllowFrom(_ context.Context, provider string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var f allowFromFile
	if err := readJSON(s.allowPath(provider), &f); err != nil {
		return nil, err
	}
	return f.AllowFrom, nil
}

func (s *FilePairingStore) AddAllowFrom(_ context.Context, provider, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var f allowFromFile
	if err := readJSON(s.allowPath(provider), &f); err != nil {
		return err
	}
	for _, existing := range f.AllowFrom {
		if existing == id {
			return nil
		}
	}
	f.Version = 1
	f.AllowFrom = append(f.AllowFrom, id)
	return writeJSON(s.allowPath(provider), f)
}
