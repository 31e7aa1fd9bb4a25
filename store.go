package bitrix24

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

//go:generate mockgen -source=store.go -destination=mocks/store.go -package=mocks CredentialStore

// CredentialStore persists one credential record per tenant domain.
// Production deployments inject their own implementation; both operations
// may block and must each be atomic.
type CredentialStore interface {
	// Read returns the record for the tenant identified by hint, which
	// carries at least the domain. A nil record with a nil error means no
	// record is present.
	Read(ctx context.Context, hint Credentials) (*Credentials, error)

	// Write persists the record, keyed by its domain.
	Write(ctx context.Context, creds Credentials) error
}

// FileStore keeps a single credential record in one JSON file. It is the
// illustrative default for local development and examples, not a
// multi-tenant store.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store backed by the JSON file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Read(_ context.Context, _ Credentials) (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, fmt.Errorf("decode credentials file: %w", err)
	}
	return &creds, nil
}

// Write persists the record with a write-to-temp-then-rename so a crash
// never leaves a half-written file behind.
func (s *FileStore) Write(_ context.Context, creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".credentials-*.json")
	if err != nil {
		return fmt.Errorf("create temp credentials file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp credentials file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace credentials file: %w", err)
	}
	return nil
}

var _ CredentialStore = (*FileStore)(nil)
