// Package file persists CRM snapshots as a single JSON document on disk.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/c0deZ3R0/go-crm-sync/crm"
	crmErrors "github.com/c0deZ3R0/go-crm-sync/errors"
)

const component = "storage/file"

// Store writes the snapshot to Path. Each save goes to a temporary file
// that is renamed over the previous one, so readers never see a partial
// document.
type Store struct {
	path string
	mu   sync.Mutex
}

var _ crm.Persister = (*Store)(nil)

// New returns a Store writing to path. Parent directories are created on
// the first save.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	return &Store{path: path}, nil
}

// Path returns the snapshot file location.
func (s *Store) Path() string { return s.path }

// Load reads the snapshot file. A missing file yields an empty snapshot.
func (s *Store) Load(_ context.Context) (*crm.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return crm.EmptySnapshot(), nil
	}
	if err != nil {
		return nil, wrap(crmErrors.OpLoad, err)
	}
	snap, err := crm.DecodeSnapshot(data)
	if err != nil {
		return nil, wrap(crmErrors.OpLoad, err)
	}
	return snap, nil
}

// Save atomically replaces the snapshot file.
func (s *Store) Save(ctx context.Context, snap *crm.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := crm.EncodeSnapshot(snap)
	if err != nil {
		return wrap(crmErrors.OpPersist, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
		return wrap(crmErrors.OpPersist, fmt.Errorf("failed to create snapshot directory: %w", err))
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return wrap(crmErrors.OpPersist, fmt.Errorf("failed to write temporary snapshot file: %w", err))
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		_ = os.Remove(tempPath)
		return wrap(crmErrors.OpPersist, fmt.Errorf("failed to rename snapshot file: %w", err))
	}
	return nil
}

func (s *Store) Close() error { return nil }

func wrap(op crmErrors.Operation, err error) error {
	return crmErrors.E(op, crmErrors.Component(component), crmErrors.KindPersistence, crmErrors.ErrCodePersistence, err)
}
