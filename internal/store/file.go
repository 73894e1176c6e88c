package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"execagenda/internal/fsutil"
	appLog "execagenda/internal/log"
	"execagenda/internal/model"
)

// fileDocument is the on-disk JSON layout.
type fileDocument struct {
	Version    int              `json:"version"`
	Activities []model.Activity `json:"activities"`
}

const fileDocumentVersion = 1

// FileStore keeps the collection in a single JSON document. Each
// ReplaceAll writes a temp file and renames it over the document, keeping
// the previous version next to it with a .bak suffix.
type FileStore struct {
	path string

	mu  sync.RWMutex
	all []model.Activity
}

// OpenFileStore loads path, or starts empty when it does not exist yet.
func OpenFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("store: file path is empty")
	}
	s := &FileStore{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", path, err)
	}
	if doc.Version > fileDocumentVersion {
		return nil, fmt.Errorf("store: %s has unsupported version %d", path, doc.Version)
	}
	s.all = doc.Activities

	appLog.Debug("store: file loaded", "path", path, "activities", len(s.all))
	return s, nil
}

func (s *FileStore) List(ctx context.Context) ([]model.Activity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.all), nil
}

func (s *FileStore) Get(ctx context.Context, id string) (model.Activity, error) {
	if err := ctx.Err(); err != nil {
		return model.Activity{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.all {
		if a.ID == id {
			return cloneActivity(a), nil
		}
	}
	return model.Activity{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// ReplaceAll persists all before swapping the in-memory copy, so a failed
// write leaves both the file and the store unchanged.
func (s *FileStore) ReplaceAll(ctx context.Context, all []model.Activity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	next := cloneAll(all)

	data, err := json.MarshalIndent(fileDocument{Version: fileDocumentVersion, Activities: next}, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fsutil.WriteFileWithBackup(s.path, data, 0o600); err != nil {
		return fmt.Errorf("store: write %s: %w", s.path, err)
	}
	s.all = next
	return nil
}

func (s *FileStore) Close() error { return nil }
