package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/martinemde/roast-sub000/pkg/schema"
)

const lockFile = ".lock"

var unsafePath = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileStore writes one JSON file per snapshot under
// <root>/<session>/<timestamp>/. A per-session file lock serializes writers
// across processes.
type FileStore struct {
	root string
}

// NewFileStore creates the root directory when needed.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, schema.ConfigurationError("file store requires a directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) Save(_ context.Context, rec *schema.StateRecord) error {
	cp := *rec
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(&cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	sessionDir := s.sessionDir(cp.SessionID)
	runDir := filepath.Join(sessionDir, safeName(cp.Timestamp))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return storeError("create run dir", err)
	}

	lock := flock.New(filepath.Join(sessionDir, lockFile))
	if err := lock.Lock(); err != nil {
		return storeError("lock session", err)
	}
	defer func() { _ = lock.Unlock() }()

	name := fmt.Sprintf("%06d_%s_%s.json", cp.Order, safeName(cp.StepName), safeName(cp.ID))
	tmp := filepath.Join(runDir, "."+name+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return storeError("write snapshot", err)
	}
	if err := os.Rename(tmp, filepath.Join(runDir, name)); err != nil {
		_ = os.Remove(tmp)
		return storeError("write snapshot", err)
	}
	return nil
}

func (s *FileStore) LoadBefore(ctx context.Context, sessionID, step, timestamp string) (*schema.StateRecord, error) {
	recs, err := s.List(ctx, sessionID, timestamp)
	if err != nil {
		return nil, err
	}
	return pickBefore(recs, step), nil
}

func (s *FileStore) List(_ context.Context, sessionID, timestamp string) ([]*schema.StateRecord, error) {
	sessionDir := s.sessionDir(sessionID)
	if _, err := os.Stat(sessionDir); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	lock := flock.New(filepath.Join(sessionDir, lockFile))
	if err := lock.RLock(); err != nil {
		return nil, storeError("lock session", err)
	}
	defer func() { _ = lock.Unlock() }()

	if timestamp == "" {
		entries, err := os.ReadDir(sessionDir)
		if err != nil {
			return nil, storeError("list runs", err)
		}
		var runs []string
		for _, e := range entries {
			if e.IsDir() {
				runs = append(runs, e.Name())
			}
		}
		timestamp = latest(runs)
		if timestamp == "" {
			return nil, nil
		}
	}

	runDir := filepath.Join(sessionDir, safeName(timestamp))
	entries, err := os.ReadDir(runDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("list snapshots", err)
	}

	var recs []*schema.StateRecord
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(runDir, e.Name()))
		if err != nil {
			return nil, storeError("read snapshot", err)
		}
		rec := &schema.StateRecord{}
		if err := json.Unmarshal(data, rec); err != nil {
			return nil, storeError("decode snapshot "+e.Name(), err)
		}
		recs = append(recs, rec)
	}
	sortRecords(recs)
	return recs, nil
}

func (s *FileStore) sessionDir(sessionID string) string {
	return filepath.Join(s.root, safeName(sessionID))
}

func safeName(s string) string {
	name := unsafePath.ReplaceAllString(s, "_")
	if len(name) > 64 {
		name = name[:64]
	}
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}

var _ Repository = (*FileStore)(nil)
