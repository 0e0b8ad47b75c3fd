package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/martinemde/roast-sub000/pkg/schema"
)

// MemoryStore keeps snapshots in process memory. Useful for tests and for
// runs that never need replay across processes.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string][]*schema.StateRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]map[string][]*schema.StateRecord)}
}

func (s *MemoryStore) Save(_ context.Context, rec *schema.StateRecord) error {
	cp := copyRecord(rec)
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	runs, ok := s.sessions[cp.SessionID]
	if !ok {
		runs = make(map[string][]*schema.StateRecord)
		s.sessions[cp.SessionID] = runs
	}
	runs[cp.Timestamp] = append(runs[cp.Timestamp], cp)
	return nil
}

func (s *MemoryStore) LoadBefore(_ context.Context, sessionID, step, timestamp string) (*schema.StateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := pickBefore(s.run(sessionID, timestamp), step)
	if rec == nil {
		return nil, nil
	}
	return copyRecord(rec), nil
}

func (s *MemoryStore) List(_ context.Context, sessionID, timestamp string) ([]*schema.StateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.run(sessionID, timestamp)
	out := make([]*schema.StateRecord, len(recs))
	for i, r := range recs {
		out[i] = copyRecord(r)
	}
	sortRecords(out)
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// run must be called with s.mu held.
func (s *MemoryStore) run(sessionID, timestamp string) []*schema.StateRecord {
	runs := s.sessions[sessionID]
	if timestamp == "" {
		keys := make([]string, 0, len(runs))
		for ts := range runs {
			keys = append(keys, ts)
		}
		timestamp = latest(keys)
	}
	return runs[timestamp]
}

func copyRecord(rec *schema.StateRecord) *schema.StateRecord {
	cp := *rec
	if rec.State != nil {
		cp.State = rec.State.Clone()
	}
	return &cp
}

var _ Repository = (*MemoryStore)(nil)
