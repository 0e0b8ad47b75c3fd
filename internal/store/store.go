package store

import (
	"context"
	"sort"

	"github.com/martinemde/roast-sub000/pkg/schema"
)

// Repository persists state snapshots taken after each top-level step.
// All implementations must be safe for concurrent use.
type Repository interface {
	// Save stores a copy of rec. Records are never updated once written.
	Save(ctx context.Context, rec *schema.StateRecord) error

	// LoadBefore returns the snapshot recorded most recently before step ran
	// in the given run of sessionID, or (nil, nil) when none qualifies. An
	// empty timestamp selects the latest run of the session.
	LoadBefore(ctx context.Context, sessionID, step, timestamp string) (*schema.StateRecord, error)

	// List returns every snapshot of one run ordered by step order. An empty
	// timestamp selects the latest run of the session.
	List(ctx context.Context, sessionID, timestamp string) ([]*schema.StateRecord, error)

	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendLibSQL = "libsql"
	BackendMySQL  = "mysql"
	BackendRedis  = "redis"
	BackendFile   = "file"
)

// Config selects and configures a Repository backend.
type Config struct {
	Backend  string
	DBPath   string
	MySQLDSN string
	RedisURL string
	Dir      string
}

// Open creates the configured backend and prepares its schema.
func Open(ctx context.Context, cfg Config) (Repository, error) {
	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case "", BackendLibSQL:
		s, err := NewLibSQLStore(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	case BackendMySQL:
		s, err := NewMySQLStore(ctx, cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	case BackendRedis:
		return NewRedisStore(ctx, cfg.RedisURL)
	case BackendFile:
		return NewFileStore(cfg.Dir)
	}
	return nil, schema.ConfigurationError("unknown state backend %q", cfg.Backend)
}

// sortRecords orders one run's snapshots by step order, then by write time.
func sortRecords(recs []*schema.StateRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Order != recs[j].Order {
			return recs[i].Order < recs[j].Order
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
}

// pickBefore applies the replay selection rule to one run's snapshots. When
// step has a snapshot at order k, the latest snapshot with order < k wins
// (none when k is the first). When step never ran, the latest snapshot of
// the run wins.
func pickBefore(recs []*schema.StateRecord, step string) *schema.StateRecord {
	if len(recs) == 0 {
		return nil
	}
	sorted := make([]*schema.StateRecord, len(recs))
	copy(sorted, recs)
	sortRecords(sorted)

	target := -1
	for _, r := range sorted {
		if r.StepName == step {
			target = r.Order
			break
		}
	}
	if target < 0 {
		return sorted[len(sorted)-1]
	}

	var best *schema.StateRecord
	for _, r := range sorted {
		if r.Order >= target {
			break
		}
		best = r
	}
	return best
}

// latest returns the greatest run timestamp. Timestamps are formatted so
// lexical order is chronological.
func latest(timestamps []string) string {
	var max string
	for _, ts := range timestamps {
		if ts > max {
			max = ts
		}
	}
	return max
}

func storeError(op string, err error) error {
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %v", op, err).WithCause(err)
}
