package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/martinemde/roast-sub000/pkg/schema"
)

// sqlSnapshots holds the queries shared by the libSQL and MySQL backends.
// Both drivers accept ? placeholders.
type sqlSnapshots struct {
	db *sql.DB
}

func (s *sqlSnapshots) save(ctx context.Context, rec *schema.StateRecord) error {
	state, err := json.Marshal(rec.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO state_snapshots (id, session_id, run_ts, step_name, step_order, state, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, rec.SessionID, rec.Timestamp, rec.StepName, rec.Order, string(state), created.UnixNano(),
	)
	if err != nil {
		return storeError("save snapshot", err)
	}
	return nil
}

func (s *sqlSnapshots) loadBefore(ctx context.Context, sessionID, step, timestamp string) (*schema.StateRecord, error) {
	recs, err := s.list(ctx, sessionID, timestamp)
	if err != nil {
		return nil, err
	}
	return pickBefore(recs, step), nil
}

func (s *sqlSnapshots) list(ctx context.Context, sessionID, timestamp string) ([]*schema.StateRecord, error) {
	if timestamp == "" {
		var ts sql.NullString
		err := s.db.QueryRowContext(ctx,
			`SELECT MAX(run_ts) FROM state_snapshots WHERE session_id = ?`, sessionID,
		).Scan(&ts)
		if err != nil {
			return nil, storeError("find latest run", err)
		}
		if !ts.Valid {
			return nil, nil
		}
		timestamp = ts.String
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, run_ts, step_name, step_order, state, created_at
		 FROM state_snapshots WHERE session_id = ? AND run_ts = ?
		 ORDER BY step_order, created_at`,
		sessionID, timestamp,
	)
	if err != nil {
		return nil, storeError("list snapshots", err)
	}
	defer rows.Close()

	var recs []*schema.StateRecord
	for rows.Next() {
		rec := &schema.StateRecord{}
		var state string
		var created int64
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Timestamp, &rec.StepName, &rec.Order, &state, &created); err != nil {
			return nil, storeError("scan snapshot", err)
		}
		rec.State = schema.NewWorkflowState()
		if err := json.Unmarshal([]byte(state), rec.State); err != nil {
			return nil, storeError("decode snapshot "+rec.ID, err)
		}
		rec.CreatedAt = time.Unix(0, created).UTC()
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list snapshots", err)
	}
	return recs, nil
}
