package storage

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"microdata/internal/domain"
)

// RunStore implements domain.RunStore on the SQLite database.
type RunStore struct {
	db *DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// CreateRun inserts r and assigns its id.
func (s *RunStore) CreateRun(r *domain.RunRecord) error {
	r.ID = uuid.New().String()
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	if r.Status == "" {
		r.Status = domain.RunRunning
	}
	_, err := s.db.conn.Exec(
		`INSERT INTO runs (id, source, stage, started_at, status) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.Source, r.Stage, r.StartedAt, string(r.Status),
	)
	return err
}

// UpdateRun writes the counters and outcome of r.
func (s *RunStore) UpdateRun(r *domain.RunRecord) error {
	var finished any
	if !r.FinishedAt.IsZero() {
		finished = r.FinishedAt
	}
	_, err := s.db.conn.Exec(
		`UPDATE runs SET finished_at=?, status=?, inventory=?, new_ids=?, fetched=?,
		 failed=?, row_count=?, error=? WHERE id=?`,
		finished, string(r.Status), r.Inventory, r.NewIDs, r.Fetched,
		r.Failed, r.Rows, r.Error, r.ID,
	)
	return err
}

// ListRuns returns the most recent runs first. An empty source lists every
// source.
func (s *RunStore) ListRuns(source string, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.conn.Query(
		`SELECT id, source, stage, started_at, finished_at, status, inventory, new_ids,
		 fetched, failed, row_count, error
		 FROM runs WHERE (? = '' OR source = ?) ORDER BY started_at DESC LIMIT ?`,
		source, source, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.RunRecord
	for rows.Next() {
		var r domain.RunRecord
		var finished sql.NullTime
		var status string
		if err := rows.Scan(
			&r.ID, &r.Source, &r.Stage, &r.StartedAt, &finished, &status,
			&r.Inventory, &r.NewIDs, &r.Fetched, &r.Failed, &r.Rows, &r.Error,
		); err != nil {
			return nil, err
		}
		r.Status = domain.RunStatus(status)
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
