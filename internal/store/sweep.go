package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/evankirkwood/hearth/internal/model"
)

type SweepStore struct {
	db *sql.DB
}

func NewSweepStore(db *sql.DB) *SweepStore {
	return &SweepStore{db: db}
}

// Begin records the start of a sweep run and returns its id.
func (s *SweepStore) Begin(kind model.SweepKind, localDate string, at time.Time) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO sweep_records (kind, local_date, started_at) VALUES (?, ?, ?)`,
		kind, localDate, at.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert sweep record: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// Finish closes out a sweep run with its outcome counts.
func (s *SweepStore) Finish(id int64, success bool, okCount, errCount int, at time.Time) error {
	_, err := s.db.Exec(
		`UPDATE sweep_records SET finished_at = ?, success = ?, ok_count = ?, err_count = ? WHERE id = ?`,
		at.UTC(), success, okCount, errCount, id,
	)
	if err != nil {
		return fmt.Errorf("finish sweep record: %w", err)
	}
	return nil
}

// SucceededOn reports whether a successful sweep of the given kind is
// recorded for the local date. The frequent sweep's watchdog uses this to
// detect a missed daily run.
func (s *SweepStore) SucceededOn(kind model.SweepKind, localDate string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM sweep_records WHERE kind = ? AND local_date = ? AND success = 1`,
		kind, localDate,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count sweeps: %w", err)
	}
	return n > 0, nil
}

// AttemptsOn counts every run (successful or not) of the given kind for the
// local date, capping watchdog self-triggering.
func (s *SweepStore) AttemptsOn(kind model.SweepKind, localDate string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM sweep_records WHERE kind = ? AND local_date = ?`,
		kind, localDate,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sweep attempts: %w", err)
	}
	return n, nil
}

// LastRecord returns the most recent sweep record of the given kind, or nil.
func (s *SweepStore) LastRecord(kind model.SweepKind) (*model.SweepRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, kind, local_date, started_at, finished_at, success, ok_count, err_count
		 FROM sweep_records WHERE kind = ? ORDER BY id DESC LIMIT 1`,
		kind,
	)
	var r model.SweepRecord
	var finished sql.NullTime
	err := row.Scan(&r.ID, &r.Kind, &r.LocalDate, &r.StartedAt, &finished, &r.Success, &r.OKCount, &r.ErrCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last sweep record: %w", err)
	}
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return &r, nil
}
