package store

import (
	"database/sql"
	"fmt"
)

type RotationStore struct {
	db *sql.DB
}

func NewRotationStore(db *sql.DB) *RotationStore {
	return &RotationStore{db: db}
}

// Record stores the local date of a person's completion of a template, kept
// only if it is newer than what is already recorded. Undo never rolls this
// back; fairness tolerates a slightly pessimistic history.
func (s *RotationStore) Record(q Querier, templateID, personID int64, localDate string) error {
	_, err := q.Exec(
		`INSERT INTO rotation_state (template_id, person_id, last_completed) VALUES (?, ?, ?)
		 ON CONFLICT(template_id, person_id) DO UPDATE SET last_completed = excluded.last_completed
		 WHERE excluded.last_completed > rotation_state.last_completed`,
		templateID, personID, localDate,
	)
	if err != nil {
		return fmt.Errorf("record rotation: %w", err)
	}
	return nil
}

// LastCompleted returns person id → last completed local date for one
// template. Persons absent from the map have never completed it.
func (s *RotationStore) LastCompleted(q Querier, templateID int64) (map[int64]string, error) {
	rows, err := q.Query(`SELECT person_id, last_completed FROM rotation_state WHERE template_id = ?`, templateID)
	if err != nil {
		return nil, fmt.Errorf("list rotation state: %w", err)
	}
	defer rows.Close()

	state := make(map[int64]string)
	for rows.Next() {
		var pid int64
		var date string
		if err := rows.Scan(&pid, &date); err != nil {
			return nil, fmt.Errorf("scan rotation state: %w", err)
		}
		state[pid] = date
	}
	return state, rows.Err()
}
