package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/evankirkwood/hearth/internal/model"
)

type CompletionStore struct {
	db *sql.DB
}

func NewCompletionStore(db *sql.DB) *CompletionStore {
	return &CompletionStore{db: db}
}

const completionCols = `id, occurrence_id, completed_by, completed_at, late, undone, undone_by, undone_at`

func scanCompletion(scanner interface{ Scan(...any) error }) (*model.Completion, error) {
	var c model.Completion
	var undoneBy sql.NullInt64
	var undoneAt sql.NullTime

	err := scanner.Scan(&c.ID, &c.OccurrenceID, &c.CompletedBy, &c.CompletedAt, &c.Late, &c.Undone, &undoneBy, &undoneAt)
	if err != nil {
		return nil, err
	}

	if undoneBy.Valid {
		c.UndoneBy = &undoneBy.Int64
	}
	if undoneAt.Valid {
		c.UndoneAt = &undoneAt.Time
	}
	return &c, nil
}

func (s *CompletionStore) Create(q Querier, occurrenceID, completedBy int64, at time.Time, late bool) (*model.Completion, error) {
	result, err := q.Exec(
		`INSERT INTO completions (occurrence_id, completed_by, completed_at, late) VALUES (?, ?, ?, ?)`,
		occurrenceID, completedBy, at.UTC(), late,
	)
	if err != nil {
		return nil, fmt.Errorf("insert completion: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(q, id)
}

func (s *CompletionStore) GetByID(q Querier, id int64) (*model.Completion, error) {
	row := q.QueryRow(`SELECT `+completionCols+` FROM completions WHERE id = ?`, id)
	c, err := scanCompletion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get completion: %w", err)
	}
	return c, nil
}

// UndoneByOccurrence returns the most recent undone completion for an
// occurrence, or nil. Arcade settlement revives this row instead of creating
// a second one.
func (s *CompletionStore) UndoneByOccurrence(q Querier, occurrenceID int64) (*model.Completion, error) {
	row := q.QueryRow(
		`SELECT `+completionCols+` FROM completions
		 WHERE occurrence_id = ? AND undone = 1 ORDER BY completed_at DESC LIMIT 1`,
		occurrenceID,
	)
	c, err := scanCompletion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("undone completion: %w", err)
	}
	return c, nil
}

// MarkUndone flags a completion. Returns false when it was already undone.
func (s *CompletionStore) MarkUndone(q Querier, id, actorID int64, at time.Time) (bool, error) {
	result, err := q.Exec(
		`UPDATE completions SET undone = 1, undone_by = ?, undone_at = ? WHERE id = ? AND undone = 0`,
		actorID, at.UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("mark undone: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// Revive clears the undone flags and repoints the completion at a new
// completer and time. The old shares stay on record but are marked
// superseded; the undo ledger entries already reversed their amounts.
func (s *CompletionStore) Revive(q Querier, id, completedBy int64, at time.Time, late bool) error {
	_, err := q.Exec(
		`UPDATE completions SET undone = 0, undone_by = NULL, undone_at = NULL, completed_by = ?, completed_at = ?, late = ?
		 WHERE id = ?`,
		completedBy, at.UTC(), late, id,
	)
	if err != nil {
		return fmt.Errorf("revive completion: %w", err)
	}
	if _, err := q.Exec(`UPDATE completion_shares SET superseded = 1 WHERE completion_id = ? AND superseded = 0`, id); err != nil {
		return fmt.Errorf("supersede stale shares: %w", err)
	}
	return nil
}

// --- Shares ---

func (s *CompletionStore) AddShare(q Querier, completionID, personID int64, awarded model.Centipoints) error {
	_, err := q.Exec(
		`INSERT INTO completion_shares (completion_id, person_id, awarded) VALUES (?, ?, ?)`,
		completionID, personID, int64(awarded),
	)
	if err != nil {
		return fmt.Errorf("insert share: %w", err)
	}
	return nil
}

// Shares returns the completion's active shares; shares superseded by a
// revive are excluded.
func (s *CompletionStore) Shares(q Querier, completionID int64) ([]model.CompletionShare, error) {
	rows, err := q.Query(
		`SELECT id, completion_id, person_id, awarded FROM completion_shares
		 WHERE completion_id = ? AND superseded = 0 ORDER BY person_id ASC`,
		completionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	defer rows.Close()

	var shares []model.CompletionShare
	for rows.Next() {
		var sh model.CompletionShare
		if err := rows.Scan(&sh.ID, &sh.CompletionID, &sh.PersonID, &sh.Awarded); err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		shares = append(shares, sh)
	}
	return shares, rows.Err()
}

// --- Ledger ---

func (s *CompletionStore) AppendLedger(q Querier, e model.LedgerEntry) error {
	var completionID, actor sql.NullInt64
	if e.CompletionID != nil {
		completionID = sql.NullInt64{Int64: *e.CompletionID, Valid: true}
	}
	if e.ActorPersonID != nil {
		actor = sql.NullInt64{Int64: *e.ActorPersonID, Valid: true}
	}
	_, err := q.Exec(
		`INSERT INTO points_ledger (person_id, delta, weekly_after, all_time_after, completion_id, reason, actor_person_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.PersonID, int64(e.Delta), int64(e.WeeklyAfter), int64(e.AllTimeAfter), completionID, e.Reason, actor,
	)
	if err != nil {
		return fmt.Errorf("append ledger: %w", err)
	}
	return nil
}

func (s *CompletionStore) LedgerForPerson(personID int64, limit int) ([]model.LedgerEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, person_id, delta, weekly_after, all_time_after, completion_id, reason, actor_person_id, created_at
		 FROM points_ledger WHERE person_id = ? ORDER BY id DESC LIMIT ?`,
		personID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var completionID, actor sql.NullInt64
		if err := rows.Scan(&e.ID, &e.PersonID, &e.Delta, &e.WeeklyAfter, &e.AllTimeAfter, &completionID, &e.Reason, &actor, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		if completionID.Valid {
			e.CompletionID = &completionID.Int64
		}
		if actor.Valid {
			e.ActorPersonID = &actor.Int64
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CompletionCounts returns, per person, how many active completions they are
// credited on (via shares). Used by the leaderboard.
func (s *CompletionStore) CompletionCounts(q Querier) (map[int64]int, error) {
	rows, err := q.Query(
		`SELECT cs.person_id, COUNT(*)
		 FROM completion_shares cs
		 JOIN completions c ON c.id = cs.completion_id
		 WHERE c.undone = 0 AND cs.superseded = 0
		 GROUP BY cs.person_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("completion counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var pid int64
		var n int
		if err := rows.Scan(&pid, &n); err != nil {
			return nil, fmt.Errorf("scan completion count: %w", err)
		}
		counts[pid] = n
	}
	return counts, rows.Err()
}
