package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/evankirkwood/hearth/internal/model"
)

type ArcadeStore struct {
	db *sql.DB
}

func NewArcadeStore(db *sql.DB) *ArcadeStore {
	return &ArcadeStore{db: db}
}

const sessionCols = `id, occurrence_id, person_id, state, started_at, resumed_at, elapsed_ms,
	attempts, judge_id, claimed_from_pool, created_at, updated_at`

func scanSession(scanner interface{ Scan(...any) error }) (*model.ArcadeSession, error) {
	var s model.ArcadeSession
	var judge sql.NullInt64

	err := scanner.Scan(
		&s.ID, &s.OccurrenceID, &s.PersonID, &s.State, &s.StartedAt, &s.ResumedAt,
		&s.ElapsedMS, &s.Attempts, &judge, &s.ClaimedFromPool, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if judge.Valid {
		s.JudgeID = &judge.Int64
	}
	return &s, nil
}

func (s *ArcadeStore) CreateSession(q Querier, occurrenceID, personID int64, at time.Time, claimedFromPool bool) (*model.ArcadeSession, error) {
	result, err := q.Exec(
		`INSERT INTO arcade_sessions (occurrence_id, person_id, state, started_at, resumed_at, claimed_from_pool)
		 VALUES (?, ?, 'active', ?, ?, ?)`,
		occurrenceID, personID, at.UTC(), at.UTC(), claimedFromPool,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetSession(q, id)
}

func (s *ArcadeStore) GetSession(q Querier, id int64) (*model.ArcadeSession, error) {
	row := q.QueryRow(`SELECT `+sessionCols+` FROM arcade_sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ActiveSessionForPerson returns the person's active session, or nil.
func (s *ArcadeStore) ActiveSessionForPerson(q Querier, personID int64) (*model.ArcadeSession, error) {
	row := q.QueryRow(`SELECT `+sessionCols+` FROM arcade_sessions WHERE person_id = ? AND state = 'active'`, personID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active session: %w", err)
	}
	return sess, nil
}

// Transition moves a session from one state to another, verifying the
// current state in the WHERE clause. Returns false when the session was not
// in the expected state.
func (s *ArcadeStore) Transition(q Querier, id int64, from, to model.ArcadeState) (bool, error) {
	result, err := q.Exec(
		`UPDATE arcade_sessions SET state = ?, updated_at = ? WHERE id = ? AND state = ?`,
		to, time.Now().UTC(), id, from,
	)
	if err != nil {
		return false, fmt.Errorf("transition session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// Stop accumulates elapsed time and moves active → stopped.
func (s *ArcadeStore) Stop(q Querier, id int64, at time.Time) (bool, error) {
	result, err := q.Exec(
		`UPDATE arcade_sessions
		 SET state = 'stopped',
		     elapsed_ms = elapsed_ms + CAST((julianday(?) - julianday(resumed_at)) * 86400000 AS INTEGER),
		     updated_at = ?
		 WHERE id = ? AND state = 'active'`,
		at.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("stop session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// Resume moves denied → active, increments the attempt counter, and restarts
// the elapsed-time clock without resetting what has accumulated.
func (s *ArcadeStore) Resume(q Querier, id int64, at time.Time) (bool, error) {
	result, err := q.Exec(
		`UPDATE arcade_sessions
		 SET state = 'active', attempts = attempts + 1, resumed_at = ?, judge_id = NULL, updated_at = ?
		 WHERE id = ? AND state = 'denied'`,
		at.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("resume session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// Judge records which person approved or denied the stopped session.
func (s *ArcadeStore) Judge(q Querier, id, judgeID int64, to model.ArcadeState) (bool, error) {
	result, err := q.Exec(
		`UPDATE arcade_sessions SET state = ?, judge_id = ?, updated_at = ? WHERE id = ? AND state = 'stopped'`,
		to, judgeID, time.Now().UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("judge session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// --- Scores ---

func (s *ArcadeStore) AddScore(q Querier, sc model.ArcadeScore) (*model.ArcadeScore, error) {
	result, err := q.Exec(
		`INSERT INTO arcade_scores (session_id, template_id, person_id, elapsed_ms, tier, bonus)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sc.SessionID, sc.TemplateID, sc.PersonID, sc.ElapsedMS, sc.Tier, int64(sc.Bonus),
	)
	if err != nil {
		return nil, fmt.Errorf("insert score: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	sc.ID = id
	return &sc, nil
}

// ElapsedTimes returns every finalized elapsed time for a template, fastest
// first. Rank is whatever position a time holds in this slice right now.
func (s *ArcadeStore) ElapsedTimes(q Querier, templateID int64) ([]int64, error) {
	rows, err := q.Query(
		`SELECT elapsed_ms FROM arcade_scores WHERE template_id = ? ORDER BY elapsed_ms ASC, id ASC`,
		templateID,
	)
	if err != nil {
		return nil, fmt.Errorf("list elapsed times: %w", err)
	}
	defer rows.Close()

	var times []int64
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return nil, fmt.Errorf("scan elapsed time: %w", err)
		}
		times = append(times, ms)
	}
	return times, rows.Err()
}

// HighScores returns the template's ranked table joined with person names.
func (s *ArcadeStore) HighScores(templateID int64, limit int) ([]model.HighScoreEntry, error) {
	rows, err := s.db.Query(
		`SELECT sc.person_id, p.name, sc.elapsed_ms, sc.created_at
		 FROM arcade_scores sc
		 JOIN persons p ON p.id = sc.person_id
		 WHERE sc.template_id = ?
		 ORDER BY sc.elapsed_ms ASC, sc.id ASC
		 LIMIT ?`,
		templateID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list high scores: %w", err)
	}
	defer rows.Close()

	var entries []model.HighScoreEntry
	rank := 0
	for rows.Next() {
		var e model.HighScoreEntry
		if err := rows.Scan(&e.PersonID, &e.Name, &e.ElapsedMS, &e.ScoredAt); err != nil {
			return nil, fmt.Errorf("scan high score: %w", err)
		}
		rank++
		e.Rank = rank
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
