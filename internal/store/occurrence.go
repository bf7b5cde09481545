package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/evankirkwood/hearth/internal/model"
)

type OccurrenceStore struct {
	db *sql.DB
}

func NewOccurrenceStore(db *sql.DB) *OccurrenceStore {
	return &OccurrenceStore{db: db}
}

// DB exposes the underlying handle for InTx at the service layer.
func (s *OccurrenceStore) DB() *sql.DB { return s.db }

const occurrenceCols = `id, template_id, points, status, assignee_id, assign_reason, assigned_at,
	due_at, distribute_at, overdue, overdue_notified, completed_at, late,
	skipped_by, skipped_at, skip_note, created_at, updated_at`

func scanOccurrence(scanner interface{ Scan(...any) error }) (*model.Occurrence, error) {
	var o model.Occurrence
	var assignee, skippedBy sql.NullInt64
	var assignedAt, completedAt, skippedAt sql.NullTime

	err := scanner.Scan(
		&o.ID, &o.TemplateID, &o.Points, &o.Status, &assignee, &o.AssignReason, &assignedAt,
		&o.DueAt, &o.DistributeAt, &o.Overdue, &o.OverdueNotified, &completedAt, &o.Late,
		&skippedBy, &skippedAt, &o.SkipNote, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if assignee.Valid {
		o.AssigneeID = &assignee.Int64
	}
	if skippedBy.Valid {
		o.SkippedBy = &skippedBy.Int64
	}
	if assignedAt.Valid {
		o.AssignedAt = &assignedAt.Time
	}
	if completedAt.Valid {
		o.CompletedAt = &completedAt.Time
	}
	if skippedAt.Valid {
		o.SkippedAt = &skippedAt.Time
	}
	return &o, nil
}

type OccurrenceParams struct {
	TemplateID   int64
	Points       model.Centipoints
	Status       model.OccurrenceStatus
	AssigneeID   *int64
	AssignReason model.AssignReason
	DueAt        time.Time
	DistributeAt time.Time
}

// Create inserts an occurrence. The unique open-per-template index rejects a
// second open occurrence for the same template.
func (s *OccurrenceStore) Create(q Querier, p OccurrenceParams) (*model.Occurrence, error) {
	if p.Status == "" {
		p.Status = model.StatusPool
	}
	if p.AssignReason == "" {
		p.AssignReason = model.ReasonNone
	}
	var assignee sql.NullInt64
	var assignedAt sql.NullTime
	if p.AssigneeID != nil {
		assignee = sql.NullInt64{Int64: *p.AssigneeID, Valid: true}
		assignedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}
	result, err := q.Exec(
		`INSERT INTO occurrences (template_id, points, status, assignee_id, assign_reason, assigned_at, due_at, distribute_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.TemplateID, int64(p.Points), p.Status, assignee, p.AssignReason, assignedAt,
		p.DueAt.UTC(), p.DistributeAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert occurrence: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(q, id)
}

func (s *OccurrenceStore) GetByID(q Querier, id int64) (*model.Occurrence, error) {
	row := q.QueryRow(`SELECT `+occurrenceCols+` FROM occurrences WHERE id = ?`, id)
	o, err := scanOccurrence(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get occurrence: %w", err)
	}
	return o, nil
}

// OpenByTemplate returns the template's open occurrence, or nil.
func (s *OccurrenceStore) OpenByTemplate(q Querier, templateID int64) (*model.Occurrence, error) {
	row := q.QueryRow(
		`SELECT `+occurrenceCols+` FROM occurrences WHERE template_id = ? AND status IN ('pool', 'assigned')`,
		templateID,
	)
	o, err := scanOccurrence(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open occurrence: %w", err)
	}
	return o, nil
}

// ListOverdueCandidates returns open occurrences past due that have not yet
// been flagged overdue.
func (s *OccurrenceStore) ListOverdueCandidates(q Querier, now time.Time) ([]model.Occurrence, error) {
	return s.list(q,
		`SELECT `+occurrenceCols+` FROM occurrences
		 WHERE status IN ('pool', 'assigned') AND overdue = 0 AND due_at < ?
		 ORDER BY id ASC`,
		now.UTC())
}

// MarkOverdue flags the occurrence. Returns true when this call made the
// transition, so the overdue hook fires once, not repeatedly.
func (s *OccurrenceStore) MarkOverdue(q Querier, id int64) (bool, error) {
	result, err := q.Exec(
		`UPDATE occurrences SET overdue = 1, overdue_notified = 1, updated_at = ?
		 WHERE id = ? AND overdue = 0 AND status IN ('pool', 'assigned')`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("mark overdue: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// ListDistributable returns pool occurrences whose distribution time has
// passed and due time has not.
func (s *OccurrenceStore) ListDistributable(q Querier, now time.Time) ([]model.Occurrence, error) {
	return s.list(q,
		`SELECT `+occurrenceCols+` FROM occurrences
		 WHERE status = 'pool' AND distribute_at <= ? AND due_at > ?
		 ORDER BY id ASC`,
		now.UTC(), now.UTC())
}

func (s *OccurrenceStore) list(q Querier, query string, args ...any) ([]model.Occurrence, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list occurrences: %w", err)
	}
	defer rows.Close()

	var occs []model.Occurrence
	for rows.Next() {
		o, err := scanOccurrence(rows)
		if err != nil {
			return nil, fmt.Errorf("scan occurrence: %w", err)
		}
		occs = append(occs, *o)
	}
	return occs, rows.Err()
}

// Assign moves a pool occurrence to assigned. The WHERE clause re-verifies
// pool state so a racing claim loses cleanly; returns false when the
// precondition no longer held.
func (s *OccurrenceStore) Assign(q Querier, id, personID int64, reason model.AssignReason, at time.Time) (bool, error) {
	result, err := q.Exec(
		`UPDATE occurrences SET status = 'assigned', assignee_id = ?, assign_reason = ?, assigned_at = ?, updated_at = ?
		 WHERE id = ? AND status = 'pool'`,
		personID, reason, at.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("assign occurrence: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// SetAssignReason records why automatic assignment failed while the
// occurrence stays in pool.
func (s *OccurrenceStore) SetAssignReason(q Querier, id int64, reason model.AssignReason) error {
	_, err := q.Exec(
		`UPDATE occurrences SET assign_reason = ?, updated_at = ? WHERE id = ? AND status = 'pool'`,
		reason, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set assign reason: %w", err)
	}
	return nil
}

// Complete closes an open occurrence. Returns false when it was no longer
// open.
func (s *OccurrenceStore) Complete(q Querier, id int64, at time.Time, late bool) (bool, error) {
	result, err := q.Exec(
		`UPDATE occurrences SET status = 'completed', completed_at = ?, late = ?, updated_at = ?
		 WHERE id = ? AND status IN ('pool', 'assigned')`,
		at.UTC(), late, time.Now().UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("complete occurrence: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// Skip closes an open occurrence without credit.
func (s *OccurrenceStore) Skip(q Querier, id, actorID int64, at time.Time, note string) (bool, error) {
	result, err := q.Exec(
		`UPDATE occurrences SET status = 'skipped', skipped_by = ?, skipped_at = ?, skip_note = ?, updated_at = ?
		 WHERE id = ? AND status IN ('pool', 'assigned')`,
		actorID, at.UTC(), note, time.Now().UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("skip occurrence: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// Reopen restores a completed occurrence after an undo. Pool templates go
// back to pool; direct templates return to assigned with the given assignee.
func (s *OccurrenceStore) Reopen(q Querier, id int64, toPool bool, assigneeID *int64) (bool, error) {
	var result sql.Result
	var err error
	if toPool {
		result, err = q.Exec(
			`UPDATE occurrences SET status = 'pool', assignee_id = NULL, assign_reason = 'none',
				assigned_at = NULL, completed_at = NULL, late = 0, updated_at = ?
			 WHERE id = ? AND status = 'completed'`,
			time.Now().UTC(), id,
		)
	} else {
		var assignee sql.NullInt64
		if assigneeID != nil {
			assignee = sql.NullInt64{Int64: *assigneeID, Valid: true}
		}
		result, err = q.Exec(
			`UPDATE occurrences SET status = 'assigned', assignee_id = ?, completed_at = NULL, late = 0, updated_at = ?
			 WHERE id = ? AND status = 'completed'`,
			assignee, time.Now().UTC(), id,
		)
	}
	if err != nil {
		return false, fmt.Errorf("reopen occurrence: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// ReturnToPool puts an assigned occurrence back in the pool, used when an
// arcade session that claimed it is cancelled.
func (s *OccurrenceStore) ReturnToPool(q Querier, id int64) (bool, error) {
	result, err := q.Exec(
		`UPDATE occurrences SET status = 'pool', assignee_id = NULL, assign_reason = 'none', assigned_at = NULL, updated_at = ?
		 WHERE id = ? AND status = 'assigned'`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("return to pool: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// PersonsHoldingDifficultDue returns ids of persons assigned another open
// difficult occurrence due within [dayStart, dayEnd). Drives the
// difficult-chore limit.
func (s *OccurrenceStore) PersonsHoldingDifficultDue(q Querier, dayStart, dayEnd time.Time, excludeOccurrence int64) (map[int64]bool, error) {
	rows, err := q.Query(
		`SELECT DISTINCT o.assignee_id
		 FROM occurrences o
		 JOIN task_templates t ON t.id = o.template_id
		 WHERE o.status = 'assigned' AND o.assignee_id IS NOT NULL
		   AND t.difficult = 1 AND o.id != ?
		   AND o.due_at >= ? AND o.due_at < ?`,
		excludeOccurrence, dayStart.UTC(), dayEnd.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list difficult holders: %w", err)
	}
	defer rows.Close()

	holders := make(map[int64]bool)
	for rows.Next() {
		var pid int64
		if err := rows.Scan(&pid); err != nil {
			return nil, fmt.Errorf("scan difficult holder: %w", err)
		}
		holders[pid] = true
	}
	return holders, rows.Err()
}

// LastCompletedAt returns the completion time of the template's most recent
// completed occurrence, or nil. Used when archiving stale one-offs.
func (s *OccurrenceStore) LastCompletedAt(q Querier, templateID int64) (*time.Time, error) {
	var at sql.NullTime
	err := q.QueryRow(
		`SELECT MAX(completed_at) FROM occurrences WHERE template_id = ? AND status = 'completed'`,
		templateID,
	).Scan(&at)
	if err != nil {
		return nil, fmt.Errorf("last completed at: %w", err)
	}
	if !at.Valid {
		return nil, nil
	}
	return &at.Time, nil
}
