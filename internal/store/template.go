package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/evankirkwood/hearth/internal/model"
)

type TemplateStore struct {
	db *sql.DB
}

func NewTemplateStore(db *sql.DB) *TemplateStore {
	return &TemplateStore{db: db}
}

const templateCols = `id, name, description, points, pool, undesirable, difficult, schedule,
	distribute_time, assignee_id, active, reschedule_to, one_off_due, archived, archived_at, created_at, updated_at`

func scanTemplate(scanner interface{ Scan(...any) error }) (*model.TaskTemplate, error) {
	var t model.TaskTemplate
	var assignee sql.NullInt64
	var reschedule sql.NullString
	var oneOffDue sql.NullTime
	var archivedAt sql.NullTime

	err := scanner.Scan(
		&t.ID, &t.Name, &t.Description, &t.Points, &t.Pool, &t.Undesirable, &t.Difficult,
		&t.Schedule, &t.DistributeTime, &assignee, &t.Active, &reschedule, &oneOffDue,
		&t.Archived, &archivedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if assignee.Valid {
		t.AssigneeID = &assignee.Int64
	}
	if reschedule.Valid {
		t.RescheduleTo = &reschedule.String
	}
	if oneOffDue.Valid {
		t.OneOffDue = &oneOffDue.Time
	}
	if archivedAt.Valid {
		t.ArchivedAt = &archivedAt.Time
	}
	return &t, nil
}

type TemplateParams struct {
	Name           string
	Description    string
	Points         model.Centipoints
	Pool           bool
	Undesirable    bool
	Difficult      bool
	Schedule       string
	DistributeTime string
	AssigneeID     *int64
	OneOffDue      *time.Time
}

func (s *TemplateStore) Create(p TemplateParams) (*model.TaskTemplate, error) {
	if p.DistributeTime == "" {
		p.DistributeTime = "18:00"
	}
	var assignee sql.NullInt64
	if p.AssigneeID != nil {
		assignee = sql.NullInt64{Int64: *p.AssigneeID, Valid: true}
	}
	var due sql.NullTime
	if p.OneOffDue != nil {
		due = sql.NullTime{Time: p.OneOffDue.UTC(), Valid: true}
	}
	result, err := s.db.Exec(
		`INSERT INTO task_templates (name, description, points, pool, undesirable, difficult, schedule, distribute_time, assignee_id, one_off_due)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.Description, int64(p.Points), p.Pool, p.Undesirable, p.Difficult, p.Schedule, p.DistributeTime, assignee, due,
	)
	if err != nil {
		return nil, fmt.Errorf("insert template: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *TemplateStore) GetByID(id int64) (*model.TaskTemplate, error) {
	return getTemplate(s.db, id)
}

func (s *TemplateStore) GetByIDTx(q Querier, id int64) (*model.TaskTemplate, error) {
	return getTemplate(q, id)
}

func getTemplate(q Querier, id int64) (*model.TaskTemplate, error) {
	row := q.QueryRow(`SELECT `+templateCols+` FROM task_templates WHERE id = ?`, id)
	t, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

// ListActive returns active, unarchived templates ordered by id.
func (s *TemplateStore) ListActive() ([]model.TaskTemplate, error) {
	rows, err := s.db.Query(`SELECT ` + templateCols + ` FROM task_templates
		WHERE active = 1 AND archived = 0 ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list active templates: %w", err)
	}
	defer rows.Close()

	var templates []model.TaskTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, *t)
	}
	return templates, rows.Err()
}

func (s *TemplateStore) SetActive(id int64, active bool) error {
	_, err := s.db.Exec(`UPDATE task_templates SET active = ?, updated_at = ? WHERE id = ?`, active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set template active: %w", err)
	}
	return nil
}

// SetReschedule stamps a one-time override date (YYYY-MM-DD). The daily sweep
// clears it once consumed.
func (s *TemplateStore) SetReschedule(id int64, date string) error {
	_, err := s.db.Exec(`UPDATE task_templates SET reschedule_to = ?, updated_at = ? WHERE id = ?`, date, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set reschedule: %w", err)
	}
	return nil
}

func (s *TemplateStore) ClearReschedule(id int64) error {
	_, err := s.db.Exec(`UPDATE task_templates SET reschedule_to = NULL, updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("clear reschedule: %w", err)
	}
	return nil
}

func (s *TemplateStore) Archive(id int64, at time.Time) error {
	_, err := s.db.Exec(
		`UPDATE task_templates SET archived = 1, archived_at = ?, updated_at = ? WHERE id = ?`,
		at.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("archive template: %w", err)
	}
	return nil
}

// --- Dependency edges ---

func (s *TemplateStore) AddDependency(parentID, childID int64, offsetHours int) error {
	if parentID == childID {
		return fmt.Errorf("template cannot depend on itself")
	}
	_, err := s.db.Exec(
		`INSERT INTO template_dependencies (parent_id, child_id, offset_hours) VALUES (?, ?, ?)`,
		parentID, childID, offsetHours,
	)
	if err != nil {
		return fmt.Errorf("insert dependency: %w", err)
	}
	return nil
}

func (s *TemplateStore) RemoveDependency(parentID, childID int64) error {
	_, err := s.db.Exec(`DELETE FROM template_dependencies WHERE parent_id = ? AND child_id = ?`, parentID, childID)
	if err != nil {
		return fmt.Errorf("delete dependency: %w", err)
	}
	return nil
}

// IsChild reports whether the template is the target of any dependency edge.
// Child templates never self-schedule; the daily sweep checks this once per
// template.
func (s *TemplateStore) IsChild(q Querier, templateID int64) (bool, error) {
	var n int
	err := q.QueryRow(`SELECT COUNT(*) FROM template_dependencies WHERE child_id = ?`, templateID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count incoming edges: %w", err)
	}
	return n > 0, nil
}

// ListChildren returns the dependency edges whose parent is the given
// template, joined with the child templates themselves.
func (s *TemplateStore) ListChildren(q Querier, parentID int64) ([]model.TemplateDependency, error) {
	rows, err := q.Query(
		`SELECT id, parent_id, child_id, offset_hours FROM template_dependencies WHERE parent_id = ? ORDER BY child_id ASC`,
		parentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()

	var deps []model.TemplateDependency
	for rows.Next() {
		var d model.TemplateDependency
		if err := rows.Scan(&d.ID, &d.ParentID, &d.ChildID, &d.OffsetHours); err != nil {
			return nil, fmt.Errorf("scan dependency: %w", err)
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// --- Eligibility ---

// SetEligibility replaces the candidate list for an undesirable template.
func (s *TemplateStore) SetEligibility(templateID int64, personIDs []int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM eligibility_entries WHERE template_id = ?`, templateID); err != nil {
		return fmt.Errorf("clear eligibility: %w", err)
	}
	for _, pid := range personIDs {
		if _, err := tx.Exec(
			`INSERT INTO eligibility_entries (template_id, person_id) VALUES (?, ?)`,
			templateID, pid,
		); err != nil {
			return fmt.Errorf("insert eligibility: %w", err)
		}
	}
	return tx.Commit()
}

// EligiblePersonIDs returns the template's eligibility list, empty when the
// template is open to everyone.
func (s *TemplateStore) EligiblePersonIDs(q Querier, templateID int64) ([]int64, error) {
	rows, err := q.Query(`SELECT person_id FROM eligibility_entries WHERE template_id = ? ORDER BY person_id ASC`, templateID)
	if err != nil {
		return nil, fmt.Errorf("list eligibility: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan eligibility: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
