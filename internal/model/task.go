package model

import "time"

// TaskTemplate describes a recurring or one-off chore. Occurrences are
// stamped out from it by the daily sweep, or by a parent's completion when the
// template is a dependency child.
type TaskTemplate struct {
	ID             int64       `json:"id"`
	Name           string      `json:"name"`
	Description    string      `json:"description"`
	Points         Centipoints `json:"points"`
	Pool           bool        `json:"pool"`
	Undesirable    bool        `json:"undesirable"`
	Difficult      bool        `json:"difficult"`
	Schedule       string      `json:"schedule"`        // empty = one-off
	DistributeTime string      `json:"distribute_time"` // HH:MM local
	AssigneeID     *int64      `json:"assignee_id,omitempty"` // default assignee for non-pool chores
	Active         bool        `json:"active"`
	RescheduleTo   *string     `json:"reschedule_to,omitempty"` // YYYY-MM-DD, cleared once consumed
	OneOffDue      *time.Time  `json:"one_off_due,omitempty"`
	Archived       bool        `json:"archived"`
	ArchivedAt     *time.Time  `json:"archived_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// TemplateDependency links a child template to a parent. A child never
// self-schedules; completing the parent spawns the child's occurrence,
// due OffsetHours after the completion time.
type TemplateDependency struct {
	ID          int64 `json:"id"`
	ParentID    int64 `json:"parent_id"`
	ChildID     int64 `json:"child_id"`
	OffsetHours int   `json:"offset_hours"`
}

// EligibilityEntry marks a person as a candidate for an undesirable
// template. A template with no entries is open to every capable person.
type EligibilityEntry struct {
	TemplateID int64 `json:"template_id"`
	PersonID   int64 `json:"person_id"`
}

// RotationState tracks, per template and person, the local date of the last
// completion. A person who completed the template yesterday sits out that
// day's automatic assignment.
type RotationState struct {
	TemplateID    int64  `json:"template_id"`
	PersonID      int64  `json:"person_id"`
	LastCompleted string `json:"last_completed"` // YYYY-MM-DD
}
