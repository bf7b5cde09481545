package model

import "time"

// OccurrenceStatus is the lifecycle state of an occurrence.
type OccurrenceStatus string

const (
	StatusPool      OccurrenceStatus = "pool"
	StatusAssigned  OccurrenceStatus = "assigned"
	StatusCompleted OccurrenceStatus = "completed"
	StatusSkipped   OccurrenceStatus = "skipped"
)

// Open reports whether the occurrence can still be claimed or completed.
func (s OccurrenceStatus) Open() bool {
	return s == StatusPool || s == StatusAssigned
}

// AssignReason explains how an occurrence got (or failed to get) an assignee.
type AssignReason string

const (
	ReasonNone             AssignReason = "none"
	ReasonClaimed          AssignReason = "claimed"
	ReasonAuto             AssignReason = "auto"
	ReasonParentCompletion AssignReason = "parent_completion"
	ReasonNoneEligible     AssignReason = "none_eligible"
	ReasonAllCompletedYday AssignReason = "all_completed_yesterday"
	ReasonDifficultLimit   AssignReason = "difficult_limit"
)

// Occurrence is one dated instance of a template. Points are snapshotted from
// the template at creation so later template edits never reprice history. At
// most one open occurrence exists per template.
type Occurrence struct {
	ID              int64            `json:"id"`
	TemplateID      int64            `json:"template_id"`
	Points          Centipoints      `json:"points"`
	Status          OccurrenceStatus `json:"status"`
	AssigneeID      *int64           `json:"assignee_id,omitempty"`
	AssignReason    AssignReason     `json:"assign_reason"`
	AssignedAt      *time.Time       `json:"assigned_at,omitempty"`
	DueAt           time.Time        `json:"due_at"`
	DistributeAt    time.Time        `json:"distribute_at"`
	Overdue         bool             `json:"overdue"`
	OverdueNotified bool             `json:"overdue_notified"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	Late            bool             `json:"late"`
	SkippedBy       *int64           `json:"skipped_by,omitempty"`
	SkippedAt       *time.Time       `json:"skipped_at,omitempty"`
	SkipNote        string           `json:"skip_note,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}
