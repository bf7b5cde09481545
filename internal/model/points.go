package model

import (
	"fmt"
	"time"
)

// Centipoints is a point amount in hundredths. Splitting truncates toward
// zero, so the sum of an even split never exceeds the amount being split.
type Centipoints int64

// FromPoints converts whole points to centipoints.
func FromPoints(points float64) Centipoints {
	return Centipoints(points * 100)
}

// Split divides the amount evenly among n recipients. The remainder is lost
// to rounding.
func (c Centipoints) Split(n int) Centipoints {
	if n <= 0 {
		return 0
	}
	return c / Centipoints(n)
}

// Points returns the amount as whole points.
func (c Centipoints) Points() float64 {
	return float64(c) / 100
}

func (c Centipoints) String() string {
	return fmt.Sprintf("%.2f", c.Points())
}

// LedgerReason classifies why a ledger entry was written.
type LedgerReason string

const (
	LedgerReasonCompletion LedgerReason = "completion"
	LedgerReasonArcade     LedgerReason = "arcade"
	LedgerReasonUndo       LedgerReason = "undo"
)

// Completion records a successful completion of an Occurrence. Undo flags the
// record rather than deleting it; at most one non-undone Completion exists per
// occurrence.
type Completion struct {
	ID           int64      `json:"id"`
	OccurrenceID int64      `json:"occurrence_id"`
	CompletedBy  int64      `json:"completed_by"`
	CompletedAt  time.Time  `json:"completed_at"`
	Late         bool       `json:"late"`
	Undone       bool       `json:"undone"`
	UndoneBy     *int64     `json:"undone_by,omitempty"`
	UndoneAt     *time.Time `json:"undone_at,omitempty"`
}

// CompletionShare is one person's slice of a completion's point value.
type CompletionShare struct {
	ID           int64       `json:"id"`
	CompletionID int64       `json:"completion_id"`
	PersonID     int64       `json:"person_id"`
	Awarded      Centipoints `json:"awarded"`
}

// LedgerEntry is one append-only row of the points ledger. Balances are the
// person's running weekly and all-time totals after the delta was applied.
type LedgerEntry struct {
	ID            int64        `json:"id"`
	PersonID      int64        `json:"person_id"`
	Delta         Centipoints  `json:"delta"`
	WeeklyAfter   Centipoints  `json:"weekly_after"`
	AllTimeAfter  Centipoints  `json:"all_time_after"`
	CompletionID  *int64       `json:"completion_id,omitempty"`
	Reason        LedgerReason `json:"reason"`
	ActorPersonID *int64       `json:"actor_person_id,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// LeaderboardEntry is a person's standing for one period. Rank is computed by
// sorting at query time, never stored.
type LeaderboardEntry struct {
	Rank        int         `json:"rank"`
	PersonID    int64       `json:"person_id"`
	Name        string      `json:"name"`
	Points      Centipoints `json:"points"`
	Completions int         `json:"completions"`
	Currency    float64     `json:"currency"`
}
