package model

import "time"

// ArcadeState is the state of a timed completion session.
type ArcadeState string

const (
	ArcadeActive    ArcadeState = "active"
	ArcadeStopped   ArcadeState = "stopped"
	ArcadeApproved  ArcadeState = "approved"
	ArcadeDenied    ArcadeState = "denied"
	ArcadeCancelled ArcadeState = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s ArcadeState) Terminal() bool {
	return s == ArcadeApproved || s == ArcadeCancelled
}

// BonusTier is the reward band a finalized time landed in.
type BonusTier string

const (
	TierNone   BonusTier = "none"
	TierTop3   BonusTier = "top3"
	TierRecord BonusTier = "record"
)

// ArcadeSession is one person's timed run at an occurrence. Elapsed time
// accumulates across denied-then-continued attempts; it never resets.
type ArcadeSession struct {
	ID              int64       `json:"id"`
	OccurrenceID    int64       `json:"occurrence_id"`
	PersonID        int64       `json:"person_id"`
	State           ArcadeState `json:"state"`
	StartedAt       time.Time   `json:"started_at"`
	ResumedAt       time.Time   `json:"resumed_at"`
	ElapsedMS       int64       `json:"elapsed_ms"`
	Attempts        int         `json:"attempts"`
	JudgeID         *int64      `json:"judge_id,omitempty"`
	ClaimedFromPool bool        `json:"claimed_from_pool"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// ArcadeScore is the finalized timing result of an approved session. Rank is
// a view computed by sorting all scores for the template, not a stored fact.
type ArcadeScore struct {
	ID         int64       `json:"id"`
	SessionID  int64       `json:"session_id"`
	TemplateID int64       `json:"template_id"`
	PersonID   int64       `json:"person_id"`
	ElapsedMS  int64       `json:"elapsed_ms"`
	Tier       BonusTier   `json:"tier"`
	Bonus      Centipoints `json:"bonus"`
	CreatedAt  time.Time   `json:"created_at"`
}

// HighScoreEntry is one row of a template's ranked table.
type HighScoreEntry struct {
	Rank      int    `json:"rank"`
	PersonID  int64  `json:"person_id"`
	Name      string `json:"name"`
	ElapsedMS int64  `json:"elapsed_ms"`
	ScoredAt  time.Time `json:"scored_at"`
}
