package model

import "time"

type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Setting keys consumed by the core. All but the reset marker are seeded
// with defaults by the initial migration.
const (
	SettingDailyClaimLimit       = "daily_claim_limit"
	SettingUndoWindowHours       = "undo_window_hours"
	SettingCurrencyPerPoint      = "currency_per_point"
	SettingArcadeRecordBonusRate = "arcade_record_bonus_rate"
	SettingArcadeTop3BonusRate   = "arcade_top3_bonus_rate"
	SettingOneOffArchiveDays     = "oneoff_archive_grace_days"

	// SettingLastWeeklyReset records the local date of the last weekly
	// balance reset, so a rerun of a partially failed Monday sweep cannot
	// zero balances or fire the reset hook twice.
	SettingLastWeeklyReset = "last_weekly_reset"
)

// SweepKind distinguishes the two scheduler loops.
type SweepKind string

const (
	SweepDaily    SweepKind = "daily"
	SweepFrequent SweepKind = "frequent"
)

// SweepRecord logs one sweep run for operator visibility and for the
// frequent sweep's missed-daily watchdog.
type SweepRecord struct {
	ID         int64      `json:"id"`
	Kind       SweepKind  `json:"kind"`
	LocalDate  string     `json:"local_date"` // YYYY-MM-DD
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Success    bool       `json:"success"`
	OKCount    int        `json:"ok_count"`
	ErrCount   int        `json:"err_count"`
}
