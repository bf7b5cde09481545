package model

import "time"

// Person is one household member. The flag trio (Assignable, Active,
// PointsEligible) drives candidate selection for pool tasks and point
// crediting; ExcludeFromAutoAssign removes a person from rotation while still
// letting them claim chores by hand.
type Person struct {
	ID                    int64       `json:"id"`
	Name                  string      `json:"name"`
	Color                 string      `json:"color"`
	AvatarEmoji           string      `json:"avatar_emoji"`
	Assignable            bool        `json:"assignable"`
	Active                bool        `json:"active"`
	PointsEligible        bool        `json:"points_eligible"`
	ExcludeFromAutoAssign bool        `json:"exclude_from_auto_assign"`
	Admin                 bool        `json:"admin"`
	HasPIN                bool        `json:"has_pin"`
	DailyClaims           int         `json:"daily_claims"`
	DailyClaimsDate       string      `json:"daily_claims_date"`
	WeeklyBalance         Centipoints `json:"weekly_balance"`
	AllTimeBalance        Centipoints `json:"all_time_balance"`
	SortOrder             int         `json:"sort_order"`
	CreatedAt             time.Time   `json:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at"`
}
