package points

import (
	"sort"

	"github.com/evankirkwood/hearth/internal/fault"
	"github.com/evankirkwood/hearth/internal/model"
)

// Period selects which balance a leaderboard ranks.
type Period string

const (
	PeriodWeekly  Period = "weekly"
	PeriodAllTime Period = "all_time"
)

// Leaderboard returns household standings for the period. Rank is computed
// by sorting here; ties share the order of lower person id first.
func (s *Service) Leaderboard(period Period) ([]model.LeaderboardEntry, error) {
	if period != PeriodWeekly && period != PeriodAllTime {
		return nil, fault.Validation("unknown leaderboard period %q", period)
	}

	persons, err := s.persons.List()
	if err != nil {
		return nil, err
	}
	counts, err := s.completions.CompletionCounts(s.db)
	if err != nil {
		return nil, err
	}
	rate := s.settings.GetFloat(model.SettingCurrencyPerPoint, 0)

	var entries []model.LeaderboardEntry
	for _, p := range persons {
		if !p.PointsEligible {
			continue
		}
		balance := p.AllTimeBalance
		if period == PeriodWeekly {
			balance = p.WeeklyBalance
		}
		entries = append(entries, model.LeaderboardEntry{
			PersonID:    p.ID,
			Name:        p.Name,
			Points:      balance,
			Completions: counts[p.ID],
			Currency:    balance.Points() * rate,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Points != entries[j].Points {
			return entries[i].Points > entries[j].Points
		}
		return entries[i].PersonID < entries[j].PersonID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}
