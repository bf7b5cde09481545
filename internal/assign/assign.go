// Package assign picks which eligible person receives a pool occurrence at
// distribution time. The decision is a small closed set of outcomes, not a
// boolean: callers react differently to a rotation block (self-resolves
// tomorrow) than to an empty candidate list (needs configuration changes).
package assign

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/evankirkwood/hearth/internal/fault"
	"github.com/evankirkwood/hearth/internal/locks"
	"github.com/evankirkwood/hearth/internal/model"
	"github.com/evankirkwood/hearth/internal/notify"
	"github.com/evankirkwood/hearth/internal/store"
)

// OutcomeKind enumerates the ways an assignment attempt can end.
type OutcomeKind int

const (
	// Assigned: a person was picked and the occurrence left the pool.
	Assigned OutcomeKind = iota
	// NoEligible: the structural candidate set is empty; operator action
	// needed.
	NoEligible
	// RotationBlocked: every candidate completed this template yesterday;
	// resolves itself on the next day's distribution.
	RotationBlocked
	// DifficultLimitBlocked: the difficult-chore limit removed every
	// remaining candidate.
	DifficultLimitBlocked
)

func (k OutcomeKind) String() string {
	switch k {
	case Assigned:
		return "assigned"
	case NoEligible:
		return "no_eligible"
	case RotationBlocked:
		return "rotation_blocked"
	case DifficultLimitBlocked:
		return "difficult_limit_blocked"
	}
	return "unknown"
}

// Outcome is the tagged result of one assignment attempt.
type Outcome struct {
	Kind     OutcomeKind
	PersonID int64 // set when Kind == Assigned
}

// Service implements rotation/fairness assignment.
type Service struct {
	occurrences *store.OccurrenceStore
	templates   *store.TemplateStore
	persons     *store.PersonStore
	rotation    *store.RotationStore
	locks       *locks.Keyed
	bus         *notify.Bus
	loc         *time.Location
	logger      *slog.Logger
}

func NewService(
	occurrences *store.OccurrenceStore,
	templates *store.TemplateStore,
	persons *store.PersonStore,
	rotation *store.RotationStore,
	keyed *locks.Keyed,
	bus *notify.Bus,
	loc *time.Location,
	logger *slog.Logger,
) *Service {
	return &Service{
		occurrences: occurrences,
		templates:   templates,
		persons:     persons,
		rotation:    rotation,
		locks:       keyed,
		bus:         bus,
		loc:         loc,
		logger:      logger,
	}
}

// Assign attempts to hand the pool occurrence to the fairest candidate,
// evaluated as of now. Failed attempts leave the occurrence in the pool with
// the blocking reason recorded on it.
func (s *Service) Assign(ctx context.Context, occurrenceID int64, now time.Time) (Outcome, error) {
	if occurrenceID <= 0 {
		return Outcome{}, fault.Validation("occurrence id must be positive")
	}

	release, ok := s.locks.Acquire(ctx, occurrenceID)
	if !ok {
		return Outcome{}, fault.Conflict(fault.CodeLockTimeout, "occurrence %d is busy", occurrenceID)
	}
	defer release()

	var outcome Outcome
	err := store.InTx(ctx, s.occurrences.DB(), func(tx *sql.Tx) error {
		occ, err := s.occurrences.GetByID(tx, occurrenceID)
		if err != nil {
			return err
		}
		if occ == nil {
			return fault.NotFound("occurrence", occurrenceID)
		}
		if occ.Status != model.StatusPool {
			return fault.Conflict(fault.CodeOccurrenceNotOpen, "occurrence %d is %s, not pool", occurrenceID, occ.Status)
		}

		tpl, err := s.templates.GetByIDTx(tx, occ.TemplateID)
		if err != nil {
			return err
		}
		if tpl == nil {
			return fault.NotFound("template", occ.TemplateID)
		}

		outcome, err = s.pick(tx, tpl, occ, now)
		if err != nil {
			return err
		}

		switch outcome.Kind {
		case Assigned:
			ok, err := s.occurrences.Assign(tx, occ.ID, outcome.PersonID, model.ReasonAuto, now)
			if err != nil {
				return err
			}
			if !ok {
				return fault.Conflict(fault.CodeOccurrenceTaken, "occurrence %d changed state during assignment", occ.ID)
			}
		case NoEligible:
			return s.occurrences.SetAssignReason(tx, occ.ID, model.ReasonNoneEligible)
		case RotationBlocked:
			return s.occurrences.SetAssignReason(tx, occ.ID, model.ReasonAllCompletedYday)
		case DifficultLimitBlocked:
			return s.occurrences.SetAssignReason(tx, occ.ID, model.ReasonDifficultLimit)
		}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	if outcome.Kind == Assigned {
		s.bus.Publish(notify.EventChoreAssigned, occurrenceID, outcome.PersonID, nil)
		s.logger.Info("occurrence assigned", "occurrence_id", occurrenceID, "person_id", outcome.PersonID)
	} else {
		s.logger.Info("assignment blocked", "occurrence_id", occurrenceID, "reason", outcome.Kind.String())
	}
	return outcome, nil
}

// pick applies the fairness filters in order: structural eligibility, the
// completed-yesterday rotation rule, then the difficult-chore limit. The
// difficult limit is reported only when it emptied a set that survived
// rotation, so operators see the code whose remedy would actually help.
func (s *Service) pick(tx *sql.Tx, tpl *model.TaskTemplate, occ *model.Occurrence, now time.Time) (Outcome, error) {
	candidates, err := s.persons.ListCandidates(tx)
	if err != nil {
		return Outcome{}, err
	}

	if tpl.Undesirable {
		eligible, err := s.templates.EligiblePersonIDs(tx, tpl.ID)
		if err != nil {
			return Outcome{}, err
		}
		if len(eligible) > 0 {
			allowed := make(map[int64]bool, len(eligible))
			for _, id := range eligible {
				allowed[id] = true
			}
			candidates = filter(candidates, func(p model.Person) bool { return allowed[p.ID] })
		}
	}

	if len(candidates) == 0 {
		return Outcome{Kind: NoEligible}, nil
	}

	lastCompleted, err := s.rotation.LastCompleted(tx, tpl.ID)
	if err != nil {
		return Outcome{}, err
	}

	yesterday := localDate(now.In(s.loc).AddDate(0, 0, -1))
	candidates = filter(candidates, func(p model.Person) bool {
		return lastCompleted[p.ID] != yesterday
	})
	if len(candidates) == 0 {
		return Outcome{Kind: RotationBlocked}, nil
	}

	if tpl.Difficult {
		local := now.In(s.loc)
		dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
		holders, err := s.occurrences.PersonsHoldingDifficultDue(tx, dayStart, dayStart.AddDate(0, 0, 1), occ.ID)
		if err != nil {
			return Outcome{}, err
		}
		candidates = filter(candidates, func(p model.Person) bool { return !holders[p.ID] })
		if len(candidates) == 0 {
			return Outcome{Kind: DifficultLimitBlocked}, nil
		}
	}

	// Oldest (or absent) last-completed date wins; ties break on lowest id.
	// Candidates arrive ordered by id, so the first strict improvement rule
	// keeps the tie-break deterministic.
	best := candidates[0]
	bestDate := lastCompleted[best.ID]
	for _, p := range candidates[1:] {
		date := lastCompleted[p.ID]
		if date < bestDate {
			best = p
			bestDate = date
		}
	}
	return Outcome{Kind: Assigned, PersonID: best.ID}, nil
}

func filter(persons []model.Person, keep func(model.Person) bool) []model.Person {
	out := persons[:0:0]
	for _, p := range persons {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

func localDate(t time.Time) string {
	return t.Format("2006-01-02")
}
