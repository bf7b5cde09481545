// Package points turns occurrence lifecycle changes into ledger entries:
// claim, complete (with credit splitting), undo, and the dependent-task
// spawner that runs on every completion path.
package points

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/evankirkwood/hearth/internal/fault"
	"github.com/evankirkwood/hearth/internal/locks"
	"github.com/evankirkwood/hearth/internal/model"
	"github.com/evankirkwood/hearth/internal/notify"
	"github.com/evankirkwood/hearth/internal/recurrence"
	"github.com/evankirkwood/hearth/internal/store"
)

// Service owns the claim/complete/undo operations and the points ledger.
type Service struct {
	db          *sql.DB
	occurrences *store.OccurrenceStore
	templates   *store.TemplateStore
	persons     *store.PersonStore
	rotation    *store.RotationStore
	completions *store.CompletionStore
	settings    *store.SettingsStore
	locks       *locks.Keyed
	bus         *notify.Bus
	loc         *time.Location
	logger      *slog.Logger
}

func NewService(
	db *sql.DB,
	occurrences *store.OccurrenceStore,
	templates *store.TemplateStore,
	persons *store.PersonStore,
	rotation *store.RotationStore,
	completions *store.CompletionStore,
	settings *store.SettingsStore,
	keyed *locks.Keyed,
	bus *notify.Bus,
	loc *time.Location,
	logger *slog.Logger,
) *Service {
	return &Service{
		db:          db,
		occurrences: occurrences,
		templates:   templates,
		persons:     persons,
		rotation:    rotation,
		completions: completions,
		settings:    settings,
		locks:       keyed,
		bus:         bus,
		loc:         loc,
		logger:      logger,
	}
}

// Claim hands a pool occurrence to the requesting person. Exactly one of two
// racing claims succeeds; the loser sees the changed state as a conflict.
func (s *Service) Claim(ctx context.Context, occurrenceID, personID int64, now time.Time) error {
	if occurrenceID <= 0 || personID <= 0 {
		return fault.Validation("occurrence and person ids must be positive")
	}

	release, ok := s.locks.Acquire(ctx, occurrenceID)
	if !ok {
		return fault.Conflict(fault.CodeLockTimeout, "occurrence %d is busy", occurrenceID)
	}
	defer release()

	localDay := s.localDate(now)
	limit := s.settings.GetInt(model.SettingDailyClaimLimit, 0)

	err := store.InTx(ctx, s.db, func(tx *sql.Tx) error {
		person, err := s.persons.GetByIDTx(tx, personID)
		if err != nil {
			return err
		}
		if person == nil {
			return fault.NotFound("person", personID)
		}
		if !person.Active {
			return fault.Policy(fault.CodePersonNotActive, "person %d is not active", personID)
		}
		if !person.Assignable {
			return fault.Policy(fault.CodePersonNotAssignable, "person %d is not assignable", personID)
		}

		occ, err := s.occurrences.GetByID(tx, occurrenceID)
		if err != nil {
			return err
		}
		if occ == nil {
			return fault.NotFound("occurrence", occurrenceID)
		}
		if occ.Status != model.StatusPool {
			return fault.Conflict(fault.CodeOccurrenceTaken, "occurrence %d is %s, not pool", occurrenceID, occ.Status)
		}

		count, err := s.persons.IncrementDailyClaims(tx, personID, localDay)
		if err != nil {
			return err
		}
		if limit > 0 && count > limit {
			return fault.Policy(fault.CodeDailyClaimLimit, "person %d reached the daily claim limit of %d", personID, limit)
		}

		ok, err := s.occurrences.Assign(tx, occurrenceID, personID, model.ReasonClaimed, now)
		if err != nil {
			return err
		}
		if !ok {
			return fault.Conflict(fault.CodeOccurrenceTaken, "occurrence %d changed state during claim", occurrenceID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.bus.Publish(notify.EventChoreClaimed, occurrenceID, personID, nil)
	s.logger.Info("occurrence claimed", "occurrence_id", occurrenceID, "person_id", personID)
	return nil
}

// Complete closes an open occurrence as of now, crediting points per the
// household's splitting rules.
func (s *Service) Complete(ctx context.Context, occurrenceID, completerID int64, helpers []int64, now time.Time) (*model.Completion, error) {
	return s.CompleteAt(ctx, occurrenceID, completerID, helpers, now, now)
}

// CompleteAt is Complete with an explicit, possibly backdated, completion
// time. Backdating to yesterday lets the next occurrence materialize today.
func (s *Service) CompleteAt(ctx context.Context, occurrenceID, completerID int64, helpers []int64, at, now time.Time) (*model.Completion, error) {
	if occurrenceID <= 0 || completerID <= 0 {
		return nil, fault.Validation("occurrence and completer ids must be positive")
	}
	if at.After(now) {
		return nil, fault.Validation("completion time cannot be in the future")
	}

	release, ok := s.locks.Acquire(ctx, occurrenceID)
	if !ok {
		return nil, fault.Conflict(fault.CodeLockTimeout, "occurrence %d is busy", occurrenceID)
	}
	defer release()

	var completion *model.Completion
	err := store.InTx(ctx, s.db, func(tx *sql.Tx) error {
		occ, err := s.occurrences.GetByID(tx, occurrenceID)
		if err != nil {
			return err
		}
		if occ == nil {
			return fault.NotFound("occurrence", occurrenceID)
		}
		if !occ.Status.Open() {
			return fault.Conflict(fault.CodeAlreadyCompleted, "occurrence %d is %s", occurrenceID, occ.Status)
		}

		tpl, err := s.templates.GetByIDTx(tx, occ.TemplateID)
		if err != nil {
			return err
		}
		if tpl == nil {
			return fault.NotFound("template", occ.TemplateID)
		}

		completer, err := s.persons.GetByIDTx(tx, completerID)
		if err != nil {
			return err
		}
		if completer == nil {
			return fault.NotFound("person", completerID)
		}

		credited, err := s.creditedSet(tx, tpl, completer, helpers)
		if err != nil {
			return err
		}

		late := at.After(occ.DueAt)
		ok, err := s.occurrences.Complete(tx, occurrenceID, at, late)
		if err != nil {
			return err
		}
		if !ok {
			return fault.Conflict(fault.CodeAlreadyCompleted, "occurrence %d changed state during completion", occurrenceID)
		}

		completion, err = s.completions.Create(tx, occurrenceID, completerID, at, late)
		if err != nil {
			return err
		}

		if err := s.award(tx, completion, occ.Points, credited); err != nil {
			return err
		}

		if err := s.rotation.Record(tx, tpl.ID, completerID, s.localDate(at)); err != nil {
			return err
		}

		if err := s.spawnChildren(tx, tpl, completerID, at); err != nil {
			return err
		}

		return s.materializeNext(tx, tpl, at, now)
	})
	if err != nil {
		return nil, err
	}

	s.bus.Publish(notify.EventChoreCompleted, occurrenceID, completerID, map[string]any{
		"completion_id": completion.ID,
	})
	s.logger.Info("occurrence completed",
		"occurrence_id", occurrenceID, "person_id", completerID, "late", completion.Late)
	return completion, nil
}

// creditedSet decides who shares the points. Order of precedence: explicit
// helper list; undesirable templates credit their points-eligible eligibility
// list; a points-eligible completer keeps it alone; otherwise every
// points-eligible capable person splits it, so an ineligible completer's
// effort still lands somewhere.
func (s *Service) creditedSet(tx *sql.Tx, tpl *model.TaskTemplate, completer *model.Person, helpers []int64) ([]int64, error) {
	if len(helpers) > 0 {
		for _, id := range helpers {
			if id <= 0 {
				return nil, fault.Validation("helper ids must be positive")
			}
		}
		return helpers, nil
	}

	if tpl.Undesirable {
		eligible, err := s.templates.EligiblePersonIDs(tx, tpl.ID)
		if err != nil {
			return nil, err
		}
		var credited []int64
		for _, id := range eligible {
			p, err := s.persons.GetByIDTx(tx, id)
			if err != nil {
				return nil, err
			}
			if p != nil && p.PointsEligible {
				credited = append(credited, id)
			}
		}
		if len(credited) > 0 {
			return credited, nil
		}
	}

	if completer.PointsEligible {
		return []int64{completer.ID}, nil
	}

	fallback, err := s.persons.ListPointsEligible(tx)
	if err != nil {
		return nil, err
	}
	var credited []int64
	for _, p := range fallback {
		credited = append(credited, p.ID)
	}
	return credited, nil
}

// award writes one share and one ledger entry per credited person. The even
// split truncates; the remainder is never redistributed.
func (s *Service) award(tx *sql.Tx, completion *model.Completion, total model.Centipoints, credited []int64) error {
	if len(credited) == 0 {
		return nil
	}
	share := total.Split(len(credited))
	for _, personID := range credited {
		if err := s.completions.AddShare(tx, completion.ID, personID, share); err != nil {
			return err
		}
		weekly, allTime, err := s.persons.ApplyDelta(tx, personID, share)
		if err != nil {
			return err
		}
		if err := s.completions.AppendLedger(tx, model.LedgerEntry{
			PersonID:     personID,
			Delta:        share,
			WeeklyAfter:  weekly,
			AllTimeAfter: allTime,
			CompletionID: &completion.ID,
			Reason:       model.LedgerReasonCompletion,
		}); err != nil {
			return err
		}
	}
	return nil
}

// spawnChildren materializes each active child template's occurrence,
// assigned to whoever completed the parent regardless of the child's own
// pool configuration.
func (s *Service) spawnChildren(tx *sql.Tx, parent *model.TaskTemplate, completerID int64, at time.Time) error {
	deps, err := s.templates.ListChildren(tx, parent.ID)
	if err != nil {
		return err
	}
	for _, dep := range deps {
		child, err := s.templates.GetByIDTx(tx, dep.ChildID)
		if err != nil {
			return err
		}
		if child == nil || !child.Active || child.Archived {
			continue
		}
		open, err := s.occurrences.OpenByTemplate(tx, child.ID)
		if err != nil {
			return err
		}
		if open != nil {
			continue
		}

		due := at.Add(time.Duration(dep.OffsetHours) * time.Hour)
		distribute, err := recurrence.AtTimeOfDay(due.In(s.loc), child.DistributeTime, s.loc)
		if err != nil {
			distribute = due
		}
		completer := completerID
		if _, err := s.occurrences.Create(tx, store.OccurrenceParams{
			TemplateID:   child.ID,
			Points:       child.Points,
			Status:       model.StatusAssigned,
			AssigneeID:   &completer,
			AssignReason: model.ReasonParentCompletion,
			DueAt:        due,
			DistributeAt: distribute,
		}); err != nil {
			return err
		}
	}
	return nil
}

// materializeNext creates today's occurrence after a backdated completion,
// but only when the schedule's first due date after the completion date is
// today. A completion backdated further than one period leaves creation to
// the regular sweep.
func (s *Service) materializeNext(tx *sql.Tx, tpl *model.TaskTemplate, at, now time.Time) error {
	completedDay := s.startOfDay(at)
	today := s.startOfDay(now)
	if !completedDay.Before(today) {
		return nil
	}

	isChild, err := s.templates.IsChild(tx, tpl.ID)
	if err != nil {
		return err
	}
	if isChild {
		return nil
	}

	sched, err := recurrence.Parse(tpl.Schedule, s.loc)
	if err != nil || sched.Kind == recurrence.OneOff {
		return nil
	}

	next := time.Time{}
	for d := completedDay.AddDate(0, 0, 1); !d.After(today); d = d.AddDate(0, 0, 1) {
		if sched.DueOn(d, tpl.CreatedAt.In(s.loc)) {
			next = d
			break
		}
	}
	if next.IsZero() || !next.Equal(today) {
		return nil
	}

	open, err := s.occurrences.OpenByTemplate(tx, tpl.ID)
	if err != nil {
		return err
	}
	if open != nil {
		return nil
	}

	due := today.AddDate(0, 0, 1).Add(-time.Second)
	distribute, err := recurrence.AtTimeOfDay(today, tpl.DistributeTime, s.loc)
	if err != nil {
		distribute = today
	}
	_, err = s.occurrences.Create(tx, store.OccurrenceParams{
		TemplateID:   tpl.ID,
		Points:       tpl.Points,
		Status:       model.StatusPool,
		DueAt:        due,
		DistributeAt: distribute,
	})
	return err
}

func (s *Service) localDate(t time.Time) string {
	return t.In(s.loc).Format("2006-01-02")
}

func (s *Service) startOfDay(t time.Time) time.Time {
	local := t.In(s.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
}
