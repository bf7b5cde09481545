// Package scheduler drives the two sweeps that keep the occurrence table
// current.
//
// The daily sweep runs once per local day: it resets daily claim counters,
// zeroes weekly balances on Mondays, flags overdue occurrences, archives
// stale one-offs, and stamps out the day's occurrences from every due
// template. The frequent sweep runs every few minutes: it flags overdue
// occurrences between daily runs, hands distributable pool occurrences to
// the assigner, and watches for a daily sweep that never ran.
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/evankirkwood/hearth/internal/assign"
	"github.com/evankirkwood/hearth/internal/fault"
	"github.com/evankirkwood/hearth/internal/model"
	"github.com/evankirkwood/hearth/internal/notify"
	"github.com/evankirkwood/hearth/internal/recurrence"
	"github.com/evankirkwood/hearth/internal/store"
)

// oneOffFarFuture is the due sentinel for one-off templates created without
// an explicit due time. They sit in the pool without ever going overdue.
var oneOffFarFuture = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)

// Summary reports what one sweep run did.
type Summary struct {
	OKCount   int
	ErrCount  int
	Overdue   int
	Assigned  int
	WokeDaily bool
}

type Service struct {
	db          *sql.DB
	occurrences *store.OccurrenceStore
	templates   *store.TemplateStore
	persons     *store.PersonStore
	sweeps      *store.SweepStore
	settings    *store.SettingsStore
	assigner    *assign.Service
	bus         *notify.Bus
	loc         *time.Location
	logger      *slog.Logger

	dailyHour   int
	watchdogCap int

	dailyBusy    atomic.Bool
	frequentBusy atomic.Bool
	cron         *cron.Cron
}

func NewService(
	db *sql.DB,
	occurrences *store.OccurrenceStore,
	templates *store.TemplateStore,
	persons *store.PersonStore,
	sweeps *store.SweepStore,
	settings *store.SettingsStore,
	assigner *assign.Service,
	bus *notify.Bus,
	loc *time.Location,
	logger *slog.Logger,
	dailyHour, watchdogCap int,
) *Service {
	return &Service{
		db:          db,
		occurrences: occurrences,
		templates:   templates,
		persons:     persons,
		sweeps:      sweeps,
		settings:    settings,
		assigner:    assigner,
		bus:         bus,
		loc:         loc,
		logger:      logger,
		dailyHour:   dailyHour,
		watchdogCap: watchdogCap,
	}
}

// Start schedules the sweep loops. The daily sweep fires at the configured
// local hour; the frequent sweep fires every frequentMinutes.
func (s *Service) Start(frequentMinutes int) error {
	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}
	c := cron.New(cron.WithLocation(s.loc))

	_, err := c.AddFunc(fmt.Sprintf("0 %d * * *", s.dailyHour), func() {
		if _, err := s.DailySweep(context.Background(), time.Now()); err != nil {
			s.logger.Error("daily sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule daily sweep: %w", err)
	}

	_, err = c.AddFunc(fmt.Sprintf("@every %dm", frequentMinutes), func() {
		if _, err := s.FrequentSweep(context.Background(), time.Now()); err != nil {
			s.logger.Error("frequent sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule frequent sweep: %w", err)
	}

	c.Start()
	s.cron = c
	s.logger.Info("scheduler started", "daily_hour", s.dailyHour, "frequent_minutes", frequentMinutes)
	return nil
}

// Stop halts the loops and waits for any in-flight run to return.
func (s *Service) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.logger.Info("scheduler stopped")
}

// DailySweep runs the once-per-day pass as of now. Manual invocation is
// safe: runs serialize, and per-template failures are isolated so one bad
// descriptor cannot block the rest of the household.
func (s *Service) DailySweep(ctx context.Context, now time.Time) (Summary, error) {
	if !s.dailyBusy.CompareAndSwap(false, true) {
		return Summary{}, fault.Conflict(fault.CodeSweepRunning, "daily sweep already running")
	}
	defer s.dailyBusy.Store(false)

	local := now.In(s.loc)
	localDate := local.Format("2006-01-02")

	recID, err := s.sweeps.Begin(model.SweepDaily, localDate, now)
	if err != nil {
		return Summary{}, err
	}

	sum, err := s.runDaily(ctx, now, local, localDate)
	if ferr := s.sweeps.Finish(recID, err == nil, sum.OKCount, sum.ErrCount, time.Now()); ferr != nil {
		s.logger.Error("finish sweep record", "error", ferr)
	}
	if err != nil {
		return sum, err
	}

	s.logger.Info("daily sweep finished",
		"local_date", localDate, "created", sum.OKCount, "errors", sum.ErrCount, "overdue", sum.Overdue)
	return sum, nil
}

func (s *Service) runDaily(ctx context.Context, now, local time.Time, localDate string) (Summary, error) {
	var sum Summary

	if err := s.persons.ResetDailyClaims(localDate); err != nil {
		return sum, err
	}

	// The marker, not the sweep record, gates the reset: a Monday run that
	// resets balances and then fails partway must not reset again (or fire
	// the hook again) when the watchdog reruns it.
	if lastReset, _ := s.settings.Get(model.SettingLastWeeklyReset); local.Weekday() == time.Monday && lastReset != localDate {
		if err := s.persons.ResetWeeklyBalances(); err != nil {
			return sum, err
		}
		if err := s.settings.Set(model.SettingLastWeeklyReset, localDate); err != nil {
			return sum, err
		}
		s.bus.Publish(notify.EventWeeklyReset, 0, 0, map[string]any{"week_of": localDate})
		s.logger.Info("weekly balances reset", "week_of", localDate)
	}

	overdue, err := s.markOverdue(now)
	if err != nil {
		return sum, err
	}
	sum.Overdue = overdue

	templates, err := s.templates.ListActive()
	if err != nil {
		return sum, err
	}

	if err := s.archiveStaleOneOffs(templates, now); err != nil {
		return sum, err
	}

	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	for i := range templates {
		tpl := &templates[i]
		created, err := s.sweepTemplate(ctx, tpl, now, dayStart, localDate)
		if err != nil {
			sum.ErrCount++
			s.logger.Error("template sweep failed", "template_id", tpl.ID, "name", tpl.Name, "error", err)
			continue
		}
		if created {
			sum.OKCount++
		}
	}
	return sum, nil
}

// sweepTemplate decides whether tpl is due today and, if so, creates its
// occurrence. Child templates never self-schedule; a reschedule override
// replaces the normal cadence for its date and is cleared once that date
// arrives.
func (s *Service) sweepTemplate(ctx context.Context, tpl *model.TaskTemplate, now, dayStart time.Time, localDate string) (bool, error) {
	isChild, err := s.templates.IsChild(s.db, tpl.ID)
	if err != nil {
		return false, err
	}
	if isChild {
		return false, nil
	}

	sched, err := recurrence.Parse(tpl.Schedule, s.loc)
	if err != nil {
		return false, err
	}

	due := false
	consumedReschedule := false
	switch {
	case tpl.RescheduleTo != nil:
		if *tpl.RescheduleTo <= localDate {
			due = *tpl.RescheduleTo == localDate
			consumedReschedule = true
		}
	case sched.Kind == recurrence.OneOff:
		// Seeded when the template is registered, not by the sweep.
		return false, nil
	default:
		due = sched.DueOn(dayStart, tpl.CreatedAt.In(s.loc))
	}

	if consumedReschedule {
		if err := s.templates.ClearReschedule(tpl.ID); err != nil {
			return false, err
		}
	}
	if !due {
		return false, nil
	}

	open, err := s.occurrences.OpenByTemplate(s.db, tpl.ID)
	if err != nil {
		return false, err
	}
	if open != nil {
		return false, nil
	}

	distributeAt, err := recurrence.AtTimeOfDay(dayStart, tpl.DistributeTime, s.loc)
	if err != nil {
		return false, err
	}

	params := store.OccurrenceParams{
		TemplateID:   tpl.ID,
		Points:       tpl.Points,
		Status:       model.StatusPool,
		DueAt:        dayStart.AddDate(0, 0, 1).Add(-time.Second),
		DistributeAt: distributeAt,
	}
	if !tpl.Pool && tpl.AssigneeID != nil {
		params.Status = model.StatusAssigned
		params.AssigneeID = tpl.AssigneeID
		params.AssignReason = model.ReasonAuto
	}
	occ, err := s.occurrences.Create(s.db, params)
	if err != nil {
		return false, err
	}

	// Undesirable pool chores skip the distribution delay: the rotation pick
	// happens as soon as the occurrence exists.
	if tpl.Undesirable && occ.Status == model.StatusPool {
		if _, err := s.assigner.Assign(ctx, occ.ID, now); err != nil {
			s.logger.Warn("immediate assignment failed", "occurrence_id", occ.ID, "error", err)
		}
	}
	return true, nil
}

// archiveStaleOneOffs retires completed one-off templates that have sat idle
// past the grace period.
func (s *Service) archiveStaleOneOffs(templates []model.TaskTemplate, now time.Time) error {
	graceDays := s.settings.GetInt(model.SettingOneOffArchiveDays, 14)
	if graceDays <= 0 {
		return nil
	}
	cutoff := now.AddDate(0, 0, -graceDays)

	for i := range templates {
		tpl := &templates[i]
		if tpl.Schedule != "" {
			continue
		}
		open, err := s.occurrences.OpenByTemplate(s.db, tpl.ID)
		if err != nil {
			return err
		}
		if open != nil {
			continue
		}
		last, err := s.occurrences.LastCompletedAt(s.db, tpl.ID)
		if err != nil {
			return err
		}
		if last == nil || last.After(cutoff) {
			continue
		}
		if err := s.templates.Archive(tpl.ID, now); err != nil {
			return err
		}
		s.logger.Info("one-off archived", "template_id", tpl.ID, "name", tpl.Name)
	}
	return nil
}

// FrequentSweep runs the between-days pass: overdue flagging, pool
// distribution, and the daily-sweep watchdog.
func (s *Service) FrequentSweep(ctx context.Context, now time.Time) (Summary, error) {
	if !s.frequentBusy.CompareAndSwap(false, true) {
		return Summary{}, fault.Conflict(fault.CodeSweepRunning, "frequent sweep already running")
	}
	defer s.frequentBusy.Store(false)

	var sum Summary
	local := now.In(s.loc)
	localDate := local.Format("2006-01-02")

	recID, err := s.sweeps.Begin(model.SweepFrequent, localDate, now)
	if err != nil {
		return sum, err
	}

	woke, err := s.watchdog(ctx, now, local, localDate)
	if err != nil {
		s.logger.Error("watchdog daily sweep failed", "error", err)
		sum.ErrCount++
	}
	sum.WokeDaily = woke

	overdue, err := s.markOverdue(now)
	if err != nil {
		s.sweeps.Finish(recID, false, sum.OKCount, sum.ErrCount+1, time.Now())
		return sum, err
	}
	sum.Overdue = overdue

	distributable, err := s.occurrences.ListDistributable(s.db, now)
	if err != nil {
		s.sweeps.Finish(recID, false, sum.OKCount, sum.ErrCount+1, time.Now())
		return sum, err
	}
	for _, occ := range distributable {
		outcome, err := s.assigner.Assign(ctx, occ.ID, now)
		if err != nil {
			sum.ErrCount++
			s.logger.Error("distribution failed", "occurrence_id", occ.ID, "error", err)
			continue
		}
		sum.OKCount++
		if outcome.Kind == assign.Assigned {
			sum.Assigned++
		}
	}

	if ferr := s.sweeps.Finish(recID, true, sum.OKCount, sum.ErrCount, time.Now()); ferr != nil {
		s.logger.Error("finish sweep record", "error", ferr)
	}
	return sum, nil
}

// watchdog reruns a daily sweep that should already have happened today.
// Self-triggering is capped so a sweep that fails deterministically does not
// retry forever.
func (s *Service) watchdog(ctx context.Context, now, local time.Time, localDate string) (bool, error) {
	deadline := time.Date(local.Year(), local.Month(), local.Day(), s.dailyHour, 5, 0, 0, s.loc)
	if local.Before(deadline) {
		return false, nil
	}
	succeeded, err := s.sweeps.SucceededOn(model.SweepDaily, localDate)
	if err != nil {
		return false, err
	}
	if succeeded {
		return false, nil
	}
	attempts, err := s.sweeps.AttemptsOn(model.SweepDaily, localDate)
	if err != nil {
		return false, err
	}
	if attempts >= s.watchdogCap {
		return false, nil
	}

	s.logger.Warn("daily sweep missing, running from watchdog", "local_date", localDate, "attempts", attempts)
	_, err = s.DailySweep(ctx, now)
	return err == nil, err
}

// markOverdue flags open occurrences past due. The hook fires only on the
// run that made the transition.
func (s *Service) markOverdue(now time.Time) (int, error) {
	candidates, err := s.occurrences.ListOverdueCandidates(s.db, now)
	if err != nil {
		return 0, err
	}
	flagged := 0
	for _, occ := range candidates {
		transitioned, err := s.occurrences.MarkOverdue(s.db, occ.ID)
		if err != nil {
			return flagged, err
		}
		if !transitioned {
			continue
		}
		flagged++
		var personID int64
		if occ.AssigneeID != nil {
			personID = *occ.AssigneeID
		}
		s.bus.Publish(notify.EventChoreOverdue, occ.ID, personID, nil)
	}
	return flagged, nil
}

// SeedOneOff creates the single occurrence a one-off template carries. Called
// at template registration; a one-off never receives occurrences from the
// sweep. Without an explicit due time the occurrence gets a far-future due
// date so it lingers in the pool instead of going overdue.
func (s *Service) SeedOneOff(templateID int64, now time.Time) (*model.Occurrence, error) {
	tpl, err := s.templates.GetByID(templateID)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, fault.NotFound("template", templateID)
	}
	if tpl.Schedule != "" {
		return nil, fault.Validation("template %d is not a one-off", templateID)
	}
	open, err := s.occurrences.OpenByTemplate(s.db, tpl.ID)
	if err != nil {
		return nil, err
	}
	if open != nil {
		return open, nil
	}

	dueAt := oneOffFarFuture
	if tpl.OneOffDue != nil {
		dueAt = *tpl.OneOffDue
	}
	distributeAt, err := recurrence.AtTimeOfDay(now.In(s.loc), tpl.DistributeTime, s.loc)
	if err != nil {
		return nil, err
	}

	params := store.OccurrenceParams{
		TemplateID:   tpl.ID,
		Points:       tpl.Points,
		Status:       model.StatusPool,
		DueAt:        dueAt,
		DistributeAt: distributeAt,
	}
	if !tpl.Pool && tpl.AssigneeID != nil {
		params.Status = model.StatusAssigned
		params.AssigneeID = tpl.AssigneeID
		params.AssignReason = model.ReasonAuto
	}
	return s.occurrences.Create(s.db, params)
}
