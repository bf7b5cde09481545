package scheduler

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/evankirkwood/hearth/internal/assign"
	"github.com/evankirkwood/hearth/internal/database"
	"github.com/evankirkwood/hearth/internal/fault"
	"github.com/evankirkwood/hearth/internal/locks"
	"github.com/evankirkwood/hearth/internal/model"
	"github.com/evankirkwood/hearth/internal/notify"
	"github.com/evankirkwood/hearth/internal/store"
)

type testEnv struct {
	db          *sql.DB
	svc         *Service
	occurrences *store.OccurrenceStore
	templates   *store.TemplateStore
	persons     *store.PersonStore
	sweeps      *store.SweepStore
	settings    *store.SettingsStore
}

func setupSchedulerTest(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := notify.NewBus(logger)

	env := &testEnv{
		db:          db,
		occurrences: store.NewOccurrenceStore(db),
		templates:   store.NewTemplateStore(db),
		persons:     store.NewPersonStore(db),
		sweeps:      store.NewSweepStore(db),
		settings:    store.NewSettingsStore(db),
	}
	assigner := assign.NewService(env.occurrences, env.templates, env.persons, store.NewRotationStore(db),
		locks.New(2*time.Second), bus, time.UTC, logger)
	env.svc = NewService(db, env.occurrences, env.templates, env.persons, env.sweeps,
		env.settings, assigner, bus, time.UTC, logger, 8, 3)
	return env
}

func (e *testEnv) person(t *testing.T, name string) *model.Person {
	t.Helper()
	p, err := e.persons.Create(store.PersonParams{Name: name, Assignable: true, Active: true, PointsEligible: true})
	if err != nil {
		t.Fatalf("create person: %v", err)
	}
	return p
}

func (e *testEnv) template(t *testing.T, p store.TemplateParams) *model.TaskTemplate {
	t.Helper()
	if p.Points == 0 {
		p.Points = 500
	}
	tpl, err := e.templates.Create(p)
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	return tpl
}

// Both instants land at the daily sweep hour so watchdog behavior stays
// inert unless a test moves past the grace deadline.
var (
	mondaySweep  = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	tuesdaySweep = time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
)

func TestDailySweepCreatesOccurrence(t *testing.T) {
	env := setupSchedulerTest(t)
	tpl := env.template(t, store.TemplateParams{Name: "Dishes", Schedule: "daily", Pool: true})

	sum, err := env.svc.DailySweep(context.Background(), tuesdaySweep)
	if err != nil {
		t.Fatalf("daily sweep: %v", err)
	}
	if sum.OKCount != 1 || sum.ErrCount != 0 {
		t.Fatalf("summary = %+v, want one creation", sum)
	}

	occ, err := env.occurrences.OpenByTemplate(env.db, tpl.ID)
	if err != nil || occ == nil {
		t.Fatalf("open occurrence = %v, %v", occ, err)
	}
	if occ.Status != model.StatusPool {
		t.Errorf("status = %s, want pool", occ.Status)
	}
	wantDue := time.Date(2026, 3, 3, 23, 59, 59, 0, time.UTC)
	if !occ.DueAt.Equal(wantDue) {
		t.Errorf("due = %v, want end of local day %v", occ.DueAt, wantDue)
	}
	// Default distribute time is 18:00.
	if !occ.DistributeAt.Equal(time.Date(2026, 3, 3, 18, 0, 0, 0, time.UTC)) {
		t.Errorf("distribute = %v", occ.DistributeAt)
	}

	// Rerunning the same day must not stack a second occurrence.
	sum, err = env.svc.DailySweep(context.Background(), tuesdaySweep)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if sum.OKCount != 0 {
		t.Errorf("second run created %d occurrences", sum.OKCount)
	}
}

func TestDailySweepSkipsChildTemplates(t *testing.T) {
	env := setupSchedulerTest(t)
	parent := env.template(t, store.TemplateParams{Name: "Cook Dinner", Schedule: "daily", Pool: true})
	child := env.template(t, store.TemplateParams{Name: "Wash Pots", Schedule: "daily", Pool: true})
	if err := env.templates.AddDependency(parent.ID, child.ID, 2); err != nil {
		t.Fatalf("add dependency: %v", err)
	}

	sum, err := env.svc.DailySweep(context.Background(), tuesdaySweep)
	if err != nil {
		t.Fatalf("daily sweep: %v", err)
	}
	if sum.OKCount != 1 {
		t.Fatalf("created %d, want parent only", sum.OKCount)
	}
	if occ, _ := env.occurrences.OpenByTemplate(env.db, child.ID); occ != nil {
		t.Error("child template self-scheduled")
	}
}

func TestDailySweepAssignsDefaultAssignee(t *testing.T) {
	env := setupSchedulerTest(t)
	a := env.person(t, "A")
	tpl := env.template(t, store.TemplateParams{Name: "Make Bed", Schedule: "daily", Pool: false, AssigneeID: &a.ID})

	if _, err := env.svc.DailySweep(context.Background(), tuesdaySweep); err != nil {
		t.Fatalf("daily sweep: %v", err)
	}

	occ, _ := env.occurrences.OpenByTemplate(env.db, tpl.ID)
	if occ == nil {
		t.Fatal("no occurrence created")
	}
	if occ.Status != model.StatusAssigned || occ.AssigneeID == nil || *occ.AssigneeID != a.ID {
		t.Errorf("occurrence = %+v, want assigned to default person", occ)
	}
	if occ.AssignReason != model.ReasonAuto {
		t.Errorf("reason = %s, want auto", occ.AssignReason)
	}
}

func TestRescheduleOverrideConsumed(t *testing.T) {
	env := setupSchedulerTest(t)
	// Not normally due on a Tuesday.
	tpl := env.template(t, store.TemplateParams{Name: "Mop", Schedule: "weekly:MO", Pool: true})
	if err := env.templates.SetReschedule(tpl.ID, "2026-03-03"); err != nil {
		t.Fatalf("set reschedule: %v", err)
	}

	sum, err := env.svc.DailySweep(context.Background(), tuesdaySweep)
	if err != nil {
		t.Fatalf("daily sweep: %v", err)
	}
	if sum.OKCount != 1 {
		t.Fatalf("created %d, want override-driven occurrence", sum.OKCount)
	}

	got, _ := env.templates.GetByID(tpl.ID)
	if got.RescheduleTo != nil {
		t.Errorf("override not cleared: %v", *got.RescheduleTo)
	}
}

func TestRescheduleOverrideSuppressesCadence(t *testing.T) {
	env := setupSchedulerTest(t)
	// Due every Tuesday, but pushed out a week.
	tpl := env.template(t, store.TemplateParams{Name: "Vacuum", Schedule: "weekly:TU", Pool: true})
	if err := env.templates.SetReschedule(tpl.ID, "2026-03-10"); err != nil {
		t.Fatalf("set reschedule: %v", err)
	}

	sum, err := env.svc.DailySweep(context.Background(), tuesdaySweep)
	if err != nil {
		t.Fatalf("daily sweep: %v", err)
	}
	if sum.OKCount != 0 {
		t.Errorf("created %d, want none while override pending", sum.OKCount)
	}
	got, _ := env.templates.GetByID(tpl.ID)
	if got.RescheduleTo == nil || *got.RescheduleTo != "2026-03-10" {
		t.Error("pending override was consumed early")
	}
}

func TestDailySweepResetsClaimCounters(t *testing.T) {
	env := setupSchedulerTest(t)
	a := env.person(t, "A")
	if _, err := env.persons.IncrementDailyClaims(env.db, a.ID, "2026-03-02"); err != nil {
		t.Fatalf("increment claims: %v", err)
	}

	if _, err := env.svc.DailySweep(context.Background(), tuesdaySweep); err != nil {
		t.Fatalf("daily sweep: %v", err)
	}

	count, err := env.persons.DailyClaims(env.db, a.ID, "2026-03-03")
	if err != nil {
		t.Fatalf("read claims: %v", err)
	}
	if count != 0 {
		t.Errorf("claims = %d after rollover, want 0", count)
	}
}

func TestMondaySweepResetsWeeklyBalances(t *testing.T) {
	env := setupSchedulerTest(t)
	a := env.person(t, "A")
	if _, _, err := env.persons.ApplyDelta(env.db, a.ID, 500); err != nil {
		t.Fatalf("apply delta: %v", err)
	}

	if _, err := env.svc.DailySweep(context.Background(), mondaySweep); err != nil {
		t.Fatalf("monday sweep: %v", err)
	}

	got, _ := env.persons.GetByID(a.ID)
	if got.WeeklyBalance != 0 {
		t.Errorf("weekly = %d after Monday sweep, want 0", got.WeeklyBalance)
	}
	if got.AllTimeBalance != 500 {
		t.Errorf("all-time = %d, want untouched 500", got.AllTimeBalance)
	}
}

func TestDailySweepAssignsUndesirableImmediately(t *testing.T) {
	env := setupSchedulerTest(t)
	a := env.person(t, "A")
	tpl := env.template(t, store.TemplateParams{Name: "Scrub Toilet", Schedule: "daily", Pool: true, Undesirable: true})

	if _, err := env.svc.DailySweep(context.Background(), tuesdaySweep); err != nil {
		t.Fatalf("daily sweep: %v", err)
	}

	occ, _ := env.occurrences.OpenByTemplate(env.db, tpl.ID)
	if occ == nil {
		t.Fatal("no occurrence created")
	}
	// Assigned straight out of the sweep, hours before the distribution time.
	if occ.Status != model.StatusAssigned || occ.AssigneeID == nil || *occ.AssigneeID != a.ID {
		t.Errorf("occurrence = %+v, want assigned to %d", occ, a.ID)
	}
	if occ.AssignReason != model.ReasonAuto {
		t.Errorf("reason = %s, want auto", occ.AssignReason)
	}
	if !tuesdaySweep.Before(occ.DistributeAt) {
		t.Fatalf("distribute time %v not after sweep time; test proves nothing", occ.DistributeAt)
	}
}

func TestDailySweepUndesirableNoCandidatesStaysPool(t *testing.T) {
	env := setupSchedulerTest(t)
	tpl := env.template(t, store.TemplateParams{Name: "Scrub Toilet", Schedule: "daily", Pool: true, Undesirable: true})

	sum, err := env.svc.DailySweep(context.Background(), tuesdaySweep)
	if err != nil {
		t.Fatalf("daily sweep: %v", err)
	}
	if sum.OKCount != 1 {
		t.Fatalf("created %d, want 1", sum.OKCount)
	}

	occ, _ := env.occurrences.OpenByTemplate(env.db, tpl.ID)
	if occ.Status != model.StatusPool || occ.AssignReason != model.ReasonNoneEligible {
		t.Errorf("occurrence = %s/%s, want pool/none_eligible", occ.Status, occ.AssignReason)
	}
}

func TestMondayResetNotRepeatedAfterPartialRun(t *testing.T) {
	env := setupSchedulerTest(t)
	a := env.person(t, "A")

	// An earlier run this Monday got as far as the reset before failing;
	// points earned since must survive the watchdog's rerun.
	if err := env.settings.Set(model.SettingLastWeeklyReset, "2026-03-02"); err != nil {
		t.Fatalf("set marker: %v", err)
	}
	if _, _, err := env.persons.ApplyDelta(env.db, a.ID, 500); err != nil {
		t.Fatalf("apply delta: %v", err)
	}

	if _, err := env.svc.DailySweep(context.Background(), mondaySweep); err != nil {
		t.Fatalf("monday sweep: %v", err)
	}

	got, _ := env.persons.GetByID(a.ID)
	if got.WeeklyBalance != 500 {
		t.Errorf("weekly = %d after rerun, want 500", got.WeeklyBalance)
	}
}

func TestNonMondaySweepKeepsWeeklyBalances(t *testing.T) {
	env := setupSchedulerTest(t)
	a := env.person(t, "A")
	if _, _, err := env.persons.ApplyDelta(env.db, a.ID, 500); err != nil {
		t.Fatalf("apply delta: %v", err)
	}

	if _, err := env.svc.DailySweep(context.Background(), tuesdaySweep); err != nil {
		t.Fatalf("tuesday sweep: %v", err)
	}

	got, _ := env.persons.GetByID(a.ID)
	if got.WeeklyBalance != 500 {
		t.Errorf("weekly = %d after Tuesday sweep, want 500", got.WeeklyBalance)
	}
}

func TestOverdueFlaggedOnce(t *testing.T) {
	env := setupSchedulerTest(t)
	tpl := env.template(t, store.TemplateParams{Name: "Trash", Schedule: "daily", Pool: true})
	if _, err := env.occurrences.Create(env.db, store.OccurrenceParams{
		TemplateID:   tpl.ID,
		Points:       tpl.Points,
		DueAt:        tuesdaySweep.Add(-time.Hour),
		DistributeAt: tuesdaySweep.Add(-7 * time.Hour),
	}); err != nil {
		t.Fatalf("create occurrence: %v", err)
	}

	sum, err := env.svc.FrequentSweep(context.Background(), tuesdaySweep)
	if err != nil {
		t.Fatalf("frequent sweep: %v", err)
	}
	if sum.Overdue != 1 {
		t.Fatalf("overdue = %d, want 1", sum.Overdue)
	}

	sum, err = env.svc.FrequentSweep(context.Background(), tuesdaySweep.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if sum.Overdue != 0 {
		t.Errorf("overdue flagged again: %d", sum.Overdue)
	}
}

func TestFrequentSweepDistributes(t *testing.T) {
	env := setupSchedulerTest(t)
	a := env.person(t, "A")
	tpl := env.template(t, store.TemplateParams{Name: "Dishes", Schedule: "daily", Pool: true})
	occ, err := env.occurrences.Create(env.db, store.OccurrenceParams{
		TemplateID:   tpl.ID,
		Points:       tpl.Points,
		DueAt:        tuesdaySweep.Add(10 * time.Hour),
		DistributeAt: tuesdaySweep.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("create occurrence: %v", err)
	}

	sum, err := env.svc.FrequentSweep(context.Background(), tuesdaySweep)
	if err != nil {
		t.Fatalf("frequent sweep: %v", err)
	}
	if sum.Assigned != 1 {
		t.Fatalf("assigned = %d, want 1", sum.Assigned)
	}

	got, _ := env.occurrences.GetByID(env.db, occ.ID)
	if got.Status != model.StatusAssigned || got.AssigneeID == nil || *got.AssigneeID != a.ID {
		t.Errorf("occurrence = %+v, want assigned to sole candidate", got)
	}
}

func TestWatchdogRunsMissedDaily(t *testing.T) {
	env := setupSchedulerTest(t)
	tpl := env.template(t, store.TemplateParams{Name: "Dishes", Schedule: "daily", Pool: true})

	// An hour past the daily slot with no daily record for the date.
	sum, err := env.svc.FrequentSweep(context.Background(), tuesdaySweep.Add(time.Hour))
	if err != nil {
		t.Fatalf("frequent sweep: %v", err)
	}
	if !sum.WokeDaily {
		t.Fatal("watchdog did not run the missed daily sweep")
	}

	ok, _ := env.sweeps.SucceededOn(model.SweepDaily, "2026-03-03")
	if !ok {
		t.Error("daily sweep not recorded as succeeded")
	}
	if occ, _ := env.occurrences.OpenByTemplate(env.db, tpl.ID); occ == nil {
		t.Error("watchdog run created no occurrence")
	}
}

func TestWatchdogRespectsAttemptCap(t *testing.T) {
	env := setupSchedulerTest(t)
	// Three unfinished runs already on record; cap is three.
	for i := 0; i < 3; i++ {
		if _, err := env.sweeps.Begin(model.SweepDaily, "2026-03-03", tuesdaySweep); err != nil {
			t.Fatalf("seed sweep record: %v", err)
		}
	}

	sum, err := env.svc.FrequentSweep(context.Background(), tuesdaySweep.Add(time.Hour))
	if err != nil {
		t.Fatalf("frequent sweep: %v", err)
	}
	if sum.WokeDaily {
		t.Error("watchdog retried past the attempt cap")
	}
	if ok, _ := env.sweeps.SucceededOn(model.SweepDaily, "2026-03-03"); ok {
		t.Error("capped watchdog still ran the daily sweep")
	}
}

func TestWatchdogWaitsForGrace(t *testing.T) {
	env := setupSchedulerTest(t)

	// Two minutes past the hour is still inside the five-minute grace.
	sum, err := env.svc.FrequentSweep(context.Background(), tuesdaySweep.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("frequent sweep: %v", err)
	}
	if sum.WokeDaily {
		t.Error("watchdog fired inside the grace window")
	}
}

func TestSeedOneOff(t *testing.T) {
	env := setupSchedulerTest(t)
	tpl := env.template(t, store.TemplateParams{Name: "Fix Fence", Schedule: "", Pool: true})

	occ, err := env.svc.SeedOneOff(tpl.ID, tuesdaySweep)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if occ.Status != model.StatusPool {
		t.Errorf("status = %s, want pool", occ.Status)
	}
	if !occ.DueAt.Equal(oneOffFarFuture) {
		t.Errorf("due = %v, want far-future sentinel", occ.DueAt)
	}

	// Seeding again returns the existing open occurrence.
	again, err := env.svc.SeedOneOff(tpl.ID, tuesdaySweep)
	if err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if again.ID != occ.ID {
		t.Errorf("reseed created occurrence %d, want existing %d", again.ID, occ.ID)
	}

	// The daily sweep leaves one-offs alone.
	sum, err := env.svc.DailySweep(context.Background(), tuesdaySweep)
	if err != nil {
		t.Fatalf("daily sweep: %v", err)
	}
	if sum.OKCount != 0 {
		t.Errorf("sweep created %d occurrences for a one-off", sum.OKCount)
	}
}

func TestSeedOneOffExplicitDue(t *testing.T) {
	env := setupSchedulerTest(t)
	due := tuesdaySweep.AddDate(0, 0, 3)
	tpl := env.template(t, store.TemplateParams{Name: "File Taxes", Schedule: "", Pool: true, OneOffDue: &due})

	occ, err := env.svc.SeedOneOff(tpl.ID, tuesdaySweep)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !occ.DueAt.Equal(due) {
		t.Errorf("due = %v, want %v", occ.DueAt, due)
	}

	recurring := env.template(t, store.TemplateParams{Name: "Dishes", Schedule: "daily", Pool: true})
	if _, err := env.svc.SeedOneOff(recurring.ID, tuesdaySweep); !fault.Is(err, fault.KindValidation) {
		t.Errorf("seeding a recurring template: %v, want validation error", err)
	}
}

func TestArchiveStaleOneOff(t *testing.T) {
	env := setupSchedulerTest(t)
	stale := env.template(t, store.TemplateParams{Name: "Old Project", Schedule: "", Pool: true})
	fresh := env.template(t, store.TemplateParams{Name: "New Project", Schedule: "", Pool: true})

	for tpl, completedAt := range map[*model.TaskTemplate]time.Time{
		stale: tuesdaySweep.AddDate(0, 0, -20),
		fresh: tuesdaySweep.AddDate(0, 0, -5),
	} {
		occ, err := env.occurrences.Create(env.db, store.OccurrenceParams{
			TemplateID:   tpl.ID,
			Points:       tpl.Points,
			DueAt:        completedAt,
			DistributeAt: completedAt,
		})
		if err != nil {
			t.Fatalf("create occurrence: %v", err)
		}
		if ok, err := env.occurrences.Complete(env.db, occ.ID, completedAt, false); !ok || err != nil {
			t.Fatalf("complete occurrence: ok=%v err=%v", ok, err)
		}
	}

	// Seeded grace is 14 days.
	if _, err := env.svc.DailySweep(context.Background(), tuesdaySweep); err != nil {
		t.Fatalf("daily sweep: %v", err)
	}

	got, _ := env.templates.GetByID(stale.ID)
	if !got.Archived || got.ArchivedAt == nil {
		t.Error("stale one-off not archived")
	}
	got, _ = env.templates.GetByID(fresh.ID)
	if got.Archived {
		t.Error("recently completed one-off archived early")
	}
}

func TestBadDescriptorIsolated(t *testing.T) {
	env := setupSchedulerTest(t)
	env.template(t, store.TemplateParams{Name: "Broken", Schedule: "fortnightly", Pool: true})
	good := env.template(t, store.TemplateParams{Name: "Dishes", Schedule: "daily", Pool: true})

	sum, err := env.svc.DailySweep(context.Background(), tuesdaySweep)
	if err != nil {
		t.Fatalf("daily sweep: %v", err)
	}
	if sum.ErrCount != 1 || sum.OKCount != 1 {
		t.Errorf("summary = %+v, want one failure and one creation", sum)
	}
	if occ, _ := env.occurrences.OpenByTemplate(env.db, good.ID); occ == nil {
		t.Error("healthy template starved by a broken one")
	}
}
