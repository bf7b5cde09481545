package assign

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/evankirkwood/hearth/internal/database"
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
	rotation    *store.RotationStore
}

func setupAssignTest(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		db:          db,
		occurrences: store.NewOccurrenceStore(db),
		templates:   store.NewTemplateStore(db),
		persons:     store.NewPersonStore(db),
		rotation:    store.NewRotationStore(db),
	}
	env.svc = NewService(env.occurrences, env.templates, env.persons, env.rotation,
		locks.New(2*time.Second), notify.NewBus(logger), time.UTC, logger)
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

func (e *testEnv) template(t *testing.T, name string, undesirable, difficult bool) *model.TaskTemplate {
	t.Helper()
	tpl, err := e.templates.Create(store.TemplateParams{
		Name:        name,
		Points:      500,
		Pool:        true,
		Undesirable: undesirable,
		Difficult:   difficult,
		Schedule:    "daily",
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	return tpl
}

func (e *testEnv) occurrence(t *testing.T, tpl *model.TaskTemplate, due time.Time) *model.Occurrence {
	t.Helper()
	occ, err := e.occurrences.Create(e.db, store.OccurrenceParams{
		TemplateID:   tpl.ID,
		Points:       tpl.Points,
		DueAt:        due,
		DistributeAt: due.Add(-6 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create occurrence: %v", err)
	}
	return occ
}

var assignNow = time.Date(2026, 3, 3, 18, 0, 0, 0, time.UTC) // Tuesday

func TestAssignPrefersNeverCompleted(t *testing.T) {
	env := setupAssignTest(t)
	a := env.person(t, "A")
	b := env.person(t, "B")
	tpl := env.template(t, "Dishes", false, false)
	occ := env.occurrence(t, tpl, assignNow.Add(6*time.Hour))

	// A completed yesterday; B never has.
	if err := env.rotation.Record(env.db, tpl.ID, a.ID, "2026-03-02"); err != nil {
		t.Fatalf("record rotation: %v", err)
	}

	outcome, err := env.svc.Assign(context.Background(), occ.ID, assignNow)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if outcome.Kind != Assigned || outcome.PersonID != b.ID {
		t.Fatalf("outcome = %+v, want B assigned", outcome)
	}

	got, _ := env.occurrences.GetByID(env.db, occ.ID)
	if got.Status != model.StatusAssigned || got.AssignReason != model.ReasonAuto {
		t.Errorf("occurrence = %s/%s, want assigned/auto", got.Status, got.AssignReason)
	}
}

func TestAssignOldestDateWins(t *testing.T) {
	env := setupAssignTest(t)
	a := env.person(t, "A")
	b := env.person(t, "B")
	tpl := env.template(t, "Vacuum", false, false)
	occ := env.occurrence(t, tpl, assignNow.Add(6*time.Hour))

	env.rotation.Record(env.db, tpl.ID, a.ID, "2026-02-20")
	env.rotation.Record(env.db, tpl.ID, b.ID, "2026-02-25")

	outcome, err := env.svc.Assign(context.Background(), occ.ID, assignNow)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if outcome.PersonID != a.ID {
		t.Errorf("assigned %d, want A (older date)", outcome.PersonID)
	}
}

func TestAssignTieBreaksOnLowestID(t *testing.T) {
	env := setupAssignTest(t)
	a := env.person(t, "A")
	env.person(t, "B")
	tpl := env.template(t, "Trash", false, false)
	occ := env.occurrence(t, tpl, assignNow.Add(6*time.Hour))

	outcome, err := env.svc.Assign(context.Background(), occ.ID, assignNow)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if outcome.PersonID != a.ID {
		t.Errorf("assigned %d, want lowest id %d", outcome.PersonID, a.ID)
	}
}

func TestAssignRotationBlocked(t *testing.T) {
	env := setupAssignTest(t)
	a := env.person(t, "A")
	b := env.person(t, "B")
	tpl := env.template(t, "Litterbox", false, false)
	occ := env.occurrence(t, tpl, assignNow.Add(6*time.Hour))

	env.rotation.Record(env.db, tpl.ID, a.ID, "2026-03-02")
	env.rotation.Record(env.db, tpl.ID, b.ID, "2026-03-02")

	outcome, err := env.svc.Assign(context.Background(), occ.ID, assignNow)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if outcome.Kind != RotationBlocked {
		t.Fatalf("outcome = %v, want RotationBlocked", outcome.Kind)
	}

	got, _ := env.occurrences.GetByID(env.db, occ.ID)
	if got.Status != model.StatusPool {
		t.Errorf("status = %s, want pool", got.Status)
	}
	if got.AssignReason != model.ReasonAllCompletedYday {
		t.Errorf("reason = %s", got.AssignReason)
	}
}

func TestAssignNoEligible(t *testing.T) {
	env := setupAssignTest(t)
	tpl := env.template(t, "Gutters", false, false)
	occ := env.occurrence(t, tpl, assignNow.Add(6*time.Hour))

	outcome, err := env.svc.Assign(context.Background(), occ.ID, assignNow)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if outcome.Kind != NoEligible {
		t.Fatalf("outcome = %v, want NoEligible", outcome.Kind)
	}
	got, _ := env.occurrences.GetByID(env.db, occ.ID)
	if got.AssignReason != model.ReasonNoneEligible {
		t.Errorf("reason = %s", got.AssignReason)
	}
}

func TestAssignUndesirableEligibilityList(t *testing.T) {
	env := setupAssignTest(t)
	env.person(t, "A")
	b := env.person(t, "B")
	tpl := env.template(t, "Scrub Toilet", true, false)
	occ := env.occurrence(t, tpl, assignNow.Add(6*time.Hour))

	if err := env.templates.SetEligibility(tpl.ID, []int64{b.ID}); err != nil {
		t.Fatalf("set eligibility: %v", err)
	}

	outcome, err := env.svc.Assign(context.Background(), occ.ID, assignNow)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if outcome.PersonID != b.ID {
		t.Errorf("assigned %d, want eligibility-listed %d", outcome.PersonID, b.ID)
	}
}

func TestAssignDifficultLimit(t *testing.T) {
	env := setupAssignTest(t)
	a := env.person(t, "A")
	b := env.person(t, "B")

	// A already holds a difficult chore due today.
	heldTpl := env.template(t, "Deep Clean", false, true)
	held := env.occurrence(t, heldTpl, assignNow.Add(2*time.Hour))
	if ok, _ := env.occurrences.Assign(env.db, held.ID, a.ID, model.ReasonAuto, assignNow); !ok {
		t.Fatal("seed assignment failed")
	}

	tpl := env.template(t, "Declutter", false, true)
	occ := env.occurrence(t, tpl, assignNow.Add(6*time.Hour))

	outcome, err := env.svc.Assign(context.Background(), occ.ID, assignNow)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if outcome.PersonID != b.ID {
		t.Errorf("assigned %d, want B (A holds difficult)", outcome.PersonID)
	}
}

func TestAssignDifficultLimitBlocked(t *testing.T) {
	env := setupAssignTest(t)
	a := env.person(t, "A")

	heldTpl := env.template(t, "Deep Clean", false, true)
	held := env.occurrence(t, heldTpl, assignNow.Add(2*time.Hour))
	if ok, _ := env.occurrences.Assign(env.db, held.ID, a.ID, model.ReasonAuto, assignNow); !ok {
		t.Fatal("seed assignment failed")
	}

	tpl := env.template(t, "Declutter", false, true)
	occ := env.occurrence(t, tpl, assignNow.Add(6*time.Hour))

	outcome, err := env.svc.Assign(context.Background(), occ.ID, assignNow)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if outcome.Kind != DifficultLimitBlocked {
		t.Fatalf("outcome = %v, want DifficultLimitBlocked", outcome.Kind)
	}
	got, _ := env.occurrences.GetByID(env.db, occ.ID)
	if got.AssignReason != model.ReasonDifficultLimit {
		t.Errorf("reason = %s", got.AssignReason)
	}
}

func TestAssignNonPoolOccurrenceConflicts(t *testing.T) {
	env := setupAssignTest(t)
	a := env.person(t, "A")
	tpl := env.template(t, "Dust", false, false)
	occ := env.occurrence(t, tpl, assignNow.Add(6*time.Hour))

	if ok, _ := env.occurrences.Assign(env.db, occ.ID, a.ID, model.ReasonClaimed, assignNow); !ok {
		t.Fatal("seed claim failed")
	}
	if _, err := env.svc.Assign(context.Background(), occ.ID, assignNow); err == nil {
		t.Error("assigning a claimed occurrence succeeded")
	}
}
