package store

import (
	"database/sql"
	"testing"
	"time"

	"github.com/evankirkwood/hearth/internal/database"
	"github.com/evankirkwood/hearth/internal/model"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testPerson(t *testing.T, ps *PersonStore, name string) *model.Person {
	t.Helper()
	p, err := ps.Create(PersonParams{
		Name:           name,
		Assignable:     true,
		Active:         true,
		PointsEligible: true,
	})
	if err != nil {
		t.Fatalf("create person %s: %v", name, err)
	}
	return p
}

func testTemplate(t *testing.T, ts *TemplateStore, name, schedule string, points model.Centipoints) *model.TaskTemplate {
	t.Helper()
	tpl, err := ts.Create(TemplateParams{
		Name:     name,
		Points:   points,
		Pool:     true,
		Schedule: schedule,
	})
	if err != nil {
		t.Fatalf("create template %s: %v", name, err)
	}
	return tpl
}

func testOccurrence(t *testing.T, os *OccurrenceStore, tpl *model.TaskTemplate, due time.Time) *model.Occurrence {
	t.Helper()
	occ, err := os.Create(os.DB(), OccurrenceParams{
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
