package store

import (
	"testing"
)

func TestRotationKeepsNewestDate(t *testing.T) {
	db := setupTestDB(t)
	ts := NewTemplateStore(db)
	ps := NewPersonStore(db)
	rs := NewRotationStore(db)

	tpl := testTemplate(t, ts, "Compost", "daily", 100)
	p := testPerson(t, ps, "A")

	if err := rs.Record(db, tpl.ID, p.ID, "2026-03-02"); err != nil {
		t.Fatalf("record: %v", err)
	}
	// An older date never overwrites a newer one; undo depends on this.
	if err := rs.Record(db, tpl.ID, p.ID, "2026-02-20"); err != nil {
		t.Fatalf("record older: %v", err)
	}

	state, err := rs.LastCompleted(db, tpl.ID)
	if err != nil {
		t.Fatalf("last completed: %v", err)
	}
	if state[p.ID] != "2026-03-02" {
		t.Errorf("last completed = %q, want 2026-03-02", state[p.ID])
	}

	if err := rs.Record(db, tpl.ID, p.ID, "2026-03-04"); err != nil {
		t.Fatalf("record newer: %v", err)
	}
	state, _ = rs.LastCompleted(db, tpl.ID)
	if state[p.ID] != "2026-03-04" {
		t.Errorf("last completed = %q, want 2026-03-04", state[p.ID])
	}
}
