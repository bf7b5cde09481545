package store

import (
	"testing"
	"time"

	"github.com/evankirkwood/hearth/internal/model"
)

func setupArcadeTest(t *testing.T) (*ArcadeStore, *model.Occurrence, *model.Person) {
	t.Helper()
	db := setupTestDB(t)
	ts := NewTemplateStore(db)
	os := NewOccurrenceStore(db)
	ps := NewPersonStore(db)

	tpl := testTemplate(t, ts, "Sweep Garage", "daily", 800)
	occ := testOccurrence(t, os, tpl, time.Now().Add(time.Hour))
	p := testPerson(t, ps, "Runner")
	return NewArcadeStore(db), occ, p
}

func TestActiveSessionPerPersonIsUnique(t *testing.T) {
	as, occ, p := setupArcadeTest(t)
	db := as.db

	if _, err := as.CreateSession(db, occ.ID, p.ID, time.Now(), true); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := as.CreateSession(db, occ.ID, p.ID, time.Now(), false); err == nil {
		t.Fatal("second active session accepted")
	}
}

func TestStopAccumulatesElapsed(t *testing.T) {
	as, occ, p := setupArcadeTest(t)
	db := as.db

	start := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	sess, err := as.CreateSession(db, occ.ID, p.ID, start, false)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	ok, err := as.Stop(db, sess.ID, start.Add(5*time.Second))
	if err != nil || !ok {
		t.Fatalf("stop = %v, %v", ok, err)
	}
	got, _ := as.GetSession(db, sess.ID)
	if got.State != model.ArcadeStopped {
		t.Errorf("state = %s, want stopped", got.State)
	}
	if got.ElapsedMS < 4990 || got.ElapsedMS > 5010 {
		t.Errorf("elapsed = %dms, want ~5000", got.ElapsedMS)
	}

	// Stopping again is a no-op; the clock only runs while active.
	if ok, _ := as.Stop(db, sess.ID, start.Add(time.Minute)); ok {
		t.Error("stop succeeded on a stopped session")
	}
}

func TestDeniedResumeAccumulates(t *testing.T) {
	as, occ, p := setupArcadeTest(t)
	db := as.db

	start := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	sess, _ := as.CreateSession(db, occ.ID, p.ID, start, false)
	if ok, _ := as.Stop(db, sess.ID, start.Add(5*time.Second)); !ok {
		t.Fatal("stop failed")
	}
	if ok, err := as.Judge(db, sess.ID, 99, model.ArcadeDenied); err != nil || !ok {
		t.Fatalf("deny = %v, %v", ok, err)
	}

	resumeAt := start.Add(time.Minute)
	ok, err := as.Resume(db, sess.ID, resumeAt)
	if err != nil || !ok {
		t.Fatalf("resume = %v, %v", ok, err)
	}
	got, _ := as.GetSession(db, sess.ID)
	if got.State != model.ArcadeActive || got.Attempts != 2 {
		t.Errorf("state = %s attempts = %d, want active/2", got.State, got.Attempts)
	}
	if got.JudgeID != nil {
		t.Error("judge not cleared on resume")
	}

	// A second stop adds to, never resets, the accumulated time.
	if ok, _ := as.Stop(db, sess.ID, resumeAt.Add(3*time.Second)); !ok {
		t.Fatal("second stop failed")
	}
	got, _ = as.GetSession(db, sess.ID)
	if got.ElapsedMS < 7990 || got.ElapsedMS > 8010 {
		t.Errorf("elapsed = %dms, want ~8000", got.ElapsedMS)
	}
}

func TestJudgeRequiresStopped(t *testing.T) {
	as, occ, p := setupArcadeTest(t)
	db := as.db

	sess, _ := as.CreateSession(db, occ.ID, p.ID, time.Now(), false)
	if ok, _ := as.Judge(db, sess.ID, 99, model.ArcadeApproved); ok {
		t.Error("approved an active session")
	}
}

func TestHighScoresRankFastestFirst(t *testing.T) {
	db := setupTestDB(t)
	ts := NewTemplateStore(db)
	os := NewOccurrenceStore(db)
	ps := NewPersonStore(db)
	as := NewArcadeStore(db)

	tpl := testTemplate(t, ts, "Race", "daily", 500)
	occ := testOccurrence(t, os, tpl, time.Now().Add(time.Hour))
	a := testPerson(t, ps, "A")
	b := testPerson(t, ps, "B")

	sess, _ := as.CreateSession(db, occ.ID, a.ID, time.Now(), false)
	for _, sc := range []model.ArcadeScore{
		{SessionID: sess.ID, TemplateID: tpl.ID, PersonID: a.ID, ElapsedMS: 9000, Tier: model.TierRecord},
		{SessionID: sess.ID, TemplateID: tpl.ID, PersonID: b.ID, ElapsedMS: 7000, Tier: model.TierRecord},
		{SessionID: sess.ID, TemplateID: tpl.ID, PersonID: a.ID, ElapsedMS: 8000, Tier: model.TierTop3},
	} {
		if _, err := as.AddScore(db, sc); err != nil {
			t.Fatalf("add score: %v", err)
		}
	}

	times, err := as.ElapsedTimes(db, tpl.ID)
	if err != nil {
		t.Fatalf("elapsed times: %v", err)
	}
	if len(times) != 3 || times[0] != 7000 || times[2] != 9000 {
		t.Errorf("times = %v, want ascending", times)
	}

	scores, err := as.HighScores(tpl.ID, 2)
	if err != nil {
		t.Fatalf("high scores: %v", err)
	}
	if len(scores) != 2 {
		t.Fatalf("scores = %d, want 2", len(scores))
	}
	if scores[0].Rank != 1 || scores[0].PersonID != b.ID || scores[0].ElapsedMS != 7000 {
		t.Errorf("first = %+v", scores[0])
	}
	if scores[1].Rank != 2 || scores[1].PersonID != a.ID {
		t.Errorf("second = %+v", scores[1])
	}
}
