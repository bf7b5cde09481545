package arcade

import (
	"context"
	"database/sql"
	"time"

	"github.com/evankirkwood/hearth/internal/fault"
	"github.com/evankirkwood/hearth/internal/model"
	"github.com/evankirkwood/hearth/internal/notify"
	"github.com/evankirkwood/hearth/internal/store"
)

// Approve finalizes a stopped session: the elapsed time is ranked against
// every prior finalized time for the template, the bonus tier is derived
// from that ranking, and the total settles through the ordinary completion
// ledger. Judges cannot approve their own runs.
func (s *Service) Approve(ctx context.Context, sessionID, judgeID int64, judgePIN string, now time.Time) (*model.ArcadeScore, error) {
	session, err := s.verifyJudge(sessionID, judgeID, judgePIN)
	if err != nil {
		return nil, err
	}

	release, ok := s.locks.Acquire(ctx, session.OccurrenceID)
	if !ok {
		return nil, fault.Conflict(fault.CodeLockTimeout, "occurrence %d is busy", session.OccurrenceID)
	}
	defer release()

	var score *model.ArcadeScore
	var newRecord bool
	err = store.InTx(ctx, s.db, func(tx *sql.Tx) error {
		session, err := s.sessions.GetSession(tx, sessionID)
		if err != nil {
			return err
		}
		if session == nil {
			return fault.NotFound("arcade session", sessionID)
		}

		ok, err := s.sessions.Judge(tx, sessionID, judgeID, model.ArcadeApproved)
		if err != nil {
			return err
		}
		if !ok {
			return fault.Conflict(fault.CodeSessionNotStopped, "session %d is not stopped", sessionID)
		}

		occ, err := s.occurrences.GetByID(tx, session.OccurrenceID)
		if err != nil {
			return err
		}
		if occ == nil {
			return fault.NotFound("occurrence", session.OccurrenceID)
		}

		prior, err := s.sessions.ElapsedTimes(tx, occ.TemplateID)
		if err != nil {
			return err
		}
		tier := rankTier(prior, session.ElapsedMS)
		newRecord = tier == model.TierRecord && len(prior) > 0

		var rate float64
		switch tier {
		case model.TierRecord:
			rate = s.settings.GetFloat(model.SettingArcadeRecordBonusRate, 0.5)
		case model.TierTop3:
			rate = s.settings.GetFloat(model.SettingArcadeTop3BonusRate, 0.25)
		}
		bonus := model.Centipoints(float64(occ.Points) * rate)
		total := occ.Points + bonus

		score, err = s.sessions.AddScore(tx, model.ArcadeScore{
			SessionID:  sessionID,
			TemplateID: occ.TemplateID,
			PersonID:   session.PersonID,
			ElapsedMS:  session.ElapsedMS,
			Tier:       tier,
			Bonus:      bonus,
		})
		if err != nil {
			return err
		}

		_, err = s.points.SettleArcadeTx(tx, occ.ID, session.PersonID, total, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.bus.Publish(notify.EventChoreCompleted, session.OccurrenceID, session.PersonID, map[string]any{
		"arcade":     true,
		"elapsed_ms": score.ElapsedMS,
	})
	if newRecord {
		s.bus.Publish(notify.EventArcadeNewRecord, session.OccurrenceID, session.PersonID, map[string]any{
			"elapsed_ms": score.ElapsedMS,
		})
	}
	s.logger.Info("arcade session approved",
		"session_id", sessionID, "judge_id", judgeID, "tier", score.Tier, "elapsed_ms", score.ElapsedMS)
	return score, nil
}

// Deny sends a stopped session back to its owner, who may continue or
// cancel.
func (s *Service) Deny(ctx context.Context, sessionID, judgeID int64, judgePIN string, now time.Time) error {
	session, err := s.verifyJudge(sessionID, judgeID, judgePIN)
	if err != nil {
		return err
	}

	release, ok := s.locks.Acquire(ctx, session.OccurrenceID)
	if !ok {
		return fault.Conflict(fault.CodeLockTimeout, "occurrence %d is busy", session.OccurrenceID)
	}
	defer release()

	err = store.InTx(ctx, s.db, func(tx *sql.Tx) error {
		ok, err := s.sessions.Judge(tx, sessionID, judgeID, model.ArcadeDenied)
		if err != nil {
			return err
		}
		if !ok {
			return fault.Conflict(fault.CodeSessionNotStopped, "session %d is not stopped", sessionID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("arcade session denied", "session_id", sessionID, "judge_id", judgeID)
	return nil
}

// HighScores returns the template's ranked table.
func (s *Service) HighScores(templateID int64, limit int) ([]model.HighScoreEntry, error) {
	if templateID <= 0 {
		return nil, fault.Validation("template id must be positive")
	}
	if limit <= 0 {
		limit = 10
	}
	return s.sessions.HighScores(templateID, limit)
}

func (s *Service) verifyJudge(sessionID, judgeID int64, pin string) (*model.ArcadeSession, error) {
	if sessionID <= 0 || judgeID <= 0 {
		return nil, fault.Validation("session and judge ids must be positive")
	}

	session, err := s.sessions.GetSession(s.db, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fault.NotFound("arcade session", sessionID)
	}
	if session.PersonID == judgeID {
		return nil, fault.Policy(fault.CodeSelfJudge, "person %d cannot judge their own session", judgeID)
	}

	judge, err := s.persons.GetByID(judgeID)
	if err != nil {
		return nil, err
	}
	if judge == nil {
		return nil, fault.NotFound("person", judgeID)
	}
	if !judge.Active {
		return nil, fault.Policy(fault.CodePersonNotActive, "judge %d is not active", judgeID)
	}
	if judge.HasPIN {
		ok, err := s.persons.VerifyPIN(judgeID, pin)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fault.Policy(fault.CodeBadPIN, "judge PIN rejected")
		}
	}
	return session, nil
}

// rankTier places the new elapsed time among every prior finalized time,
// sorted ascending. Strictly faster than everything is a record; landing in
// the current top three earns the lesser tier; ties go to the earlier score.
func rankTier(prior []int64, elapsedMS int64) model.BonusTier {
	rank := 1
	for _, ms := range prior {
		if ms <= elapsedMS {
			rank++
		}
	}
	if rank == 1 {
		return model.TierRecord
	}
	if rank <= 3 {
		return model.TierTop3
	}
	return model.TierNone
}
