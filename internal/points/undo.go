package points

import (
	"context"
	"database/sql"
	"time"

	"github.com/evankirkwood/hearth/internal/fault"
	"github.com/evankirkwood/hearth/internal/model"
	"github.com/evankirkwood/hearth/internal/store"
)

// Undo reverses a completion: every share's delta gets a mirroring negative
// ledger entry, the occurrence reopens, and the completion is flagged undone.
// Nothing is deleted; the audit trail stays intact. Admin only, and only
// within the undo window measured from the completion time.
func (s *Service) Undo(ctx context.Context, completionID, actorID int64, now time.Time) error {
	if completionID <= 0 || actorID <= 0 {
		return fault.Validation("completion and actor ids must be positive")
	}

	actor, err := s.persons.GetByID(actorID)
	if err != nil {
		return err
	}
	if actor == nil {
		return fault.NotFound("person", actorID)
	}
	if !actor.Admin {
		return fault.Policy(fault.CodeAdminOnly, "undo requires an administrator")
	}

	// Read outside the lock just to learn which occurrence to lock; every
	// precondition is re-verified inside the transaction.
	completion, err := s.completions.GetByID(s.db, completionID)
	if err != nil {
		return err
	}
	if completion == nil {
		return fault.NotFound("completion", completionID)
	}

	release, ok := s.locks.Acquire(ctx, completion.OccurrenceID)
	if !ok {
		return fault.Conflict(fault.CodeLockTimeout, "occurrence %d is busy", completion.OccurrenceID)
	}
	defer release()

	windowHours := s.settings.GetInt(model.SettingUndoWindowHours, 24)

	err = store.InTx(ctx, s.db, func(tx *sql.Tx) error {
		completion, err := s.completions.GetByID(tx, completionID)
		if err != nil {
			return err
		}
		if completion == nil {
			return fault.NotFound("completion", completionID)
		}
		if completion.Undone {
			return fault.Conflict(fault.CodeAlreadyUndone, "completion %d is already undone", completionID)
		}
		if now.Sub(completion.CompletedAt) > time.Duration(windowHours)*time.Hour {
			return fault.Policy(fault.CodeUndoWindowExpired,
				"completion %d is outside the %dh undo window", completionID, windowHours)
		}

		occ, err := s.occurrences.GetByID(tx, completion.OccurrenceID)
		if err != nil {
			return err
		}
		if occ == nil {
			return fault.NotFound("occurrence", completion.OccurrenceID)
		}

		tpl, err := s.templates.GetByIDTx(tx, occ.TemplateID)
		if err != nil {
			return err
		}
		if tpl == nil {
			return fault.NotFound("template", occ.TemplateID)
		}

		ok, err := s.completions.MarkUndone(tx, completionID, actorID, now)
		if err != nil {
			return err
		}
		if !ok {
			return fault.Conflict(fault.CodeAlreadyUndone, "completion %d changed state during undo", completionID)
		}

		shares, err := s.completions.Shares(tx, completionID)
		if err != nil {
			return err
		}
		for _, share := range shares {
			weekly, allTime, err := s.persons.ApplyDelta(tx, share.PersonID, -share.Awarded)
			if err != nil {
				return err
			}
			if err := s.completions.AppendLedger(tx, model.LedgerEntry{
				PersonID:      share.PersonID,
				Delta:         -share.Awarded,
				WeeklyAfter:   weekly,
				AllTimeAfter:  allTime,
				CompletionID:  &completionID,
				Reason:        model.LedgerReasonUndo,
				ActorPersonID: &actorID,
			}); err != nil {
				return err
			}
		}

		completer := completion.CompletedBy
		ok, err = s.occurrences.Reopen(tx, occ.ID, tpl.Pool, &completer)
		if err != nil {
			return err
		}
		if !ok {
			return fault.Conflict(fault.CodeOccurrenceNotOpen, "occurrence %d changed state during undo", occ.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("completion undone", "completion_id", completionID, "actor_id", actorID)
	return nil
}

// Skip closes an open occurrence without credit, recording who skipped it
// and why.
func (s *Service) Skip(ctx context.Context, occurrenceID, actorID int64, note string, now time.Time) error {
	if occurrenceID <= 0 || actorID <= 0 {
		return fault.Validation("occurrence and actor ids must be positive")
	}

	release, ok := s.locks.Acquire(ctx, occurrenceID)
	if !ok {
		return fault.Conflict(fault.CodeLockTimeout, "occurrence %d is busy", occurrenceID)
	}
	defer release()

	err := store.InTx(ctx, s.db, func(tx *sql.Tx) error {
		occ, err := s.occurrences.GetByID(tx, occurrenceID)
		if err != nil {
			return err
		}
		if occ == nil {
			return fault.NotFound("occurrence", occurrenceID)
		}
		if !occ.Status.Open() {
			return fault.Conflict(fault.CodeOccurrenceNotOpen, "occurrence %d is %s", occurrenceID, occ.Status)
		}
		ok, err := s.occurrences.Skip(tx, occurrenceID, actorID, now, note)
		if err != nil {
			return err
		}
		if !ok {
			return fault.Conflict(fault.CodeOccurrenceNotOpen, "occurrence %d changed state during skip", occurrenceID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("occurrence skipped", "occurrence_id", occurrenceID, "actor_id", actorID)
	return nil
}
