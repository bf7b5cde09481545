package points

import (
	"database/sql"
	"time"

	"github.com/evankirkwood/hearth/internal/fault"
	"github.com/evankirkwood/hearth/internal/model"
)

// SettleArcadeTx finalizes an approved arcade run inside the caller's
// transaction: the occurrence completes, exactly one Completion with a single
// CompletionShare carries the total (base plus bonus), and the dependent-task
// spawner runs as it would for an ordinary completion. When an earlier
// completion on the occurrence was undone, that record is revived instead of
// inserting a second one, keeping the arcade and ordinary paths reconcilable
// through the same ledger.
func (s *Service) SettleArcadeTx(tx *sql.Tx, occurrenceID, personID int64, total model.Centipoints, at time.Time) (*model.Completion, error) {
	occ, err := s.occurrences.GetByID(tx, occurrenceID)
	if err != nil {
		return nil, err
	}
	if occ == nil {
		return nil, fault.NotFound("occurrence", occurrenceID)
	}
	if !occ.Status.Open() {
		return nil, fault.Conflict(fault.CodeAlreadyCompleted, "occurrence %d is %s", occurrenceID, occ.Status)
	}

	tpl, err := s.templates.GetByIDTx(tx, occ.TemplateID)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, fault.NotFound("template", occ.TemplateID)
	}

	late := at.After(occ.DueAt)
	ok, err := s.occurrences.Complete(tx, occurrenceID, at, late)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fault.Conflict(fault.CodeAlreadyCompleted, "occurrence %d changed state during settlement", occurrenceID)
	}

	var completion *model.Completion
	undone, err := s.completions.UndoneByOccurrence(tx, occurrenceID)
	if err != nil {
		return nil, err
	}
	if undone != nil {
		if err := s.completions.Revive(tx, undone.ID, personID, at, late); err != nil {
			return nil, err
		}
		completion, err = s.completions.GetByID(tx, undone.ID)
		if err != nil {
			return nil, err
		}
	} else {
		completion, err = s.completions.Create(tx, occurrenceID, personID, at, late)
		if err != nil {
			return nil, err
		}
	}

	if err := s.completions.AddShare(tx, completion.ID, personID, total); err != nil {
		return nil, err
	}
	weekly, allTime, err := s.persons.ApplyDelta(tx, personID, total)
	if err != nil {
		return nil, err
	}
	if err := s.completions.AppendLedger(tx, model.LedgerEntry{
		PersonID:     personID,
		Delta:        total,
		WeeklyAfter:  weekly,
		AllTimeAfter: allTime,
		CompletionID: &completion.ID,
		Reason:       model.LedgerReasonArcade,
	}); err != nil {
		return nil, err
	}

	if err := s.rotation.Record(tx, tpl.ID, personID, s.localDate(at)); err != nil {
		return nil, err
	}

	if err := s.spawnChildren(tx, tpl, personID, at); err != nil {
		return nil, err
	}

	return completion, nil
}

// LedgerForPerson exposes recent ledger entries for a person.
func (s *Service) LedgerForPerson(personID int64, limit int) ([]model.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.completions.LedgerForPerson(personID, limit)
}
