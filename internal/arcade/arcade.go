// Package arcade implements the timed, judge-approved completion path.
//
// State machine:
//
//	Active  --stop-->     Stopped
//	Stopped --approve-->  Approved   (terminal; settles points, records score)
//	Stopped --deny-->     Denied
//	Denied  --continue--> Active     (attempt++, elapsed time accumulates)
//	Active/Stopped --cancel--> Cancelled (terminal; pool claims are returned)
//
// Judging requires a person other than the session owner. A person holds at
// most one active session at a time.
package arcade

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/evankirkwood/hearth/internal/fault"
	"github.com/evankirkwood/hearth/internal/locks"
	"github.com/evankirkwood/hearth/internal/model"
	"github.com/evankirkwood/hearth/internal/notify"
	"github.com/evankirkwood/hearth/internal/points"
	"github.com/evankirkwood/hearth/internal/store"
)

type Service struct {
	db          *sql.DB
	occurrences *store.OccurrenceStore
	templates   *store.TemplateStore
	persons     *store.PersonStore
	sessions    *store.ArcadeStore
	settings    *store.SettingsStore
	points      *points.Service
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
	sessions *store.ArcadeStore,
	settings *store.SettingsStore,
	pointsSvc *points.Service,
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
		sessions:    sessions,
		settings:    settings,
		points:      pointsSvc,
		locks:       keyed,
		bus:         bus,
		loc:         loc,
		logger:      logger,
	}
}

// Start opens a timed session on an occurrence. A pool occurrence is claimed
// first, counting against the person's daily claim limit.
func (s *Service) Start(ctx context.Context, occurrenceID, personID int64, now time.Time) (*model.ArcadeSession, error) {
	if occurrenceID <= 0 || personID <= 0 {
		return nil, fault.Validation("occurrence and person ids must be positive")
	}

	release, ok := s.locks.Acquire(ctx, occurrenceID)
	if !ok {
		return nil, fault.Conflict(fault.CodeLockTimeout, "occurrence %d is busy", occurrenceID)
	}
	defer release()

	limit := s.settings.GetInt(model.SettingDailyClaimLimit, 0)
	localDay := now.In(s.loc).Format("2006-01-02")

	var session *model.ArcadeSession
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

		active, err := s.sessions.ActiveSessionForPerson(tx, personID)
		if err != nil {
			return err
		}
		if active != nil {
			return fault.Conflict(fault.CodeSessionActiveElse,
				"person %d already has active session %d", personID, active.ID)
		}

		occ, err := s.occurrences.GetByID(tx, occurrenceID)
		if err != nil {
			return err
		}
		if occ == nil {
			return fault.NotFound("occurrence", occurrenceID)
		}

		claimedFromPool := false
		switch occ.Status {
		case model.StatusPool:
			count, err := s.persons.IncrementDailyClaims(tx, personID, localDay)
			if err != nil {
				return err
			}
			if limit > 0 && count > limit {
				return fault.Policy(fault.CodeDailyClaimLimit,
					"person %d reached the daily claim limit of %d", personID, limit)
			}
			ok, err := s.occurrences.Assign(tx, occurrenceID, personID, model.ReasonClaimed, now)
			if err != nil {
				return err
			}
			if !ok {
				return fault.Conflict(fault.CodeOccurrenceTaken, "occurrence %d changed state during claim", occurrenceID)
			}
			claimedFromPool = true
		case model.StatusAssigned:
			if occ.AssigneeID == nil || *occ.AssigneeID != personID {
				return fault.Conflict(fault.CodeOccurrenceTaken,
					"occurrence %d is assigned to someone else", occurrenceID)
			}
		default:
			return fault.Conflict(fault.CodeOccurrenceNotOpen, "occurrence %d is %s", occurrenceID, occ.Status)
		}

		session, err = s.sessions.CreateSession(tx, occurrenceID, personID, now, claimedFromPool)
		return err
	})
	if err != nil {
		return nil, err
	}

	if session.ClaimedFromPool {
		s.bus.Publish(notify.EventChoreClaimed, occurrenceID, personID, map[string]any{"arcade": true})
	}
	s.logger.Info("arcade session started", "session_id", session.ID, "occurrence_id", occurrenceID, "person_id", personID)
	return session, nil
}

// Stop halts the clock; the run now waits for a judge.
func (s *Service) Stop(ctx context.Context, sessionID, actorID int64, now time.Time) error {
	return s.ownerTransition(ctx, sessionID, actorID, func(tx *sql.Tx, session *model.ArcadeSession) error {
		ok, err := s.sessions.Stop(tx, sessionID, now)
		if err != nil {
			return err
		}
		if !ok {
			return fault.Conflict(fault.CodeSessionNotActive, "session %d is not active", sessionID)
		}
		return nil
	})
}

// Continue resumes a denied session; the attempt counter increments and the
// previously accumulated time stands.
func (s *Service) Continue(ctx context.Context, sessionID, actorID int64, now time.Time) error {
	return s.ownerTransition(ctx, sessionID, actorID, func(tx *sql.Tx, session *model.ArcadeSession) error {
		ok, err := s.sessions.Resume(tx, sessionID, now)
		if err != nil {
			return err
		}
		if !ok {
			return fault.Conflict(fault.CodeSessionNotDenied, "session %d is not denied", sessionID)
		}
		return nil
	})
}

// Cancel abandons an active or stopped session. A pool occurrence claimed
// for the session goes back to the pool. Approved sessions cannot be
// cancelled.
func (s *Service) Cancel(ctx context.Context, sessionID, actorID int64, now time.Time) error {
	return s.ownerTransition(ctx, sessionID, actorID, func(tx *sql.Tx, session *model.ArcadeSession) error {
		if session.State.Terminal() {
			return fault.Conflict(fault.CodeSessionTerminal, "session %d is %s", sessionID, session.State)
		}
		ok, err := s.sessions.Transition(tx, sessionID, model.ArcadeActive, model.ArcadeCancelled)
		if err != nil {
			return err
		}
		if !ok {
			ok, err = s.sessions.Transition(tx, sessionID, model.ArcadeStopped, model.ArcadeCancelled)
			if err != nil {
				return err
			}
		}
		if !ok {
			return fault.Conflict(fault.CodeSessionTerminal,
				"session %d cannot be cancelled from %s", sessionID, session.State)
		}

		if session.ClaimedFromPool {
			if _, err := s.occurrences.ReturnToPool(tx, session.OccurrenceID); err != nil {
				return err
			}
		}
		return nil
	})
}

// ownerTransition runs fn under the occurrence lock after verifying the
// actor owns the session.
func (s *Service) ownerTransition(ctx context.Context, sessionID, actorID int64, fn func(*sql.Tx, *model.ArcadeSession) error) error {
	if sessionID <= 0 || actorID <= 0 {
		return fault.Validation("session and actor ids must be positive")
	}

	session, err := s.sessions.GetSession(s.db, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return fault.NotFound("arcade session", sessionID)
	}
	if session.PersonID != actorID {
		return fault.Policy(fault.CodeNotSessionOwner, "session %d belongs to person %d", sessionID, session.PersonID)
	}

	release, ok := s.locks.Acquire(ctx, session.OccurrenceID)
	if !ok {
		return fault.Conflict(fault.CodeLockTimeout, "occurrence %d is busy", session.OccurrenceID)
	}
	defer release()

	return store.InTx(ctx, s.db, func(tx *sql.Tx) error {
		session, err := s.sessions.GetSession(tx, sessionID)
		if err != nil {
			return err
		}
		if session == nil {
			return fault.NotFound("arcade session", sessionID)
		}
		return fn(tx, session)
	})
}
