package store

import (
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/evankirkwood/hearth/internal/model"
)

type PersonStore struct {
	db *sql.DB
}

func NewPersonStore(db *sql.DB) *PersonStore {
	return &PersonStore{db: db}
}

const personCols = `id, name, color, avatar_emoji, assignable, active, points_eligible,
	exclude_from_auto_assign, admin, pin_hash IS NOT NULL, daily_claims, daily_claims_date,
	weekly_balance, all_time_balance, sort_order, created_at, updated_at`

func scanPerson(scanner interface{ Scan(...any) error }) (*model.Person, error) {
	var p model.Person
	err := scanner.Scan(
		&p.ID, &p.Name, &p.Color, &p.AvatarEmoji, &p.Assignable, &p.Active,
		&p.PointsEligible, &p.ExcludeFromAutoAssign, &p.Admin, &p.HasPIN,
		&p.DailyClaims, &p.DailyClaimsDate, &p.WeeklyBalance, &p.AllTimeBalance,
		&p.SortOrder, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

type PersonParams struct {
	Name                  string
	Color                 string
	AvatarEmoji           string
	Assignable            bool
	Active                bool
	PointsEligible        bool
	ExcludeFromAutoAssign bool
	Admin                 bool
	SortOrder             int
}

func (s *PersonStore) Create(p PersonParams) (*model.Person, error) {
	result, err := s.db.Exec(
		`INSERT INTO persons (name, color, avatar_emoji, assignable, active, points_eligible,
			exclude_from_auto_assign, admin, sort_order)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.Color, p.AvatarEmoji, p.Assignable, p.Active, p.PointsEligible,
		p.ExcludeFromAutoAssign, p.Admin, p.SortOrder,
	)
	if err != nil {
		return nil, fmt.Errorf("insert person: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *PersonStore) GetByID(id int64) (*model.Person, error) {
	return getPerson(s.db, id)
}

// GetByIDTx reads a person inside an open transaction.
func (s *PersonStore) GetByIDTx(q Querier, id int64) (*model.Person, error) {
	return getPerson(q, id)
}

func getPerson(q Querier, id int64) (*model.Person, error) {
	row := q.QueryRow(`SELECT `+personCols+` FROM persons WHERE id = ?`, id)
	p, err := scanPerson(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get person: %w", err)
	}
	return p, nil
}

func (s *PersonStore) List() ([]model.Person, error) {
	return listPersons(s.db, `SELECT `+personCols+` FROM persons ORDER BY sort_order ASC, name ASC`)
}

// ListCandidates returns persons eligible for automatic pool assignment:
// assignable, active, and not excluded from auto-assign.
func (s *PersonStore) ListCandidates(q Querier) ([]model.Person, error) {
	return listPersons(q,
		`SELECT `+personCols+` FROM persons
		 WHERE assignable = 1 AND active = 1 AND exclude_from_auto_assign = 0
		 ORDER BY id ASC`)
}

// ListPointsEligible returns assignable, active persons who can earn points.
// This is the fallback credit set when the completer is points-ineligible.
func (s *PersonStore) ListPointsEligible(q Querier) ([]model.Person, error) {
	return listPersons(q,
		`SELECT `+personCols+` FROM persons
		 WHERE points_eligible = 1 AND assignable = 1 AND active = 1
		 ORDER BY id ASC`)
}

func listPersons(q Querier, query string, args ...any) ([]model.Person, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}
	defer rows.Close()

	var persons []model.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		persons = append(persons, *p)
	}
	return persons, rows.Err()
}

// SetPIN hashes and stores the person's PIN. An empty pin clears it.
func (s *PersonStore) SetPIN(id int64, pin string) error {
	if pin == "" {
		_, err := s.db.Exec(`UPDATE persons SET pin_hash = NULL, updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("clear pin: %w", err)
		}
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash pin: %w", err)
	}
	_, err = s.db.Exec(`UPDATE persons SET pin_hash = ?, updated_at = ? WHERE id = ?`, string(hash), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set pin: %w", err)
	}
	return nil
}

// VerifyPIN checks a PIN against the stored hash. A person with no PIN set
// verifies successfully with any input.
func (s *PersonStore) VerifyPIN(id int64, pin string) (bool, error) {
	var hash sql.NullString
	err := s.db.QueryRow(`SELECT pin_hash FROM persons WHERE id = ?`, id).Scan(&hash)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get pin hash: %w", err)
	}
	if !hash.Valid {
		return true, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(hash.String), []byte(pin)) == nil, nil
}

// IncrementDailyClaims bumps the person's claim counter for the given local
// date, rolling the counter over when the date has changed. Returns the new
// count.
func (s *PersonStore) IncrementDailyClaims(q Querier, personID int64, localDate string) (int, error) {
	_, err := q.Exec(
		`UPDATE persons
		 SET daily_claims = CASE WHEN daily_claims_date = ? THEN daily_claims + 1 ELSE 1 END,
		     daily_claims_date = ?,
		     updated_at = ?
		 WHERE id = ?`,
		localDate, localDate, time.Now().UTC(), personID,
	)
	if err != nil {
		return 0, fmt.Errorf("increment daily claims: %w", err)
	}
	var count int
	if err := q.QueryRow(`SELECT daily_claims FROM persons WHERE id = ?`, personID).Scan(&count); err != nil {
		return 0, fmt.Errorf("read daily claims: %w", err)
	}
	return count, nil
}

// DailyClaims returns the person's claim count for the given local date.
func (s *PersonStore) DailyClaims(q Querier, personID int64, localDate string) (int, error) {
	var count int
	var date string
	err := q.QueryRow(`SELECT daily_claims, daily_claims_date FROM persons WHERE id = ?`, personID).Scan(&count, &date)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read daily claims: %w", err)
	}
	if date != localDate {
		return 0, nil
	}
	return count, nil
}

// ResetDailyClaims zeroes every claim counter. Run by the daily sweep.
func (s *PersonStore) ResetDailyClaims(localDate string) error {
	_, err := s.db.Exec(
		`UPDATE persons SET daily_claims = 0, daily_claims_date = ? WHERE daily_claims_date != ?`,
		localDate, localDate,
	)
	if err != nil {
		return fmt.Errorf("reset daily claims: %w", err)
	}
	return nil
}

// ResetWeeklyBalances zeroes every weekly balance. Run on the first daily
// sweep of each week.
func (s *PersonStore) ResetWeeklyBalances() error {
	_, err := s.db.Exec(`UPDATE persons SET weekly_balance = 0, updated_at = ?`, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("reset weekly balances: %w", err)
	}
	return nil
}

// ApplyDelta adjusts a person's running balances and returns the values after
// the change. Must run inside the same transaction as the ledger insert.
func (s *PersonStore) ApplyDelta(q Querier, personID int64, delta model.Centipoints) (weekly, allTime model.Centipoints, err error) {
	_, err = q.Exec(
		`UPDATE persons SET weekly_balance = weekly_balance + ?, all_time_balance = all_time_balance + ?, updated_at = ?
		 WHERE id = ?`,
		int64(delta), int64(delta), time.Now().UTC(), personID,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("apply delta: %w", err)
	}
	err = q.QueryRow(`SELECT weekly_balance, all_time_balance FROM persons WHERE id = ?`, personID).
		Scan(&weekly, &allTime)
	if err != nil {
		return 0, 0, fmt.Errorf("read balances: %w", err)
	}
	return weekly, allTime, nil
}
