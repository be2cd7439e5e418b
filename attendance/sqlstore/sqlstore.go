// Package sqlstore is an attendance.Repository over database/sql, using
// PostgreSQL (lib/pq) or SQLite (modernc.org/sqlite).
package sqlstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"rollcall/attendance"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS students (
		id      TEXT PRIMARY KEY,
		name    TEXT NOT NULL,
		card_id TEXT UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS check_ins (
		id         TEXT PRIMARY KEY,
		student_id TEXT NOT NULL REFERENCES students (id),
		card_id    TEXT NOT NULL DEFAULT '',
		source     TEXT NOT NULL,
		day        TEXT NOT NULL,
		checked_at TIMESTAMP NOT NULL,
		UNIQUE (student_id, day)
	)`,
	`CREATE INDEX IF NOT EXISTS check_ins_day ON check_ins (day)`,
}

type Store struct {
	db *sqlx.DB
}

// Open connects with driver and dsn, waits for the database and creates the
// schema.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, errors.Errorf("unsupported database driver %q", driver)
	}

	if driver == DriverSQLite && !strings.Contains(dsn, "_time_format") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_time_format=sqlite"
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if driver == DriverSQLite {
		// one writer keeps SQLite from returning SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}
	if err := ping(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// ping waits for the database to be ready. Waits 100ms longer between each attempt.
func ping(ctx context.Context, db *sqlx.DB) error {
	var err error
	maxAttempts := 10
	for attempts := 1; attempts <= maxAttempts; attempts++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "DB ping")
		case <-time.After(time.Duration(attempts) * 100 * time.Millisecond):
		}
	}
	return errors.Wrap(err, "DB ping timeout")
}

func (s *Store) migrate(ctx context.Context) error {
	for _, q := range schema {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return errors.Wrap(err, "creating schema")
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// queryer is satisfied by *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

type studentRow struct {
	ID     string         `db:"id"`
	Name   string         `db:"name"`
	CardID sql.NullString `db:"card_id"`
}

func (r studentRow) student() attendance.Student {
	return attendance.Student{ID: r.ID, Name: r.Name, CardID: r.CardID.String}
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *Store) StudentByCard(ctx context.Context, cardID string) (attendance.Student, error) {
	var row studentRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT id, name, card_id FROM students WHERE card_id = ?`), cardID)
	if errors.Is(err, sql.ErrNoRows) {
		return attendance.Student{}, attendance.ErrUnknownCard
	}
	if err != nil {
		return attendance.Student{}, errors.Wrap(err, "query student by card")
	}
	return row.student(), nil
}

func (s *Store) StudentByID(ctx context.Context, id string) (attendance.Student, error) {
	return studentByID(ctx, s.db, id)
}

func studentByID(ctx context.Context, q queryer, id string) (attendance.Student, error) {
	var row studentRow
	err := sqlx.GetContext(ctx, q, &row, q.Rebind(`SELECT id, name, card_id FROM students WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return attendance.Student{}, attendance.ErrUnknownStudent
	}
	if err != nil {
		return attendance.Student{}, errors.Wrap(err, "query student")
	}
	return row.student(), nil
}

// cardOwner returns the id of the student holding cardID, or "".
func cardOwner(ctx context.Context, q queryer, cardID string) (string, error) {
	var id string
	err := sqlx.GetContext(ctx, q, &id, q.Rebind(`SELECT id FROM students WHERE card_id = ?`), cardID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, errors.Wrap(err, "query card owner")
}

func (s *Store) SaveStudent(ctx context.Context, st attendance.Student) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if st.CardID != "" {
			owner, err := cardOwner(ctx, tx, st.CardID)
			if err != nil {
				return err
			}
			if owner != "" && owner != st.ID {
				return attendance.ErrCardInUse
			}
		}
		_, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO students (id, name, card_id) VALUES (?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET name = excluded.name, card_id = excluded.card_id`),
			st.ID, st.Name, nullable(st.CardID))
		return errors.Wrap(err, "save student")
	})
}

func (s *Store) AssignCard(ctx context.Context, studentID, cardID string) (attendance.Student, error) {
	var st attendance.Student
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if st, err = studentByID(ctx, tx, studentID); err != nil {
			return err
		}
		owner, err := cardOwner(ctx, tx, cardID)
		if err != nil {
			return err
		}
		if owner != "" && owner != studentID {
			return attendance.ErrCardInUse
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE students SET card_id = ? WHERE id = ?`), cardID, studentID); err != nil {
			return errors.Wrap(err, "assign card")
		}
		st.CardID = cardID
		return nil
	})
	return st, err
}

const checkInColumns = `c.id, c.student_id, s.name AS student_name, c.card_id, c.source, c.day, c.checked_at`

// AddCheckIn inserts c unless the student already has a check-in for c.Day,
// in which case the existing record is returned with ErrAlreadyCheckedIn.
func (s *Store) AddCheckIn(ctx context.Context, c attendance.CheckIn) (attendance.CheckIn, error) {
	var out attendance.CheckIn
	var dup bool
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		st, err := studentByID(ctx, tx, c.StudentID)
		if err != nil {
			return err
		}

		c.CheckedAt = c.CheckedAt.UTC()
		res, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO check_ins (id, student_id, card_id, source, day, checked_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (student_id, day) DO NOTHING`),
			c.ID, c.StudentID, c.CardID, c.Source, c.Day, c.CheckedAt)
		if err != nil {
			return errors.Wrap(err, "insert check-in")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "insert check-in")
		}
		if n > 0 {
			c.StudentName = st.Name
			out = c
			return nil
		}

		dup = true
		err = tx.GetContext(ctx, &out, tx.Rebind(`SELECT `+checkInColumns+`
			FROM check_ins c JOIN students s ON s.id = c.student_id
			WHERE c.student_id = ? AND c.day = ?`), c.StudentID, c.Day)
		return errors.Wrap(err, "query check-in")
	})
	if err != nil {
		return attendance.CheckIn{}, err
	}
	if dup {
		return out, attendance.ErrAlreadyCheckedIn
	}
	return out, nil
}

func (s *Store) CheckIns(ctx context.Context, day string) ([]attendance.CheckIn, error) {
	out := make([]attendance.CheckIn, 0)
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`SELECT `+checkInColumns+`
		FROM check_ins c JOIN students s ON s.id = c.student_id
		WHERE c.day = ? ORDER BY c.checked_at`), day)
	if err != nil {
		return nil, errors.Wrap(err, "query check-ins")
	}
	return out, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "commit")
}
