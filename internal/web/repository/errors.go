package repository

import (
	"database/sql"
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound   = errors.New("record not found")
	ErrDuplicate  = errors.New("record already exists")
	ErrForeignKey = errors.New("referenced record does not exist")
)

// translate maps driver errors onto the repository error set.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return errors.Join(ErrDuplicate, err)
		case sqlite3.ErrConstraintForeignKey:
			return errors.Join(ErrForeignKey, err)
		}
	}
	return err
}

func isDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// now returns the timestamp stored on writes. UTC keeps the textual
// representation sortable inside SQLite.
func now() time.Time {
	return time.Now().UTC()
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func rowsAffected(res sql.Result, err error) error {
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s sql.NullString) []byte {
	if !s.Valid || s.String == "" {
		return nil
	}
	return []byte(s.String)
}
