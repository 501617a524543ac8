package utils

import (
	"database/sql"
	"errors"

	_ "github.com/lib/pq"
)

var ErrNoDSN = errors.New("postgres dsn not configured")

func OpenPostgres(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, ErrNoDSN
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return db, nil
}
