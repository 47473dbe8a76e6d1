package kv

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3" // SQLite database driver.
	"zgo.at/errors"
)

const schemaSQLite = `create table if not exists kv (
	key   text primary key not null,
	value text not null
)`

// SQLite stores keys in the "kv" table of a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens the database in path, creating the file and table if needed.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_journal_mode=wal&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "kv.NewSQLite")
	}
	if _, err := db.ExecContext(ctx, schemaSQLite); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "kv.NewSQLite: creating table in %q", path)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `select value from kv where key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "kv.SQLite.Get %q", key)
	}
	return v, true, nil
}

func (s *SQLite) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `insert into kv (key, value) values (?, ?)
		on conflict(key) do update set value=excluded.value`, key, value)
	return errors.Wrapf(err, "kv.SQLite.Set %q", key)
}

func (s *SQLite) Close() error { return s.db.Close() }
