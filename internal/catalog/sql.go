package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/docstore/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/sqlite"
)

// PostgresSchema creates the catalog table on Postgres.
var PostgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS files (
		id         BIGSERIAL PRIMARY KEY,
		name       TEXT NOT NULL UNIQUE,
		path       TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// SQLiteSchema creates the catalog table on SQLite.
var SQLiteSchema = []string{
	`CREATE TABLE IF NOT EXISTS files (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		name       TEXT NOT NULL UNIQUE,
		path       TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

// SQLStore is a Store backed by database/sql. Queries are written with
// Postgres $N placeholders and rebound for SQLite.
type SQLStore struct {
	db     *sql.DB
	rebind func(string) string
}

// NewPostgres migrates the schema and returns a Store over client.
func NewPostgres(ctx context.Context, client *postgres.Client) (*SQLStore, error) {
	if err := client.Migrate(ctx, PostgresSchema...); err != nil {
		return nil, fmt.Errorf("migrating postgres catalog: %w", err)
	}
	return &SQLStore{db: client.DB, rebind: func(q string) string { return q }}, nil
}

// NewSQLite migrates the schema and returns a Store over client.
func NewSQLite(ctx context.Context, client *sqlite.Client) (*SQLStore, error) {
	if err := client.Migrate(ctx, SQLiteSchema...); err != nil {
		return nil, fmt.Errorf("migrating sqlite catalog: %w", err)
	}
	return &SQLStore{db: client.DB, rebind: sqliteRebind}, nil
}

// sqliteRebind turns $N into SQLite's numbered ?N form.
func sqliteRebind(q string) string {
	return strings.ReplaceAll(q, "$", "?")
}

func (s *SQLStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, path, created_at FROM files ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Name, &e.Path, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning file row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating file rows: %w", err)
	}
	return entries, nil
}

func (s *SQLStore) Get(ctx context.Context, name string) (Entry, error) {
	var e Entry
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT id, name, path, created_at FROM files WHERE name = $1`), name,
	).Scan(&e.ID, &e.Name, &e.Path, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, apperrors.ErrFileNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("querying file %q: %w", name, err)
	}
	return e, nil
}

func (s *SQLStore) Exists(ctx context.Context, name string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT 1 FROM files WHERE name = $1`), name,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking file %q: %w", name, err)
	}
	return true, nil
}

func (s *SQLStore) Upsert(ctx context.Context, name, path string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO files (name, path) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`),
		name, path,
	)
	if err != nil {
		return false, fmt.Errorf("inserting file %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading insert result: %w", err)
	}
	return n > 0, nil
}

func (s *SQLStore) Remove(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM files WHERE name = $1`), name)
	if err != nil {
		return fmt.Errorf("deleting file %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading delete result: %w", err)
	}
	if n == 0 {
		return apperrors.ErrFileNotFound
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
