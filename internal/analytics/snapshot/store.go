// Package snapshot persists periodic copies of the aggregated analytics
// stats in the catalog database, so history survives restarts.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docstore/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/sqlite"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS analytics_snapshots (
		id          BIGSERIAL PRIMARY KEY,
		data        JSONB NOT NULL,
		captured_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS analytics_snapshots (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		data        TEXT NOT NULL,
		captured_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

// Snapshot is one persisted stats record.
type Snapshot struct {
	ID         int64                     `json:"id"`
	Stats      analytics.AggregatedStats `json:"stats"`
	CapturedAt time.Time                 `json:"captured_at"`
}

type Store struct {
	db     *sql.DB
	rebind func(string) string
	logger *slog.Logger
}

func NewPostgres(ctx context.Context, client *postgres.Client) (*Store, error) {
	if err := client.Migrate(ctx, postgresSchema...); err != nil {
		return nil, fmt.Errorf("migrating analytics snapshots: %w", err)
	}
	return newStore(client.DB, func(q string) string { return q }), nil
}

func NewSQLite(ctx context.Context, client *sqlite.Client) (*Store, error) {
	if err := client.Migrate(ctx, sqliteSchema...); err != nil {
		return nil, fmt.Errorf("migrating analytics snapshots: %w", err)
	}
	return newStore(client.DB, func(q string) string { return strings.ReplaceAll(q, "$", "?") }), nil
}

func newStore(db *sql.DB, rebind func(string) string) *Store {
	return &Store{
		db:     db,
		rebind: rebind,
		logger: slog.Default().With("component", "analytics-snapshots"),
	}
}

// Save persists a stats snapshot.
func (s *Store) Save(ctx context.Context, stats analytics.AggregatedStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO analytics_snapshots (data, captured_at) VALUES ($1, $2)`),
		string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving analytics snapshot: %w", err)
	}
	s.logger.Info("analytics snapshot saved",
		"total_searches", stats.TotalSearches,
		"files_created", stats.FilesCreated,
	)
	return nil
}

// Latest returns the most recent snapshot, or nil if none exist yet.
func (s *Store) Latest(ctx context.Context) (*Snapshot, error) {
	list, err := s.List(ctx, 1)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// List returns up to limit snapshots, newest first. Corrupt rows are
// skipped.
func (s *Store) List(ctx context.Context, limit int) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT id, data, captured_at FROM analytics_snapshots ORDER BY id DESC LIMIT $1`),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := make([]Snapshot, 0, limit)
	for rows.Next() {
		var (
			snap Snapshot
			data []byte
		)
		if err := rows.Scan(&snap.ID, &data, &snap.CapturedAt); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		if err := json.Unmarshal(data, &snap.Stats); err != nil {
			s.logger.Warn("skipping corrupt snapshot", "id", snap.ID, "error", err)
			continue
		}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("iterating snapshot rows: %w", err)
	}
	return snapshots, nil
}

// Run saves agg's stats every interval until ctx is cancelled, then takes
// one final snapshot.
func (s *Store) Run(ctx context.Context, agg *analytics.Aggregator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.logger.Info("periodic snapshot started", "interval", interval)

	for {
		select {
		case <-ticker.C:
			if err := s.Save(ctx, agg.Stats()); err != nil {
				s.logger.Error("periodic snapshot failed", "error", err)
			}
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.Save(shutdownCtx, agg.Stats()); err != nil {
				s.logger.Error("final snapshot failed", "error", err)
			}
			return
		}
	}
}
