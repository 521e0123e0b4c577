package main

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/docstore/internal/analytics/snapshot"
	"github.com/Adithya-Monish-Kumar-K/docstore/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/sqlite"
)

// pingStore is a catalog.Store that can report its own health.
type pingStore interface {
	catalog.Store
	Ping(ctx context.Context) error
}

// catalogBackend is the opened catalog plus anything sharing its database.
type catalogBackend struct {
	store     pingStore
	snapshots *snapshot.Store
	close     func() error
}

func (b *catalogBackend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// openCatalog opens the catalog selected by cfg.Catalog.Driver and migrates
// its schema.
func openCatalog(ctx context.Context, cfg *config.Config) (*catalogBackend, error) {
	switch cfg.Catalog.Driver {
	case config.DriverMemory:
		return &catalogBackend{store: catalog.NewMemoryStore()}, nil

	case config.DriverSQLite:
		client, err := sqlite.New(cfg.SQLite)
		if err != nil {
			return nil, err
		}
		store, err := catalog.NewSQLite(ctx, client)
		if err != nil {
			client.Close()
			return nil, err
		}
		snaps, err := snapshot.NewSQLite(ctx, client)
		if err != nil {
			client.Close()
			return nil, err
		}
		return &catalogBackend{store: store, snapshots: snaps, close: client.Close}, nil

	case config.DriverPostgres:
		client, err := postgres.New(cfg.Postgres)
		if err != nil {
			return nil, err
		}
		store, err := catalog.NewPostgres(ctx, client)
		if err != nil {
			client.Close()
			return nil, err
		}
		snaps, err := snapshot.NewPostgres(ctx, client)
		if err != nil {
			client.Close()
			return nil, err
		}
		return &catalogBackend{store: store, snapshots: snaps, close: client.Close}, nil
	}
	return nil, fmt.Errorf("unknown catalog driver %q", cfg.Catalog.Driver)
}
