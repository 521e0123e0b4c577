// Package catalog maps stored file names to their on-disk paths. The Store
// contract is implemented in memory for tests and in SQL for Postgres and
// SQLite deployments.
package catalog

import (
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/proto"
)

// Entry is one cataloged file. Name is unique within a store.
type Entry struct {
	ID        int64
	Name      string
	Path      string
	CreatedAt time.Time
}

// Document converts e to its wire form.
func (e Entry) Document() proto.Document {
	d := proto.Document{ID: e.ID, FileName: e.Name, FilePath: e.Path}
	if !e.CreatedAt.IsZero() {
		d.CreatedAt = e.CreatedAt.Unix()
	}
	return d
}

// Store is the durable name -> path mapping.
//
// List returns entries in insertion order. Upsert creates the entry if the
// name is absent and leaves an existing entry untouched, reporting which
// happened. Remove and Get return apperrors.ErrFileNotFound for unknown
// names.
type Store interface {
	List(ctx context.Context) ([]Entry, error)
	Get(ctx context.Context, name string) (Entry, error)
	Exists(ctx context.Context, name string) (bool, error)
	Upsert(ctx context.Context, name, path string) (created bool, err error)
	Remove(ctx context.Context, name string) error
}

// Documents converts entries to their wire form, never returning nil.
func Documents(entries []Entry) []proto.Document {
	docs := make([]proto.Document, 0, len(entries))
	for _, e := range entries {
		docs = append(docs, e.Document())
	}
	return docs
}
