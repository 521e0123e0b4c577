package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	apperrors "github.com/Adithya-Monish-Kumar-K/docstore/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/logger"
)

// Stat returns the entry for name and the current info of its file. An
// entry whose file is gone is pruned and reported as ErrFileNotFound.
func Stat(ctx context.Context, s Store, name string) (Entry, os.FileInfo, error) {
	entry, err := s.Get(ctx, name)
	if err != nil {
		return Entry{}, nil, err
	}
	info, err := os.Stat(entry.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.FromContext(ctx).Warn("cataloged file missing on disk, removing entry",
				"file_name", name, "file_path", entry.Path)
			if rmErr := s.Remove(WithPruned(ctx), name); rmErr != nil && !errors.Is(rmErr, apperrors.ErrFileNotFound) {
				return Entry{}, nil, fmt.Errorf("pruning %s: %w", name, rmErr)
			}
			return Entry{}, nil, apperrors.ErrFileNotFound
		}
		return Entry{}, nil, fmt.Errorf("stat %s: %w", name, err)
	}
	return entry, info, nil
}

// Delete removes the catalog entry for name and then its file. A file that
// is already gone is not an error.
func Delete(ctx context.Context, s Store, name string) (Entry, error) {
	entry, err := s.Get(ctx, name)
	if err != nil {
		return Entry{}, err
	}
	if err := s.Remove(ctx, name); err != nil {
		return Entry{}, err
	}
	if err := os.Remove(entry.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return entry, fmt.Errorf("removing %s: %w", entry.Path, err)
	}
	logger.FromContext(ctx).Info("file deleted", "file_name", name, "file_path", entry.Path)
	return entry, nil
}
