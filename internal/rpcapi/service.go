// Package rpcapi registers the DocStore command methods on the JSON-over-TCP
// RPC server.
package rpcapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docstore/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/docstore/internal/search"
	apperrors "github.com/Adithya-Monish-Kumar-K/docstore/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/rpc"
)

const (
	MethodList   = "DocStore.List"
	MethodSearch = "DocStore.Search"
	MethodDelete = "DocStore.Delete"
	MethodStat   = "DocStore.Stat"
)

// Searcher runs a batch search; the engine or its cache.
type Searcher interface {
	Search(ctx context.Context, pattern string) ([]search.FileMatch, error)
}

type Service struct {
	store    catalog.Store
	searcher Searcher
	logger   *slog.Logger
}

func NewService(store catalog.Store, searcher Searcher) *Service {
	return &Service{
		store:    store,
		searcher: searcher,
		logger:   slog.Default().With("component", "rpc-docstore"),
	}
}

// Register adds every DocStore method to s.
func (svc *Service) Register(s *rpc.Server) {
	s.Register(MethodList, svc.list)
	s.Register(MethodSearch, svc.search)
	s.Register(MethodDelete, svc.delete)
	s.Register(MethodStat, svc.stat)
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, apperrors.Invalid("malformed params: %v", err)
	}
	return v, nil
}

func (svc *Service) list(ctx context.Context, raw json.RawMessage) (any, error) {
	entries, err := svc.store.List(ctx)
	if err != nil {
		return nil, err
	}
	return &proto.ListResponse{Documents: catalog.Documents(entries)}, nil
}

func (svc *Service) search(ctx context.Context, raw json.RawMessage) (any, error) {
	req, err := decode[proto.SearchRequest](raw)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	matches, err := svc.searcher.Search(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	results := make([]proto.FileMatch, 0, len(matches))
	for _, m := range matches {
		occs := make([]proto.Occurrence, 0, len(m.Occurrences))
		for _, o := range m.Occurrences {
			occs = append(occs, proto.Occurrence{Start: o.Start, End: o.End, Context: o.Context})
		}
		results = append(results, proto.FileMatch{FileName: m.FileName, FilePath: m.FilePath, Occurrences: occs})
	}
	return &proto.SearchResponse{
		Query:     req.Query,
		Results:   results,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

func (svc *Service) delete(ctx context.Context, raw json.RawMessage) (any, error) {
	req, err := decode[proto.DeleteRequest](raw)
	if err != nil {
		return nil, err
	}
	if req.FileName == "" {
		return nil, apperrors.Invalid("fileName is required")
	}
	if _, err := catalog.Delete(ctx, svc.store, req.FileName); err != nil {
		return nil, err
	}
	svc.logger.Info("file deleted over rpc", "file_name", req.FileName)
	return &proto.DeleteResponse{Deleted: true, Message: "File deleted successfully"}, nil
}

func (svc *Service) stat(ctx context.Context, raw json.RawMessage) (any, error) {
	req, err := decode[proto.StatRequest](raw)
	if err != nil {
		return nil, err
	}
	if req.FileName == "" {
		return nil, apperrors.Invalid("fileName is required")
	}
	entry, info, err := catalog.Stat(ctx, svc.store, req.FileName)
	if err != nil {
		return nil, err
	}
	return &proto.StatResponse{
		Document:   entry.Document(),
		SizeBytes:  info.Size(),
		ModifiedAt: info.ModTime().Unix(),
	}, nil
}
