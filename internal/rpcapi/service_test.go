package rpcapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Adithya-Monish-Kumar-K/docstore/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/docstore/internal/search"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/rpc"
)

type fixture struct {
	store  *catalog.MemoryStore
	dir    string
	client *rpc.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	t.Cleanup(func() { goleak.VerifyNone(t) })
	f := &fixture{store: catalog.NewMemoryStore(), dir: t.TempDir()}
	engine := search.NewEngine(f.store, config.SearchConfig{ContextBytes: 4}, nil)

	srv := rpc.NewServer()
	NewService(f.store, engine).Register(srv)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(context.Background(), ln) }()
	t.Cleanup(func() {
		srv.Stop()
		<-done
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f.client, err = rpc.Dial(ctx, srv.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.client.Close() })
	return f
}

func (f *fixture) add(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.Upsert(context.Background(), name, path); err != nil {
		t.Fatal(err)
	}
	return path
}

func (f *fixture) call(t *testing.T, method string, params, result any) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.client.Call(ctx, method, params, result)
}

func TestListAndSearch(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a.txt", "one needle two needle")
	f.add(t, "b.txt", "hay")

	var list proto.ListResponse
	if err := f.call(t, MethodList, &proto.ListRequest{}, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Documents) != 2 || list.Documents[0].FileName != "a.txt" {
		t.Fatalf("list = %+v", list)
	}

	var resp proto.SearchResponse
	if err := f.call(t, MethodSearch, &proto.SearchRequest{Query: "needle"}, &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || len(resp.Results[0].Occurrences) != 2 {
		t.Fatalf("results = %+v", resp.Results)
	}
	if occ := resp.Results[0].Occurrences[0]; occ.Start != 4 || occ.End != 10 || occ.Context != "one needle two" {
		t.Errorf("first occurrence = %+v", occ)
	}
}

func TestStatAndDelete(t *testing.T) {
	f := newFixture(t)
	path := f.add(t, "doc.bin", "12345")

	var st proto.StatResponse
	if err := f.call(t, MethodStat, &proto.StatRequest{FileName: "doc.bin"}, &st); err != nil {
		t.Fatal(err)
	}
	if st.SizeBytes != 5 || st.FileName != "doc.bin" || st.FilePath != path {
		t.Errorf("stat = %+v", st)
	}

	var del proto.DeleteResponse
	if err := f.call(t, MethodDelete, &proto.DeleteRequest{FileName: "doc.bin"}, &del); err != nil {
		t.Fatal(err)
	}
	if !del.Deleted {
		t.Error("Deleted = false")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("file still exists: %v", err)
	}

	err := f.call(t, MethodStat, &proto.StatRequest{FileName: "doc.bin"}, &st)
	var rpcErr *rpc.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != http.StatusNotFound {
		t.Errorf("stat after delete = %v, want a 404 rpc error", err)
	}
}

func TestDeleteRequiresName(t *testing.T) {
	f := newFixture(t)
	err := f.call(t, MethodDelete, &proto.DeleteRequest{}, nil)
	var rpcErr *rpc.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != http.StatusBadRequest {
		t.Errorf("err = %v, want a 400 rpc error", err)
	}
}
