package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docstore/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/docstore/internal/upload"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/config"
)

func newTestHandler(t *testing.T) (*Handler, *catalog.MemoryStore, string) {
	t.Helper()
	root := t.TempDir()
	store := catalog.NewMemoryStore()
	a, err := upload.New(
		config.StorageConfig{UploadRoot: root, MaxChunkBytes: 1 << 20, MaxUploadBytes: 1 << 20},
		config.AssemblerConfig{Workers: 1, QueueSize: 4, Timeout: 5 * time.Second},
		store, nil,
	)
	if err != nil {
		t.Fatalf("assembler: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.Start(ctx)
	t.Cleanup(func() {
		cancel()
		a.Close()
	})
	return New(a, 1<<20, 1<<20), store, root
}

func chunkRequest(t *testing.T, fields map[string]string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	if data != nil {
		fw, err := mw.CreateFormFile("chunk", "blob")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(data)
	}
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/upload_chunk", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadChunkFlow(t *testing.T) {
	h, store, root := newTestHandler(t)

	parts := []string{"hello ", "chunked ", "world"}
	var last upload.ChunkResponse
	for i, p := range parts {
		rec := httptest.NewRecorder()
		h.UploadChunk(rec, chunkRequest(t, map[string]string{
			"fileName":    "greeting.txt",
			"chunkNumber": strconv.Itoa(i + 1),
			"totalChunks": strconv.Itoa(len(parts)),
		}, []byte(p)))
		if rec.Code != http.StatusOK {
			t.Fatalf("chunk %d: status %d body %s", i+1, rec.Code, rec.Body)
		}
		if err := json.NewDecoder(rec.Body).Decode(&last); err != nil {
			t.Fatal(err)
		}
	}
	if last.Status != upload.StatusAssembling {
		t.Fatalf("final status = %q", last.Status)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if ok, _ := store.Exists(context.Background(), "greeting.txt"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("file never cataloged")
		}
		time.Sleep(10 * time.Millisecond)
	}
	got, _ := os.ReadFile(filepath.Join(root, "greeting.txt"))
	if string(got) != "hello chunked world" {
		t.Fatalf("content = %q", got)
	}
}

func TestUploadChunkRejectsBadFields(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.UploadChunk(rec, chunkRequest(t, map[string]string{
		"fileName":    "x.txt",
		"chunkNumber": "one",
		"totalChunks": "2",
	}, []byte("x")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body struct {
		Fields map[string]string `json:"fields"`
	}
	json.NewDecoder(rec.Body).Decode(&body)
	if body.Fields["chunkNumber"] == "" {
		t.Errorf("fields = %v, want chunkNumber error", body.Fields)
	}

	rec = httptest.NewRecorder()
	h.UploadChunk(rec, chunkRequest(t, map[string]string{
		"fileName":    "x.txt",
		"chunkNumber": "3",
		"totalChunks": "2",
	}, []byte("x")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("index past total: status = %d", rec.Code)
	}
}

func TestUploadSingleShot(t *testing.T) {
	h, store, _ := newTestHandler(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "single.txt")
	fw.Write([]byte("one shot"))
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := httptest.NewRecorder()
	h.Upload(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body)
	}
	var doc struct {
		FileName string `json:"fileName"`
		FilePath string `json:"filePath"`
	}
	json.NewDecoder(rec.Body).Decode(&doc)
	if doc.FileName != "single.txt" {
		t.Fatalf("doc = %+v", doc)
	}
	if ok, _ := store.Exists(context.Background(), "single.txt"); !ok {
		t.Fatal("single-shot upload not cataloged")
	}
}
