// Package handler exposes byte search over HTTP: a batch endpoint returning
// every match at once and a WebSocket endpoint streaming progress.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Adithya-Monish-Kumar-K/docstore/internal/search"
	apperrors "github.com/Adithya-Monish-Kumar-K/docstore/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/proto"
)

const (
	writeWait      = 10 * time.Second
	firstFrameWait = 30 * time.Second
	maxFrameBytes  = 64 << 10
)

// Searcher runs a batch search; the engine or its cache.
type Searcher interface {
	Search(ctx context.Context, pattern string) ([]search.FileMatch, error)
}

// Streamer runs a streaming search.
type Streamer interface {
	Stream(ctx context.Context, pattern string, sink search.Sink) error
}

type Handler struct {
	searcher     Searcher
	streamer     Streamer
	streamBuffer int
	upgrader     websocket.Upgrader
	logger       *slog.Logger
}

// New creates a Handler. allowOrigin decides which browser origins may open
// the search socket; nil allows all.
func New(searcher Searcher, streamer Streamer, streamBuffer int, allowOrigin func(origin string) bool) *Handler {
	return &Handler{
		searcher:     searcher,
		streamer:     streamer,
		streamBuffer: streamBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 16384,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowOrigin == nil || allowOrigin(origin)
			},
		},
		logger: slog.Default().With("component", "search-handler"),
	}
}

// Search handles GET /search?query=. A missing or empty query returns [].
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	query := r.URL.Query().Get("query")

	results, err := h.searcher.Search(ctx, query)
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		if errors.Is(err, context.Canceled) {
			return
		}
		log.Error("search failed", "error", err, "status_code", status)
		h.writeError(w, status, apperrors.Message(err))
		return
	}
	log.Info("search completed", "query_bytes", len(query), "matched_files", len(results))
	h.writeJSON(w, http.StatusOK, results)
}

// Stream handles GET /ws/search. The client sends {"query": "..."} as its
// first message; the server replies with search_progress, result,
// occurrence, and done events and then closes the socket. Closing the
// socket early cancels the scan.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sessionID := uuid.NewString()
	log := logger.FromContext(r.Context()).With("session_id", sessionID)
	conn.SetReadLimit(maxFrameBytes)

	conn.SetReadDeadline(time.Now().Add(firstFrameWait))
	var req proto.StreamRequest
	if err := conn.ReadJSON(&req); err != nil {
		log.Warn("reading stream request", "error", err)
		h.closeWith(conn, websocket.CloseUnsupportedData, "expected {\"query\": ...}")
		return
	}
	conn.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Any further read error means the client went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	sink := search.NewChanSink(ctx, h.streamBuffer)
	go func() {
		sink.Close(h.streamer.Stream(ctx, req.Query, sink))
	}()

	log.Info("stream search started", "query_bytes", len(req.Query))
	sent := 0
	for ev := range sink.Events() {
		if err := h.send(conn, toWire(sessionID, ev)); err != nil {
			log.Debug("client write failed, abandoning scan", "error", err, "events_sent", sent)
			cancel()
			for range sink.Events() {
			}
			return
		}
		sent++
	}

	if err := sink.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("stream search cancelled", "events_sent", sent)
			return
		}
		log.Error("stream search failed", "error", err)
		h.send(conn, proto.StreamEvent{Type: proto.EventError, SessionID: sessionID, Message: apperrors.Message(err)})
		h.closeWith(conn, websocket.CloseInternalServerErr, "search failed")
		return
	}
	log.Info("stream search finished", "events_sent", sent)
	h.closeWith(conn, websocket.CloseNormalClosure, "")
}

func toWire(sessionID string, ev search.Event) proto.StreamEvent {
	out := proto.StreamEvent{SessionID: sessionID}
	switch ev.Kind {
	case search.EventProgress:
		out.Type = proto.EventProgress
		out.Scanned = ev.Scanned
		out.Total = ev.Total
		if ev.Total > 0 {
			out.Percent = float64(ev.Scanned) * 100 / float64(ev.Total)
		} else {
			out.Percent = 100
		}
	case search.EventFileResult:
		out.Type = proto.EventResult
		out.FileName = ev.FileName
		out.FilePath = ev.FilePath
	case search.EventOccurrence:
		out.Type = proto.EventOccurrence
		out.FileName = ev.FileName
		out.Occurrence = &proto.Occurrence{
			Start:   ev.Occurrence.Start,
			End:     ev.Occurrence.End,
			Context: ev.Occurrence.Context,
		}
	case search.EventDone:
		out.Type = proto.EventDone
	}
	return out
}

func (h *Handler) send(conn *websocket.Conn, ev proto.StreamEvent) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}

func (h *Handler) closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
