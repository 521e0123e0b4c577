// Package rpc provides a lightweight JSON-over-TCP RPC framework used by
// docstore's command port.
//
// Protocol: newline-delimited JSON over a persistent TCP connection. Each
// request carries a method name of the form "Service.Method", a caller-chosen
// ID, and raw params; each response echoes the ID with either data or an
// error string and code.
//
// Example server:
//
//	s := rpc.NewServer()
//	s.Register("DocStore.List", func(ctx context.Context, req json.RawMessage) (any, error) {
//	    return &proto.ListResponse{...}, nil
//	})
//	go s.Serve(ctx, ":5001")
//
// Example client:
//
//	c, _ := rpc.Dial(ctx, "localhost:5001")
//	var resp proto.ListResponse
//	c.Call(ctx, "DocStore.List", &proto.ListRequest{}, &resp)
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	apperrors "github.com/Adithya-Monish-Kumar-K/docstore/pkg/errors"
)

// HandlerFunc processes an RPC request and returns a response or error.
type HandlerFunc func(ctx context.Context, req json.RawMessage) (any, error)

// Request is the wire format for an RPC request.
type Request struct {
	Method string          `json:"method"`
	ID     string          `json:"id"`
	Params json.RawMessage `json:"params"`
}

// Response is the wire format for an RPC response. Code carries the HTTP
// status equivalent of Error so clients can distinguish not-found from
// invalid input.
type Response struct {
	ID    string `json:"id"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
	Code  int    `json:"code,omitempty"`
}

// Server is a lightweight JSON-over-TCP RPC server.
type Server struct {
	handlers map[string]HandlerFunc
	logger   *slog.Logger
	mu       sync.RWMutex
	wg       sync.WaitGroup

	lnMu     sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	ready    chan struct{}
	stopping bool
}

// NewServer creates a new RPC server.
func NewServer() *Server {
	return &Server{
		handlers: make(map[string]HandlerFunc),
		logger:   slog.Default().With("component", "rpc-server"),
		conns:    make(map[net.Conn]struct{}),
		ready:    make(chan struct{}),
	}
}

// Register adds a handler for the given RPC method name.
func (s *Server) Register(method string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = handler
	s.logger.Debug("method registered", "method", method)
}

// Serve listens on addr and accepts connections until ctx is done or Stop is
// called.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.lnMu.Lock()
	if s.stopping {
		s.lnMu.Unlock()
		ln.Close()
		return nil
	}
	s.listener = ln
	close(s.ready)
	s.lnMu.Unlock()
	s.logger.Info("rpc server listening", "addr", ln.Addr().String())

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		s.Stop()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isStopping() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("accept error", "error", err)
			continue
		}
		if !s.track(conn) {
			conn.Close()
			return nil
		}
		s.wg.Add(1)
		go s.handleConn(connCtx, conn)
	}
}

// Addr returns the listening address once Serve has started, blocking until
// then.
func (s *Server) Addr() net.Addr {
	<-s.ready
	return s.listener.Addr()
}

func (s *Server) isStopping() bool {
	s.lnMu.Lock()
	defer s.lnMu.Unlock()
	return s.stopping
}

func (s *Server) track(conn net.Conn) bool {
	s.lnMu.Lock()
	defer s.lnMu.Unlock()
	if s.stopping {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.lnMu.Lock()
	defer s.lnMu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	for {
		var req Request
		if err := decoder.Decode(&req); err != nil {
			return
		}

		resp := s.dispatch(ctx, req)
		if err := encoder.Encode(resp); err != nil {
			s.logger.Error("write error", "method", req.Method, "error", err)
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) (resp Response) {
	resp.ID = req.ID

	s.mu.RLock()
	handler, exists := s.handlers[req.Method]
	s.mu.RUnlock()
	if !exists {
		resp.Error = fmt.Sprintf("unknown method: %s", req.Method)
		resp.Code = 404
		return resp
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panic", "method", req.Method, "panic", r)
			resp.Data = nil
			resp.Error = apperrors.ErrInternal.Error()
			resp.Code = 500
		}
	}()

	data, err := handler(ctx, req.Params)
	if err != nil {
		resp.Error = apperrors.Message(err)
		resp.Code = apperrors.HTTPStatusCode(err)
		if resp.Code >= 500 {
			s.logger.Error("rpc call failed", "method", req.Method, "error", err)
		}
		return resp
	}
	resp.Data = data
	return resp
}

// MethodCount returns the number of registered methods.
func (s *Server) MethodCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}

// Stop closes the listener and every open connection, then waits for the
// connection goroutines to exit. It is safe to call more than once.
func (s *Server) Stop() {
	s.lnMu.Lock()
	if s.stopping {
		s.lnMu.Unlock()
		s.wg.Wait()
		return
	}
	s.stopping = true
	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.lnMu.Unlock()
	s.wg.Wait()
	s.logger.Info("rpc server stopped")
}
