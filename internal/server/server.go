// Package server implements the TCP front end: accept a connection, read
// one request, dispatch it to an engine, write one response, close.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/aether-kv/aether-kv/internal/engine"
	"github.com/aether-kv/aether-kv/internal/proto"
)

// Server accepts connections on addr and serves each with eng.
type Server struct {
	addr string
	eng  engine.Engine
}

// New builds a Server that dispatches every request to eng.
func New(addr string, eng engine.Engine) *Server {
	return &Server{addr: addr, eng: eng}
}

// ListenAndServe binds addr and serves connections until ctx is canceled or
// the listener fails. Each connection is handled on its own goroutine and
// closed after exactly one request/response exchange.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server: listening on %s: %w", s.addr, err)
	}
	defer ln.Close()

	slog.Info("server: listening", "addr", s.addr)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	req, err := proto.ReadRequest(conn)
	if err != nil {
		slog.Error("server: reading request", "remote", conn.RemoteAddr(), "error", err)
		return
	}

	resp := s.dispatch(req)

	if err := proto.WriteResponse(conn, resp); err != nil {
		slog.Error("server: writing response", "remote", conn.RemoteAddr(), "error", err)
	}
}

// dispatch runs req against the engine and maps the outcome to a Response:
// an engine.ErrKeyNotFound becomes RespKeyNotFound, any other error becomes
// a RespMessage carrying a human-readable description, and success becomes
// a RespMessage carrying the engine's result text.
func (s *Server) dispatch(req proto.Request) proto.Response {
	switch req.Kind {
	case proto.ReqGet:
		value, ok, err := s.eng.Get(req.Key)
		if err != nil {
			slog.Error("server: get failed", "key", req.Key, "error", err)
			return proto.Response{Kind: proto.RespMessage, Text: fmt.Sprintf("Error: %v", err)}
		}
		if !ok {
			return proto.Response{Kind: proto.RespKeyNotFound}
		}
		return proto.Response{Kind: proto.RespMessage, Text: value}

	case proto.ReqSet:
		if !req.HasValue {
			if err := s.eng.Remove(req.Key); err != nil {
				if errors.Is(err, engine.ErrKeyNotFound) {
					return proto.Response{Kind: proto.RespKeyNotFound}
				}
				slog.Error("server: remove failed", "key", req.Key, "error", err)
				return proto.Response{Kind: proto.RespMessage, Text: fmt.Sprintf("Error: %v", err)}
			}
			return proto.Response{Kind: proto.RespMessage, Text: ""}
		}
		if err := s.eng.Set(req.Key, req.Value); err != nil {
			slog.Error("server: set failed", "key", req.Key, "error", err)
			return proto.Response{Kind: proto.RespMessage, Text: fmt.Sprintf("Error: %v", err)}
		}
		return proto.Response{Kind: proto.RespMessage, Text: ""}

	default:
		return proto.Response{Kind: proto.RespMessage, Text: "Error: unknown request kind"}
	}
}
