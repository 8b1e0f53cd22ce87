// Package ingest accepts the single producer connection on a local unix
// socket and turns its byte stream into frames for the encode pipeline.
// Two transport variants share the handshake: streamed raw pixels, and
// zero-copy resource-handle transfer where only frame headers cross the
// socket.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/nvail/framebridge/internal/protocol"
)

// Server owns the listening endpoint. It supports exactly one active
// client at a time; the listen backlog only needs to absorb that client's
// connect.
type Server struct {
	path string
	ln   *net.UnixListener
	log  *slog.Logger
}

// NewServer creates a server for the given socket path.
func NewServer(socketPath string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{path: socketPath, log: log.With("component", "ingest")}
}

// Listen binds the local endpoint, removing any stale socket file left by
// a previous run.
func (s *Server) Listen() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ingest: remove stale socket: %w", err)
	}
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: s.path, Net: "unix"})
	if err != nil {
		return fmt.Errorf("ingest: listen %s: %w", s.path, err)
	}
	s.ln = ln
	s.log.Info("listening", "path", s.path)
	return nil
}

// Addr returns the bound socket path.
func (s *Server) Addr() string { return s.path }

// Accept waits for the producer with bounded polling, then performs the
// connection handshake: one 44-byte init packet. It honors ctx between
// polls, so shutdown latency is bounded by the poll interval.
func (s *Server) Accept(ctx context.Context) (*Session, error) {
	conn, err := protocol.AcceptTimeout(ctx, s.ln)
	if err != nil {
		return nil, err
	}
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("ingest: accepted non-unix connection %T", conn)
	}

	sess := &Session{conn: uc, log: s.log}
	if err := sess.handshake(ctx); err != nil {
		uc.Close()
		return nil, err
	}
	s.log.Info("client connected",
		"pid", sess.Init.SourcePID,
		"device", sess.Init.DeviceID,
		"images", sess.Init.ImageCount,
		"size", fmt.Sprintf("%dx%d", sess.Init.Width, sess.Init.Height),
	)
	return sess, nil
}

// Close shuts the listener down and removes the socket file.
func (s *Server) Close() error {
	var err error
	if s.ln != nil {
		err = s.ln.Close()
		s.ln = nil
	}
	if rmErr := os.Remove(s.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}
