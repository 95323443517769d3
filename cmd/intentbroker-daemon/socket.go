// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/intentbroker/lib/codec"
)

// actionFunc handles a one-shot request-response action: decode the
// action-specific fields from raw, do the work, and return a value to
// place in the response envelope's data field (or an error).
//
// Grounded on lib/service.SocketServer's ActionFunc.
type actionFunc func(ctx context.Context, raw []byte) (any, error)

// streamFunc handles a long-lived subscription action. It takes
// ownership of conn for the rest of the connection's life; the
// caller closes conn when streamFunc returns, but streamFunc itself
// does the framing.
type streamFunc func(ctx context.Context, conn net.Conn, raw []byte)

// response is the wire envelope for one-shot actions, unchanged from
// lib/service.SocketServer's Response.
type response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// socketServer serves the broker's request-response and subscription
// protocols on one Unix socket. Each connection sends one CBOR
// request naming an "action"; one-shot actions get exactly one CBOR
// response before the connection closes, stream actions hand the
// connection off to a streamFunc for as long as the subscriber stays
// connected.
//
// Grounded on lib/service.SocketServer for the one-shot half; the
// stream half has no directly wired precedent (handleSubscribe-style
// code elsewhere is never registered against a dispatcher) so it is a
// new extension in the same style: register-then-serve, graceful
// shutdown via a WaitGroup over active connections.
type socketServer struct {
	socketPath string
	actions    map[string]actionFunc
	streams    map[string]streamFunc
	logger     *slog.Logger

	activeConnections sync.WaitGroup
}

func newSocketServer(socketPath string, logger *slog.Logger) *socketServer {
	return &socketServer{
		socketPath: socketPath,
		actions:    make(map[string]actionFunc),
		streams:    make(map[string]streamFunc),
		logger:     logger,
	}
}

// handleAction registers a one-shot action. Panics on duplicate
// registration across either map, since that is always a programmer
// error caught at startup.
func (s *socketServer) handleAction(action string, fn actionFunc) {
	s.checkUnregistered(action)
	s.actions[action] = fn
}

// handleStream registers a subscription action.
func (s *socketServer) handleStream(action string, fn streamFunc) {
	s.checkUnregistered(action)
	s.streams[action] = fn
}

func (s *socketServer) checkUnregistered(action string) {
	if _, exists := s.actions[action]; exists {
		panic(fmt.Sprintf("intentbroker-daemon: duplicate handler for action %q", action))
	}
	if _, exists := s.streams[action]; exists {
		panic(fmt.Sprintf("intentbroker-daemon: duplicate handler for action %q", action))
	}
}

// Serve accepts connections on the Unix socket until ctx is
// cancelled, then waits for in-flight connections to finish.
func (s *socketServer) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("socket server listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

const requestReadTimeout = 30 * time.Second
const actionWriteTimeout = 10 * time.Second
const maxRequestSize = 1024 * 1024

func (s *socketServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(requestReadTimeout))

	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if header.Action == "" {
		s.writeError(conn, "missing required field: action")
		return
	}

	if stream, exists := s.streams[header.Action]; exists {
		conn.SetReadDeadline(time.Time{})
		stream(ctx, conn, []byte(raw))
		return
	}

	action, exists := s.actions[header.Action]
	if !exists {
		s.writeError(conn, fmt.Sprintf("unknown action %q", header.Action))
		return
	}

	result, err := action(ctx, []byte(raw))
	if err != nil {
		s.logger.Debug("action failed", "action", header.Action, "error", err)
		s.writeError(conn, err.Error())
		return
	}
	s.writeSuccess(conn, result)
}

func (s *socketServer) writeError(conn net.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(actionWriteTimeout))
	if err := codec.NewEncoder(conn).Encode(response{OK: false, Error: message}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

func (s *socketServer) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(actionWriteTimeout))

	resp := response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, fmt.Sprintf("internal: marshaling response: %v", err))
			return
		}
		resp.Data = data
	}
	if err := codec.NewEncoder(conn).Encode(resp); err != nil {
		s.logger.Debug("failed to write success response", "error", err)
	}
}
