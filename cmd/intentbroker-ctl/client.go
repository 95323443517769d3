// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

// Command intentbroker-ctl is the operator CLI: it dials the broker's
// Unix socket and issues one-shot actions or opens a subscription
// stream, the same wire protocol cmd/intentbroker-daemon serves.
//
// Grounded on roach88-nysm/brutalist/internal/cli's cobra subcommand
// shape (one New<Verb>Command per file, a shared *rootOptions carried
// through) and bureau-foundation-bureau's lib/service client side for
// the socket dial-and-decode pattern.
package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/bureau-foundation/intentbroker/lib/codec"
)

const (
	dialTimeout    = 5 * time.Second
	requestTimeout = 30 * time.Second
)

// response mirrors cmd/intentbroker-daemon's wire envelope. Kept as a
// private duplicate rather than an imported type: the daemon and the
// CLI are two independent processes that happen to agree on a wire
// format, not two halves of one package.
type response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// client issues actions against one broker socket.
type client struct {
	socketPath string
}

func newClient(socketPath string) *client {
	return &client{socketPath: socketPath}
}

// call sends one action with its body and decodes the response's data
// field into out. out may be nil for actions with no meaningful
// response (ack, close).
func (c *client) call(ctx context.Context, body any, out any) error {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(requestTimeout)
	}
	conn.SetDeadline(deadline)

	if err := codec.NewEncoder(conn).Encode(body); err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	var resp response
	if err := codec.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("broker: %s", resp.Error)
	}
	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	return codec.Unmarshal(resp.Data, out)
}

// openStream sends one action and returns the raw connection for the
// caller to read framed values off of, used by the watch subcommand.
// The caller owns conn and must close it.
func (c *client) openStream(ctx context.Context, body any) (net.Conn, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", c.socketPath, err)
	}

	if err := codec.NewEncoder(conn).Encode(body); err != nil {
		conn.Close()
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	return conn, nil
}
