// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

// Command intentbroker-daemon is the broker process: it serves the
// coordination core's external operations (establish, send_intent,
// respond, ack, close, continue_from, get_relationship, get_events,
// and the two subscription roles) over a Unix domain socket.
//
// Grounded on bureau-foundation-bureau/cmd/bureau-daemon's main: a
// run() function returning error, slog to stderr, signal-driven
// graceful shutdown, everything else wired through explicit
// constructors rather than package-level state.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/intentbroker/lib/admission"
	"github.com/bureau-foundation/intentbroker/lib/broker"
	"github.com/bureau-foundation/intentbroker/lib/clock"
	"github.com/bureau-foundation/intentbroker/lib/config"
	"github.com/bureau-foundation/intentbroker/lib/delivery"
	"github.com/bureau-foundation/intentbroker/lib/identity"
	"github.com/bureau-foundation/intentbroker/lib/lifecycle"
	"github.com/bureau-foundation/intentbroker/lib/policyreg"
	"github.com/bureau-foundation/intentbroker/lib/relstore"
	"github.com/bureau-foundation/intentbroker/lib/sqlitepool"

	"log/slog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to the broker config file (overrides INTENTBROKER_CONFIG)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	chainKey, err := loadChainKey(cfg.ChainKeyPath)
	if err != nil {
		return fmt.Errorf("loading chain key: %w", err)
	}

	resolver, err := identity.LoadKeysFile(cfg.KeysPath)
	if err != nil {
		return fmt.Errorf("loading participant keys: %w", err)
	}
	verifier := identity.New(resolver.Resolve)

	policyEntries, err := policyreg.LoadFile(cfg.PolicyPath)
	if err != nil {
		return fmt.Errorf("loading policy file: %w", err)
	}
	policies := policyreg.NewIndex()
	policies.Reload(policyEntries)
	logger.Info("policy registry loaded", "entries", len(policyEntries))

	pool, err := sqlitepool.Open(sqlitepool.Config{Path: cfg.DatabasePath, Logger: logger})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer pool.Close()

	store, err := relstore.Open(ctx, pool)
	if err != nil {
		return fmt.Errorf("opening relationship store: %w", err)
	}

	clk := clock.Real()

	deliveryManager := delivery.New(delivery.Config{
		Clock:             clk,
		QueueCapacity:     cfg.DeliveryQueueCapacity,
		AckTimeout:        cfg.DeliveryAckTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Logger:            logger,
	})

	lifecycleEngine := lifecycle.New(lifecycle.Config{
		Store:    store,
		ChainKey: chainKey,
		Clock:    clk,
		Logger:   logger,
	})

	pipeline := admission.New(admission.Config{
		Store:       store,
		Policies:    policies,
		Verifier:    verifier,
		ChainKey:    chainKey,
		Clock:       clk,
		Oversight:   broker.NewLogOversightSink(logger),
		Risk:        broker.NewRiskContext(store, deliveryManager, clk, cfg.RejectionWindow),
		GraceWindow: cfg.AppointmentGraceWindow,
		Lifecycle:   lifecycleEngine,
		Delivery:    deliveryManager,
	})
	// Close the admission-pipeline/delivery-manager construction cycle:
	// the pipeline needed the manager as a RiskContext above, the
	// manager needs the pipeline as its Finalizer.
	deliveryManager.SetFinalizer(pipeline)

	coreBroker := broker.New(broker.Config{
		Store:     store,
		Policies:  policies,
		Pipeline:  pipeline,
		Lifecycle: lifecycleEngine,
		Delivery:  deliveryManager,
		ChainKey:  chainKey,
		Clock:     clk,
		Logger:    logger,
	})

	go lifecycleEngine.RunSweepLoop(ctx, store, cfg.SweepInterval)
	go deliveryManager.RunHeartbeatLoop(ctx)

	server := newSocketServer(cfg.SocketPath, logger)
	registerActions(server, coreBroker)
	registerStreams(server, coreBroker)
	registerAdminActions(server, adminDeps{
		policies:    policies,
		policyPath:  cfg.PolicyPath,
		keyResolver: resolver,
		keysPath:    cfg.KeysPath,
		logger:      logger,
	})

	logger.Info("intentbroker-daemon starting", "socket", cfg.SocketPath, "database", cfg.DatabasePath)
	if err := server.Serve(ctx); err != nil {
		return fmt.Errorf("serving socket: %w", err)
	}

	logger.Info("intentbroker-daemon stopped")
	return nil
}

func loadConfig(flagPath string) (*config.Config, error) {
	if flagPath != "" {
		return config.LoadFile(flagPath)
	}
	return config.Load()
}
