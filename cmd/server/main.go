// Abyss - Self-Hosted Media Proxy and Access Control Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abyss

// Package main is the entry point for the abyss server.
//
// abyss is a self-hosted media and proxy server built around three
// primitives: challenge-response Ed25519 authentication that mints
// IP-bound session tokens, a path-based resource authorization engine
// with owner/peer/other roles, and an encrypted CONNECT proxy over an
// X25519+ChaCha20-Poly1305 tunnel. A filesystem UNIX-domain socket gives
// the root operator an out-of-band admin channel.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: load MEDIA_ROOT, ALLOWED_PORTS, DEBUG_MODE and the
//     listener addresses from the environment (Koanf v2)
//  2. Identity store: BadgerDB-backed user records (C2)
//  3. Audit bus: in-process event fan-out for the events every layer emits
//  4. Session service: challenge issuance and token validation (C3)
//  5. Resource authorization engine: attribute storage and Query/Get/Chmod (C4)
//  6. Transport listener: the encrypted CONNECT proxy (C5)
//  7. Admin socket: the UNIX-domain control channel (C6)
//  8. REST adapter: the HTTP surface over C3/C4
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM, tearing
// down the supervisor tree and giving in-flight connections up to their
// configured shutdown timeout to finish.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/abyss/internal/adminsock"
	"github.com/tomtom215/abyss/internal/audit"
	"github.com/tomtom215/abyss/internal/config"
	"github.com/tomtom215/abyss/internal/identity"
	"github.com/tomtom215/abyss/internal/logging"
	"github.com/tomtom215/abyss/internal/resauth"
	"github.com/tomtom215/abyss/internal/restapi"
	"github.com/tomtom215/abyss/internal/session"
	"github.com/tomtom215/abyss/internal/supervisor"
	"github.com/tomtom215/abyss/internal/supervisor/services"
	"github.com/tomtom215/abyss/internal/transport"
)

// debugTokenTTL is how long the well-known debug token stays valid once
// DEBUG_MODE unlocks it.
const debugTokenTTL = 1 * time.Hour

// auditRunner adapts audit.Bus's Run method to suture.Service's Serve,
// the only naming mismatch between the two.
type auditRunner struct {
	bus *audit.Bus
}

func (a auditRunner) Serve(ctx context.Context) error { return a.bus.Run(ctx) }
func (a auditRunner) String() string                  { return "audit-bus" }

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	logging.Info().Msg("Starting abyss with supervisor tree")
	if cfg.IsDebug() {
		logging.Warn().Msg("DEBUG_MODE=Debug: the well-known token 'abyss' is unlocked for loopback callers")
	}

	users, err := identity.Open(cfg.IdentityDir)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open identity store")
	}
	defer func() {
		if err := users.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing identity store")
		}
	}()

	attrs, err := resauth.Open(cfg.AttributeDir)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open attribute store")
	}
	defer func() {
		if err := attrs.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing attribute store")
		}
	}()

	bus := audit.New(func(evt audit.Event) {
		logging.Info().
			Str("kind", string(evt.Kind)).
			Int64("uuid", evt.UUID).
			Str("detail", evt.Detail).
			Msg("audit event")
	})
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing audit bus")
		}
	}()

	sessions := session.New(users, bus)
	if cfg.IsDebug() {
		sessions.EnableDebugToken(debugTokenTTL)
	}

	engine := resauth.New(cfg.MediaRoot, attrs, users, sessions, bus)
	if err := engine.BootstrapReserved(); err != nil {
		logging.Fatal().Err(err).Msg("Failed to bootstrap reserved attributes")
	}

	allowedPorts, err := transport.ParseAllowedPorts(cfg.AllowedPorts)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to parse ALLOWED_PORTS")
	}
	proxyListener := transport.NewListener(cfg.ProxyAddr, sessions, allowedPorts)

	admin := adminsock.New(cfg.AdminSocketPath, cfg.MediaRoot, users, sessions, engine)

	apiServer := &http.Server{
		Addr:         cfg.APIAddr,
		Handler:      restapi.New(sessions, engine, users).Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slogLogger := logging.NewSlogLogger()
	tree, err := supervisor.NewSupervisorTree(slogLogger, supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddStorageService(auditRunner{bus: bus})
	logging.Info().Msg("Audit bus added to supervisor tree")

	tree.AddTransportService(proxyListener)
	logging.Info().Str("addr", cfg.ProxyAddr).Msg("Proxy listener added to supervisor tree")

	tree.AddTransportService(admin)
	logging.Info().Str("path", cfg.AdminSocketPath).Msg("Admin socket added to supervisor tree")

	tree.AddAPIService(services.NewHTTPServerService(apiServer, 10*time.Second))
	logging.Info().Str("addr", cfg.APIAddr).Msg("HTTP server service added to supervisor tree")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Application stopped gracefully")
}
