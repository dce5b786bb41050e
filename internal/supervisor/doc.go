// Abyss - Self-Hosted Media Proxy and Access Control Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abyss

/*
Package supervisor provides process supervision for abyss using suture v4.

This package implements a hierarchical supervisor tree that manages the
lifecycle of all long-running services in the process, giving each layer
Erlang/OTP-style automatic restart and failure isolation.

# Overview

The supervisor tree organizes services into three layers:

	RootSupervisor ("abyss")
	├── StorageSupervisor ("storage-layer")
	│   └── audit bus runner
	├── TransportSupervisor ("transport-layer")
	│   ├── proxy Listener (C5, the CONNECT tunnel)
	│   └── adminsock Server (C6, the UNIX-domain control socket)
	└── APISupervisor ("api-layer")
	    └── HTTPServerService (the REST adapter)

This hierarchy ensures that a crash in the audit bus doesn't take down the
proxy listener, and a stuck admin-socket connection doesn't affect the REST
API's ability to keep serving.

# Usage Example

	tree, err := supervisor.NewSupervisorTree(logger, supervisor.DefaultTreeConfig())
	if err != nil {
	    log.Fatal(err)
	}

	tree.AddStorageService(auditRunner)
	tree.AddTransportService(proxyListener)
	tree.AddTransportService(adminSocket)
	tree.AddAPIService(services.NewHTTPServerService(httpServer, 10*time.Second))

	if err := tree.Serve(ctx); err != nil {
	    log.Printf("Supervisor stopped: %v", err)
	}

# Configuration

	config := supervisor.TreeConfig{
	    FailureThreshold: 5.0,
	    FailureDecay:     30.0,
	    FailureBackoff:   15 * time.Second,
	    ShutdownTimeout:  10 * time.Second,
	}

DefaultTreeConfig returns suture's production-ready defaults.

# Service Interface

All services must implement suture.Service:

	type Service interface {
	    Serve(ctx context.Context) error
	}

Any return, nil included, is treated as the service ending and the
supervisor restarts it, backing off once failures pass the configured
threshold. Returning suture.ErrDoNotRestart removes the service without a
restart, and suture.ErrTerminateSupervisorTree stops the tree. Context
cancellation means shutdown was requested; services must return promptly.

# Debugging Shutdown Issues

	report, err := tree.UnstoppedServiceReport()
	for _, svc := range report {
	    log.Printf("Service didn't stop: %v", svc)
	}

# See Also

  - internal/supervisor/services: service wrappers
  - github.com/thejerf/suture/v4: underlying library
*/
package supervisor
