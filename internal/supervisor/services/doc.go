// Abyss - Self-Hosted Media Proxy and Access Control Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abyss

/*
Package services provides suture.Service wrappers for Abyss components.

This package adapts components with their own lifecycle (Start/Stop, Run,
ListenAndServe) to the suture v4 supervision model, translating each one
into suture's context-aware Serve pattern.

# Overview

Each wrapper implements the suture.Service interface:

	type Service interface {
	    Serve(ctx context.Context) error
	}

The wrappers handle:
  - Lifecycle translation (Start/Stop to Serve pattern)
  - Graceful shutdown via context cancellation
  - Error propagation for supervisor restart decisions
  - Service identification via fmt.Stringer

# Available Services

HTTP Server (HTTPServerService):
  - Wraps *http.Server with graceful shutdown
  - Converts ListenAndServe pattern to Serve
  - Configurable shutdown timeout for draining connections

The proxy listener (internal/transport) and the admin control socket
(internal/adminsock) implement suture.Service directly rather than going
through a wrapper here, since their Accept loops are already
context-aware.

# Usage Example

	import (
	    "net/http"
	    "time"

	    "github.com/tomtom215/abyss/internal/supervisor"
	    "github.com/tomtom215/abyss/internal/supervisor/services"
	)

	func setupSupervisor(server *http.Server) {
	    tree, _ := supervisor.NewSupervisorTree(logger, config)

	    httpSvc := services.NewHTTPServerService(server, 30*time.Second)
	    tree.AddAPIService(httpSvc)

	    tree.Serve(ctx)
	}

# Error Handling

Return values determine supervisor behavior:

	nil         -> Service ended, supervisor will restart it
	error       -> Service crashed, supervisor will restart
	suture.ErrDoNotRestart -> Service ended for good, no restart
	ctx.Err()   -> Shutdown requested, normal termination

# See Also

  - internal/supervisor: SupervisorTree that manages these services
  - github.com/thejerf/suture/v4: Underlying supervision library
  - internal/transport: the encrypted proxy listener
  - internal/adminsock: the admin control socket listener
*/
package services
