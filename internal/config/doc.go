// Abyss - Self-Hosted Media Proxy and Access Control Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abyss

// Package config loads the process-wide environment configuration using
// github.com/knadh/koanf/v2 layered over typed struct defaults and the
// environment provider: typed defaults first, then an environment
// override pass, trimmed to the server's small environment surface:
// MEDIA_ROOT, ALLOWED_PORTS, DEBUG_MODE, plus the listener addresses and
// storage directories cmd/server needs to wire the rest of the process
// together. There is no config-file layer: every setting here is
// environment-only.
package config
