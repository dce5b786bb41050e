// Abyss - Self-Hosted Media Proxy and Access Control Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abyss

// @title Abyss Media Server API
// @version 1.0
// @description Challenge-response authenticated media and proxy server.
// @BasePath /

package restapi
