// Abyss - Self-Hosted Media Proxy and Access Control Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abyss

package restapi

import (
	"net"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tomtom215/abyss/internal/apierr"
)

// tokenFrom extracts the session token from the query string first, then
// falls back to the "token" cookie.
func tokenFrom(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if c, err := r.Cookie("token"); err == nil {
		return c.Value
	}
	return ""
}

// clientIP returns the request's remote host, stripped of port, for
// binding/validating session tokens against.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps an apierr.Kind to its HTTP status and writes a minimal
// JSON body, without leaking internal error detail or stack traces.
func writeError(w http.ResponseWriter, err error) {
	status := apierr.KindOf(err).Status()
	writeJSON(w, status, map[string]string{"error": apierr.KindOf(err).String()})
}

func setTokenCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}
