// Abyss - Self-Hosted Media Proxy and Access Control Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abyss

package restapi

import (
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/tomtom215/abyss/internal/apierr"
)

// handleRootInit implements POST /api/Root/init: a root-only
// Initialize over an arbitrary subtree of $MEDIA_ROOT, distinct from the
// admin socket's bootstrap Init which creates the root user itself.
//
// @Summary Recursively initialize attributes under a path
// @Tags Root
// @Param path query string true "absolute path under MEDIA_ROOT"
// @Param owner query int true "owner uuid for newly discovered paths"
// @Param token query string true "root session token"
// @Success 200
// @Failure 403
// @Router /api/Root/init [post]
func (s *Server) handleRootInit(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	token := r.URL.Query().Get("token")
	owner, err := strconv.ParseInt(r.URL.Query().Get("owner"), 10, 64)
	if err != nil {
		writeError(w, apierr.New(apierr.KindMalformed, "restapi.RootInit", err))
		return
	}
	if err := s.engine.Initialize(path, token, owner, clientIP(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleRootChmod implements POST /api/Root/chmod.
//
// @Summary Change the permission of a path, optionally recursively
// @Tags Root
// @Param path query string true "path"
// @Param permission query string true "oo,pp,tt triplet"
// @Param recursive query bool false "apply to every descendant"
// @Param token query string true "root session token"
// @Success 200 {object} map[string]int "rows updated, as {\"updated\": n}"
// @Failure 403
// @Router /api/Root/chmod [post]
func (s *Server) handleRootChmod(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	path := q.Get("path")
	perm := q.Get("permission")
	recursive := q.Get("recursive") == "true"
	token := q.Get("token")

	count, err := s.engine.Chmod(path, token, perm, clientIP(r), recursive)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": count})
}

// handleRootChown implements POST /api/Root/chown.
//
// @Summary Change the owner of a path, optionally recursively
// @Tags Root
// @Param path query string true "path"
// @Param owner query int true "new owner uuid"
// @Param recursive query bool false "apply to every descendant"
// @Param token query string true "root session token"
// @Success 200 {object} map[string]int "rows updated, as {\"updated\": n}"
// @Failure 403
// @Router /api/Root/chown [post]
func (s *Server) handleRootChown(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	path := q.Get("path")
	recursive := q.Get("recursive") == "true"
	token := q.Get("token")

	newOwner, err := strconv.ParseInt(q.Get("owner"), 10, 64)
	if err != nil {
		writeError(w, apierr.New(apierr.KindMalformed, "restapi.RootChown", err))
		return
	}
	count, err := s.engine.Chown(path, token, newOwner, clientIP(r), recursive)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": count})
}

// renderTriplet formats a permission string's three two-character groups
// as "[d-]owner(3)group(3)other(3)", e.g. "rw,r-,r-" as "-rw-r--r--". The
// leading [d-] flag is always "-" (directories are not marked), and each
// group's third, execute position is always "-" since execute bits are
// not modeled.
func renderTriplet(permission string) string {
	out := []byte{'-'}
	groups := []byte(permission)
	for _, c := range groups {
		if c == ',' {
			out = append(out, '-')
			continue
		}
		out = append(out, c)
	}
	out = append(out, '-')
	return string(out)
}

// handleRootLs implements GET /api/Root/ls?path=…: lists
// entries with a textual rendering of (permission, owner_id, uid, name).
//
// @Summary List entries under a path with their attribute rendering
// @Tags Root
// @Param path query string true "path"
// @Param token query string true "session token"
// @Success 200 {array} string
// @Failure 403
// @Router /api/Root/ls [get]
func (s *Server) handleRootLs(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	token := tokenFrom(r)

	names, err := s.engine.Query(path, token, clientIP(r))
	if err != nil {
		writeError(w, err)
		return
	}

	type entry struct {
		Permission string `json:"permission"`
		OwnerUUID  int64  `json:"owner_id"`
		UID        string `json:"uid"`
		Name       string `json:"name"`
	}
	out := make([]entry, 0, len(names))
	for _, name := range names {
		attr, err := s.engine.GetAttribute(filepath.Join(path, name))
		if err != nil {
			continue
		}
		out = append(out, entry{
			Permission: renderTriplet(attr.Permission),
			OwnerUUID:  attr.OwnerUUID,
			UID:        attr.UID,
			Name:       name,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
