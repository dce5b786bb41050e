// Abyss - Self-Hosted Media Proxy and Access Control Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abyss

package restapi

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/abyss/internal/apierr"
	"github.com/tomtom215/abyss/internal/identity"
	"github.com/tomtom215/abyss/internal/validation"
)

const delegatedOpenTTL = 1 * time.Hour

type verifyRequest struct {
	Response string `json:"response" validate:"required"`
}

type patchUserRequest struct {
	Response  string `json:"response" validate:"required"`
	Name      string `json:"name" validate:"omitempty,alphanum"`
	Privilege int64  `json:"privilege" validate:"min=0"`
	PublicKey string `json:"publicKey" validate:"omitempty,base64"`
}

// handleChallenge implements GET /api/User/{user}: issues a
// fresh base64 challenge for the named user, or 403 if the user does not
// exist (the challenge-issuance failure is not distinguished from an
// unknown user to avoid a username oracle).
//
// @Summary Issue a login challenge
// @Tags User
// @Param user path string true "username"
// @Success 200 {object} map[string]string "base64 challenge, as {\"challenge\": c}"
// @Failure 403
// @Router /api/User/{user} [get]
func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "user")
	challenge, err := s.sessions.Challenge(username)
	if err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"challenge": challenge})
}

// handleVerify implements POST /api/User/{user}: verifies a
// signed challenge response and mints an IP-bound session token, setting
// it as a cookie as well as returning it in the body.
//
// @Summary Verify a challenge response and obtain a session token
// @Tags User
// @Param user path string true "username"
// @Accept json
// @Success 200 {object} map[string]string "session token, as {\"token\": t}"
// @Failure 403
// @Router /api/User/{user} [post]
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "user")
	var body verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if err := validation.ValidateStruct(&body); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	token, err := s.sessions.Verify(username, body.Response, clientIP(r))
	if err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	setTokenCookie(w, token)
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// handleValidate implements POST /api/User/validate?token=….
//
// @Summary Validate a session token
// @Tags User
// @Param token query string true "session token"
// @Success 200 {object} map[string]int64 "uuid, as {\"uuid\": n}"
// @Failure 401
// @Router /api/User/validate [post]
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	uuid := s.sessions.Validate(tokenFrom(r), clientIP(r))
	if uuid == -1 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"uuid": uuid})
}

// handleDestroy implements POST /api/User/destroy?token=….
//
// @Summary Destroy a session token
// @Tags User
// @Param token query string true "session token"
// @Success 200
// @Failure 401
// @Router /api/User/destroy [post]
func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	token := tokenFrom(r)
	if s.sessions.Validate(token, clientIP(r)) == -1 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	s.sessions.Destroy(token)
	w.WriteHeader(http.StatusOK)
}

// handlePatchUser implements PATCH /api/User/{user}:
// re-verifies the caller's signed challenge response, then updates the
// user's own name/privilege/public key. A user may only lower or hold
// their own privilege, never raise it, mirroring the delegation rule
// session.CreateUser enforces for new users.
//
// @Summary Update a user's profile
// @Tags User
// @Param user path string true "username"
// @Accept json
// @Success 200
// @Failure 403
// @Router /api/User/{user} [patch]
func (s *Server) handlePatchUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "user")
	var body patchUserRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if err := validation.ValidateStruct(&body); err != nil {
		writeError(w, apierr.New(apierr.KindMalformed, "restapi.PatchUser", err))
		return
	}

	token, err := s.sessions.Verify(username, body.Response, clientIP(r))
	if err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	defer s.sessions.Destroy(token)

	current, err := s.users.FindByName(username)
	if err != nil {
		writeError(w, err)
		return
	}
	if body.Privilege > current.Privilege {
		writeError(w, apierr.New(apierr.KindPermissionDenied, "restapi.PatchUser", apierr.ErrPrivilegeExceeded))
		return
	}
	updated := current
	if body.Name != "" {
		if !identity.ValidUsername(body.Name) {
			writeError(w, apierr.New(apierr.KindMalformed, "restapi.PatchUser", apierr.ErrUsernameInvalid))
			return
		}
		updated.Username = body.Name
	}
	if body.Privilege != 0 {
		updated.Privilege = body.Privilege
	}
	if body.PublicKey != "" {
		pub, err := base64.StdEncoding.DecodeString(body.PublicKey)
		if err != nil {
			writeError(w, apierr.New(apierr.KindMalformed, "restapi.PatchUser", err))
			return
		}
		updated.PublicKey = pub
	}
	if err := s.users.Update(updated); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleOpen implements GET /api/User/{user}/open?token=<root-token>&bindIp=…
//: a root-delegated token mint for a named user, bound to
// bindIp and valid for one hour.
//
// @Summary Mint a root-delegated session token for a user
// @Tags User
// @Param user path string true "username"
// @Param token query string true "root session token"
// @Param bindIp query string true "IP to bind the delegated token to"
// @Success 200 {object} map[string]string "delegated token, as {\"token\": t}"
// @Failure 403
// @Router /api/User/{user}/open [get]
func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "user")
	rootToken := r.URL.Query().Get("token")
	bindIP := r.URL.Query().Get("bindIp")

	callerUUID := s.sessions.Validate(rootToken, clientIP(r))
	if callerUUID != identity.RootUUID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	target, err := s.users.FindByName(username)
	if err != nil {
		writeError(w, err)
		return
	}
	delegated, err := s.sessions.CreateToken(target.UUID, bindIP, delegatedOpenTTL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": delegated})
}
