// Abyss - Self-Hosted Media Proxy and Access Control Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abyss

// Package session implements the challenge-response login flow and the
// IP-bound session token lifecycle: issuing challenges, verifying Ed25519
// signatures against them, minting/validating/destroying tokens, and
// creating delegated users.
package session

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"time"

	"github.com/tomtom215/abyss/internal/apierr"
	"github.com/tomtom215/abyss/internal/audit"
	"github.com/tomtom215/abyss/internal/expirecache"
	"github.com/tomtom215/abyss/internal/identity"
)

const (
	challengeTTL   = 60 * time.Second
	tokenTTL       = 24 * time.Hour
	delegatedTTL   = 1 * time.Hour
	challengeBytes = 32
	tokenBytes     = 48 // base64 of 48 raw bytes is 64 ASCII chars

	// DebugToken is the well-known token unlocked by DEBUG_MODE=Debug,
	// bound to loopback and exempt from the normal IP-match rule in
	// Validate.
	DebugToken = "abyss"
)

// UserCreating is the payload for a delegated user-creation request.
type UserCreating struct {
	Username  string
	PublicKey []byte
	Privilege int64
}

// Service implements the C3 contracts against a C2 identity.Store and a
// pair of C1 expirecache.Cache instances, one for challenges and one for
// tokens.
type Service struct {
	users      *identity.Store
	challenges *expirecache.Cache
	tokens     *expirecache.Cache
	bus        audit.Publisher
}

// New builds a Service. bus may be nil, in which case audit events are
// silently dropped — callers in tests that don't care about the audit
// trail can omit it.
func New(users *identity.Store, bus audit.Publisher) *Service {
	s := &Service{
		users:      users,
		challenges: expirecache.New("challenges"),
		tokens:     expirecache.New("tokens"),
		bus:        bus,
	}
	return s
}

// EnableDebugToken pre-seeds DebugToken bound to loopback for ttl. Root-check
// bypass on Initialize is C4's responsibility, not this package's.
func (s *Service) EnableDebugToken(ttl time.Duration) {
	s.tokens.Put(DebugToken, tokenEntry{UUID: identity.RootUUID, IP: "127.0.0.1"}, ttl)
}

type tokenEntry struct {
	UUID int64
	IP   string
}

// randomChallenge returns std-base64 random bytes, matching the alphabet
// the client uses to encode challenges, signatures, and keys.
func randomChallenge(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session: read random: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// randomToken returns URL-safe random bytes for internal-only values
// (session tokens) that never round-trip through the client's crypto code.
func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session: read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Challenge issues a fresh login challenge for username, replacing any
// prior outstanding one. Returns apierr(KindNotFound, ErrUserNotFound) if
// the user does not exist.
func (s *Service) Challenge(username string) (string, error) {
	u, err := s.users.FindByName(username)
	if err != nil {
		return "", apierr.New(apierr.KindNotFound, "session.Challenge", apierr.ErrUserNotFound)
	}

	c, err := randomChallenge(challengeBytes)
	if err != nil {
		return "", fmt.Errorf("session: %w", err)
	}
	s.challenges.Put(challengeKey(u.UUID), c, challengeTTL)
	s.publish(audit.Event{Kind: audit.EventChallengeIssued, UUID: u.UUID})
	return c, nil
}

func challengeKey(uuid int64) string {
	return fmt.Sprintf("challenge:%d", uuid)
}

// Verify checks response against the outstanding challenge for username
// and, on success, mints and returns a fresh 24h token bound to ip. On
// signature failure the challenge is poisoned (rewritten to an
// unguessable sentinel with a fresh challengeTTL), preventing further
// attempts against the same challenge.
func (s *Service) Verify(username, response, ip string) (string, error) {
	u, err := s.users.FindByName(username)
	if err != nil {
		return "", apierr.New(apierr.KindNotFound, "session.Verify", apierr.ErrUserNotFound)
	}

	key := challengeKey(u.UUID)
	raw, ok := s.challenges.Get(key)
	if !ok {
		return "", apierr.New(apierr.KindNotAuthenticated, "session.Verify", apierr.ErrChallengeMissing)
	}
	challenge, _ := raw.(string)

	decodedChallenge, err := base64.StdEncoding.DecodeString(challenge)
	if err != nil {
		return "", apierr.New(apierr.KindInternal, "session.Verify", err)
	}
	responseBytes, err := base64.StdEncoding.DecodeString(response)
	if err != nil {
		s.poison(key)
		s.publish(audit.Event{Kind: audit.EventVerifyFailed, UUID: u.UUID})
		return "", apierr.New(apierr.KindNotAuthenticated, "session.Verify", apierr.ErrSignatureInvalid)
	}

	if len(u.PublicKey) != ed25519.PublicKeySize || !ed25519.Verify(u.PublicKey, decodedChallenge, responseBytes) {
		s.poison(key)
		s.publish(audit.Event{Kind: audit.EventVerifyFailed, UUID: u.UUID})
		return "", apierr.New(apierr.KindNotAuthenticated, "session.Verify", apierr.ErrSignatureInvalid)
	}

	s.challenges.Remove(key)
	token, err := s.CreateToken(u.UUID, ip, tokenTTL)
	if err != nil {
		return "", err
	}
	s.publish(audit.Event{Kind: audit.EventVerifySucceeded, UUID: u.UUID})
	return token, nil
}

// poison rewrites the challenge at key to an unrecoverable sentinel
// instead of deleting it, so a further Verify against it fails with a bad
// signature rather than a missing challenge. The sentinel is stored with a
// full challengeTTL from the failed attempt; it does not keep the original
// challenge's expiry time.
func (s *Service) poison(key string) {
	sentinel, err := randomChallenge(challengeBytes)
	if err != nil {
		s.challenges.Remove(key)
		return
	}
	s.challenges.Put(key, "failed:"+sentinel, challengeTTL)
}

// Validate reports the uuid bound to token if it is present, unexpired,
// and presented from its bound IP — or from loopback when token is the
// debug token. On an IP mismatch for a non-loopback request the token is
// destroyed and -1 is returned.
func (s *Service) Validate(token, ip string) int64 {
	raw, ok := s.tokens.Get(token)
	if !ok {
		return -1
	}
	entry, _ := raw.(tokenEntry)

	if token == DebugToken && isLoopback(ip) {
		return entry.UUID
	}
	if entry.IP == ip {
		return entry.UUID
	}

	s.tokens.Remove(token)
	s.publish(audit.Event{Kind: audit.EventIPMismatch, UUID: entry.UUID})
	return -1
}

func isLoopback(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}

// Destroy removes token unconditionally.
func (s *Service) Destroy(token string) {
	s.tokens.Remove(token)
}

// CreateToken mints a fresh random token bound to uuid/ip with the given
// ttl, used directly by Verify and by delegation (the REST adapter's
// /open endpoint and the admin socket's root-delegated tokens).
func (s *Service) CreateToken(uuid int64, ip string, ttl time.Duration) (string, error) {
	token, err := randomToken(tokenBytes)
	if err != nil {
		return "", fmt.Errorf("session: %w", err)
	}
	s.tokens.Put(token, tokenEntry{UUID: uuid, IP: ip}, ttl)
	return token, nil
}

// CreateUser enforces the delegation rules: the creator
// token must be valid, the new username must be alphanumeric and unique,
// the new privilege must not exceed the creator's own, and the new user's
// parent is set to the creator's uuid. On success the creator's token is
// destroyed to force re-login.
func (s *Service) CreateUser(creatorToken, ip string, creating UserCreating) (identity.User, error) {
	creatorUUID := s.Validate(creatorToken, ip)
	if creatorUUID == -1 {
		return identity.User{}, apierr.New(apierr.KindNotAuthenticated, "session.CreateUser", apierr.ErrTokenMissing)
	}

	creator, err := s.users.FindByUUID(creatorUUID)
	if err != nil {
		return identity.User{}, apierr.New(apierr.KindNotAuthenticated, "session.CreateUser", apierr.ErrTokenMissing)
	}

	if !identity.ValidUsername(creating.Username) {
		return identity.User{}, apierr.New(apierr.KindMalformed, "session.CreateUser", apierr.ErrUsernameInvalid)
	}
	if creating.Privilege > creator.Privilege {
		return identity.User{}, apierr.New(apierr.KindPermissionDenied, "session.CreateUser", apierr.ErrPrivilegeExceeded)
	}

	created, err := s.users.Insert(identity.User{
		Username:  creating.Username,
		ParentID:  creator.UUID,
		PublicKey: creating.PublicKey,
		Privilege: creating.Privilege,
	})
	if err != nil {
		return identity.User{}, err
	}

	s.Destroy(creatorToken)
	s.publish(audit.Event{Kind: audit.EventUserCreated, UUID: created.UUID})
	return created, nil
}

// VerifyAny reports whether signature validates data against any
// currently registered user's public key. Used by the transport handshake
// to authenticate a peer without knowing its identity in advance.
func (s *Service) VerifyAny(data, signature []byte) bool {
	matched := false
	_ = s.users.ForEachPublicKey(func(pubKey []byte) bool {
		if len(pubKey) == ed25519.PublicKeySize && ed25519.Verify(pubKey, data, signature) {
			matched = true
			return true
		}
		return false
	})
	return matched
}

func (s *Service) publish(evt audit.Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(evt)
}
