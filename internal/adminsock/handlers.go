// Abyss - Self-Hosted Media Proxy and Access Control Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abyss

package adminsock

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tomtom215/abyss/internal/apierr"
	"github.com/tomtom215/abyss/internal/identity"
)

// adminIP is the loopback address stamped on every ephemeral root token the
// admin socket mints for itself; the socket only ever accepts local
// connections, so this is never checked against a real client IP.
const adminIP = "127.0.0.1"

// adminTokenTTL bounds how long a root token minted for a single handler
// call stays valid, in case the handler forgets to destroy it on an error
// path.
const adminTokenTTL = time.Minute

// includePermission is the permission Include assigns when the wire
// request carries no permission string of its own (its params are path,
// owner_uid, recursive — no permission field), matching the default
// Initialize already uses for freshly discovered paths.
const includePermission = "rw,--,--"

// rootPrivilege is the privilege value assigned to the bootstrap root user:
// large enough that "strictly greater privilege overrides deny" always
// resolves in root's favor against any delegated user.
const rootPrivilege = int64(1 << 30)

func handleHello(_ *Server, _ []string) (Response, error) {
	return Response{Head: 200, Params: []string{"abyss"}}, nil
}

// withRootToken mints a short-lived token bound to root, runs fn, and
// destroys the token afterward regardless of outcome. Handlers use this to
// drive the resauth engine's root-only operations by calling through C3/C4
// on the admin's behalf, without a caller-supplied session.
func (s *Server) withRootToken(fn func(token string) error) error {
	token, err := s.sessions.CreateToken(identity.RootUUID, adminIP, adminTokenTTL)
	if err != nil {
		return apierr.New(apierr.KindInternal, "adminsock.withRootToken", err)
	}
	defer s.sessions.Destroy(token)
	return fn(token)
}

// handleInit bootstraps the root user and the reserved directory layout: it
// creates Tasks/, Live/, Videos/, and Images/ under the media root on disk,
// inserts the root identity row, replaces the Tasks/Live attributes, and
// walks Videos/Images into the attribute table, all owned by root
//.
func handleInit(s *Server, _ []string) (Response, error) {
	empty, err := s.users.IsEmpty()
	if err != nil {
		return Response{}, apierr.New(apierr.KindInternal, "adminsock.init", err)
	}
	if !empty {
		return Response{}, apierr.New(apierr.KindConflict, "adminsock.init", apierr.ErrDuplicateUser)
	}

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return Response{}, apierr.New(apierr.KindInternal, "adminsock.init", err)
	}

	root, err := s.users.Insert(identity.User{
		UUID:      identity.RootUUID,
		Username:  "root",
		ParentID:  identity.RootUUID,
		PublicKey: pub,
		Privilege: rootPrivilege,
	})
	if err != nil {
		return Response{}, err
	}

	for _, dir := range []string{"Tasks", "Live", "Videos", "Images"} {
		if err := os.MkdirAll(filepath.Join(s.mediaRoot, dir), 0o755); err != nil {
			return Response{}, apierr.New(apierr.KindInternal, "adminsock.init", err)
		}
	}

	if err := s.engine.BootstrapReserved(); err != nil {
		return Response{}, err
	}

	err = s.withRootToken(func(token string) error {
		for _, dir := range []string{"Videos", "Images"} {
			if err := s.engine.Initialize(filepath.Join(s.mediaRoot, dir), token, root.UUID, adminIP); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Response{}, err
	}

	return Response{Head: 200, Params: []string{base64.StdEncoding.EncodeToString(priv)}}, nil
}

// handleUserAdd creates a new delegated user directly against the identity
// store (params: username, privilege), generating a fresh Ed25519 keypair
// and returning the new user's private key.
func handleUserAdd(s *Server, params []string) (Response, error) {
	if len(params) != 2 {
		return Response{}, apierr.New(apierr.KindMalformed, "adminsock.useradd", nil)
	}
	username := params[0]
	privilege, err := strconv.ParseInt(params[1], 10, 64)
	if err != nil {
		return Response{}, apierr.New(apierr.KindMalformed, "adminsock.useradd", err)
	}

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return Response{}, apierr.New(apierr.KindInternal, "adminsock.useradd", err)
	}

	if _, err := s.users.Insert(identity.User{
		Username:  username,
		ParentID:  identity.RootUUID,
		PublicKey: pub,
		Privilege: privilege,
	}); err != nil {
		return Response{}, err
	}

	return Response{Head: 200, Params: []string{base64.StdEncoding.EncodeToString(priv)}}, nil
}

// handleInclude adds a single path or a whole subtree to the attribute
// table (params: path, owner_uid, recursive). A recursive request walks the
// existing directory tree via Initialize; a non-recursive request inserts
// exactly one row via Include.
func handleInclude(s *Server, params []string) (Response, error) {
	if len(params) != 3 {
		return Response{}, apierr.New(apierr.KindMalformed, "adminsock.include", nil)
	}
	path := params[0]
	owner, err := strconv.ParseInt(params[1], 10, 64)
	if err != nil {
		return Response{}, apierr.New(apierr.KindMalformed, "adminsock.include", err)
	}
	recursive, err := strconv.ParseBool(params[2])
	if err != nil {
		return Response{}, apierr.New(apierr.KindMalformed, "adminsock.include", err)
	}

	err = s.withRootToken(func(token string) error {
		if recursive {
			return s.engine.Initialize(path, token, owner, adminIP)
		}
		return s.engine.Include(path, token, adminIP, owner, includePermission)
	})
	if err != nil {
		return Response{}, err
	}
	return Response{Head: 200}, nil
}

// handleChmod bulk-updates permissions (params: path, permission,
// recursive), returning the number of attribute rows updated.
func handleChmod(s *Server, params []string) (Response, error) {
	if len(params) != 3 {
		return Response{}, apierr.New(apierr.KindMalformed, "adminsock.chmod", nil)
	}
	path := params[0]
	perm := params[1]
	recursive, err := strconv.ParseBool(params[2])
	if err != nil {
		return Response{}, apierr.New(apierr.KindMalformed, "adminsock.chmod", err)
	}

	var count int
	err = s.withRootToken(func(token string) error {
		n, err := s.engine.Chmod(path, token, perm, adminIP, recursive)
		count = n
		return err
	})
	if err != nil {
		return Response{}, err
	}
	return Response{Head: 200, Params: []string{fmt.Sprintf("%d", count)}}, nil
}

// handleList lists the immediate children of path that root can read
// (params: path).
func handleList(s *Server, params []string) (Response, error) {
	if len(params) != 1 {
		return Response{}, apierr.New(apierr.KindMalformed, "adminsock.list", nil)
	}
	path := params[0]

	var names []string
	err := s.withRootToken(func(token string) error {
		entries, err := s.engine.Query(path, token, adminIP)
		names = entries
		return err
	})
	if err != nil {
		return Response{}, err
	}
	return Response{Head: 200, Params: names}, nil
}
