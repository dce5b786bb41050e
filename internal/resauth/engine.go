// Abyss - Self-Hosted Media Proxy and Access Control Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abyss

package resauth

import (
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/tomtom215/abyss/internal/apierr"
	"github.com/tomtom215/abyss/internal/audit"
	"github.com/tomtom215/abyss/internal/identity"
	"github.com/tomtom215/abyss/internal/session"
)

// bootstrapPermission is the permission Initialize assigns to freshly
// discovered paths.
const bootstrapPermission = "rw,--,--"

// reservedBootstrapPermission is the permission the two always-present
// reserved directories get on every startup.
const reservedBootstrapPermission = "rw,r-,r-"

// Engine is the C4 resource authorization service: attribute storage,
// path normalization, and the public Query/Get/Chmod/... surface, wired
// against a C2 identity.Store and a C3 session.Service for token
// validation.
type Engine struct {
	root      string
	attrs     *Store
	users     *identity.Store
	sessions  *session.Service
	index     *IndexGraph
	bus       audit.Publisher
}

// New builds an Engine rooted at mediaRoot.
func New(mediaRoot string, attrs *Store, users *identity.Store, sessions *session.Service, bus audit.Publisher) *Engine {
	return &Engine{
		root:     mediaRoot,
		attrs:    attrs,
		users:    users,
		sessions: sessions,
		index:    NewIndexGraph(),
		bus:      bus,
	}
}

// Root returns the media root this engine authorizes paths under, so
// callers building absolute paths (the REST adapter's filesystem-layout
// handlers) don't need to duplicate the configured root.
func (e *Engine) Root() string {
	return e.root
}

func (e *Engine) publish(kind audit.EventKind, uuid int64, detail string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(audit.Event{Kind: kind, UUID: uuid, Detail: detail})
}

// authenticate validates token/ip through C3 and loads the resulting
// user's record, or returns a NotAuthenticated error.
func (e *Engine) authenticate(token, ip string) (identity.User, error) {
	uuid := e.sessions.Validate(token, ip)
	if uuid == -1 {
		return identity.User{}, apierr.New(apierr.KindNotAuthenticated, "resauth", apierr.ErrTokenMissing)
	}
	u, err := e.users.FindByUUID(uuid)
	if err != nil {
		return identity.User{}, apierr.New(apierr.KindNotAuthenticated, "resauth", apierr.ErrTokenMissing)
	}
	return u, nil
}

// authorizePath runs the full path-walk rule: every strict prefix requires
// Read, the target requires op, all required (uid, op) pairs are computed
// once and batch-fetched in a single read.
func (e *Engine) authorizePath(u identity.User, absPath string, op Op) error {
	rel, err := RelativePath(e.root, absPath)
	if err != nil {
		return err
	}
	components := PathComponents(rel)
	if len(components) == 0 {
		return apierr.New(apierr.KindNotFound, "resauth.authorizePath", apierr.ErrPathTraversal)
	}

	prefixes := Prefixes(components)
	target := joinComponents(components)

	type need struct {
		uid string
		op  Op
	}
	needs := make([]need, 0, len(prefixes)+1)
	uidSet := make(map[string]struct{}, len(prefixes)+1)
	for _, p := range prefixes {
		uid := UID(p)
		if _, ok := uidSet[uid]; !ok {
			uidSet[uid] = struct{}{}
			needs = append(needs, need{uid: uid, op: OpRead})
		}
	}
	targetUID := UID(target)
	needs = append(needs, need{uid: targetUID, op: op})

	uids := make([]string, 0, len(uidSet)+1)
	for uid := range uidSet {
		uids = append(uids, uid)
	}
	uids = append(uids, targetUID)

	rows, err := e.attrs.GetBatch(uids)
	if err != nil {
		return apierr.New(apierr.KindInternal, "resauth.authorizePath", err)
	}

	requester := Requester{UUID: u.UUID, Privilege: u.Privilege}
	for _, n := range needs {
		row, ok := rows[n.uid]
		if !ok {
			return apierr.New(apierr.KindPermissionDenied, "resauth.authorizePath", nil)
		}
		owner, err := e.users.FindByUUID(row.OwnerUUID)
		if err != nil {
			return apierr.New(apierr.KindPermissionDenied, "resauth.authorizePath", nil)
		}
		perm, err := ParsePermission(row.Permission)
		if err != nil {
			return apierr.New(apierr.KindInternal, "resauth.authorizePath", err)
		}
		if !Decide(requester, Owner{UUID: owner.UUID, Privilege: owner.Privilege}, perm, n.op) {
			e.publish(audit.EventAuthzDenied, u.UUID, target)
			return apierr.New(apierr.KindPermissionDenied, "resauth.authorizePath", nil)
		}
	}
	e.publish(audit.EventAuthzGranted, u.UUID, target)
	return nil
}

// Query authorizes Read on path, then lists its immediate children,
// silently dropping any child the requester cannot Read or that carries no
// attribute row.
func (e *Engine) Query(path, token, ip string) ([]string, error) {
	u, err := e.authenticate(token, ip)
	if err != nil {
		return nil, err
	}
	if err := e.authorizePath(u, path, OpRead); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, apierr.New(apierr.KindNotFound, "resauth.Query", err)
	}

	candidates := make([]string, 0, len(entries))
	fullPaths := make([]string, 0, len(entries))
	for _, ent := range entries {
		candidates = append(candidates, ent.Name())
		fullPaths = append(fullPaths, filepath.Join(path, ent.Name()))
	}

	allowed := e.ValidAny(u, fullPaths, OpRead)
	out := make([]string, 0, len(candidates))
	for i, name := range candidates {
		if allowed[fullPaths[i]] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Get authorizes Read on path and returns a range-capable file handle.
// Callers are responsible for closing the returned handle.
func (e *Engine) Get(path, token, ip string) (*os.File, error) {
	u, err := e.authenticate(token, ip)
	if err != nil {
		return nil, err
	}
	if err := e.authorizePath(u, path, OpRead); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, apierr.New(apierr.KindNotFound, "resauth.Get", err)
	}
	return f, nil
}

// GetString authorizes Read on path and returns its contents as text.
func (e *Engine) GetString(path, token, ip string) (string, error) {
	f, err := e.Get(path, token, ip)
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", apierr.New(apierr.KindInternal, "resauth.GetString", err)
	}
	return string(data), nil
}

// GetAllString authorizes Read on each of paths independently, returning
// a map path -> text for the authorized subset; unauthorized or missing
// paths are simply absent from the result rather than failing the batch.
func (e *Engine) GetAllString(paths []string, token, ip string) map[string]string {
	out := make(map[string]string, len(paths))
	u, err := e.authenticate(token, ip)
	if err != nil {
		return out
	}
	allowed := e.ValidAny(u, paths, OpRead)
	for _, p := range paths {
		if !allowed[p] {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		out[p] = string(data)
	}
	return out
}

// UpdateString authorizes Write on path and atomically replaces its
// contents.
func (e *Engine) UpdateString(path, token, ip, body string) error {
	u, err := e.authenticate(token, ip)
	if err != nil {
		return err
	}
	if err := e.authorizePath(u, path, OpWrite); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(body), 0o644); err != nil {
		return apierr.New(apierr.KindInternal, "resauth.UpdateString", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return apierr.New(apierr.KindInternal, "resauth.UpdateString", err)
	}
	e.publish(audit.EventAttributeChanged, u.UUID, path)
	return nil
}

// requireRoot returns the caller's user record if the token belongs to
// uuid 1, otherwise a PermissionDenied error.
func (e *Engine) requireRoot(token, ip string) (identity.User, error) {
	u, err := e.authenticate(token, ip)
	if err != nil {
		return identity.User{}, err
	}
	if u.UUID != identity.RootUUID {
		return identity.User{}, apierr.New(apierr.KindPermissionDenied, "resauth", apierr.ErrRootRequired)
	}
	return u, nil
}

// Initialize recursively enumerates rootPath and every descendant,
// inserting one attribute per new path owned by owner with permission
// "rw,--,--"; existing rows are left untouched, so applying Initialize
// twice yields the same attribute count as once.
func (e *Engine) Initialize(rootPath, token string, owner int64, ip string) error {
	if _, err := e.requireRoot(token, ip); err != nil {
		return err
	}
	if _, err := e.users.FindByUUID(owner); err != nil {
		return apierr.New(apierr.KindNotFound, "resauth.Initialize", apierr.ErrUserNotFound)
	}

	err := filepath.WalkDir(rootPath, func(walkPath string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := RelativePath(e.root, walkPath)
		if relErr != nil {
			return nil
		}
		if PathComponents(rel) == nil {
			return nil // root itself carries no attribute row
		}
		uid := UID(rel)
		e.index.Ensure(rel)
		exists, existsErr := e.attrs.Exists(uid)
		if existsErr != nil {
			return existsErr
		}
		if exists {
			return nil
		}
		return e.attrs.Insert(Attribute{UID: uid, OwnerUUID: owner, Permission: bootstrapPermission})
	})
	if err != nil {
		return apierr.New(apierr.KindInternal, "resauth.Initialize", err)
	}
	return nil
}

// BootstrapReserved writes (replacing on re-run) the always-present
// Tasks/ and Live/ attributes owned by root.
func (e *Engine) BootstrapReserved() error {
	for _, name := range []string{"Tasks", "Live"} {
		uid := UID(name)
		e.index.Ensure(name)
		if err := e.attrs.Put(Attribute{UID: uid, OwnerUUID: identity.RootUUID, Permission: reservedBootstrapPermission}); err != nil {
			return apierr.New(apierr.KindInternal, "resauth.BootstrapReserved", err)
		}
	}
	return nil
}

// Include inserts a single attribute for path, root-only, erroring if one
// already exists.
func (e *Engine) Include(path, token, ip string, owner int64, perm string) error {
	if _, err := e.requireRoot(token, ip); err != nil {
		return err
	}
	if _, err := ParsePermission(perm); err != nil {
		return err
	}
	if _, err := e.users.FindByUUID(owner); err != nil {
		return apierr.New(apierr.KindNotFound, "resauth.Include", apierr.ErrUserNotFound)
	}
	rel, err := RelativePath(e.root, path)
	if err != nil {
		return err
	}
	e.index.Ensure(rel)
	uid := UID(rel)
	if err := e.attrs.Insert(Attribute{UID: uid, OwnerUUID: owner, Permission: perm}); err != nil {
		return err
	}
	e.publish(audit.EventAttributeChanged, owner, path)
	return nil
}

// Exclude deletes the attribute for path, root-only.
func (e *Engine) Exclude(path, token, ip string) error {
	u, err := e.requireRoot(token, ip)
	if err != nil {
		return err
	}
	rel, err := RelativePath(e.root, path)
	if err != nil {
		return err
	}
	if err := e.attrs.Delete(UID(rel)); err != nil {
		return apierr.New(apierr.KindInternal, "resauth.Exclude", err)
	}
	e.publish(audit.EventAttributeChanged, u.UUID, path)
	return nil
}

// Chmod authorizes Security on target (and every descendant if
// recursive), then bulk-updates the permission string. Per Open Question
// (b), updatedCount > 0 is treated as success, and updatedCount is
// reported alongside so a caller can detect partial application.
func (e *Engine) Chmod(path, token, perm, ip string, recursive bool) (updatedCount int, err error) {
	u, err := e.authenticate(token, ip)
	if err != nil {
		return 0, err
	}
	if _, err := ParsePermission(perm); err != nil {
		return 0, err
	}
	if err := e.authorizePath(u, path, OpSecurity); err != nil {
		return 0, err
	}

	uids, err := e.targetUIDs(u, path, recursive)
	if err != nil {
		return 0, err
	}
	n, err := e.attrs.UpdatePermissionBatch(uids, perm)
	if err != nil {
		return 0, apierr.New(apierr.KindInternal, "resauth.Chmod", err)
	}
	if n == 0 {
		return 0, apierr.New(apierr.KindNotFound, "resauth.Chmod", nil)
	}
	e.publish(audit.EventAttributeChanged, u.UUID, path)
	return n, nil
}

// Chown authorizes Security on target (and every descendant if
// recursive), verifies the new owner exists, then bulk-updates ownership.
func (e *Engine) Chown(path, token string, newOwner int64, ip string, recursive bool) (updatedCount int, err error) {
	u, err := e.authenticate(token, ip)
	if err != nil {
		return 0, err
	}
	if _, err := e.users.FindByUUID(newOwner); err != nil {
		return 0, apierr.New(apierr.KindNotFound, "resauth.Chown", apierr.ErrUserNotFound)
	}
	if err := e.authorizePath(u, path, OpSecurity); err != nil {
		return 0, err
	}

	uids, err := e.targetUIDs(u, path, recursive)
	if err != nil {
		return 0, err
	}
	n, err := e.attrs.UpdateOwnerBatch(uids, newOwner)
	if err != nil {
		return 0, apierr.New(apierr.KindInternal, "resauth.Chown", err)
	}
	if n == 0 {
		return 0, apierr.New(apierr.KindNotFound, "resauth.Chown", nil)
	}
	e.publish(audit.EventAttributeChanged, u.UUID, path)
	return n, nil
}

func (e *Engine) targetUIDs(u identity.User, path string, recursive bool) ([]string, error) {
	rel, err := RelativePath(e.root, path)
	if err != nil {
		return nil, err
	}
	uids := []string{UID(rel)}
	if !recursive {
		return uids, nil
	}
	// Every descendant that has an attribute row must also grant Security
	// to u; rows that are absent are skipped by the batch update anyway.
	var denied error
	cache := newDecisionCache()
	err = filepath.WalkDir(path, func(walkPath string, d os.DirEntry, err error) error {
		if err != nil || walkPath == path {
			return err
		}
		descRel, relErr := RelativePath(e.root, walkPath)
		if relErr != nil {
			return nil
		}
		if found, existsErr := e.attrs.Exists(UID(descRel)); existsErr != nil {
			return existsErr
		} else if found && !e.validOne(u, walkPath, OpSecurity, cache) {
			denied = apierr.New(apierr.KindPermissionDenied, "resauth.targetUIDs", nil)
			return filepath.SkipAll
		}
		uids = append(uids, UID(descRel))
		return nil
	})
	if denied != nil {
		return nil, denied
	}
	if err != nil {
		return nil, apierr.New(apierr.KindInternal, "resauth.targetUIDs", err)
	}
	return uids, nil
}

// GetAttribute is the unauthorized convenience read used for listing.
func (e *Engine) GetAttribute(path string) (Attribute, error) {
	rel, err := RelativePath(e.root, path)
	if err != nil {
		return Attribute{}, err
	}
	attr, ok, err := e.attrs.Get(UID(rel))
	if err != nil {
		return Attribute{}, apierr.New(apierr.KindInternal, "resauth.GetAttribute", err)
	}
	if !ok {
		return Attribute{}, apierr.New(apierr.KindNotFound, "resauth.GetAttribute", nil)
	}
	return attr, nil
}

// Exists reports whether an attribute row is present for path.
func (e *Engine) Exists(path string) (bool, error) {
	rel, err := RelativePath(e.root, path)
	if err != nil {
		return false, nil
	}
	exists, err := e.attrs.Exists(UID(rel))
	if err != nil {
		return false, apierr.New(apierr.KindInternal, "resauth.Exists", err)
	}
	return exists, nil
}

// ValidAny authorizes op independently on every path in paths, returning
// full_path -> allowed. Unmanaged or malformed paths map to false without
// failing the batch; uids and (uid,op) decisions are deduplicated and
// cached for the duration of this call.
func (e *Engine) ValidAny(u identity.User, paths []string, op Op) map[string]bool {
	cache := newDecisionCache()
	out := make(map[string]bool, len(paths))
	for _, p := range paths {
		out[p] = e.validOne(u, p, op, cache)
	}
	return out
}

// ValidAll reports whether every path in paths is authorized for op,
// short-circuiting to false on the first denial: ValidAll(S,op) == true
// iff every entry of ValidAny(S,op) is true.
func (e *Engine) ValidAll(u identity.User, paths []string, op Op) bool {
	cache := newDecisionCache()
	for _, p := range paths {
		if !e.validOne(u, p, op, cache) {
			return false
		}
	}
	return true
}

func (e *Engine) validOne(u identity.User, path string, op Op, cache *decisionCache) bool {
	rel, err := RelativePath(e.root, path)
	if err != nil {
		return false
	}
	uid := UID(rel)
	if allow, ok := cache.get(uid, op); ok {
		return allow
	}

	row, found, err := e.attrs.Get(uid)
	if err != nil || !found {
		cache.put(uid, op, false)
		return false
	}
	owner, err := e.users.FindByUUID(row.OwnerUUID)
	if err != nil {
		cache.put(uid, op, false)
		return false
	}
	perm, err := ParsePermission(row.Permission)
	if err != nil {
		cache.put(uid, op, false)
		return false
	}
	allow := Decide(Requester{UUID: u.UUID, Privilege: u.Privilege}, Owner{UUID: owner.UUID, Privilege: owner.Privilege}, perm, op)
	cache.put(uid, op, allow)
	return allow
}
