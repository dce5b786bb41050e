// Abyss - Self-Hosted Media Proxy and Access Control Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abyss

// Package resauth is the path-based resource authorization engine: a
// BadgerDB table of ResourceAttribute rows keyed by a hashed relative
// path, a role-and-privilege decision algorithm, and the public
// Query/Get/Chmod/Chown/Initialize surface that walks a path's directory
// chain against that table.
package resauth

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/zeebo/xxh3"

	"github.com/tomtom215/abyss/internal/apierr"
)

// hashSeed is the fixed seed used to hash relative paths into attribute
// uids.
const hashSeed = 0x11451419

// UID computes the base64 uid for a relative path: base64 of a 128-bit
// XXH3 hash seeded with hashSeed.
func UID(relPath string) string {
	h := xxh3.Hash128Seed([]byte(relPath), hashSeed)
	var buf [16]byte
	hi, lo := h.Hi, h.Lo
	for i := 0; i < 8; i++ {
		buf[i] = byte(hi >> (56 - 8*i))
		buf[8+i] = byte(lo >> (56 - 8*i))
	}
	return base64.RawURLEncoding.EncodeToString(buf[:])
}

// Permission is the "oo,pp,tt" triplet describing owner/peer/other
// access, each pair drawn from {"rw","r-","w-","--"}.
type Permission struct {
	Owner string
	Peer  string
	Other string
}

// ParsePermission validates and decomposes a raw "oo,pp,tt" string.
func ParsePermission(raw string) (Permission, error) {
	var parts [3]string
	n := 0
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if n >= 3 {
				return Permission{}, apierr.New(apierr.KindMalformed, "resauth.ParsePermission", nil)
			}
			parts[n] = raw[start:i]
			n++
			start = i + 1
		}
	}
	if n != 3 {
		return Permission{}, apierr.New(apierr.KindMalformed, "resauth.ParsePermission", nil)
	}
	for _, p := range parts {
		if !validPair(p) {
			return Permission{}, apierr.New(apierr.KindMalformed, "resauth.ParsePermission", nil)
		}
	}
	return Permission{Owner: parts[0], Peer: parts[1], Other: parts[2]}, nil
}

func validPair(p string) bool {
	switch p {
	case "rw", "r-", "w-", "--":
		return true
	default:
		return false
	}
}

// String renders the permission back into "oo,pp,tt" form.
func (p Permission) String() string {
	return fmt.Sprintf("%s,%s,%s", p.Owner, p.Peer, p.Other)
}

// Attribute is the persistent ResourceAttribute row.
type Attribute struct {
	UID        string `json:"uid"`
	OwnerUUID  int64  `json:"owner_uuid"`
	Permission string `json:"permission"` // raw "oo,pp,tt"
}

const keyPrefixAttr = "attr:"

// Store is a BadgerDB-backed ResourceAttribute table.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) a Badger-backed attribute store at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("resauth: open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func attrKey(uid string) []byte {
	return []byte(keyPrefixAttr + uid)
}

// Get fetches the attribute row for uid.
func (s *Store) Get(uid string) (Attribute, bool, error) {
	var a Attribute
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(attrKey(uid))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &a)
		})
	})
	return a, found, err
}

// GetBatch fetches every attribute in uids in a single read transaction,
// so a path-walk or ValidAny/ValidAll call sees one consistent snapshot.
func (s *Store) GetBatch(uids []string) (map[string]Attribute, error) {
	out := make(map[string]Attribute, len(uids))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, uid := range uids {
			item, err := txn.Get(attrKey(uid))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			var a Attribute
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &a)
			}); err != nil {
				return err
			}
			out[uid] = a
		}
		return nil
	})
	return out, err
}

// Insert adds a new attribute row, failing with ErrAttributeExists if one
// is already present for uid.
func (s *Store) Insert(a Attribute) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("resauth: marshal attribute: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(attrKey(a.UID)); err == nil {
			return apierr.New(apierr.KindConflict, "resauth.Insert", apierr.ErrAttributeExists)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(attrKey(a.UID), data)
	})
}

// Put unconditionally writes (inserts or replaces) an attribute row, used
// by the bootstrap path which explicitly replaces Tasks/Live on re-run.
func (s *Store) Put(a Attribute) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("resauth: marshal attribute: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(attrKey(a.UID), data)
	})
}

// Delete removes the attribute row for uid. Deleting an absent row is not
// an error.
func (s *Store) Delete(uid string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(attrKey(uid))
	})
}

// Exists reports whether an attribute row is present for uid.
func (s *Store) Exists(uid string) (bool, error) {
	_, found, err := s.Get(uid)
	return found, err
}

// UpdatePermissionBatch rewrites the permission string on every row in
// uids that exists, returning the count actually updated. Missing uids
// are skipped, not an error — Chmod/Chown applies best-effort per row.
func (s *Store) UpdatePermissionBatch(uids []string, perm string) (int, error) {
	updated := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, uid := range uids {
			item, err := txn.Get(attrKey(uid))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			var a Attribute
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &a)
			}); err != nil {
				return err
			}
			a.Permission = perm
			data, err := json.Marshal(a)
			if err != nil {
				return err
			}
			if err := txn.Set(attrKey(uid), data); err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	return updated, err
}

// UpdateOwnerBatch rewrites the owner uuid on every row in uids that
// exists, returning the count actually updated.
func (s *Store) UpdateOwnerBatch(uids []string, newOwner int64) (int, error) {
	updated := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, uid := range uids {
			item, err := txn.Get(attrKey(uid))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			var a Attribute
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &a)
			}); err != nil {
				return err
			}
			a.OwnerUUID = newOwner
			data, err := json.Marshal(a)
			if err != nil {
				return err
			}
			if err := txn.Set(attrKey(uid), data); err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	return updated, err
}
