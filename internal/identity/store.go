// Abyss - Self-Hosted Media Proxy and Access Control Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abyss

// Package identity is the persistent table of users: id, name, parent,
// public key, and privilege. It is backed by BadgerDB, keyed by uuid with
// a secondary index on username.
package identity

import (
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/abyss/internal/apierr"
)

// RootUUID is the reserved uuid of the root user, created by the bootstrap path.
const RootUUID = 1

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

// ValidUsername reports whether name matches the ascii-alphanumeric rule
// required of every username.
func ValidUsername(name string) bool {
	return len(name) > 0 && usernamePattern.MatchString(name)
}

// User is the persistent record stored for each account.
type User struct {
	UUID      int64  `json:"uuid"`
	Username  string `json:"username"`
	ParentID  int64  `json:"parent_id"`
	PublicKey []byte `json:"public_key"` // 32-byte raw Ed25519 public key
	Privilege int64  `json:"privilege"`
}

const (
	keyPrefixUser     = "user:"      // user:<uuid> -> User
	keyPrefixUsername = "username:"  // username:<name> -> uuid (ascii decimal)
)

// Store is a BadgerDB-backed identity table.
type Store struct {
	db *badger.DB

	// nextUUID is an in-process cache of the next uuid to allocate; it is
	// re-synced from storage at Open time and every insert advances it
	// under mu, so concurrent Insert calls never hand out the same uuid.
	mu       sync.Mutex
	nextUUID int64
}

// Open opens (or creates) a Badger-backed identity store at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("identity: open badger: %w", err)
	}
	s := &Store{db: db}
	if err := s.resyncNextUUID(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) resyncNextUUID() error {
	max := int64(0)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(keyPrefixUser)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var u User
			item := it.Item()
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &u)
			}); err != nil {
				return err
			}
			if u.UUID > max {
				max = u.UUID
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("identity: resync uuid counter: %w", err)
	}
	atomic.StoreInt64(&s.nextUUID, max+1)
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// IsEmpty reports whether the store holds no users at all — the bootstrap
// trigger for creating root.
func (s *Store) IsEmpty() (bool, error) {
	empty := true
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(keyPrefixUser)
		it.Seek(prefix)
		empty = !it.ValidForPrefix(prefix)
		return nil
	})
	return empty, err
}

// Insert adds a new user. If u.UUID is zero, a fresh uuid is allocated
// (root must be inserted explicitly with UUID=1). Reinserting an existing
// username fails with ErrDuplicateUser.
func (s *Store) Insert(u User) (User, error) {
	if !ValidUsername(u.Username) {
		return User{}, apierr.New(apierr.KindMalformed, "identity.Insert", apierr.ErrUsernameInvalid)
	}

	if _, err := s.FindByName(u.Username); err == nil {
		return User{}, apierr.New(apierr.KindConflict, "identity.Insert", apierr.ErrDuplicateUser)
	} else if apierr.KindOf(err) != apierr.KindNotFound {
		return User{}, err
	}

	s.mu.Lock()
	if u.UUID == 0 {
		u.UUID = atomic.LoadInt64(&s.nextUUID)
	}
	if u.UUID >= atomic.LoadInt64(&s.nextUUID) {
		atomic.StoreInt64(&s.nextUUID, u.UUID+1)
	}
	s.mu.Unlock()

	data, err := json.Marshal(u)
	if err != nil {
		return User{}, fmt.Errorf("identity: marshal user: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		userKey := []byte(fmt.Sprintf("%s%d", keyPrefixUser, u.UUID))
		if _, getErr := txn.Get(userKey); getErr == nil {
			return apierr.New(apierr.KindConflict, "identity.Insert", apierr.ErrDuplicateUser)
		} else if !errors.Is(getErr, badger.ErrKeyNotFound) {
			return getErr
		}
		if err := txn.Set(userKey, data); err != nil {
			return err
		}
		nameKey := []byte(keyPrefixUsername + u.Username)
		return txn.Set(nameKey, []byte(fmt.Sprintf("%d", u.UUID)))
	})
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// FindByUUID looks up a user by uuid.
func (s *Store) FindByUUID(uuid int64) (User, error) {
	var u User
	err := s.db.View(func(txn *badger.Txn) error {
		key := []byte(fmt.Sprintf("%s%d", keyPrefixUser, uuid))
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return apierr.New(apierr.KindNotFound, "identity.FindByUUID", apierr.ErrUserNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &u)
		})
	})
	return u, err
}

// FindByName looks up a user by username.
func (s *Store) FindByName(name string) (User, error) {
	var uuidStr []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefixUsername + name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return apierr.New(apierr.KindNotFound, "identity.FindByName", apierr.ErrUserNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			uuidStr = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return User{}, err
	}
	var uuid int64
	if _, err := fmt.Sscanf(string(uuidStr), "%d", &uuid); err != nil {
		return User{}, fmt.Errorf("identity: corrupt username index for %q: %w", name, err)
	}
	return s.FindByUUID(uuid)
}

// Update persists changes to an existing user record. Callers restrict this
// to admin-initiated mutations; the store itself does not enforce it.
func (s *Store) Update(u User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("identity: marshal user: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := []byte(fmt.Sprintf("%s%d", keyPrefixUser, u.UUID))
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return apierr.New(apierr.KindNotFound, "identity.Update", apierr.ErrUserNotFound)
		}
		return txn.Set(key, data)
	})
}

// ForEachPublicKey calls fn for every registered user's public key, used by
// the transport handshake's VerifyAny. Iteration stops early if fn returns
// true.
func (s *Store) ForEachPublicKey(fn func(pubKey []byte) bool) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(keyPrefixUser)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var u User
			item := it.Item()
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &u)
			}); err != nil {
				return err
			}
			if fn(u.PublicKey) {
				return nil
			}
		}
		return nil
	})
}
