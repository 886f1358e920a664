// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package store

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strconv"

	"github.com/samber/oops"
	bbolt "go.etcd.io/bbolt"
)

// Kind names one of the two per-user files.
type Kind string

// File kinds.
const (
	KindPermissions Kind = "permissions"
	KindGroups      Kind = "permission_groups"
)

// Backend reads and writes the raw bytes of per-user files.
type Backend interface {
	// Load returns the stored bytes, or found == false if the user has no
	// file of this kind.
	Load(userID uint64, kind Kind) (data []byte, found bool, err error)
	// Save replaces the stored bytes.
	Save(userID uint64, kind Kind, data []byte) error
	// Users lists every user that has a file of this kind.
	Users(kind Kind) ([]uint64, error)
	Close() error
}

// FileBackend stores one file per user and kind under
// <dir>/<userID>/<kind>.dat.
type FileBackend struct {
	dir string
}

// NewFileBackend returns a backend rooted at dir.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir}
}

// Path returns the file path for a user and kind.
func (b *FileBackend) Path(userID uint64, kind Kind) string {
	return filepath.Join(b.dir, strconv.FormatUint(userID, 10), string(kind)+".dat")
}

// Load implements Backend.
func (b *FileBackend) Load(userID uint64, kind Kind) ([]byte, bool, error) {
	path := b.Path(userID, kind)
	data, err := os.ReadFile(path) //nolint:gosec // path is built from a numeric id
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, oops.In("store").Code("LOAD_FAILED").With("path", path).Wrap(err)
	}
	return data, true, nil
}

// Save implements Backend. The file is replaced atomically.
func (b *FileBackend) Save(userID uint64, kind Kind, data []byte) error {
	path := b.Path(userID, kind)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return oops.In("store").Code("SAVE_FAILED").With("path", path).Wrap(err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return oops.In("store").Code("SAVE_FAILED").With("path", tmp).Wrap(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return oops.In("store").Code("SAVE_FAILED").With("path", path).Wrap(err)
	}
	return nil
}

// Users implements Backend.
func (b *FileBackend) Users(kind Kind) ([]uint64, error) {
	entries, err := os.ReadDir(b.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.In("store").With("path", b.dir).Wrap(err)
	}
	var users []uint64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := strconv.ParseUint(e.Name(), 10, 64)
		if err != nil {
			continue
		}
		if _, err := os.Stat(b.Path(id, kind)); err == nil {
			users = append(users, id)
		}
	}
	return users, nil
}

// Close implements Backend.
func (b *FileBackend) Close() error {
	return nil
}

// BoltBackend stores the same encoded bytes in a bbolt database, one bucket
// per kind keyed by big-endian user id.
type BoltBackend struct {
	db *bbolt.DB
}

// OpenBoltBackend opens or creates the database and its buckets.
func OpenBoltBackend(path string) (*BoltBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, oops.In("store").With("path", path).Wrap(err)
	}
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, oops.In("store").Code("OPEN_FAILED").With("path", path).Wrap(err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, kind := range []Kind{KindPermissions, KindGroups} {
			if _, err := tx.CreateBucketIfNotExists([]byte(kind)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, oops.In("store").Code("OPEN_FAILED").With("path", path).Wrap(err)
	}
	return &BoltBackend{db: db}, nil
}

func userKey(userID uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], userID)
	return key[:]
}

// Load implements Backend.
func (b *BoltBackend) Load(userID uint64, kind Kind) ([]byte, bool, error) {
	var data []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(kind)).Get(userKey(userID))
		if v != nil {
			// bbolt values are only valid inside the transaction.
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, oops.In("store").Code("LOAD_FAILED").With("user_id", userID).Wrap(err)
	}
	return data, data != nil, nil
}

// Save implements Backend.
func (b *BoltBackend) Save(userID uint64, kind Kind, data []byte) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(kind)).Put(userKey(userID), data)
	})
	if err != nil {
		return oops.In("store").Code("SAVE_FAILED").With("user_id", userID).Wrap(err)
	}
	return nil
}

// Users implements Backend.
func (b *BoltBackend) Users(kind Kind) ([]uint64, error) {
	var users []uint64
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(kind)).ForEach(func(k, _ []byte) error {
			if len(k) == 8 {
				users = append(users, binary.BigEndian.Uint64(k))
			}
			return nil
		})
	})
	if err != nil {
		return nil, oops.In("store").Wrap(err)
	}
	return users, nil
}

// Close implements Backend.
func (b *BoltBackend) Close() error {
	return b.db.Close()
}
