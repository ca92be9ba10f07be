package storage

import (
	"bytes"
	"time"

	bolt "go.etcd.io/bbolt"
)

var defaultBucket = []byte("stablecore")

// BoltDB is a single-file persistent store backed by bbolt. All keys live in
// one bucket.
type BoltDB struct {
	db *bolt.DB
}

// NewBoltDB opens (or creates) the database file at path.
func NewBoltDB(path string, options *bolt.Options) (*BoltDB, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(defaultBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltDB{db: db}, nil
}

func (b *BoltDB) Put(key []byte, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(defaultBucket).Put(key, value)
	})
}

func (b *BoltDB) Get(key []byte) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(defaultBucket).Get(key)
		if raw == nil {
			return ErrNotFound
		}
		out = bytes.Clone(raw)
		return nil
	})
	return out, err
}

func (b *BoltDB) Delete(key []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(defaultBucket).Delete(key)
	})
}

func (b *BoltDB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(defaultBucket).Cursor()
		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			if err := fn(bytes.Clone(k), bytes.Clone(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close releases the file lock.
func (b *BoltDB) Close() {
	if b == nil || b.db == nil {
		return
	}
	_ = b.db.Close()
}
