// Package store persists application data in a bbolt database and exposes
// it to programs as a command effect manager.
package store

import (
	"encoding/binary"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/conneroisu/tally/internal/errors"
)

// Store is a bbolt database with a fixed set of buckets.
type Store struct {
	db *bolt.DB
}

// KV is one stored record.
type KV struct {
	Key   []byte
	Value []byte
}

// Open opens or creates the database at path and makes sure every bucket
// in buckets exists.
func Open(path string, buckets ...string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.WrapIO(err, errors.ErrCodeStore, "opening database "+path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.WrapIO(err, errors.ErrCodeStore, "initializing buckets")
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping opens a read transaction, which fails once the database is closed.
func (s *Store) Ping() error {
	return s.db.View(func(*bolt.Tx) error { return nil })
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.db.Path()
}

func bucket(tx *bolt.Tx, name string) (*bolt.Bucket, error) {
	b := tx.Bucket([]byte(name))
	if b == nil {
		return nil, errors.NewIOError(errors.ErrCodeStore, "no such bucket: "+name, nil)
	}
	return b, nil
}

// Put stores value under key.
func (s *Store) Put(name string, key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, name)
		if err != nil {
			return err
		}
		return b.Put(key, value)
	})
}

// Append stores value under the bucket's next sequence number and returns
// that number.
func (s *Store) Append(name string, value []byte) (uint64, error) {
	var seq uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, name)
		if err != nil {
			return err
		}
		seq, err = b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(MarshalSeq(seq), value)
	})
	return seq, err
}

// Get returns the value under key, or nil when there is none.
func (s *Store) Get(name string, key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, name)
		if err != nil {
			return err
		}
		if v := b.Get(key); v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	return value, err
}

// Delete removes key.
func (s *Store) Delete(name string, key []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, name)
		if err != nil {
			return err
		}
		return b.Delete(key)
	})
}

// All returns every record of a bucket in key order.
func (s *Store) All(name string) ([]KV, error) {
	var out []KV
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, name)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			out = append(out, KV{
				Key:   append([]byte(nil), k...),
				Value: append([]byte(nil), v...),
			})
			return nil
		})
	})
	return out, err
}

// MarshalSeq encodes a sequence number as a big-endian key, so keys sort
// in sequence order.
func MarshalSeq(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

// UnmarshalSeq decodes a key written by MarshalSeq.
func UnmarshalSeq(key []byte) uint64 {
	return binary.BigEndian.Uint64(key)
}
