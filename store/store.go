// Package store specifies the contract between the typed map and an
// embedded transactional key value engine. Engines keep byte string keys in
// sorted order; the sub-packages adapt bbolt, badger, pebble, and an
// in-memory btree to this contract.
//
// Every transaction must be committed or rolled back before the operation
// that began it returns; a leaked write transaction blocks all later
// writers on single-writer engines. Rollback after Commit is a no-op.
package store

import (
	"encoding/binary"
	"errors"
)

var (
	ErrKeyNotFound = errors.New("store: key not found")
	ErrKeyTooLarge = errors.New("store: key too large")
)

type Store interface {
	// Begin starts a transaction. Engines allow at most one writable
	// transaction at a time; readers see a snapshot as of Begin.
	Begin(writable bool) (Tx, error)

	// MaxKeySize is the longest key the engine will accept.
	MaxKeySize() int

	Close() error
}

type Tx interface {
	Map(mid uint64) (Mapper, error)
	Commit() error
	Rollback() error
}

type Mapper interface {
	// Get calls vf with the value stored for key, or returns
	// ErrKeyNotFound. The buffer passed to vf is only valid during the
	// call.
	Get(key []byte, vf func(val []byte) error) error
	Set(key, val []byte) error

	// Delete removes key; deleting an absent key is not an error.
	Delete(key []byte) error

	// Count is the number of keys in the map, exact as of the transaction.
	Count() (int, error)

	// Walk visits keys with the given prefix in sorted order; nil means
	// all keys.
	Walk(prefix []byte) Walker
}

type Walker interface {
	Close()
	Next() ([]byte, bool)
	Rewind() ([]byte, bool)
	Seek(seek []byte) ([]byte, bool)
	Value(vf func(val []byte) error) error
}

func EncodeUint64(u uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, u)
	return buf
}

func DecodeUint64(buf []byte) uint64 {
	return binary.BigEndian.Uint64(buf)
}
