// Package kvmap is a strongly typed, persistent map layered over an
// embedded transactional key value engine. A Map binds one store directory
// to a pair of codecs and exposes the usual associative container
// operations; every operation runs in its own engine transaction, so reads
// see a consistent snapshot and mutations commit before returning.
//
// ContainsValue, Keys, Values, Entries, and Walk scan the entire table;
// they cost O(n) time, and all but Walk O(n) space. The slices they return
// are point-in-time copies, not live views.
//
// A Map must not be used concurrently from multiple goroutines without
// external synchronization, and must not be used after Close.
package kvmap

import (
	"bytes"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/leftmike/kvmap/codec"
	"github.com/leftmike/kvmap/config"
	"github.com/leftmike/kvmap/store"
	"github.com/leftmike/kvmap/store/badger"
	"github.com/leftmike/kvmap/store/bbolt"
	"github.com/leftmike/kvmap/store/memkv"
	"github.com/leftmike/kvmap/store/pebble"
)

// The engine environment is reserved for a single table.
const mapMID = 1

type Map[K, V any] struct {
	st       store.Store
	keyCodec codec.Codec[K]
	valCodec codec.Codec[V]
}

func New[K, V any](st store.Store, keyCodec codec.Codec[K],
	valCodec codec.Codec[V]) *Map[K, V] {

	return &Map[K, V]{
		st:       st,
		keyCodec: keyCodec,
		valCodec: valCodec,
	}
}

// Open opens the map stored in dir, creating it if necessary. The engine
// and its tunables come from an optional config.hcl in dir; the default is
// bbolt.
func Open[K, V any](dir string, keyCodec codec.Codec[K],
	valCodec codec.Codec[V]) (*Map[K, V], error) {

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}

	st, err := openStore(dir, cfg)
	if err != nil {
		return nil, err
	}
	return New[K, V](st, keyCodec, valCodec), nil
}

func openStore(dir string, cfg config.Config) (store.Store, error) {
	switch cfg.Engine {
	case config.BBolt:
		return bbolt.OpenStore(dir,
			bbolt.Options{
				InitialMmapSize: cfg.MmapSize,
				NoSync:          cfg.NoSync,
			})
	case config.Badger:
		return badger.OpenStore(dir, log.StandardLogger())
	case config.Pebble:
		return pebble.OpenStore(dir, log.StandardLogger())
	case config.Memory:
		return memkv.OpenStore(), nil
	}
	return nil, fmt.Errorf("kvmap: unknown engine: %s", cfg.Engine)
}

// Close releases the store; the map must not be used afterward.
func (m *Map[K, V]) Close() error {
	return m.st.Close()
}

func (m *Map[K, V]) encodeKey(key K) ([]byte, error) {
	ekey := m.keyCodec.Encode(key)
	if max := m.st.MaxKeySize(); len(ekey) > max {
		return nil, fmt.Errorf("kvmap: %w: encoded key is %d bytes; maximum is %d",
			store.ErrKeyTooLarge, len(ekey), max)
	}
	return ekey, nil
}

func (m *Map[K, V]) previousValue(mp store.Mapper, ekey []byte) (V, bool, error) {
	var prev V
	err := mp.Get(ekey,
		func(buf []byte) error {
			var err error
			prev, err = m.valCodec.Decode(buf)
			return err
		})
	if err == store.ErrKeyNotFound {
		var zero V
		return zero, false, nil
	} else if err != nil {
		var zero V
		return zero, false, err
	}
	return prev, true, nil
}

// Get returns the value stored for key; the bool is false if the key is
// absent.
func (m *Map[K, V]) Get(key K) (V, bool, error) {
	var zero V

	ekey, err := m.encodeKey(key)
	if err != nil {
		return zero, false, err
	}

	tx, err := m.st.Begin(false)
	if err != nil {
		return zero, false, err
	}
	defer tx.Rollback()

	mp, err := tx.Map(mapMID)
	if err != nil {
		return zero, false, err
	}

	return m.previousValue(mp, ekey)
}

func (m *Map[K, V]) ContainsKey(key K) (bool, error) {
	_, found, err := m.Get(key)
	return found, err
}

// ContainsValue scans the table in key order and reports whether any
// stored value equals val. Values are compared by their canonical
// encodings, which agrees with domain equality for codecs satisfying the
// round-trip law.
func (m *Map[K, V]) ContainsValue(val V) (bool, error) {
	target := m.valCodec.Encode(val)

	tx, err := m.st.Begin(false)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	mp, err := tx.Map(mapMID)
	if err != nil {
		return false, err
	}

	w := mp.Walk(nil)
	defer w.Close()

	_, ok := w.Rewind()
	for ok {
		var match bool
		err = w.Value(
			func(buf []byte) error {
				match = bytes.Equal(buf, target)
				return nil
			})
		if err != nil {
			return false, err
		}
		if match {
			return true, nil
		}
		_, ok = w.Next()
	}
	return false, nil
}

// Put stores val under key and returns the previously stored value, if
// any. The read of the previous value and the write happen in one write
// transaction.
func (m *Map[K, V]) Put(key K, val V) (V, bool, error) {
	var zero V

	ekey, err := m.encodeKey(key)
	if err != nil {
		return zero, false, err
	}

	tx, err := m.st.Begin(true)
	if err != nil {
		return zero, false, err
	}
	defer tx.Rollback()

	mp, err := tx.Map(mapMID)
	if err != nil {
		return zero, false, err
	}

	prev, found, err := m.previousValue(mp, ekey)
	if err != nil {
		return zero, false, err
	}

	err = mp.Set(ekey, m.valCodec.Encode(val))
	if err != nil {
		return zero, false, err
	}

	err = tx.Commit()
	if err != nil {
		return zero, false, err
	}
	return prev, found, nil
}

// PutAll stores the entries in order within one write transaction; if any
// entry fails, none are applied.
func (m *Map[K, V]) PutAll(entries []Entry[K, V]) error {
	tx, err := m.st.Begin(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	mp, err := tx.Map(mapMID)
	if err != nil {
		return err
	}

	for _, ent := range entries {
		ekey, err := m.encodeKey(ent.key)
		if err != nil {
			return err
		}
		err = mp.Set(ekey, m.valCodec.Encode(ent.val))
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Remove deletes key and returns the value it had, if any; removing an
// absent key is a no-op.
func (m *Map[K, V]) Remove(key K) (V, bool, error) {
	var zero V

	ekey, err := m.encodeKey(key)
	if err != nil {
		return zero, false, err
	}

	tx, err := m.st.Begin(true)
	if err != nil {
		return zero, false, err
	}
	defer tx.Rollback()

	mp, err := tx.Map(mapMID)
	if err != nil {
		return zero, false, err
	}

	prev, found, err := m.previousValue(mp, ekey)
	if err != nil {
		return zero, false, err
	}

	if found {
		err = mp.Delete(ekey)
		if err != nil {
			return zero, false, err
		}
	}

	err = tx.Commit()
	if err != nil {
		return zero, false, err
	}
	return prev, found, nil
}

// Clear deletes every entry in one write transaction. The scan is buffered
// before any key is deleted so no engine needs to delete at its cursor.
func (m *Map[K, V]) Clear() error {
	tx, err := m.st.Begin(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	mp, err := tx.Map(mapMID)
	if err != nil {
		return err
	}

	var keys [][]byte
	w := mp.Walk(nil)
	key, ok := w.Rewind()
	for ok {
		keys = append(keys, append([]byte(nil), key...))
		key, ok = w.Next()
	}
	w.Close()

	for _, key := range keys {
		err = mp.Delete(key)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Size is the exact entry count as of the call.
func (m *Map[K, V]) Size() (int, error) {
	tx, err := m.st.Begin(false)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	mp, err := tx.Map(mapMID)
	if err != nil {
		return 0, err
	}
	return mp.Count()
}

func (m *Map[K, V]) IsEmpty() (bool, error) {
	cnt, err := m.Size()
	return cnt == 0, err
}

// Walk calls fn for each entry in key order within one read transaction;
// fn returning true stops the walk early.
func (m *Map[K, V]) Walk(fn func(key K, val V) (bool, error)) error {
	tx, err := m.st.Begin(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	mp, err := tx.Map(mapMID)
	if err != nil {
		return err
	}

	w := mp.Walk(nil)
	defer w.Close()

	kbuf, ok := w.Rewind()
	for ok {
		key, err := m.keyCodec.Decode(kbuf)
		if err != nil {
			return err
		}

		var done bool
		err = w.Value(
			func(buf []byte) error {
				val, err := m.valCodec.Decode(buf)
				if err != nil {
					return err
				}
				done, err = fn(key, val)
				return err
			})
		if err != nil {
			return err
		}
		if done {
			break
		}

		kbuf, ok = w.Next()
	}
	return nil
}

// Keys returns all keys in key order.
func (m *Map[K, V]) Keys() ([]K, error) {
	var keys []K
	err := m.Walk(
		func(key K, val V) (bool, error) {
			keys = append(keys, key)
			return false, nil
		})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Values returns all values in key order; duplicate values are kept.
func (m *Map[K, V]) Values() ([]V, error) {
	var vals []V
	err := m.Walk(
		func(key K, val V) (bool, error) {
			vals = append(vals, val)
			return false, nil
		})
	if err != nil {
		return nil, err
	}
	return vals, nil
}

// Entries returns all entries in key order, bound to this map so that
// SetValue writes through to storage.
func (m *Map[K, V]) Entries() ([]*Entry[K, V], error) {
	var entries []*Entry[K, V]
	err := m.Walk(
		func(key K, val V) (bool, error) {
			entries = append(entries, &Entry[K, V]{m: m, key: key, val: val})
			return false, nil
		})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
