package kvmap

import (
	"errors"
)

var errDetachedEntry = errors.New("kvmap: entry is not bound to a map")

// Entry pairs a key with a value. Entries returned by Map.Entries are
// bound to the map that produced them; setting their value writes through
// to storage. The key is fixed at construction.
type Entry[K, V any] struct {
	m   *Map[K, V]
	key K
	val V
}

// NewEntry makes a detached entry, useful as input to PutAll.
func NewEntry[K, V any](key K, val V) Entry[K, V] {
	return Entry[K, V]{
		key: key,
		val: val,
	}
}

func (e *Entry[K, V]) Key() K {
	return e.key
}

func (e *Entry[K, V]) Value() V {
	return e.val
}

// SetValue stores val under the entry's key and returns the previously
// stored value, if any. Entries materialized before this call are not
// updated.
func (e *Entry[K, V]) SetValue(val V) (V, bool, error) {
	if e.m == nil {
		var zero V
		return zero, false, errDetachedEntry
	}

	prev, found, err := e.m.Put(e.key, val)
	if err != nil {
		var zero V
		return zero, false, err
	}
	e.val = val
	return prev, found, nil
}
