// Package test is a conformance harness shared by the store
// implementations.
package test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/leftmike/kvmap/store"
)

const testMID = 1024

type row struct {
	key   string
	value uint64
}

func insertRows(t *testing.T, tx store.Tx, mid uint64, rows []row) {
	t.Helper()

	m, err := tx.Map(mid)
	if err != nil {
		t.Errorf("Map(%d) failed with %s", mid, err)
		return
	}

	for _, i := range rand.Perm(len(rows)) {
		err = m.Set([]byte(rows[i].key), store.EncodeUint64(rows[i].value))
		if err != nil {
			t.Errorf("Set(%d) failed with %s", mid, err)
			break
		}
	}
}

func deleteRows(t *testing.T, tx store.Tx, mid uint64, rows []string) {
	t.Helper()

	m, err := tx.Map(mid)
	if err != nil {
		t.Errorf("Map(%d) failed with %s", mid, err)
		return
	}

	for _, key := range rows {
		err = m.Delete([]byte(key))
		if err != nil {
			t.Errorf("Delete(%s) failed with %s", key, err)
		}
	}
}

func updateRows(t *testing.T, tx store.Tx, mid uint64, rows map[string]uint64) {
	t.Helper()

	m, err := tx.Map(mid)
	if err != nil {
		t.Errorf("Map(%d) failed with %s", mid, err)
		return
	}

	for key, u := range rows {
		err = m.Set([]byte(key), store.EncodeUint64(u))
		if err != nil {
			t.Errorf("Set(%s) failed with %s", key, err)
		}
	}
}

func selectRows(t *testing.T, tx store.Tx, mid uint64, seek string, rows []row) {
	t.Helper()

	m, err := tx.Map(mid)
	if err != nil {
		t.Errorf("Map(%d) failed with %s", mid, err)
		return
	}

	w := m.Walk(nil)
	defer w.Close()

	var key []byte
	var ok bool
	if seek == "" {
		key, ok = w.Rewind()
	} else {
		key, ok = w.Seek([]byte(seek))
	}
	i := 0
	for ok {
		if i >= len(rows) {
			t.Errorf("Walk(%d) got unexpected key %s", i, string(key))
			return
		}
		if string(key) != rows[i].key {
			t.Errorf("Walk(%d) got key %s want key %s", i, string(key), rows[i].key)
		}
		err = w.Value(
			func(val []byte) error {
				if len(val) != 8 {
					return fmt.Errorf("len(%v) != 8", val)
				}
				u := store.DecodeUint64(val)
				if u != rows[i].value {
					return fmt.Errorf("Value(%v) got %d want %d", val, u, rows[i].value)
				}
				return nil
			})
		if err != nil {
			t.Error(err)
		}
		key, ok = w.Next()
		i += 1
	}
	if i != len(rows) {
		t.Errorf("Walk got %d rows want %d", i, len(rows))
	}
}

func countRows(t *testing.T, tx store.Tx, mid uint64, want int) {
	t.Helper()

	m, err := tx.Map(mid)
	if err != nil {
		t.Errorf("Map(%d) failed with %s", mid, err)
		return
	}

	cnt, err := m.Count()
	if err != nil {
		t.Errorf("Count() failed with %s", err)
	} else if cnt != want {
		t.Errorf("Count() got %d want %d", cnt, want)
	}
}

func getRow(t *testing.T, tx store.Tx, mid uint64, key string, value uint64, found bool) {
	t.Helper()

	m, err := tx.Map(mid)
	if err != nil {
		t.Errorf("Map(%d) failed with %s", mid, err)
		return
	}

	err = m.Get([]byte(key),
		func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("len(%v) != 8", val)
			}
			if u := store.DecodeUint64(val); u != value {
				return fmt.Errorf("Get(%s) got %d want %d", key, u, value)
			}
			return nil
		})
	if found {
		if err != nil {
			t.Errorf("Get(%s) failed with %s", key, err)
		}
	} else if err != store.ErrKeyNotFound {
		t.Errorf("Get(%s) got %v want ErrKeyNotFound", key, err)
	}
}

func withCommit(t *testing.T, st store.Store, tf func(t *testing.T, tx store.Tx)) {
	t.Helper()

	tx, err := st.Begin(true)
	if err != nil {
		t.Errorf("Begin() failed with %s", err)
		return
	}
	tf(t, tx)
	err = tx.Commit()
	if err != nil {
		t.Errorf("Commit() failed with %s", err)
	}

	// Rollback should be a no-op after Commit
	err = tx.Rollback()
	if err != nil {
		t.Errorf("Rollback() failed with %s", err)
	}
}

func withRollback(t *testing.T, st store.Store, writable bool,
	tf func(t *testing.T, tx store.Tx)) {

	t.Helper()

	tx, err := st.Begin(writable)
	if err != nil {
		t.Errorf("Begin() failed with %s", err)
		return
	}
	tf(t, tx)
	err = tx.Rollback()
	if err != nil {
		t.Errorf("Rollback() failed with %s", err)
	}
}

func RunStoreTest(t *testing.T, st store.Store) {
	if st.MaxKeySize() <= 0 {
		t.Errorf("MaxKeySize() got %d", st.MaxKeySize())
	}

	withCommit(t, st, func(t *testing.T, tx store.Tx) {})
	withRollback(t, st, true, func(t *testing.T, tx store.Tx) {})
	withRollback(t, st, false, func(t *testing.T, tx store.Tx) {})

	withRollback(t, st, false,
		func(t *testing.T, tx store.Tx) {
			countRows(t, tx, testMID, 0)
			getRow(t, tx, testMID, "missing", 0, false)
			selectRows(t, tx, testMID, "", nil)
		})

	rows1 := []row{
		{"ABC", 1},
		{"a", 2},
		{"ab", 3},
		{"abc", 4},
		{"xyz", 5},
	}

	rows2 := []row{
		{"ABC", 10},
		{"a", 20},
		{"ab", 30},
		{"abc", 40},
		{"xyz", 50},
	}
	withCommit(t, st,
		func(t *testing.T, tx store.Tx) {
			insertRows(t, tx, testMID, rows1)
			selectRows(t, tx, testMID, "", rows1)
			countRows(t, tx, testMID, len(rows1))
		})
	withRollback(t, st, true,
		func(t *testing.T, tx store.Tx) {
			insertRows(t, tx, testMID, rows2)
			selectRows(t, tx, testMID, "", rows2)
		})
	withCommit(t, st,
		func(t *testing.T, tx store.Tx) {
			selectRows(t, tx, testMID, "", rows1)
			countRows(t, tx, testMID, len(rows1))
		})
	withRollback(t, st, false,
		func(t *testing.T, tx store.Tx) {
			selectRows(t, tx, testMID, "", rows1)
			selectRows(t, tx, testMID, "ab", rows1[2:])
			getRow(t, tx, testMID, "abc", 4, true)
			getRow(t, tx, testMID, "ABCD", 0, false)
		})

	rows3 := []row{
		{"ABC", 1},
		{"a", 200},
		{"ab", 3},
		{"abc", 400},
		{"xyz", 5},
	}
	update1 := map[string]uint64{
		"a":   200,
		"abc": 400,
	}
	withRollback(t, st, true,
		func(t *testing.T, tx store.Tx) {
			selectRows(t, tx, testMID, "", rows1)
			updateRows(t, tx, testMID, update1)
			selectRows(t, tx, testMID, "", rows3)
		})
	withCommit(t, st,
		func(t *testing.T, tx store.Tx) {
			selectRows(t, tx, testMID, "", rows1)
			updateRows(t, tx, testMID, update1)
			selectRows(t, tx, testMID, "", rows3)
		})

	rows4 := []row{
		{"ABC", 1},
		{"ab", 3},
		{"xyz", 5},
	}
	withCommit(t, st,
		func(t *testing.T, tx store.Tx) {
			deleteRows(t, tx, testMID, []string{"a", "abc"})
			selectRows(t, tx, testMID, "", rows4)
			countRows(t, tx, testMID, len(rows4))
		})
	withRollback(t, st, false,
		func(t *testing.T, tx store.Tx) {
			selectRows(t, tx, testMID, "", rows4)
		})

	withCommit(t, st,
		func(t *testing.T, tx store.Tx) {
			deleteRows(t, tx, testMID, []string{"ABC", "ab", "xyz"})
			countRows(t, tx, testMID, 0)
		})
	withRollback(t, st, false,
		func(t *testing.T, tx store.Tx) {
			selectRows(t, tx, testMID, "", nil)
		})
}
