package badger

import (
	"path/filepath"
	"testing"

	"github.com/leftmike/kvmap/store"
	"github.com/leftmike/kvmap/store/test"
	"github.com/leftmike/kvmap/testutil"
)

func TestStore(t *testing.T) {
	err := testutil.CleanDir("testdata", []string{".gitignore"})
	if err != nil {
		t.Fatalf("CleanDir() failed with %s", err)
	}

	logger := testutil.SetupLogger(filepath.Join("testdata", "badger.log"))
	st, err := OpenStore(filepath.Join("testdata", "teststore"), logger)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	test.RunStoreTest(t, st)
}

func TestWalkerDelete(t *testing.T) {
	logger := testutil.SetupLogger(filepath.Join("testdata", "badger.log"))
	st, err := OpenStore(filepath.Join("testdata", "walkerstore"), logger)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	tx, err := st.Begin(true)
	if err != nil {
		t.Fatalf("Begin() failed with %s", err)
	}
	defer tx.Rollback()

	m, err := tx.Map(1)
	if err != nil {
		t.Fatalf("Map() failed with %s", err)
	}
	for _, key := range []string{"a", "b", "c"} {
		err = m.Set([]byte(key), []byte(key))
		if err != nil {
			t.Fatalf("Set(%s) failed with %s", key, err)
		}
	}

	w := m.Walk(nil)
	defer w.Close()

	err = m.Delete([]byte("b"))
	if err != nil {
		t.Fatalf("Delete(b) failed with %s", err)
	}

	// The walker keeps every key it was materialized with.
	cnt := 0
	for _, ok := w.Rewind(); ok; _, ok = w.Next() {
		cnt += 1
	}
	if cnt != 3 {
		t.Errorf("Walk got %d keys want 3", cnt)
	}

	// Reading the deleted key's value reports the deletion instead of
	// returning a stale copy.
	key, ok := w.Seek([]byte("b"))
	if !ok || string(key) != "b" {
		t.Fatalf("Seek(b) got %s, %v", string(key), ok)
	}
	err = w.Value(func(val []byte) error { return nil })
	if err != store.ErrKeyNotFound {
		t.Errorf("Value() got %v want ErrKeyNotFound", err)
	}
}
