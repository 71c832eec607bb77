package kvmap_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andreyvit/diff"

	"github.com/leftmike/kvmap"
	"github.com/leftmike/kvmap/codec"
	"github.com/leftmike/kvmap/config"
	"github.com/leftmike/kvmap/store"
	"github.com/leftmike/kvmap/store/bbolt"
	"github.com/leftmike/kvmap/store/memkv"
	"github.com/leftmike/kvmap/testutil"
)

func TestMain(m *testing.M) {
	err := testutil.CleanDir("testdata", []string{".gitignore"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

func openStringMap(t *testing.T) *kvmap.Map[string, string] {
	t.Helper()

	return kvmap.New[string, string](memkv.OpenStore(), codec.String{}, codec.String{})
}

func mustSize(t *testing.T, m *kvmap.Map[string, string], want int) {
	t.Helper()

	cnt, err := m.Size()
	if err != nil {
		t.Errorf("Size() failed with %s", err)
	} else if cnt != want {
		t.Errorf("Size() got %d want %d", cnt, want)
	}
}

func mustPut(t *testing.T, m *kvmap.Map[string, string], key, val string) {
	t.Helper()

	_, _, err := m.Put(key, val)
	if err != nil {
		t.Fatalf("Put(%s) failed with %s", key, err)
	}
}

func TestEmptyMap(t *testing.T) {
	m := openStringMap(t)
	defer m.Close()

	mustSize(t, m, 0)

	empty, err := m.IsEmpty()
	if err != nil {
		t.Errorf("IsEmpty() failed with %s", err)
	} else if !empty {
		t.Error("IsEmpty() got false want true")
	}

	_, found, err := m.Get("missing")
	if err != nil {
		t.Errorf("Get() failed with %s", err)
	} else if found {
		t.Error("Get() found a value in an empty map")
	}

	ok, err := m.ContainsKey("missing")
	if err != nil {
		t.Errorf("ContainsKey() failed with %s", err)
	} else if ok {
		t.Error("ContainsKey() got true want false")
	}

	keys, err := m.Keys()
	if err != nil {
		t.Errorf("Keys() failed with %s", err)
	} else if len(keys) != 0 {
		t.Errorf("Keys() got %v want none", keys)
	}
}

func TestPutGet(t *testing.T) {
	m := openStringMap(t)
	defer m.Close()

	prev, found, err := m.Put("key1", "value1")
	if err != nil {
		t.Fatalf("Put() failed with %s", err)
	}
	if found {
		t.Errorf("Put() got previous value %q want none", prev)
	}
	mustSize(t, m, 1)

	val, found, err := m.Get("key1")
	if err != nil {
		t.Fatalf("Get() failed with %s", err)
	}
	if !found {
		t.Error("Get() did not find key1")
	} else if val != "value1" {
		t.Errorf("Get() got %q want %q", val, "value1")
	}

	ok, err := m.ContainsKey("key1")
	if err != nil {
		t.Errorf("ContainsKey() failed with %s", err)
	} else if !ok {
		t.Error("ContainsKey() got false want true")
	}

	prev, found, err = m.Put("key1", "value2")
	if err != nil {
		t.Fatalf("Put() failed with %s", err)
	}
	if !found {
		t.Error("Put() did not return the previous value")
	} else if prev != "value1" {
		t.Errorf("Put() got previous value %q want %q", prev, "value1")
	}
	mustSize(t, m, 1)

	val, _, err = m.Get("key1")
	if err != nil {
		t.Fatalf("Get() failed with %s", err)
	}
	if val != "value2" {
		t.Errorf("Get() got %q want %q", val, "value2")
	}
}

func TestRemove(t *testing.T) {
	m := openStringMap(t)
	defer m.Close()

	mustPut(t, m, "key1", "value1")
	mustPut(t, m, "key2", "value2")

	prev, found, err := m.Remove("key1")
	if err != nil {
		t.Fatalf("Remove() failed with %s", err)
	}
	if !found {
		t.Error("Remove() did not return the previous value")
	} else if prev != "value1" {
		t.Errorf("Remove() got %q want %q", prev, "value1")
	}
	mustSize(t, m, 1)

	ok, err := m.ContainsKey("key1")
	if err != nil {
		t.Errorf("ContainsKey() failed with %s", err)
	} else if ok {
		t.Error("ContainsKey() got true after Remove()")
	}

	_, found, err = m.Remove("key1")
	if err != nil {
		t.Fatalf("Remove() failed with %s", err)
	}
	if found {
		t.Error("Remove() of an absent key returned a value")
	}
	mustSize(t, m, 1)
}

func bulkEntries() []kvmap.Entry[string, string] {
	return []kvmap.Entry[string, string]{
		kvmap.NewEntry("key1", "value1"),
		kvmap.NewEntry("key2", "value2"),
		kvmap.NewEntry("key3", "value3"),
		kvmap.NewEntry("key4", "value3"),
	}
}

func TestBulkLoad(t *testing.T) {
	m := openStringMap(t)
	defer m.Close()

	err := m.PutAll(bulkEntries())
	if err != nil {
		t.Fatalf("PutAll() failed with %s", err)
	}
	mustSize(t, m, 4)

	ok, err := m.ContainsValue("value3")
	if err != nil {
		t.Errorf("ContainsValue() failed with %s", err)
	} else if !ok {
		t.Error("ContainsValue(value3) got false want true")
	}

	ok, err = m.ContainsValue("value4")
	if err != nil {
		t.Errorf("ContainsValue() failed with %s", err)
	} else if ok {
		t.Error("ContainsValue(value4) got true want false")
	}

	keys, err := m.Keys()
	if err != nil {
		t.Fatalf("Keys() failed with %s", err)
	}
	wantKeys := []string{"key1", "key2", "key3", "key4"}
	if len(keys) != len(wantKeys) {
		t.Fatalf("Keys() got %v want %v", keys, wantKeys)
	}
	for i := range keys {
		if keys[i] != wantKeys[i] {
			t.Errorf("Keys()[%d] got %s want %s", i, keys[i], wantKeys[i])
		}
	}

	vals, err := m.Values()
	if err != nil {
		t.Fatalf("Values() failed with %s", err)
	}
	got := strings.Join(vals, "\n")
	want := strings.Join([]string{"value1", "value2", "value3", "value3"}, "\n")
	if got != want {
		t.Errorf("Values() differs:\n%s", diff.LineDiff(want, got))
	}

	entries, err := m.Entries()
	if err != nil {
		t.Fatalf("Entries() failed with %s", err)
	}
	loaded := map[string]string{}
	for _, ent := range entries {
		loaded[ent.Key()] = ent.Value()
	}
	for _, ent := range bulkEntries() {
		if loaded[ent.Key()] != ent.Value() {
			t.Errorf("Entries()[%s] got %q want %q", ent.Key(), loaded[ent.Key()],
				ent.Value())
		}
	}
	if len(loaded) != 4 {
		t.Errorf("Entries() got %d entries want 4", len(loaded))
	}
}

func TestEntryWriteThrough(t *testing.T) {
	m := openStringMap(t)
	defer m.Close()

	err := m.PutAll(bulkEntries())
	if err != nil {
		t.Fatalf("PutAll() failed with %s", err)
	}

	entries, err := m.Entries()
	if err != nil {
		t.Fatalf("Entries() failed with %s", err)
	}

	var ent *kvmap.Entry[string, string]
	for _, e := range entries {
		if e.Key() == "key4" {
			ent = e
		}
	}
	if ent == nil {
		t.Fatal("Entries() did not include key4")
	}

	prev, found, err := ent.SetValue("value4")
	if err != nil {
		t.Fatalf("SetValue() failed with %s", err)
	}
	if !found || prev != "value3" {
		t.Errorf("SetValue() got previous %q, %v want %q, true", prev, found, "value3")
	}
	if ent.Value() != "value4" {
		t.Errorf("Value() got %q want %q", ent.Value(), "value4")
	}

	val, _, err := m.Get("key4")
	if err != nil {
		t.Fatalf("Get() failed with %s", err)
	}
	if val != "value4" {
		t.Errorf("Get(key4) got %q want %q", val, "value4")
	}
	mustSize(t, m, 4)
}

func TestClear(t *testing.T) {
	m := openStringMap(t)
	defer m.Close()

	err := m.PutAll(bulkEntries())
	if err != nil {
		t.Fatalf("PutAll() failed with %s", err)
	}
	mustSize(t, m, 4)

	err = m.Clear()
	if err != nil {
		t.Fatalf("Clear() failed with %s", err)
	}

	empty, err := m.IsEmpty()
	if err != nil {
		t.Errorf("IsEmpty() failed with %s", err)
	} else if !empty {
		t.Error("IsEmpty() got false after Clear()")
	}

	entries, err := m.Entries()
	if err != nil {
		t.Errorf("Entries() failed with %s", err)
	} else if len(entries) != 0 {
		t.Errorf("Entries() got %d entries after Clear()", len(entries))
	}

	// Clearing an empty map is a no-op.
	err = m.Clear()
	if err != nil {
		t.Errorf("Clear() failed with %s", err)
	}
}

func TestWalk(t *testing.T) {
	m := openStringMap(t)
	defer m.Close()

	err := m.PutAll(bulkEntries())
	if err != nil {
		t.Fatalf("PutAll() failed with %s", err)
	}

	var visited []string
	err = m.Walk(
		func(key, val string) (bool, error) {
			visited = append(visited, key)
			return key == "key2", nil
		})
	if err != nil {
		t.Fatalf("Walk() failed with %s", err)
	}
	if len(visited) != 2 || visited[0] != "key1" || visited[1] != "key2" {
		t.Errorf("Walk() visited %v want [key1 key2]", visited)
	}

	wantErr := errors.New("stop")
	err = m.Walk(
		func(key, val string) (bool, error) {
			return false, wantErr
		})
	if err != wantErr {
		t.Errorf("Walk() got %v want %v", err, wantErr)
	}
}

func TestKeyTooLarge(t *testing.T) {
	st, err := bbolt.OpenStore(filepath.Join("testdata", "toolarge"),
		bbolt.Options{NoSync: true})
	if err != nil {
		t.Fatal(err)
	}

	m := kvmap.New[string, string](st, codec.String{}, codec.String{})
	defer m.Close()

	big := strings.Repeat("x", st.MaxKeySize()+1)

	_, _, err = m.Put(big, "value")
	if !errors.Is(err, store.ErrKeyTooLarge) {
		t.Errorf("Put() got %v want ErrKeyTooLarge", err)
	}

	_, _, err = m.Get(big)
	if !errors.Is(err, store.ErrKeyTooLarge) {
		t.Errorf("Get() got %v want ErrKeyTooLarge", err)
	}

	_, _, err = m.Remove(big)
	if !errors.Is(err, store.ErrKeyTooLarge) {
		t.Errorf("Remove() got %v want ErrKeyTooLarge", err)
	}

	mustSize(t, m, 0)
}

func TestPutAllAtomic(t *testing.T) {
	st, err := bbolt.OpenStore(filepath.Join("testdata", "putall"),
		bbolt.Options{NoSync: true})
	if err != nil {
		t.Fatal(err)
	}

	m := kvmap.New[string, string](st, codec.String{}, codec.String{})
	defer m.Close()

	mustPut(t, m, "key1", "value1")

	big := strings.Repeat("x", st.MaxKeySize()+1)
	err = m.PutAll([]kvmap.Entry[string, string]{
		kvmap.NewEntry("key2", "value2"),
		kvmap.NewEntry(big, "value3"),
	})
	if !errors.Is(err, store.ErrKeyTooLarge) {
		t.Errorf("PutAll() got %v want ErrKeyTooLarge", err)
	}

	// The failed batch must not have applied any of its entries.
	mustSize(t, m, 1)
	ok, err := m.ContainsKey("key2")
	if err != nil {
		t.Errorf("ContainsKey() failed with %s", err)
	} else if ok {
		t.Error("ContainsKey(key2) got true after failed PutAll()")
	}
}

func TestDurability(t *testing.T) {
	dir := filepath.Join("testdata", "durable")

	m, err := kvmap.Open[string, string](dir, codec.String{}, codec.String{})
	if err != nil {
		t.Fatalf("Open() failed with %s", err)
	}
	mustSize(t, m, 0)

	err = m.PutAll(bulkEntries())
	if err != nil {
		t.Fatalf("PutAll() failed with %s", err)
	}

	err = m.Close()
	if err != nil {
		t.Fatalf("Close() failed with %s", err)
	}

	m, err = kvmap.Open[string, string](dir, codec.String{}, codec.String{})
	if err != nil {
		t.Fatalf("Open() failed with %s", err)
	}
	defer m.Close()

	mustSize(t, m, 4)
	val, found, err := m.Get("key3")
	if err != nil {
		t.Fatalf("Get() failed with %s", err)
	}
	if !found || val != "value3" {
		t.Errorf("Get(key3) got %q, %v want %q, true", val, found, "value3")
	}
}

func TestOpenConfig(t *testing.T) {
	dir := filepath.Join("testdata", "configured")
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		t.Fatal(err)
	}
	err = os.WriteFile(filepath.Join(dir, config.FileName),
		[]byte(`engine = "memory"`), 0644)
	if err != nil {
		t.Fatal(err)
	}

	m, err := kvmap.Open[string, string](dir, codec.String{}, codec.String{})
	if err != nil {
		t.Fatalf("Open() failed with %s", err)
	}
	defer m.Close()

	mustPut(t, m, "key1", "value1")
	mustSize(t, m, 1)

	// The memory engine must not have created a data file.
	_, err = os.Stat(filepath.Join(dir, "kvmap.db"))
	if !os.IsNotExist(err) {
		t.Errorf("Stat(kvmap.db) got %v want not exist", err)
	}
}

func TestTypedKeys(t *testing.T) {
	type record struct {
		Name  string
		Count int
	}

	st := memkv.OpenStore()
	m := kvmap.New[int64, record](st, codec.Int64{}, codec.JSON[record]{})
	defer m.Close()

	for _, id := range []int64{10, -5, 3, 0, -88} {
		_, _, err := m.Put(id, record{Name: fmt.Sprintf("r%d", id), Count: int(id)})
		if err != nil {
			t.Fatalf("Put(%d) failed with %s", id, err)
		}
	}

	keys, err := m.Keys()
	if err != nil {
		t.Fatalf("Keys() failed with %s", err)
	}
	want := []int64{-88, -5, 0, 3, 10}
	if len(keys) != len(want) {
		t.Fatalf("Keys() got %v want %v", keys, want)
	}
	for i := range keys {
		if keys[i] != want[i] {
			t.Errorf("Keys()[%d] got %d want %d", i, keys[i], want[i])
		}
	}

	r, found, err := m.Get(-5)
	if err != nil {
		t.Fatalf("Get(-5) failed with %s", err)
	}
	if !found || r.Name != "r-5" || r.Count != -5 {
		t.Errorf("Get(-5) got %#v, %v", r, found)
	}
}
