package bbolt

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strconv"

	"go.etcd.io/bbolt"

	"github.com/leftmike/kvmap/store"
)

const (
	dataFile = "kvmap.db"

	// Reserve plenty of address space up front so the data file can grow
	// without remapping.
	defaultMmapSize = 1 << 30
)

var (
	errTransactionDone = errors.New("bbolt: transaction done")
	errNoCurrentValue  = errors.New("bbolt: no current value")
)

type Options struct {
	InitialMmapSize int
	NoSync          bool
}

type bboltStore struct {
	db *bbolt.DB
}

type bboltTx struct {
	tx       *bbolt.Tx
	done     bool
	writable bool
}

type bboltMapper struct {
	bkt      *bbolt.Bucket
	writable bool
}

type bboltWalker struct {
	cursor *bbolt.Cursor
	prefix []byte
	value  []byte
}

// OpenStore creates dataDir if necessary and opens the store's data file
// within it.
func OpenStore(dataDir string, opts Options) (*bboltStore, error) {
	if opts.InitialMmapSize == 0 {
		opts.InitialMmapSize = defaultMmapSize
	}

	err := os.MkdirAll(dataDir, 0755)
	if err != nil {
		return nil, err
	}

	db, err := bbolt.Open(filepath.Join(dataDir, dataFile), 0644,
		&bbolt.Options{
			InitialMmapSize: opts.InitialMmapSize,
		})
	if err != nil {
		return nil, err
	}
	db.NoSync = opts.NoSync

	return &bboltStore{
		db: db,
	}, nil
}

func (bs *bboltStore) Begin(writable bool) (store.Tx, error) {
	tx, err := bs.db.Begin(writable)
	if err != nil {
		return nil, err
	}
	return &bboltTx{
		tx:       tx,
		writable: writable,
	}, nil
}

func (bs *bboltStore) MaxKeySize() int {
	return bbolt.MaxKeySize
}

func (bs *bboltStore) Close() error {
	return bs.db.Close()
}

func (btx *bboltTx) Map(mid uint64) (store.Mapper, error) {
	key := []byte(strconv.FormatUint(mid, 10))
	bkt := btx.tx.Bucket(key)
	if bkt == nil && btx.writable {
		var err error
		bkt, err = btx.tx.CreateBucket(key)
		if err != nil {
			return nil, err
		}
	}
	return &bboltMapper{
		bkt:      bkt,
		writable: btx.writable,
	}, nil
}

func (btx *bboltTx) Commit() error {
	if btx.done {
		return errTransactionDone
	}
	btx.done = true
	if !btx.writable {
		return btx.tx.Rollback()
	}
	return btx.tx.Commit()
}

func (btx *bboltTx) Rollback() error {
	if btx.done {
		return nil
	}
	btx.done = true
	return btx.tx.Rollback()
}

func (bm *bboltMapper) Get(key []byte, vf func(val []byte) error) error {
	if bm.bkt == nil {
		return store.ErrKeyNotFound
	}
	val := bm.bkt.Get(key)
	if val == nil {
		return store.ErrKeyNotFound
	}
	return vf(val)
}

func (bm *bboltMapper) Set(key, val []byte) error {
	if bm.bkt == nil {
		panic("bbolt: set: transaction is not writable")
	}
	return bm.bkt.Put(key, val)
}

func (bm *bboltMapper) Delete(key []byte) error {
	if bm.bkt == nil {
		panic("bbolt: delete: transaction is not writable")
	}
	return bm.bkt.Delete(key)
}

// Bucket stats are computed from committed pages, so a writable
// transaction counts by cursor to include its own pending changes.
func (bm *bboltMapper) Count() (int, error) {
	if bm.bkt == nil {
		return 0, nil
	}
	if !bm.writable {
		return bm.bkt.Stats().KeyN, nil
	}

	cnt := 0
	cursor := bm.bkt.Cursor()
	for key, _ := cursor.First(); key != nil; key, _ = cursor.Next() {
		cnt += 1
	}
	return cnt, nil
}

func (bm *bboltMapper) Walk(prefix []byte) store.Walker {
	bw := &bboltWalker{
		prefix: prefix,
	}
	if bm.bkt != nil {
		bw.cursor = bm.bkt.Cursor()
	}
	return bw
}

func (bw *bboltWalker) Close() {
	bw.cursor = nil
	bw.value = nil
}

func (bw *bboltWalker) Next() ([]byte, bool) {
	if bw.cursor == nil {
		return nil, false
	}

	var key []byte
	key, bw.value = bw.cursor.Next()
	if key == nil {
		return nil, false
	}
	if bw.prefix != nil && !bytes.HasPrefix(key, bw.prefix) {
		bw.value = nil
		return nil, false
	}
	return key, true
}

func (bw *bboltWalker) Rewind() ([]byte, bool) {
	if bw.cursor == nil {
		return nil, false
	}

	var key []byte
	if bw.prefix == nil {
		key, bw.value = bw.cursor.First()
	} else {
		key, bw.value = bw.cursor.Seek(bw.prefix)
	}
	if key == nil {
		return nil, false
	}
	if bw.prefix != nil && !bytes.HasPrefix(key, bw.prefix) {
		bw.value = nil
		return nil, false
	}
	return key, true
}

func (bw *bboltWalker) Seek(seek []byte) ([]byte, bool) {
	if bw.cursor == nil {
		return nil, false
	}

	var key []byte
	key, bw.value = bw.cursor.Seek(seek)
	if key == nil {
		return nil, false
	}
	if bw.prefix != nil && !bytes.HasPrefix(key, bw.prefix) {
		bw.value = nil
		return nil, false
	}
	return key, true
}

func (bw *bboltWalker) Value(vf func(val []byte) error) error {
	if bw.value == nil {
		return errNoCurrentValue
	}
	return vf(bw.value)
}
