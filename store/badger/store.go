package badger

import (
	"bytes"
	"errors"
	"os"

	"github.com/dgraph-io/badger"
	log "github.com/sirupsen/logrus"

	"github.com/leftmike/kvmap/store"
)

// Keys are prefixed with the 8 byte big endian map id; the longest caller
// key is badger's limit less that prefix.
const maxKeySize = (1 << 16) - 8

var (
	errTransactionDone = errors.New("badger: transaction done")
	errNoCurrentValue  = errors.New("badger: no current value")
)

type badgerStore struct {
	db *badger.DB
}

type badgerTx struct {
	tx       *badger.Txn
	done     bool
	writable bool
}

type badgerMapper struct {
	btx    *badgerTx
	prefix []byte
}

type badgerWalker struct {
	bm   *badgerMapper
	keys [][]byte
	idx  int
}

// OpenStore creates dataDir if necessary and opens a badger database
// within it.
func OpenStore(dataDir string, logger *log.Logger) (*badgerStore, error) {
	err := os.MkdirAll(dataDir, 0755)
	if err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(dataDir)
	opts = opts.WithLogger(logger)
	opts = opts.WithSyncWrites(false)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &badgerStore{
		db: db,
	}, nil
}

func (bs *badgerStore) Begin(writable bool) (store.Tx, error) {
	return &badgerTx{
		tx:       bs.db.NewTransaction(writable),
		writable: writable,
	}, nil
}

func (bs *badgerStore) MaxKeySize() int {
	return maxKeySize
}

func (bs *badgerStore) Close() error {
	return bs.db.Close()
}

func (btx *badgerTx) Map(mid uint64) (store.Mapper, error) {
	return &badgerMapper{
		btx:    btx,
		prefix: store.EncodeUint64(mid),
	}, nil
}

func (btx *badgerTx) Commit() error {
	if btx.done {
		return errTransactionDone
	}
	btx.done = true
	if !btx.writable {
		btx.tx.Discard()
		return nil
	}
	return btx.tx.Commit()
}

func (btx *badgerTx) Rollback() error {
	if btx.done {
		return nil
	}
	btx.done = true
	btx.tx.Discard()
	return nil
}

func (bm *badgerMapper) makeKey(key []byte) []byte {
	return append(append(make([]byte, 0, len(bm.prefix)+len(key)), bm.prefix...), key...)
}

func (bm *badgerMapper) Get(key []byte, vf func(val []byte) error) error {
	item, err := bm.btx.tx.Get(bm.makeKey(key))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return store.ErrKeyNotFound
		}
		return err
	}
	return item.Value(
		func(val []byte) error {
			return vf(val)
		})
}

func (bm *badgerMapper) Set(key, val []byte) error {
	return bm.btx.tx.Set(bm.makeKey(key), val)
}

func (bm *badgerMapper) Delete(key []byte) error {
	err := bm.btx.tx.Delete(bm.makeKey(key))
	if err == badger.ErrKeyNotFound {
		return nil
	}
	return err
}

func (bm *badgerMapper) Count() (int, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = bm.prefix

	it := bm.btx.tx.NewIterator(opts)
	defer it.Close()

	cnt := 0
	for it.Rewind(); it.Valid(); it.Next() {
		cnt += 1
	}
	return cnt, nil
}

// Walk materializes the matching keys up front: badger forbids modifying a
// transaction while one of its iterators is open, and the walker must stay
// valid across Set and Delete. Values are read back through the
// transaction, so Value observes the transaction's current state and
// surfaces read failures.
func (bm *badgerMapper) Walk(prefix []byte) store.Walker {
	full := bm.makeKey(prefix)

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = full

	it := bm.btx.tx.NewIterator(opts)
	defer it.Close()

	bw := &badgerWalker{
		bm: bm,
	}
	for it.Seek(full); it.Valid(); it.Next() {
		key := it.Item().KeyCopy(nil)
		if !bytes.HasPrefix(key, full) {
			break
		}
		bw.keys = append(bw.keys, key[len(bm.prefix):])
	}
	return bw
}

func (bw *badgerWalker) Close() {
	bw.keys = nil
	bw.idx = 0
}

func (bw *badgerWalker) currentKey() ([]byte, bool) {
	if bw.idx >= len(bw.keys) {
		return nil, false
	}
	return bw.keys[bw.idx], true
}

func (bw *badgerWalker) Next() ([]byte, bool) {
	if bw.idx < len(bw.keys) {
		bw.idx += 1
	}
	return bw.currentKey()
}

func (bw *badgerWalker) Rewind() ([]byte, bool) {
	bw.idx = 0
	return bw.currentKey()
}

func (bw *badgerWalker) Seek(seek []byte) ([]byte, bool) {
	bw.idx = 0
	for bw.idx < len(bw.keys) && bytes.Compare(bw.keys[bw.idx], seek) < 0 {
		bw.idx += 1
	}
	return bw.currentKey()
}

func (bw *badgerWalker) Value(vf func(val []byte) error) error {
	if bw.idx >= len(bw.keys) {
		return errNoCurrentValue
	}
	return bw.bm.Get(bw.keys[bw.idx], vf)
}
