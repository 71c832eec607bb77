package pebble

import (
	"bytes"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/cockroachdb/pebble"
	log "github.com/sirupsen/logrus"

	"github.com/leftmike/kvmap/store"
)

// Pebble has no fixed key limit of its own; cap caller keys so oversized
// keys fail the same way on every engine.
const maxKeySize = 1 << 20

var (
	errTransactionDone = errors.New("pebble: transaction done")
	errNoCurrentValue  = errors.New("pebble: no current value")
)

type pebbleStore struct {
	mutex sync.Mutex // one write batch at a time
	db    *pebble.DB
}

type pebbleTx struct {
	ps    *pebbleStore
	snap  *pebble.Snapshot
	batch *pebble.Batch
	done  bool
}

type pebbleMapper struct {
	ptx    *pebbleTx
	prefix []byte
}

type pebbleWalker struct {
	keys [][]byte
	vals [][]byte
	idx  int
}

// OpenStore creates dataDir if necessary and opens a pebble database
// within it.
func OpenStore(dataDir string, logger *log.Logger) (*pebbleStore, error) {
	err := os.MkdirAll(dataDir, 0755)
	if err != nil {
		return nil, err
	}

	db, err := pebble.Open(dataDir, &pebble.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	return &pebbleStore{
		db: db,
	}, nil
}

func (ps *pebbleStore) Begin(writable bool) (store.Tx, error) {
	if writable {
		ps.mutex.Lock()
		return &pebbleTx{
			ps:    ps,
			batch: ps.db.NewIndexedBatch(),
		}, nil
	}

	return &pebbleTx{
		ps:   ps,
		snap: ps.db.NewSnapshot(),
	}, nil
}

func (ps *pebbleStore) MaxKeySize() int {
	return maxKeySize
}

func (ps *pebbleStore) Close() error {
	return ps.db.Close()
}

func (ptx *pebbleTx) Map(mid uint64) (store.Mapper, error) {
	return &pebbleMapper{
		ptx:    ptx,
		prefix: store.EncodeUint64(mid),
	}, nil
}

func (ptx *pebbleTx) Commit() error {
	if ptx.done {
		return errTransactionDone
	}
	ptx.done = true

	if ptx.batch != nil {
		err := ptx.batch.Commit(pebble.Sync)
		ptx.ps.mutex.Unlock()
		return err
	}
	return ptx.snap.Close()
}

func (ptx *pebbleTx) Rollback() error {
	if ptx.done {
		return nil
	}
	ptx.done = true

	if ptx.batch != nil {
		err := ptx.batch.Close()
		ptx.ps.mutex.Unlock()
		return err
	}
	return ptx.snap.Close()
}

func (ptx *pebbleTx) get(key []byte) ([]byte, io.Closer, error) {
	if ptx.batch != nil {
		return ptx.batch.Get(key)
	}
	return ptx.snap.Get(key)
}

func (ptx *pebbleTx) newIter() *pebble.Iterator {
	if ptx.batch != nil {
		return ptx.batch.NewIter(nil)
	}
	return ptx.snap.NewIter(nil)
}

func (pm *pebbleMapper) makeKey(key []byte) []byte {
	return append(append(make([]byte, 0, len(pm.prefix)+len(key)), pm.prefix...), key...)
}

func (pm *pebbleMapper) Get(key []byte, vf func(val []byte) error) error {
	val, closer, err := pm.ptx.get(pm.makeKey(key))
	if err != nil {
		if err == pebble.ErrNotFound {
			return store.ErrKeyNotFound
		}
		return err
	}
	defer closer.Close()

	return vf(val)
}

func (pm *pebbleMapper) Set(key, val []byte) error {
	if pm.ptx.batch == nil {
		panic("pebble: set: transaction is not writable")
	}
	return pm.ptx.batch.Set(pm.makeKey(key), val, nil)
}

func (pm *pebbleMapper) Delete(key []byte) error {
	if pm.ptx.batch == nil {
		panic("pebble: delete: transaction is not writable")
	}
	return pm.ptx.batch.Delete(pm.makeKey(key), nil)
}

func (pm *pebbleMapper) Count() (int, error) {
	it := pm.ptx.newIter()
	defer it.Close()

	cnt := 0
	for it.SeekGE(pm.prefix); it.Valid(); it.Next() {
		if !bytes.HasPrefix(it.Key(), pm.prefix) {
			break
		}
		cnt += 1
	}
	return cnt, nil
}

// Walk materializes the matching keys and values up front so the walker
// stays valid while the underlying batch is modified.
func (pm *pebbleMapper) Walk(prefix []byte) store.Walker {
	full := pm.makeKey(prefix)

	it := pm.ptx.newIter()
	defer it.Close()

	pw := &pebbleWalker{}
	for it.SeekGE(full); it.Valid(); it.Next() {
		key := it.Key()
		if !bytes.HasPrefix(key, full) {
			break
		}
		pw.keys = append(pw.keys, append([]byte(nil), key[len(pm.prefix):]...))
		pw.vals = append(pw.vals, append([]byte(nil), it.Value()...))
	}
	return pw
}

func (pw *pebbleWalker) Close() {
	pw.keys = nil
	pw.vals = nil
	pw.idx = 0
}

func (pw *pebbleWalker) currentKey() ([]byte, bool) {
	if pw.idx >= len(pw.keys) {
		return nil, false
	}
	return pw.keys[pw.idx], true
}

func (pw *pebbleWalker) Next() ([]byte, bool) {
	if pw.idx < len(pw.keys) {
		pw.idx += 1
	}
	return pw.currentKey()
}

func (pw *pebbleWalker) Rewind() ([]byte, bool) {
	pw.idx = 0
	return pw.currentKey()
}

func (pw *pebbleWalker) Seek(seek []byte) ([]byte, bool) {
	pw.idx = 0
	for pw.idx < len(pw.keys) && bytes.Compare(pw.keys[pw.idx], seek) < 0 {
		pw.idx += 1
	}
	return pw.currentKey()
}

func (pw *pebbleWalker) Value(vf func(val []byte) error) error {
	if pw.idx >= len(pw.vals) {
		return errNoCurrentValue
	}
	return vf(pw.vals[pw.idx])
}
