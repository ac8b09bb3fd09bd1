// Copyright (c) 2023 The PoolFi developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package kv

import (
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

var (
	writeOpt = &opt.WriteOptions{}
	readOpt  = &opt.ReadOptions{}
)

// lvldb implements GetPutCloser backed by goleveldb.
type lvldb struct {
	db *leveldb.DB
}

func openLevelDB(stg storage.Storage, cacheSize int) (*lvldb, error) {
	if cacheSize < 128 {
		cacheSize = 128
	}
	db, err := leveldb.Open(stg, &opt.Options{
		BlockCacheCapacity: cacheSize / 2 * opt.MiB,
		WriteBuffer:        cacheSize / 4 * opt.MiB,
		Filter:             filter.NewBloomFilter(10),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open level db")
	}
	return &lvldb{db: db}, nil
}

// NewMem creates an in-memory store, for tests and ephemeral runs.
func NewMem() (GetPutCloser, error) {
	return openLevelDB(storage.NewMemStorage(), 0)
}

// New opens (or creates) a persistent store at path.
func New(path string, cacheSize int) (GetPutCloser, error) {
	stg, err := storage.OpenFile(path, false)
	if err != nil {
		return nil, errors.Wrap(err, "open level db file")
	}
	return openLevelDB(stg, cacheSize)
}

func (ldb *lvldb) Get(key []byte) ([]byte, error) {
	return ldb.db.Get(key, readOpt)
}

func (ldb *lvldb) Has(key []byte) (bool, error) {
	return ldb.db.Has(key, readOpt)
}

func (ldb *lvldb) IsNotFound(err error) bool {
	return err == leveldb.ErrNotFound
}

func (ldb *lvldb) Put(key, value []byte) error {
	return ldb.db.Put(key, value, writeOpt)
}

func (ldb *lvldb) Delete(key []byte) error {
	return ldb.db.Delete(key, writeOpt)
}

func (ldb *lvldb) Close() error {
	return ldb.db.Close()
}

func (ldb *lvldb) NewBatch() Batch {
	return &lvldbBatch{ldb.db, &leveldb.Batch{}}
}

// lvldbBatch implements the Batch interface.
type lvldbBatch struct {
	db    *leveldb.DB
	batch *leveldb.Batch
}

func (b *lvldbBatch) Put(key, value []byte) error {
	b.batch.Put(key, value)
	return nil
}

func (b *lvldbBatch) Delete(key []byte) error {
	b.batch.Delete(key)
	return nil
}

func (b *lvldbBatch) Len() int {
	return b.batch.Len()
}

func (b *lvldbBatch) Write() error {
	return b.db.Write(b.batch, writeOpt)
}
