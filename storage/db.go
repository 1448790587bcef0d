package storage

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	ethleveldb "github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// Database is a generic interface for a key-value store.
// The host runtime keeps its head pointer through Put/Get and its contract
// state in the trie database returned by TrieDB.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	// TrieDB exposes the node database backing the state trie.
	TrieDB() *triedb.Database
	Close() // A way to gracefully shut down the database connection.
}

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = fmt.Errorf("key not found")

// --- In-Memory DB (for testing) ---

type MemDB struct {
	mu     sync.RWMutex
	kv     ethdb.Database
	trieDB *triedb.Database
}

func NewMemDB() *MemDB {
	kv := rawdb.NewDatabase(memorydb.New())
	return &MemDB{
		kv:     kv,
		trieDB: triedb.NewDatabase(kv, triedb.HashDefaults),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.kv.Put(key, value)
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	ok, err := db.kv.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return db.kv.Get(key)
}

// TrieDB returns the in-memory trie node database.
func (db *MemDB) TrieDB() *triedb.Database {
	return db.trieDB
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	_ = db.trieDB.Close()
	_ = db.kv.Close()
}

// --- Persistent DB ---

// LevelDBOptions tunes the goleveldb handle opened by NewLevelDB.
type LevelDBOptions struct {
	CacheMiB int
	Handles  int
	ReadOnly bool
}

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	db     ethdb.Database
	trieDB *triedb.Database
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	return NewLevelDBWithOptions(path, LevelDBOptions{CacheMiB: 16, Handles: 16})
}

// NewLevelDBWithOptions opens LevelDB with explicit cache and handle limits.
func NewLevelDBWithOptions(path string, cfg LevelDBOptions) (*LevelDB, error) {
	if cfg.CacheMiB <= 0 {
		cfg.CacheMiB = 16
	}
	if cfg.Handles <= 0 {
		cfg.Handles = 16
	}
	kv, err := ethleveldb.NewCustom(path, "", func(o *opt.Options) {
		o.OpenFilesCacheCapacity = cfg.Handles
		o.BlockCacheCapacity = cfg.CacheMiB / 2 * opt.MiB
		o.WriteBuffer = cfg.CacheMiB / 4 * opt.MiB
		o.ReadOnly = cfg.ReadOnly
	})
	if err != nil {
		return nil, err
	}
	db := rawdb.NewDatabase(kv)
	return &LevelDB{db: db, trieDB: triedb.NewDatabase(db, triedb.HashDefaults)}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	ok, err := ldb.db.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return ldb.db.Get(key)
}

// TrieDB returns the trie node database layered on top of LevelDB.
func (ldb *LevelDB) TrieDB() *triedb.Database {
	return ldb.trieDB
}

// Close closes the database connection.
func (ldb *LevelDB) Close() {
	_ = ldb.trieDB.Close()
	ldb.db.Close()
}
