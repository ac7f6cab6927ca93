package storage

import (
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/triedb"
)

// Database is a generic interface for a key-value store. The ledger keeps two
// keyspaces in the same database: the state trie (reached through TrieDB) and
// a flat keyspace for the operation journal and node metadata (reached through
// Put/Get).
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Close()
	// TrieDB exposes the trie database handle so the state layer commits
	// through the same backing store.
	TrieDB() *triedb.Database
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	db     ethdb.Database
	trieDB *triedb.Database
}

func NewMemDB() *MemDB {
	db := rawdb.NewMemoryDatabase()
	return &MemDB{
		db:     db,
		trieDB: triedb.NewDatabase(db, triedb.HashDefaults),
	}
}

func (m *MemDB) Put(key []byte, value []byte) error {
	return m.db.Put(key, value)
}

// Get retrieves a value for a given key. Missing keys surface as errors;
// callers treat any Get failure as "absent".
func (m *MemDB) Get(key []byte) ([]byte, error) {
	return m.db.Get(key)
}

// Close satisfies the Database interface for MemDB.
func (m *MemDB) Close() {
	_ = m.db.Close()
}

func (m *MemDB) TrieDB() *triedb.Database {
	return m.trieDB
}

// --- Persistent DB (for deployments) ---

// LevelDB is a persistent key-value store using go-ethereum's LevelDB driver.
type LevelDB struct {
	db     ethdb.Database
	trieDB *triedb.Database
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	kv, err := leveldb.New(path, 128, 128, "rewardledger", false)
	if err != nil {
		return nil, err
	}
	db := rawdb.NewDatabase(kv)
	return &LevelDB{
		db:     db,
		trieDB: triedb.NewDatabase(db, triedb.HashDefaults),
	}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	return ldb.db.Get(key)
}

// Close closes the database connection.
func (ldb *LevelDB) Close() {
	_ = ldb.db.Close()
}

func (ldb *LevelDB) TrieDB() *triedb.Database {
	return ldb.trieDB
}
