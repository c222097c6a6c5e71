package store

import (
	"sync/atomic"
)

// DB is the keyspace served by the command handler: a hash index for
// point access and an AVL tree for sorted access. The two are independent;
// a key set in one is not visible in the other.
//
// All mutating methods must be called from a single goroutine (the event
// loop). Only the metrics are safe to read from elsewhere.
type DB struct {
	hash    *HashIndex
	tree    *AVLTree
	metrics StoreMetrics
}

// StoreMetrics holds counters published for observers on other goroutines
type StoreMetrics struct {
	HashKeys  atomic.Int64
	TreeKeys  atomic.Int64
	Rehashing atomic.Bool

	gets    atomic.Uint64
	sets    atomic.Uint64
	deletes atomic.Uint64
	hits    atomic.Uint64
	misses  atomic.Uint64
}

// NewDB creates an empty keyspace; h selects the hash index hasher
func NewDB(h Hasher) *DB {
	return &DB{
		hash: NewHashIndex(h),
		tree: NewAVLTree(),
	}
}

func (db *DB) publishHash() {
	db.metrics.HashKeys.Store(int64(db.hash.Size()))
	db.metrics.Rehashing.Store(db.hash.Rehashing())
}

func (db *DB) recordGet(found bool) {
	db.metrics.gets.Add(1)
	if found {
		db.metrics.hits.Add(1)
	} else {
		db.metrics.misses.Add(1)
	}
}

// Get looks key up in the hash index
func (db *DB) Get(key string) (string, bool) {
	val, ok := db.hash.Lookup(key)
	db.recordGet(ok)
	db.publishHash()
	return val, ok
}

// Set inserts or updates key in the hash index
func (db *DB) Set(key, val string) {
	db.hash.Set(key, val)
	db.metrics.sets.Add(1)
	db.publishHash()
}

// Delete removes key from the hash index
func (db *DB) Delete(key string) bool {
	existed := db.hash.Delete(key)
	if existed {
		db.metrics.deletes.Add(1)
	}
	db.publishHash()
	return existed
}

// Keys returns every key in the hash index, in no particular order
func (db *DB) Keys() []string {
	keys := make([]string, 0, db.hash.Size())
	db.hash.ForEachKey(func(k string) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// TreeGet looks key up in the ordered index
func (db *DB) TreeGet(key string) (string, bool) {
	val, ok := db.tree.Lookup(key)
	db.recordGet(ok)
	return val, ok
}

// TreeSet inserts or updates key in the ordered index
func (db *DB) TreeSet(key, val string) {
	db.tree.Insert(key, val)
	db.metrics.sets.Add(1)
	db.metrics.TreeKeys.Store(int64(db.tree.Size()))
}

// TreeDelete removes key from the ordered index
func (db *DB) TreeDelete(key string) bool {
	existed := db.tree.Remove(key)
	if existed {
		db.metrics.deletes.Add(1)
		db.metrics.TreeKeys.Store(int64(db.tree.Size()))
	}
	return existed
}

// TreeKeys returns every key in the ordered index in ascending order
func (db *DB) TreeKeys() []string {
	keys := make([]string, 0, db.tree.Size())
	db.tree.ForEach(func(k, _ string) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// Clear empties both indexes
func (db *DB) Clear() {
	db.hash.Clear()
	db.tree.Clear()
	db.publishHash()
	db.metrics.TreeKeys.Store(0)
}

// Metrics exposes the published counters
func (db *DB) Metrics() *StoreMetrics {
	return &db.metrics
}

// GetMetrics returns a snapshot of the operation counters
func (db *DB) GetMetrics() map[string]uint64 {
	return map[string]uint64{
		"gets":      db.metrics.gets.Load(),
		"sets":      db.metrics.sets.Load(),
		"deletes":   db.metrics.deletes.Load(),
		"hits":      db.metrics.hits.Load(),
		"misses":    db.metrics.misses.Load(),
		"hash_keys": uint64(db.metrics.HashKeys.Load()),
		"tree_keys": uint64(db.metrics.TreeKeys.Load()),
	}
}

// HitRatio returns the lookup hit ratio (0.0 to 1.0)
func (db *DB) HitRatio() float64 {
	hits := db.metrics.hits.Load()
	total := hits + db.metrics.misses.Load()
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total)
}
