package store

const (
	// initialBuckets is the bucket count of the first table.
	// Must be a power of 2 so hash & mask selects a bucket.
	initialBuckets = 4

	// maxLoadFactor is the average chain length that triggers a resize
	maxLoadFactor = 8

	// rehashQuota is how many entries one operation may migrate from the
	// old table. It bounds the extra latency any single call pays during a resize.
	rehashQuota = 128
)

// entry is one key/value pair chained in a bucket
type entry struct {
	next  *entry
	hcode uint64
	key   string
	val   string
}

// table is a fixed-size chained hash table.
// Every entry in buckets[i] satisfies entry.hcode & mask == i.
type table struct {
	buckets []*entry
	mask    uint64
	count   int
}

func newTable(n int) table {
	if n <= 0 || n&(n-1) != 0 {
		panic("store: bucket count must be a power of two")
	}
	return table{
		buckets: make([]*entry, n),
		mask:    uint64(n - 1),
	}
}

func (t *table) insert(e *entry) {
	pos := e.hcode & t.mask
	e.next = t.buckets[pos]
	t.buckets[pos] = e
	t.count++
}

// lookup returns the link that points at the matching entry, so the caller
// can detach it without walking the chain again
func (t *table) lookup(key string, hcode uint64) **entry {
	if t.buckets == nil {
		return nil
	}
	from := &t.buckets[hcode&t.mask]
	for cur := *from; cur != nil; cur = *from {
		if cur.hcode == hcode && cur.key == key {
			return from
		}
		from = &cur.next
	}
	return nil
}

func (t *table) detach(from **entry) *entry {
	e := *from
	*from = e.next
	e.next = nil
	t.count--
	return e
}

// HashIndex is a chained hash map that grows by incremental rehashing.
//
// When the newer table fills up it is demoted to older and a table twice the
// size takes its place. Every subsequent call moves a bounded number of
// entries across, so no single operation pays for the whole resize. Keys may
// live in either table while a migration is in progress.
//
// HashIndex is not safe for concurrent use.
type HashIndex struct {
	newer      table
	older      table
	migratePos int
	hash       Hasher
}

// NewHashIndex creates an empty index using the given hasher.
// A nil hasher selects FNVHash.
func NewHashIndex(h Hasher) *HashIndex {
	if h == nil {
		h = FNVHash
	}
	return &HashIndex{hash: h}
}

// helpRehashing moves up to rehashQuota entries from older to newer and
// frees older once it is drained
func (h *HashIndex) helpRehashing() {
	moved := 0
	for moved < rehashQuota && h.older.count > 0 {
		from := &h.older.buckets[h.migratePos]
		if *from == nil {
			h.migratePos++
			continue
		}
		h.newer.insert(h.older.detach(from))
		moved++
	}
	if h.older.count == 0 && h.older.buckets != nil {
		h.older = table{}
	}
}

func (h *HashIndex) triggerRehashing() {
	if h.older.buckets != nil {
		panic("store: rehash triggered while a previous rehash is still in progress")
	}
	h.older = h.newer
	h.newer = newTable(len(h.older.buckets) * 2)
	h.migratePos = 0
}

func (h *HashIndex) find(key string, hcode uint64) *entry {
	if from := h.newer.lookup(key, hcode); from != nil {
		return *from
	}
	if from := h.older.lookup(key, hcode); from != nil {
		return *from
	}
	return nil
}

// Lookup returns the value stored under key
func (h *HashIndex) Lookup(key string) (string, bool) {
	h.helpRehashing()
	e := h.find(key, h.hash(key))
	if e == nil {
		return "", false
	}
	return e.val, true
}

// Set stores val under key, overwriting any existing value in place.
// It reports whether a new entry was created.
func (h *HashIndex) Set(key, val string) bool {
	h.helpRehashing()
	hcode := h.hash(key)
	if e := h.find(key, hcode); e != nil {
		e.val = val
		return false
	}

	if h.newer.buckets == nil {
		h.newer = newTable(initialBuckets)
	}
	h.newer.insert(&entry{hcode: hcode, key: key, val: val})

	if h.older.buckets == nil {
		threshold := len(h.newer.buckets) * maxLoadFactor
		if h.newer.count >= threshold {
			h.triggerRehashing()
		}
	}
	h.helpRehashing()
	return true
}

// Delete removes key and reports whether it was present
func (h *HashIndex) Delete(key string) bool {
	h.helpRehashing()
	hcode := h.hash(key)
	if from := h.newer.lookup(key, hcode); from != nil {
		h.newer.detach(from)
		return true
	}
	if from := h.older.lookup(key, hcode); from != nil {
		h.older.detach(from)
		return true
	}
	return false
}

// Size returns the number of keys across both tables
func (h *HashIndex) Size() int {
	return h.newer.count + h.older.count
}

// Rehashing reports whether entries are still being migrated
func (h *HashIndex) Rehashing() bool {
	return h.older.count > 0
}

// Buckets returns the bucket count of the current table
func (h *HashIndex) Buckets() int {
	return len(h.newer.buckets)
}

// ForEach calls fn for every entry in unspecified order until fn returns false.
// fn must not modify the index.
func (h *HashIndex) ForEach(fn func(key, val string) bool) {
	if !h.newer.forEach(fn) {
		return
	}
	h.older.forEach(fn)
}

// ForEachKey is ForEach without the values
func (h *HashIndex) ForEachKey(fn func(key string) bool) {
	h.ForEach(func(key, _ string) bool {
		return fn(key)
	})
}

func (t *table) forEach(fn func(key, val string) bool) bool {
	for _, e := range t.buckets {
		for ; e != nil; e = e.next {
			if !fn(e.key, e.val) {
				return false
			}
		}
	}
	return true
}

// Clear drops every entry and both tables
func (h *HashIndex) Clear() {
	h.newer = table{}
	h.older = table{}
	h.migratePos = 0
}
