// Package store is the cache engine behind the minicache server.
//
// A Store holds every live entry in memory, keyed by string. Writes assign a
// store-wide CAS id to the entry, and entries written with a positive TTL are
// removed by a per-entry timer once it elapses. Nothing is ever evicted for
// memory pressure: entries leave the store through Delete, Clear or expiry.
//
// The key space is split into shards chosen by an xxh3 hash of the key. Each
// shard has a single mutex that covers the whole read-check-write sequence of
// every operation (add, replace, append, prepend and cas all depend on the
// current state of the key), so operations on the same key are linearizable.
//
// Example:
//
//	s := store.New()
//	defer s.Close()
//
//	s.Set("greeting", []byte("hello"), 0, 0)
//	item, ok := s.Gets("greeting")
//	if ok {
//		res := s.CompareAndSwap("greeting", []byte("bonjour"), 0, 0, item.CAS, "client-1")
//		fmt.Println(res) // STORED
//	}
package store

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/xxh3"
)

// DefaultShards is the number of shards used by New when no option overrides it.
const DefaultShards = 16

// entryOverhead approximates the bookkeeping bytes held per entry on top of
// its key and value. Only used for MemSize.
const entryOverhead = 64

// Result is the outcome of a cache engine operation.
type Result uint8

const (
	Stored    Result = iota // The write was applied
	NotStored               // Precondition failed (add on present key, replace/append/prepend on absent key)
	Exists                  // CAS token no longer matches the entry
	NotFound                // The key is absent
	Deleted                 // The key was removed
)

func (r Result) String() string {
	switch r {
	case Stored:
		return "STORED"
	case NotStored:
		return "NOT_STORED"
	case Exists:
		return "EXISTS"
	case NotFound:
		return "NOT_FOUND"
	case Deleted:
		return "DELETED"
	default:
		return "UNKNOWN"
	}
}

// Item is a copy of an entry handed out to callers. Mutating it never
// affects the store.
type Item struct {
	Key   string
	Value []byte
	Flags uint32
	CAS   uint64
	Owner string // Client id of the last successful cas write, empty otherwise
}

// Stats is a point-in-time snapshot of the store counters.
type Stats struct {
	Items      int64
	Hits       uint64
	Misses     uint64
	MemSize    int64
	CASCounter uint64
}

type entry struct {
	value []byte
	flags uint32
	cas   uint64
	owner string
	timer *time.Timer
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Store is a sharded, TTL-aware in-memory key-value store.
// All methods are safe for concurrent use.
type Store struct {
	shards []*shard

	casCounter atomic.Uint64
	items      atomic.Int64
	memSize    atomic.Int64
	hits       atomic.Uint64
	misses     atomic.Uint64

	closed atomic.Bool
}

// Option configures a Store.
type Option func(*Store)

// WithShards sets the number of shards. Values below 1 are ignored.
func WithShards(n int) Option {
	return func(s *Store) {
		if n >= 1 {
			s.shards = make([]*shard, n)
		}
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		shards: make([]*shard, DefaultShards),
	}
	for _, opt := range opts {
		opt(s)
	}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return s
}

func (s *Store) shardFor(key string) *shard {
	if len(s.shards) == 1 {
		return s.shards[0]
	}
	return s.shards[xxh3.HashString(key)%uint64(len(s.shards))]
}

// Set stores value under key unconditionally. Any previous entry is fully
// replaced: its timer is stopped, a new CAS id is assigned and the recorded
// cas owner is cleared. A ttl <= 0 means the entry never expires.
func (s *Store) Set(key string, value []byte, ttl time.Duration, flags uint32) Result {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	s.storeLocked(sh, key, cloneBytes(value), ttl, flags, 0, "")
	return Stored
}

// SetWithCAS is Set with a caller-supplied CAS id instead of a fresh one.
// The store-wide counter is raised to at least cas so later writes keep
// drawing unique ids. A cas of 0 behaves like Set.
func (s *Store) SetWithCAS(key string, value []byte, ttl time.Duration, flags uint32, cas uint64) Result {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	for {
		cur := s.casCounter.Load()
		if cur >= cas || s.casCounter.CompareAndSwap(cur, cas) {
			break
		}
	}
	s.storeLocked(sh, key, cloneBytes(value), ttl, flags, cas, "")
	return Stored
}

// Add stores value only if key is absent.
func (s *Store) Add(key string, value []byte, ttl time.Duration, flags uint32) Result {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.entries[key]; ok {
		return NotStored
	}
	s.storeLocked(sh, key, cloneBytes(value), ttl, flags, 0, "")
	return Stored
}

// Replace stores value only if key is present.
func (s *Store) Replace(key string, value []byte, ttl time.Duration, flags uint32) Result {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.entries[key]; !ok {
		return NotStored
	}
	s.storeLocked(sh, key, cloneBytes(value), ttl, flags, 0, "")
	return Stored
}

// Append writes the existing value followed by value, if key is present.
func (s *Store) Append(key string, value []byte, ttl time.Duration, flags uint32) Result {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok {
		return NotStored
	}
	joined := make([]byte, 0, len(e.value)+len(value))
	joined = append(joined, e.value...)
	joined = append(joined, value...)
	s.storeLocked(sh, key, joined, ttl, flags, 0, "")
	return Stored
}

// Prepend writes value followed by the existing value, if key is present.
func (s *Store) Prepend(key string, value []byte, ttl time.Duration, flags uint32) Result {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok {
		return NotStored
	}
	joined := make([]byte, 0, len(e.value)+len(value))
	joined = append(joined, value...)
	joined = append(joined, e.value...)
	s.storeLocked(sh, key, joined, ttl, flags, 0, "")
	return Stored
}

// CompareAndSwap stores value only if key is present and token equals the
// entry's current CAS id. On success the entry gets a fresh CAS id and its
// owner is set to clientID, so the token used for this write is stale for
// every later cas, including ones from the same client.
func (s *Store) CompareAndSwap(key string, value []byte, ttl time.Duration, flags uint32, token uint64, clientID string) Result {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok {
		return NotFound
	}
	if e.cas != token {
		return Exists
	}
	s.storeLocked(sh, key, cloneBytes(value), ttl, flags, 0, clientID)
	return Stored
}

// Get returns the value and flags stored under key. Every call counts as
// exactly one hit or one miss.
func (s *Store) Get(key string) (Item, bool) {
	item, ok := s.lookup(key)
	if !ok {
		return Item{}, false
	}
	item.CAS = 0
	item.Owner = ""
	return item, true
}

// Gets is Get plus the entry's current CAS id, to be passed back to
// CompareAndSwap.
func (s *Store) Gets(key string) (Item, bool) {
	return s.lookup(key)
}

func (s *Store) lookup(key string) (Item, bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	e, ok := sh.entries[key]
	if !ok {
		sh.mu.Unlock()
		s.misses.Add(1)
		return Item{}, false
	}
	item := e.item(key)
	sh.mu.Unlock()

	s.hits.Add(1)
	return item, true
}

// Delete removes key and stops its expiry timer. It reports whether an entry
// was actually removed.
func (s *Store) Delete(key string) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok {
		return false
	}
	s.removeLocked(sh, key, e)
	return true
}

// Clear stops every pending timer and removes all entries. Hit and miss
// counters are left untouched.
func (s *Store) Clear() {
	// Shards are always locked in index order.
	for _, sh := range s.shards {
		sh.mu.Lock()
	}
	for _, sh := range s.shards {
		for key, e := range sh.entries {
			s.removeLocked(sh, key, e)
		}
	}
	for i := len(s.shards) - 1; i >= 0; i-- {
		s.shards[i].mu.Unlock()
	}
}

// Snapshot returns a copy of every live entry, keyed by key. It is meant for
// introspection and does not touch the hit/miss counters.
func (s *Store) Snapshot() map[string]Item {
	out := make(map[string]Item, s.Len())
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, e := range sh.entries {
			out[key] = e.item(key)
		}
		sh.mu.Unlock()
	}
	return out
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	return int(s.items.Load())
}

// Hits returns the number of get/gets calls that found their key.
func (s *Store) Hits() uint64 {
	return s.hits.Load()
}

// Misses returns the number of get/gets calls that did not find their key.
func (s *Store) Misses() uint64 {
	return s.misses.Load()
}

// MemSize returns the approximate number of bytes held by keys, values and
// per-entry bookkeeping.
func (s *Store) MemSize() int64 {
	return s.memSize.Load()
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() Stats {
	return Stats{
		Items:      s.items.Load(),
		Hits:       s.hits.Load(),
		Misses:     s.misses.Load(),
		MemSize:    s.memSize.Load(),
		CASCounter: s.casCounter.Load(),
	}
}

// Close empties the store and stops every timer. The store must not be used
// afterwards.
func (s *Store) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.Clear()
}

// storeLocked installs a new entry for key. A cas of 0 draws a fresh id from
// the store-wide counter. Must be called with sh.mu held.
func (s *Store) storeLocked(sh *shard, key string, value []byte, ttl time.Duration, flags uint32, cas uint64, owner string) {
	if old, ok := sh.entries[key]; ok {
		if old.timer != nil {
			old.timer.Stop()
		}
		s.memSize.Add(-entrySize(key, old.value))
	} else {
		s.items.Add(1)
	}

	if cas == 0 {
		cas = s.casCounter.Add(1)
	}

	e := &entry{
		value: value,
		flags: flags,
		cas:   cas,
		owner: owner,
	}
	if ttl > 0 {
		e.timer = time.AfterFunc(ttl, func() { s.expire(key, e) })
	}

	sh.entries[key] = e
	s.memSize.Add(entrySize(key, value))
}

// removeLocked deletes key from sh. Must be called with sh.mu held.
func (s *Store) removeLocked(sh *shard, key string, e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(sh.entries, key)
	s.items.Add(-1)
	s.memSize.Add(-entrySize(key, e.value))
}

// expire runs from the entry timer. The entry is only removed if it is still
// the one the timer was armed for: a rewrite that raced with the timer firing
// installs a new entry and must survive.
func (s *Store) expire(key string, armed *entry) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if cur, ok := sh.entries[key]; ok && cur == armed {
		s.removeLocked(sh, key, cur)
	}
}

func (e *entry) item(key string) Item {
	return Item{
		Key:   key,
		Value: cloneBytes(e.value),
		Flags: e.flags,
		CAS:   e.cas,
		Owner: e.owner,
	}
}

func entrySize(key string, value []byte) int64 {
	return int64(len(key) + len(value) + entryOverhead)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
