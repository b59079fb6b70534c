package readcache

import (
	"sync"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("xrdc/cache")

	hitsTotal      = metrics.GetOrCreateCounter("xrdc_cache_hits_total")
	missesTotal    = metrics.GetOrCreateCounter("xrdc_cache_misses_total")
	evictionsTotal = metrics.GetOrCreateCounter("xrdc_cache_evictions_total")
	droppedTotal   = metrics.GetOrCreateCounter("xrdc_cache_dropped_submits_total")
)

// entry is one cached interval [begin, end), len(data) == end-begin
type entry struct {
	begin    int64
	end      int64
	data     []byte
	lastUsed uint64
}

func (e *entry) size() int64 { return e.end - e.begin }

func (e *entry) covers(begin, end int64) bool {
	return e.begin <= begin && end <= e.end
}

// Stats is a snapshot of the cache counters
type Stats struct {
	Entries   int
	UsedBytes int64
	Capacity  int64
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Cache is a thread-safe LRU byte-range cache.
//
// The LRU order uses a logical tick incremented on every insert and hit, so two
// accesses never share a timestamp and the order does not depend on the clock.
type Cache struct {
	mu sync.Mutex

	entries  []*entry // in insertion order, eviction ties resolve to the first found
	used     int64
	capacity int64
	tick     uint64

	hits      uint64
	misses    uint64
	evictions uint64
}

// New creates a cache holding at most capacity bytes. A capacity <= 0 disables
// caching: every submit is dropped and every non-empty lookup misses.
func New(capacity int64) *Cache {
	if capacity < 0 {
		capacity = 0
	}
	return &Cache{capacity: capacity}
}

// Submit caches data for the interval [begin, end). The cache takes ownership
// of data, the caller must not modify it afterwards.
//
// All entries fully contained in the new interval are evicted first. If the
// interval is larger than the capacity it is not cached. Submit reports
// whether the cache kept data.
func (c *Cache) Submit(data []byte, begin, end int64) bool {
	if begin >= end {
		return false
	}
	if int64(len(data)) != end-begin {
		Logger.Warningf("dropping submit [%d,%d): buffer holds %d bytes", begin, end, len(data))
		droppedTotal.Inc()
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictContainedLocked(begin, end)

	size := end - begin
	if size > c.capacity {
		droppedTotal.Inc()
		return false
	}
	for c.used+size > c.capacity {
		if !c.evictLRULocked() {
			break
		}
	}

	c.tick++
	c.entries = append(c.entries, &entry{begin: begin, end: end, data: data, lastUsed: c.tick})
	c.used += size
	return true
}

// Lookup returns a copy of the cached bytes [begin, end) if a single entry
// covers the whole interval. A zero-length interval always hits with empty data.
func (c *Cache) Lookup(begin, end int64) ([]byte, bool) {
	if begin >= end {
		return []byte{}, begin == end
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		if !e.covers(begin, end) {
			continue
		}
		c.tick++
		e.lastUsed = c.tick
		c.hits++
		hitsTotal.Inc()

		out := make([]byte, end-begin)
		copy(out, e.data[begin-e.begin:end-e.begin])
		return out, true
	}

	c.misses++
	missesTotal.Inc()
	return nil, false
}

// EvictLRU removes the least recently used entry. Returns false if the cache is empty.
func (c *Cache) EvictLRU() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictLRULocked()
}

// Clear drops all entries, the counters are kept
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	c.used = 0
}

// Len returns the number of cached intervals
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache state
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   len(c.entries),
		UsedBytes: c.used,
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// --------------------------------------------------------------------------
// Helper (c.mu must be held)
// --------------------------------------------------------------------------

// evictContainedLocked removes every entry fully inside [begin, end)
func (c *Cache) evictContainedLocked(begin, end int64) {
	kept := c.entries[:0]
	for _, e := range c.entries {
		if begin <= e.begin && e.end <= end {
			c.used -= e.size()
			c.evictions++
			evictionsTotal.Inc()
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(c.entries); i++ {
		c.entries[i] = nil
	}
	c.entries = kept
}

// evictLRULocked removes the entry with the smallest access tick
func (c *Cache) evictLRULocked() bool {
	if len(c.entries) == 0 {
		return false
	}
	oldest := 0
	for i, e := range c.entries {
		if e.lastUsed < c.entries[oldest].lastUsed {
			oldest = i
		}
	}

	victim := c.entries[oldest]
	Logger.Debugf("evicting [%d,%d)", victim.begin, victim.end)

	c.used -= victim.size()
	copy(c.entries[oldest:], c.entries[oldest+1:])
	c.entries[len(c.entries)-1] = nil
	c.entries = c.entries[:len(c.entries)-1]
	c.evictions++
	evictionsTotal.Inc()
	return true
}
