// Package readcache provides an LRU byte-range cache that sits in front of the
// network read path of a session.
//
// Entries are half-open intervals [begin, end) of 64-bit file offsets. A lookup is
// only satisfied by a single entry that fully covers the requested interval; partial
// overlaps are misses. Inserting an interval first evicts every entry that is fully
// contained in it, so a larger, fresher read replaces the smaller reads it subsumes.
//
// The cache is bounded by a byte capacity. Before an insert, least recently used
// entries are evicted until the new entry fits; an interval larger than the whole
// capacity is silently not cached.
//
// Usage:
//
//	c := readcache.New(8 << 20)
//	c.Submit(buf, 100, 200)
//	if data, ok := c.Lookup(120, 150); ok {
//	    // data holds bytes 120..149, copied out of the cache
//	}
package readcache
