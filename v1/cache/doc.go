// Package cache provides the value cache used by warmlock. Values live in
// Redis while the connection manager reports a usable connection. Otherwise
// they go to an optional process-local Fallback: a bounded LRU map by
// default, or a ristretto or bigcache store.
//
// Cache I/O failures are logged and swallowed. Reads become misses and
// writes are skipped. Only GetOrSet returns an error, and only the one
// produced by its factory.
package cache
