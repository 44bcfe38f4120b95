// Package lock provides a single-node Redis lock. A lock is a key
// "lock:<resource>" holding a random token, written with SET NX PX and
// removed only by the holder of that token. The TTL is the only protection
// against a crashed holder; locks are never renewed.
package lock
