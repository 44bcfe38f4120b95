// Package conn owns the connection to the backing Redis store. A Manager
// dials lazily and shares one in-flight attempt between concurrent callers.
// After a bounded number of consecutive failures it stops retrying on its
// own until Connect or Reconnect is called. The cache and lock packages call
// EnsureConnected before every command.
package conn
