// Package errors holds the sentinel errors shared by the warmlock packages.
package errors

import "errors"

var (
	ErrTimeout          = errors.New("timeout")
	ErrConnectionClosed = errors.New("connection closed")

	// ErrUnavailable reports that the backing store could not be reached
	// within the configured number of connection attempts.
	ErrUnavailable = errors.New("warmlock: store unavailable")
	// ErrNotAcquired is returned by lock helpers when every acquisition
	// attempt found the resource already held.
	ErrNotAcquired = errors.New("warmlock: lock not acquired")
	// ErrNotConfigured is returned when an operation needs a remote store
	// but no host was configured.
	ErrNotConfigured = errors.New("warmlock: no store configured")
)
