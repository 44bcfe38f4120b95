package conn

import (
	"context"
	stdErrors "errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"

	warmerrors "github.com/mirkobrombin/go-warmlock/v1/errors"
)

// IsConnectionError reports whether err means the store could not be
// reached. Redis reply errors, misses and caller cancellation do not count.
func IsConnectionError(err error) bool {
	if err == nil || stdErrors.Is(err, context.Canceled) {
		return false
	}
	var rerr redis.Error
	if stdErrors.As(err, &rerr) {
		return false
	}
	return true
}

// Classify maps go-redis transport errors onto the shared sentinels, keeping
// the original error in the chain.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case stdErrors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", warmerrors.ErrTimeout, err)
	case stdErrors.Is(err, redis.ErrClosed):
		return fmt.Errorf("%w: %w", warmerrors.ErrConnectionClosed, err)
	}
	return err
}
