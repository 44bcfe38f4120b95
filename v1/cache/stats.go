package cache

import (
	"context"
	"strings"
)

// Stats describes the backend currently serving the cache.
type Stats struct {
	// Mode is "redis" or "fallback".
	Mode string
	// Keys is DBSIZE in redis mode and the fallback size otherwise.
	Keys int64
	// Info holds the INFO fields of the Redis server, flattened.
	Info map[string]string
}

// Stats returns backend metadata, or nil when neither Redis nor a fallback
// can answer.
func (c *Cache[T]) Stats(ctx context.Context) *Stats {
	client := c.remote(ctx)
	if client == nil {
		if c.fallback == nil {
			return nil
		}
		return &Stats{Mode: "fallback", Keys: int64(c.fallback.Len())}
	}
	cctx, cancel := c.opContext(ctx)
	defer cancel()
	n, err := client.DBSize(cctx).Result()
	if err != nil {
		c.fail("dbsize", "*", err)
		return nil
	}
	st := &Stats{Mode: "redis", Keys: n, Info: map[string]string{}}
	raw, err := client.Info(cctx).Result()
	if err != nil {
		c.logger.Debug("warmlock: INFO unavailable", "error", err)
		return st
	}
	st.Info = parseInfo(raw)
	return st
}

// parseInfo flattens the INFO reply into field/value pairs, skipping
// section headers.
func parseInfo(raw string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}
