// Package cache provides short-lived memoization of upstream API
// responses with a Redis backend. The expiry here is a fixed request
// deduplication window, distinct from the entity TTL used by the
// persistent stores.
package cache

import (
	"time"
)

// Entry is a memoized API response body.
type Entry struct {
	// Data is the parsed response body.
	Data []byte `json:"data"`

	// CachedAt is when the response was stored.
	CachedAt time.Time `json:"cached_at"`

	// Expires is when the entry stops being served.
	Expires time.Time `json:"expires"`
}

// IsExpired returns true if the entry has passed its expiry time.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration, or 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
