package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Key identifies a memoized API response by request path and query
// parameters. Two requests with the same path and parameters share one
// cached body regardless of parameter ordering.
type Key struct {
	// Path is the API request path (e.g. "/v1/courses").
	Path string

	// Params are the query parameters sent with the request.
	Params url.Values
}

// String generates a deterministic cache key string.
// Format: api:path:param1=val1:param2=val2
//
// Example:
//
//	api:v1/courses:page=1:per=50:published=true
func (k Key) String() string {
	parts := []string{"api"}

	path := strings.Trim(k.Path, "/")
	if path != "" {
		parts = append(parts, path)
	}

	if len(k.Params) > 0 {
		keys := make([]string, 0, len(k.Params))
		for key := range k.Params {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, k.Params.Get(key)))
		}
	}

	return strings.Join(parts, ":")
}
