package httpx

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// parseDurationQuery parses a Go duration ("30s") or a bare number of seconds.
// Missing values yield def; malformed values are an error.
func parseDurationQuery(r *http.Request, key string, def time.Duration) (time.Duration, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
