package providers

import (
	"net/http"
	"strconv"
	"time"
)

// parseRateLimitHeaders reads the limit/remaining/reset-epoch triple
// used (with different names) by GitHub, GitLab and JIRA.
func parseRateLimitHeaders(headers http.Header, limitKey, remainingKey, resetKey string) (RateLimit, bool) {
	limitStr := headers.Get(limitKey)
	remainingStr := headers.Get(remainingKey)
	if limitStr == "" || remainingStr == "" {
		return RateLimit{}, false
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return RateLimit{}, false
	}
	remaining, err := strconv.Atoi(remainingStr)
	if err != nil {
		return RateLimit{}, false
	}

	rl := RateLimit{Limit: limit, Remaining: remaining}
	if reset, err := strconv.ParseInt(headers.Get(resetKey), 10, 64); err == nil {
		rl.ResetAt = time.Unix(reset, 0)
	}
	return rl, true
}
