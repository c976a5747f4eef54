package discord

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimitState is what Discord last told us about one bucket.
type RateLimitState struct {
	Remaining int
	Limit     int
	ResetAt   time.Time
	Bucket    string
}

// RateLimits tracks per-endpoint rate-limit state for the whole process.
// Entries are evicted lazily once their reset time has passed.
//
// The check before a request and the update after it are separate critical
// sections, so concurrent requests can briefly exceed a bucket.
type RateLimits struct {
	mu      sync.Mutex
	entries map[string]RateLimitState
	now     func() time.Time
}

// NewRateLimits returns an empty tracker. now may be nil.
func NewRateLimits(now func() time.Time) *RateLimits {
	if now == nil {
		now = time.Now
	}
	return &RateLimits{entries: make(map[string]RateLimitState), now: now}
}

// Get returns the live state for key.
func (r *RateLimits) Get(key string) (RateLimitState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(key)
}

func (r *RateLimits) getLocked(key string) (RateLimitState, bool) {
	st, ok := r.entries[key]
	if !ok {
		return RateLimitState{}, false
	}
	if r.now().After(st.ResetAt) {
		delete(r.entries, key)
		return RateLimitState{}, false
	}
	return st, true
}

// Check fails with a *RateLimitError when key has no requests left.
func (r *RateLimits) Check(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.getLocked(key)
	if ok && st.Remaining <= 0 {
		return &RateLimitError{Endpoint: key, ResetAt: st.ResetAt}
	}
	return nil
}

// Observe records the X-RateLimit-* headers of a response. Responses
// without remaining, limit and a reset header leave the state untouched.
func (r *RateLimits) Observe(key string, h http.Header) {
	remaining, err1 := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	limit, err2 := strconv.Atoi(h.Get("X-RateLimit-Limit"))
	if err1 != nil || err2 != nil {
		return
	}
	resetAt, ok := r.resetAt(h)
	if !ok {
		return
	}
	r.mu.Lock()
	r.entries[key] = RateLimitState{
		Remaining: remaining,
		Limit:     limit,
		ResetAt:   resetAt,
		Bucket:    h.Get("X-RateLimit-Bucket"),
	}
	r.mu.Unlock()
}

// Block marks key exhausted until until, used after a 429.
func (r *RateLimits) Block(key string, until time.Time) {
	r.mu.Lock()
	st := r.entries[key]
	st.Remaining = 0
	if until.After(st.ResetAt) {
		st.ResetAt = until
	}
	r.entries[key] = st
	r.mu.Unlock()
}

// resetAt prefers the relative Reset-After header and falls back to the
// absolute epoch Reset header.
func (r *RateLimits) resetAt(h http.Header) (time.Time, bool) {
	if v := h.Get("X-RateLimit-Reset-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return r.now().Add(seconds(secs)), true
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if epoch, err := strconv.ParseFloat(v, 64); err == nil {
			sec, frac := math.Modf(epoch)
			return time.Unix(int64(sec), int64(frac*1e9)), true
		}
	}
	return time.Time{}, false
}

// retryAfter reads the Retry-After header of a 429, defaulting to one second.
func retryAfter(h http.Header) time.Duration {
	if secs, err := strconv.ParseFloat(h.Get("Retry-After"), 64); err == nil && secs > 0 {
		return seconds(secs)
	}
	return time.Second
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
