package discord

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited matches every *RateLimitError.
	ErrRateLimited = errors.New("discord: rate limited")
	// ErrNotGuildMember is returned when the user is not in the requested guild.
	ErrNotGuildMember = errors.New("discord: not a guild member")
)

// RateLimitError reports a call refused because the bucket is exhausted,
// either locally before sending or by a 429 from Discord.
type RateLimitError struct {
	Endpoint string
	ResetAt  time.Time
	Upstream bool // true when Discord answered 429
}

func (e *RateLimitError) Error() string {
	src := "local"
	if e.Upstream {
		src = "upstream"
	}
	return fmt.Sprintf("discord: rate limited on %s until %s (%s)", e.Endpoint, e.ResetAt.Format(time.RFC3339), src)
}

// Is makes errors.Is(err, ErrRateLimited) work.
func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// RetryAfter is how long the caller should wait, rounded up to a second.
func (e *RateLimitError) RetryAfter(now time.Time) time.Duration {
	d := e.ResetAt.Sub(now)
	if d <= 0 {
		return time.Second
	}
	return d.Truncate(time.Second) + time.Second
}

// APIError is any other non-2xx response.
type APIError struct {
	Endpoint   string
	Status     int
	StatusText string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("discord: %s: %d %s", e.Endpoint, e.Status, e.StatusText)
}
