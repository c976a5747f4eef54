package middleware

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/d9705996/modmail-viewer/internal/api/jsonapi"
	"github.com/d9705996/modmail-viewer/internal/discord"
)

// Fail writes a JSON:API error tagged with the request id.
func Fail(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	jsonapi.RenderErrorID(w, status, RequestIDFrom(r.Context()), code, http.StatusText(status), detail)
}

// Internal logs err with the request logger and writes a generic 500.
func Internal(w http.ResponseWriter, r *http.Request, msg string, err error) {
	Logger(r.Context()).ErrorContext(r.Context(), msg, "err", err)
	Fail(w, r, http.StatusInternalServerError, "internal_error", "an internal error occurred")
}

// Upstream maps an error from a Discord-backed lookup: rate limits become
// 429 with Retry-After, anything else a 500.
func Upstream(w http.ResponseWriter, r *http.Request, msg string, err error) {
	var rl *discord.RateLimitError
	if errors.As(err, &rl) {
		secs := int(math.Ceil(rl.RetryAfter(time.Now()).Seconds()))
		if secs < 1 {
			secs = 1
		}
		Logger(r.Context()).WarnContext(r.Context(), msg, "err", err, "retry_after_s", secs)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		Fail(w, r, http.StatusTooManyRequests, "rate_limited", "Discord rate limit reached, retry later")
		return
	}
	Internal(w, r, msg, err)
}
