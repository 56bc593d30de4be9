package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Info is the rate-limit state the Perplexity API reported for a model,
// captured from response headers.
type Info struct {
	Model     string    `json:"model"`
	Timestamp time.Time `json:"timestamp"`

	// RequestsLimit is the maximum number of requests in the current window.
	RequestsLimit int `json:"requests_limit"`

	// RequestsRemaining is the number of requests left in the current window.
	RequestsRemaining int `json:"requests_remaining"`

	// RequestsReset is when the request counter resets.
	RequestsReset time.Time `json:"requests_reset"`

	// RetryAfter is how long the server asked us to back off, from a
	// Retry-After header on a 429.
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// ParseHeaders extracts rate-limit state from standard x-ratelimit-* and
// Retry-After response headers. Missing headers leave zero values.
func ParseHeaders(headers http.Header, model string) *Info {
	info := &Info{
		Model:     model,
		Timestamp: time.Now(),
	}

	if v := headers.Get("x-ratelimit-limit-requests"); v != "" {
		info.RequestsLimit, _ = strconv.Atoi(v)
	}
	if v := headers.Get("x-ratelimit-remaining-requests"); v != "" {
		info.RequestsRemaining, _ = strconv.Atoi(v)
	}
	if v := headers.Get("x-ratelimit-reset-requests"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			info.RequestsReset = time.Now().Add(time.Duration(secs * float64(time.Second)))
		}
	}
	if v := headers.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			info.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return info
}

// Tracker keeps the latest server-reported rate-limit state per model.
// It is safe for concurrent use.
type Tracker struct {
	mu   sync.RWMutex
	info map[string]*Info
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{info: make(map[string]*Info)}
}

// Update records the state for a model, replacing any earlier record.
func (t *Tracker) Update(info *Info) {
	if info == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.info[info.Model] = info
}

// Get returns the latest recorded state for a model.
func (t *Tracker) Get(model string) (*Info, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info, ok := t.info[model]
	return info, ok
}

// WaitTime returns how long to back off before the next request for the
// model: the server's Retry-After if one was given, otherwise the time to
// the reported reset when the budget is exhausted, otherwise zero.
func (t *Tracker) WaitTime(model string) time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	info, ok := t.info[model]
	if !ok {
		return 0
	}
	if info.RetryAfter > 0 {
		return info.RetryAfter
	}
	if info.RequestsLimit > 0 && info.RequestsRemaining <= 0 && time.Now().Before(info.RequestsReset) {
		return time.Until(info.RequestsReset)
	}
	return 0
}
