package persona

import (
	"sync"
	"time"
)

const (
	DefaultMinInterval   = 10 * time.Second
	DefaultMaxPerSession = 50
)

// RateLimiter throttles one persona per context: a minimum interval
// between responses and a hard per-session cap. Session boundaries are
// owned by the caller via Reset and ResetAll.
type RateLimiter struct {
	mu            sync.Mutex
	minInterval   time.Duration
	maxPerSession int
	lastResponse  map[string]time.Time
	responses     map[string]int
	nowFn         func() time.Time
}

type RateLimiterOption func(*RateLimiter)

func WithRateLimiterClock(nowFn func() time.Time) RateLimiterOption {
	return func(r *RateLimiter) {
		if nowFn != nil {
			r.nowFn = nowFn
		}
	}
}

func NewRateLimiter(minInterval time.Duration, maxPerSession int, opts ...RateLimiterOption) *RateLimiter {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	if maxPerSession <= 0 {
		maxPerSession = DefaultMaxPerSession
	}
	r := &RateLimiter{
		minInterval:   minInterval,
		maxPerSession: maxPerSession,
		lastResponse:  map[string]time.Time{},
		responses:     map[string]int{},
		nowFn:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// IsLimited reports whether the persona must stay quiet in this context,
// either because it responded too recently or because it exhausted the
// session cap.
func (r *RateLimiter) IsLimited(contextID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.responses[contextID] >= r.maxPerSession {
		return true
	}
	last, ok := r.lastResponse[contextID]
	if !ok {
		return false
	}
	return r.nowFn().Sub(last) < r.minInterval
}

// RecordResponse is called exactly once per successful dispatch.
func (r *RateLimiter) RecordResponse(contextID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastResponse[contextID] = r.nowFn()
	r.responses[contextID]++
}

func (r *RateLimiter) Reset(contextID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lastResponse, contextID)
	delete(r.responses, contextID)
}

func (r *RateLimiter) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastResponse = map[string]time.Time{}
	r.responses = map[string]int{}
}

// RateLimitInfo is a read-only view of one context's throttle state.
type RateLimitInfo struct {
	ContextID     string    `json:"context_id"`
	LastResponse  time.Time `json:"last_response,omitempty"`
	ResponseCount int       `json:"response_count"`
	Limited       bool      `json:"limited"`
}

// Info returns throttle state for every context seen so far.
func (r *RateLimiter) Info() []RateLimitInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFn()
	out := make([]RateLimitInfo, 0, len(r.responses))
	for contextID, count := range r.responses {
		last := r.lastResponse[contextID]
		limited := count >= r.maxPerSession || now.Sub(last) < r.minInterval
		out = append(out, RateLimitInfo{
			ContextID:     contextID,
			LastResponse:  last,
			ResponseCount: count,
			Limited:       limited,
		})
	}
	return out
}
