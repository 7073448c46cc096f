package models

import "time"

// RateLimitInfo mirrors the remote API's rate-limit response headers.
// Remaining is only ever set from server headers; the server is
// authoritative. Updated records when the snapshot was last persisted.
type RateLimitInfo struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	Reset     int64 `json:"reset"`
	Updated   int64 `json:"updated"`
}

// ResetIn returns the seconds until the rate-limit window resets, never
// negative.
func (r RateLimitInfo) ResetIn(now time.Time) int {
	d := r.Reset - now.Unix()
	if d < 0 {
		return 0
	}
	return int(d)
}

// Exhausted reports whether a new request must not be started.
func (r RateLimitInfo) Exhausted(now time.Time) bool {
	return r.Remaining <= 0 && now.Unix() < r.Reset
}
