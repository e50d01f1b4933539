package types

import "time"

// FailedAttempt is the windowed failure counter for one tracking key
// (ip:<addr>, user:<id> or apikey:<prefix>).
type FailedAttempt struct {
	Key         string    `json:"key"`
	Attempts    int       `json:"attempts"`
	WindowStart time.Time `json:"window_start"`
	LastAttempt time.Time `json:"last_attempt"`
}

// Lockout blocks authentication for one tracking key until ExpiresAt.
// LockoutCount is the number of lockouts this key has accumulated and
// drives the progressive duration on the next one.
type Lockout struct {
	Key          string    `json:"key"`
	Reason       string    `json:"reason,omitempty"`
	LockoutCount int       `json:"lockout_count"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Active reports whether the lockout is still in force.
func (l *Lockout) Active(now time.Time) bool {
	return l.ExpiresAt.After(now)
}

// RetryAfter returns the whole seconds remaining until the lockout lifts,
// rounded up, never negative.
func (l *Lockout) RetryAfter(now time.Time) int64 {
	d := l.ExpiresAt.Sub(now)
	if d <= 0 {
		return 0
	}
	secs := int64(d / time.Second)
	if d%time.Second > 0 {
		secs++
	}
	return secs
}
