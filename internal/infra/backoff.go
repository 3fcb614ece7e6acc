package infra

import (
	"time"
)

// Backoff is an exponential reconnect schedule: Base * 2^retry, capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff is used by the host feed.
var DefaultBackoff = Backoff{Base: 1 * time.Second, Max: 60 * time.Second}

// Delay returns the wait before attempt retry. Negative retries get Base.
func (b Backoff) Delay(retry int) time.Duration {
	if retry < 0 {
		return b.Base
	}
	// 2^30 seconds is far beyond any sane Max.
	if retry > 30 {
		return b.Max
	}

	d := b.Base * time.Duration(1<<retry)
	if d > b.Max || d <= 0 {
		return b.Max
	}
	return d
}

// CalculateBackoff returns DefaultBackoff.Delay(retryCount).
func CalculateBackoff(retryCount int) time.Duration {
	return DefaultBackoff.Delay(retryCount)
}
