package ws

import "time"

const (
	DefaultReconnectDelay       = 3 * time.Second
	DefaultMaxReconnectAttempts = 5
)

// ReconnectPolicy waits a fixed delay between attempts and gives up after
// MaxAttempts consecutive unexpected closures. A successful open resets it.
type ReconnectPolicy struct {
	Delay       time.Duration
	MaxAttempts int
	attempt     int
}

func NewReconnectPolicy(delay time.Duration, maxAttempts int) *ReconnectPolicy {
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	return &ReconnectPolicy{Delay: delay, MaxAttempts: maxAttempts}
}

// Next reports the delay before the next attempt, or false once the attempt
// ceiling has been reached.
func (p *ReconnectPolicy) Next() (time.Duration, bool) {
	if p.attempt >= p.MaxAttempts {
		return 0, false
	}
	p.attempt++
	return p.Delay, true
}

func (p *ReconnectPolicy) Attempts() int {
	return p.attempt
}

func (p *ReconnectPolicy) Reset() {
	p.attempt = 0
}
