package mcp

import (
	"fmt"
	"sync"
	"time"
)

// limiter is a token bucket. It is safe for concurrent use.
type limiter struct {
	mu        sync.Mutex
	rate      float64 // tokens per second
	burst     float64
	tokens    float64
	lastCheck time.Time
	now       func() time.Time
}

func newLimiter(perMinute float64, burst int) *limiter {
	return &limiter{
		rate:   perMinute / 60,
		burst:  float64(burst),
		tokens: float64(burst),
		now:    time.Now,
	}
}

func (l *limiter) allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !l.lastCheck.IsZero() {
		if elapsed := now.Sub(l.lastCheck).Seconds(); elapsed > 0 {
			l.tokens = min(l.tokens+l.rate*elapsed, l.burst)
		}
	}
	l.lastCheck = now

	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}

// toolLimiters maps tool names to their limiters. Tools without one are
// never limited.
type toolLimiters map[string]*limiter

// newToolLimiters bounds the tools that decode whole snapshots.
func newToolLimiters() toolLimiters {
	return toolLimiters{
		toolSummary:  newLimiter(60, 10),
		toolPerson:   newLimiter(120, 20),
		toolEvents:   newLimiter(60, 10),
		toolAntibody: newLimiter(600, 50),
		toolExport:   newLimiter(10, 3),
	}
}

func (t toolLimiters) check(tool string) error {
	l, ok := t[tool]
	if !ok || l.allow() {
		return nil
	}
	return fmt.Errorf("rate limit exceeded for %s, please try again shortly", tool)
}
