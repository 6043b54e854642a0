// Package ratelimit provides per-session request limiting and usage cost
// tracking. The limiter is an explicitly constructed service object owned
// by the composition root, not a process-wide singleton.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limits configures the per-session request budget
type Limits struct {
	PerMinute int
	PerHour   int
	PerDay    int
}

// DefaultLimits returns the default request budget
func DefaultLimits() Limits {
	return Limits{
		PerMinute: 60,
		PerHour:   500,
		PerDay:    5000,
	}
}

// Limiter enforces per-session request limits. The per-minute budget uses
// a token bucket; the hour and day budgets use fixed windows.
type Limiter struct {
	mu       sync.Mutex
	limits   Limits
	sessions map[string]*sessionState
	now      func() time.Time
}

type sessionState struct {
	minute *rate.Limiter

	hourCount   int
	hourStart   time.Time
	dayCount    int
	dayStart    time.Time
	costDollars float64
}

// New creates a limiter with the given budget
func New(limits Limits) *Limiter {
	if limits.PerMinute <= 0 {
		limits = DefaultLimits()
	}
	return &Limiter{
		limits:   limits,
		sessions: make(map[string]*sessionState),
		now:      time.Now,
	}
}

func (l *Limiter) state(sessionID string) *sessionState {
	s, ok := l.sessions[sessionID]
	if !ok {
		now := l.now()
		s = &sessionState{
			minute:    rate.NewLimiter(rate.Limit(float64(l.limits.PerMinute)/60.0), l.limits.PerMinute),
			hourStart: now,
			dayStart:  now,
		}
		l.sessions[sessionID] = s
	}
	return s
}

// Allow reports whether a request for the session is within all limits,
// consuming one unit from each budget if so. The error names the first
// exceeded limit.
func (l *Limiter) Allow(sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.state(sessionID)
	now := l.now()

	if now.Sub(s.hourStart) >= time.Hour {
		s.hourCount = 0
		s.hourStart = now
	}
	if now.Sub(s.dayStart) >= 24*time.Hour {
		s.dayCount = 0
		s.dayStart = now
	}

	if !s.minute.AllowN(now, 1) {
		return fmt.Errorf("rate limit exceeded: %d requests per minute", l.limits.PerMinute)
	}
	if s.hourCount >= l.limits.PerHour {
		return fmt.Errorf("rate limit exceeded: %d requests per hour", l.limits.PerHour)
	}
	if s.dayCount >= l.limits.PerDay {
		return fmt.Errorf("rate limit exceeded: %d requests per day", l.limits.PerDay)
	}

	s.hourCount++
	s.dayCount++
	return nil
}

// TrackCost adds an estimated cost (in USD) to the session's running total
func (l *Limiter) TrackCost(sessionID string, dollars float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state(sessionID).costDollars += dollars
}

// SessionCost returns the running cost total for a session
func (l *Limiter) SessionCost(sessionID string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.sessions[sessionID]; ok {
		return s.costDollars
	}
	return 0
}

// ResetSession clears the counters for a session
func (l *Limiter) ResetSession(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, sessionID)
}
