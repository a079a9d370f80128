package data

import "time"

// TimeProvider abstracts wall-clock access so repository queries that reason
// about scheduling windows can be tested with a fixed clock.
type TimeProvider interface {
	Now() time.Time
}

// RealTimeProvider returns the actual current time.
type RealTimeProvider struct{}

func (RealTimeProvider) Now() time.Time { return time.Now() }

// FixedTimeProvider always returns the same instant. Test use only.
type FixedTimeProvider struct {
	Fixed time.Time
}

func (f FixedTimeProvider) Now() time.Time { return f.Fixed }
