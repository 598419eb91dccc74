package control

import (
	"context"
	"fmt"
	"time"
)

// Policy defines per-request limits for a chat turn.
type Policy struct {
	MaxWallTime time.Duration
}

// DefaultPolicy returns a policy with a two-minute request budget.
func DefaultPolicy() Policy {
	return Policy{
		MaxWallTime: 120 * time.Second,
	}
}

// LimitType identifies which limit is reached.
type LimitType string

const (
	LimitWallTime LimitType = "max_wall_time_seconds"
)

// LimitError indicates a run limit was reached.
type LimitError struct {
	Type      LimitType
	Value     int64
	Threshold int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("limit reached type=%s value=%d threshold=%d", e.Type, e.Value, e.Threshold)
}

// WithDeadline derives a request context bounded by the policy wall time.
// A non-positive wall time leaves ctx unbounded.
func WithDeadline(ctx context.Context, p Policy) (context.Context, context.CancelFunc) {
	if p.MaxWallTime <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.MaxWallTime)
}

// CheckWallTime validates elapsed time against policy.
func CheckWallTime(p Policy, startedAt time.Time, now time.Time) error {
	limit := p.MaxWallTime
	if limit <= 0 {
		return nil
	}
	elapsed := now.Sub(startedAt)
	if elapsed > limit {
		return &LimitError{
			Type:      LimitWallTime,
			Value:     int64(elapsed.Seconds()),
			Threshold: int64(limit.Seconds()),
		}
	}
	return nil
}
