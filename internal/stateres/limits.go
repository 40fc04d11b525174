package stateres

import (
	"fmt"
	"time"
)

// Default limits.
const (
	DefaultMaxConflictedEvents = 10000
	DefaultMaxAuthChainEvents  = 100000
	DefaultTimeout             = 30 * time.Second
)

// Limits bound the work of a single resolution. A zero field disables that
// limit.
type Limits struct {
	// MaxConflictedEvents bounds the full conflicted set.
	MaxConflictedEvents int

	// MaxAuthChainEvents bounds the number of events loaded.
	MaxAuthChainEvents int

	// Timeout bounds wall-clock time, measured with the resolver's Clock.
	Timeout time.Duration
}

// DefaultLimits returns the default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxConflictedEvents: DefaultMaxConflictedEvents,
		MaxAuthChainEvents:  DefaultMaxAuthChainEvents,
		Timeout:             DefaultTimeout,
	}
}

// Clock supplies the current time. Tests inject a fake.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// budget enforces Limits for one resolution. Like the step quota of a
// flow, it is owned by a single call and never shared.
type budget struct {
	limits Limits
	clock  Clock
	roomID string
	start  time.Time
}

func newBudget(limits Limits, clock Clock, roomID string) *budget {
	return &budget{limits: limits, clock: clock, roomID: roomID, start: clock.Now()}
}

// checkTime returns RESOLUTION_TIMEOUT once the budget has run out.
func (b *budget) checkTime() error {
	if b.limits.Timeout <= 0 {
		return nil
	}
	elapsed := b.clock.Now().Sub(b.start)
	if elapsed > b.limits.Timeout {
		return &ResolutionError{
			Code:    ErrCodeTimeout,
			Message: fmt.Sprintf("resolution exceeded %s (elapsed %s)", b.limits.Timeout, elapsed),
			RoomID:  b.roomID,
			Details: map[string]string{"timeout": b.limits.Timeout.String()},
		}
	}
	return nil
}

func (b *budget) checkLoaded(n int) error {
	if b.limits.MaxAuthChainEvents > 0 && n > b.limits.MaxAuthChainEvents {
		return tooLarge(b.roomID, "max_auth_chain_events", n, b.limits.MaxAuthChainEvents)
	}
	return nil
}

func (b *budget) checkConflicted(n int) error {
	if b.limits.MaxConflictedEvents > 0 && n > b.limits.MaxConflictedEvents {
		return tooLarge(b.roomID, "max_conflicted_events", n, b.limits.MaxConflictedEvents)
	}
	return nil
}
