package dsync

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies "now" for snapshot creation times and version stamps.
type Clock interface {
	Now() time.Time
}

// RealClock reads the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator hands out identifiers for recorded sync runs.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }

func orRealClock(c Clock) Clock {
	if c == nil {
		return RealClock{}
	}
	return c
}
