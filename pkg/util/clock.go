package util

import "time"

// Clock supplies timestamps for orders and trades
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// FixedClock always reports T
type FixedClock struct{ T time.Time }

func (c FixedClock) Now() time.Time { return c.T }
