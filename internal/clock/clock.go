// Package clock is the single source of "now" and of civil-time conversion.
//
// Code outside this package must not call time.Now, time.Local or build UTC
// offsets by hand; it receives a Clock and a Zone instead.
package clock

import "time"

// Clock provides the current instant.
type Clock interface {
	Now() time.Time
}

// Real reads the system clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

// Fixed always returns T.
type Fixed struct {
	T time.Time
}

func (c Fixed) Now() time.Time { return c.T }

// Func adapts a function to Clock.
type Func func() time.Time

func (f Func) Now() time.Time { return f() }

var (
	_ Clock = Real{}
	_ Clock = Fixed{}
	_ Clock = Func(nil)
)
