package services

import "time"

// Clock abstracts wall-clock time so schedules can be tested against a fixed
// or advancing fake instead of real timers.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock returns a Clock backed by time.Now.
func RealClock() Clock { return realClock{} }
