package typing

import "time"

// Timer is the handle of an armed timer.
type Timer interface {
	Stop() bool
}

// AfterFunc arms a timer calling f after d. Injected so tests control time.
type AfterFunc func(d time.Duration, f func()) Timer

// RealAfterFunc is backed by time.AfterFunc.
func RealAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
