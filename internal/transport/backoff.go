package transport

import "time"

// State is the connection lifecycle of one stream scope.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateBackoff
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Input is a connection lifecycle trigger.
type Input int

const (
	InputOpen Input = iota
	InputDialOK
	InputDialErr
	InputReadErr
	InputRetry
	InputClose
)

// NextState is the pure transition function for the reconnect loop.
// Closed is terminal; every state accepts InputClose.
func NextState(s State, in Input) State {
	if in == InputClose {
		return StateClosed
	}
	switch s {
	case StateIdle:
		if in == InputOpen {
			return StateConnecting
		}
	case StateConnecting:
		switch in {
		case InputDialOK:
			return StateConnected
		case InputDialErr:
			return StateBackoff
		}
	case StateConnected:
		if in == InputReadErr {
			return StateBackoff
		}
	case StateBackoff:
		if in == InputRetry {
			return StateConnecting
		}
	}
	return s
}

// Backoff produces exponentially growing wait intervals, capped, with
// a reset on successful connection.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration

	attempt int
}

// Next returns the wait before the next connection attempt. Intervals
// are non-decreasing up to Cap.
func (b *Backoff) Next() time.Duration {
	d := b.Base << b.attempt
	if d <= 0 || d > b.Cap {
		d = b.Cap
	} else {
		b.attempt++
	}
	return d
}

func (b *Backoff) Reset() {
	b.attempt = 0
}

// Clock abstracts timer waits so the reconnect loop is testable
// without real time.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
