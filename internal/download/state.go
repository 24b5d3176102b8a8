package download

import "fmt"

// State is a step of the per-file retry machine:
//
//	Idle -> Attempting -> Succeeded
//	                   -> Retrying -> Attempting
//	                   -> Exhausted
//	                   -> Canceled
//
// Leaving Attempting for anything but Succeeded removes the partial file.
type State int

const (
	Idle State = iota
	Attempting
	Succeeded
	Retrying
	Exhausted
	Canceled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Attempting:
		return "attempting"
	case Succeeded:
		return "succeeded"
	case Retrying:
		return "retrying"
	case Exhausted:
		return "exhausted"
	case Canceled:
		return "canceled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == Succeeded || s == Exhausted || s == Canceled
}

// Transition records one edge taken by the machine.
type Transition struct {
	From    State
	To      State
	Attempt int   // attempt number the edge belongs to (1-based; 0 before the first attempt)
	Err     error // attempt error for edges out of Attempting
}

// next picks the state after s. attempt is the number of attempts made so far,
// err the outcome of the last attempt and canceled whether the context is done.
func next(s State, attempt, max int, err error, canceled bool) State {
	switch s {
	case Idle, Retrying:
		return Attempting
	case Attempting:
		switch {
		case err == nil:
			return Succeeded
		case canceled:
			return Canceled
		case attempt >= max:
			return Exhausted
		default:
			return Retrying
		}
	}
	return s
}
