package envelope

import "fmt"

// StatusCode is the execution state reported for an action.
type StatusCode int32

const (
	InExecution     StatusCode = 0
	Finished        StatusCode = 1
	Aborted         StatusCode = 2
	Walking         StatusCode = 3
	Rotating        StatusCode = 4
	WalkingRotating StatusCode = 5
)

// Terminal reports whether no further status will follow for the action.
func (s StatusCode) Terminal() bool {
	return s == Finished || s == Aborted
}

func (s StatusCode) String() string {
	switch s {
	case InExecution:
		return "in_execution"
	case Finished:
		return "finished"
	case Aborted:
		return "aborted"
	case Walking:
		return "walking"
	case Rotating:
		return "rotating"
	case WalkingRotating:
		return "walking_rotating"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}
