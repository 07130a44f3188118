package dispatch

import "fmt"

// Category classifies commands for action correlation.
type Category uint8

const (
	CategoryNone Category = iota
	Movement
	Turn
	MoveTo
	Grasp
	Point
	Interact
	EyeMovement
)

var categoryNames = [...]string{
	CategoryNone: "none",
	Movement:     "movement",
	Turn:         "turn",
	MoveTo:       "move_to",
	Grasp:        "grasp",
	Point:        "point",
	Interact:     "interact",
	EyeMovement:  "eye_movement",
}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

// Resource is a part of the body. Categories sharing a resource preempt
// each other.
type Resource uint8

const (
	Locomotion Resource = iota
	Arm
	Eyes

	numResources
)

func (r Resource) String() string {
	switch r {
	case Locomotion:
		return "locomotion"
	case Arm:
		return "arm"
	case Eyes:
		return "eyes"
	default:
		return fmt.Sprintf("resource(%d)", uint8(r))
	}
}

// Resource used by commands of category c.
func (c Category) Resource() Resource {
	switch c {
	case Grasp, Point, Interact:
		return Arm
	case EyeMovement:
		return Eyes
	default:
		return Locomotion
	}
}
