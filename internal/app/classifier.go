package app

import "github.com/dkeye/tempvoice/internal/domain"

type TransitionKind int

const (
	Noop TransitionKind = iota
	Join
	Leave
	Switch
)

func (k TransitionKind) String() string {
	switch k {
	case Join:
		return "join"
	case Leave:
		return "leave"
	case Switch:
		return "switch"
	default:
		return "noop"
	}
}

// Transition is a classified voice-location change.
// From is set for Leave and Switch, To for Join and Switch.
type Transition struct {
	Kind TransitionKind
	From domain.RoomID
	To   domain.RoomID
}

// Classify maps a (before, after) pair of voice locations to a transition.
// An empty RoomID means "no room".
func Classify(before, after domain.RoomID) Transition {
	switch {
	case before == after:
		return Transition{Kind: Noop}
	case before == "":
		return Transition{Kind: Join, To: after}
	case after == "":
		return Transition{Kind: Leave, From: before}
	default:
		return Transition{Kind: Switch, From: before, To: after}
	}
}
