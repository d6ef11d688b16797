package model

import "fmt"

type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
)

var allowedTransitions = map[Status]map[Status]bool{
	StatusIdle: {
		StatusIdle:    true, // initial fetch at load found nothing in flight
		StatusRunning: true,
	},
	StatusRunning: {
		StatusRunning:   true,
		StatusCompleted: true,
		StatusStopped:   true,
	},
	StatusCompleted: {
		StatusCompleted: true,
		StatusRunning:   true,
		StatusIdle:      true,
	},
	StatusStopped: {
		StatusStopped: true,
		StatusRunning: true,
		StatusIdle:    true,
	},
}

func IsKnownStatus(status Status) bool {
	_, ok := allowedTransitions[status]
	return ok
}

func CanTransition(from, to Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// IsTerminal reports whether status only changes again through a new Start.
func IsTerminal(status Status) bool {
	return status == StatusCompleted || status == StatusStopped
}

func TransitionViewStatus(view *ViewState, to Status) error {
	from := view.Status
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid view status transition: %q -> %q", from, to)
	}
	view.Status = to
	return nil
}
