package clipjob

import "fmt"

type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StatePolling    State = "polling"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// validTransitions lists the moves Submit and the poll results may make. Reset and
// SetAsset return to idle from anywhere and are not routed through this table.
var validTransitions = map[State][]State{
	StateIdle:       {StateSubmitting},
	StateSubmitting: {StatePolling, StateFailed},
	StatePolling:    {StateSubmitting, StateCompleted, StateFailed},
	StateCompleted:  {StateSubmitting},
	StateFailed:     {},
}

type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	if e.From == StateFailed {
		return fmt.Sprintf("cannot move from %s to %s: reset first", e.From, e.To)
	}
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

func ValidateTransition(from, to State) error {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &TransitionError{From: from, To: to}
}

func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}
