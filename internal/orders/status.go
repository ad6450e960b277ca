package orders

import "fmt"

type Status string

const (
	// StatusPending is not produced by checkout, which creates orders as paid.
	// It is kept for order-creation paths that defer payment.
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusShipped   Status = "shipped"
	StatusCancelled Status = "cancelled"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusPaid: true, StatusCancelled: true},
	StatusPaid:      {StatusShipped: true, StatusCancelled: true},
	StatusShipped:   {},
	StatusCancelled: {},
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s Status) IsTerminal() bool {
	return s == StatusShipped || s == StatusCancelled
}

func (s Status) String() string { return string(s) }

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// TransitionError names both ends of a rejected transition.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	if e.From.IsTerminal() {
		return fmt.Sprintf("cannot change order status to %q: order is already %q", e.To, e.From)
	}
	return fmt.Sprintf("cannot change order status from %q to %q", e.From, e.To)
}

// Transition validates from -> to and returns a *TransitionError when the
// edge does not exist. Unknown statuses are never coerced.
func Transition(from, to Status) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}
