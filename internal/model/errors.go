package model

import (
	"fmt"

	"github.com/limiquantix/replanner/internal/plan"
)

// NoAvailableTransitionError is returned when an element must change state
// but the duration of the required action is not positive.
type NoAvailableTransitionError struct {
	Element  string
	Kind     plan.Kind
	Duration int
}

func (e *NoAvailableTransitionError) Error() string {
	return fmt.Sprintf("no available transition for %s: %s would last %d", e.Element, e.Kind, e.Duration)
}

// RequestError is returned when the requested states are inconsistent,
// e.g. a virtual machine required both running and sleeping.
type RequestError struct {
	Element string
	Reason  string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("invalid request for %s: %s", e.Element, e.Reason)
}
