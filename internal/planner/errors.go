package planner

import (
	"errors"
	"fmt"
)

var (
	// ErrInfeasible means no configuration satisfies the request.
	ErrInfeasible = errors.New("no viable destination configuration")
	// ErrLimitReached means the search budget ran out before any plan was found.
	ErrLimitReached = errors.New("search limit reached without a plan")
)

// Reason classifies planning failures.
type Reason string

const (
	ReasonInfeasible     Reason = "infeasible"
	ReasonLimitReached   Reason = "limit_reached"
	ReasonInvalidRequest Reason = "invalid_request"
	ReasonModeling       Reason = "modeling"
)

// PlanError is returned by Compute.
type PlanError struct {
	Reason Reason
	Cause  error
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("planning failed (%s): %v", e.Reason, e.Cause)
}

func (e *PlanError) Unwrap() error {
	return e.Cause
}
