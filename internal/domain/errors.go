// Package domain contains the cluster entities shared by the planner and the executor.
package domain

import "errors"

// Common domain errors
var (
	// ErrNotFound is returned when a requested node or virtual machine is unknown.
	ErrNotFound = errors.New("element not found")

	// ErrAlreadyExists is returned when an element name is already taken.
	ErrAlreadyExists = errors.New("element already exists")

	// ErrInvalidArgument is returned when an invalid argument is provided.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConflict is returned when a state change contradicts the current state,
	// e.g. hosting a virtual machine on an offline node.
	ErrConflict = errors.New("conflict with current state")

	// ErrResourceExhausted is returned when a node does not have enough capacity.
	ErrResourceExhausted = errors.New("resources exhausted")
)
