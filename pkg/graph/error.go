package graph

import "errors"

var (
	// ErrNotFound is returned when an entity does not exist in the scope.
	ErrNotFound = errors.New("entity not found")

	// ErrConnection is returned when the graph store connection fails.
	ErrConnection = errors.New("graph store connection failed")
)
