package controlplane

import "errors"

// Sentinel errors for control plane operations.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrUnavailable   = errors.New("home assistant connection not configured")
)
