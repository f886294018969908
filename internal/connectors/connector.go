// Package connectors defines the contracts between the presence engine and
// the home automation backend.
package connectors

import (
	"context"
	"fmt"

	"github.com/fentz26/presencesim/internal/models"
)

// ErrorKind classifies a failed remote call.
type ErrorKind string

const (
	KindNetwork ErrorKind = "network"
	KindHTTP    ErrorKind = "http"
)

// CallError is returned by remote calls that did not succeed.
type CallError struct {
	Kind   ErrorKind
	Status int // HTTP status for KindHTTP
	Detail string
}

func (e *CallError) Error() string {
	if e.Kind == KindHTTP {
		return fmt.Sprintf("%s error (status %d): %s", e.Kind, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Detail)
}

// CommandSink issues on/off service calls against an entity.
type CommandSink interface {
	// Call invokes domain.service for entityID.
	Call(ctx context.Context, domain, service, entityID string) error
}

// HistorySource supplies chronological state changes for an entity.
type HistorySource interface {
	// History returns events from the last lookbackDays, oldest first.
	History(ctx context.Context, entityID string, lookbackDays int) ([]models.HistoryEvent, error)
}

// StateReader reads current entity states.
type StateReader interface {
	// State returns the entity state, or nil when the entity does not exist.
	State(ctx context.Context, entityID string) (*models.EntityState, error)

	// States returns all entity states.
	States(ctx context.Context) ([]models.EntityState, error)
}

// allowedDomains lists the entity domains that may be switched.
var allowedDomains = map[string]bool{
	"light":         true,
	"switch":        true,
	"fan":           true,
	"input_boolean": true,
}

// IsAllowed checks if an entity belongs to a switchable domain.
func IsAllowed(entityID string) bool {
	return allowedDomains[models.Domain(entityID)]
}
