// Package models defines the core domain types for presencesim.
package models

import (
	"strings"
	"time"
)

// ActionKind is the transition a planned action applies to an entity.
type ActionKind string

const (
	ActionTurnOn  ActionKind = "turn_on"
	ActionTurnOff ActionKind = "turn_off"
)

// ActionSource tells who fired an executed action.
type ActionSource string

const (
	SourceSchedule ActionSource = "schedule"
	SourceManual   ActionSource = "manual"
)

// PlannedAction is a single queued on/off transition at minute precision.
type PlannedAction struct {
	Time   time.Time  `json:"time"`
	Entity string     `json:"entity"`
	Action ActionKind `json:"action"`
}

// Key identifies an action slot; at most one action may occupy it.
func (a PlannedAction) Key() ActionKey {
	return ActionKey{Entity: a.Entity, Minute: a.Time.Truncate(time.Minute).Unix()}
}

// ActionKey is the (entity, minute) dedup key of the planner queue.
type ActionKey struct {
	Entity string
	Minute int64
}

// HistoryEvent is one state report from the history source.
type HistoryEvent struct {
	EntityID    string `json:"entity_id,omitempty"`
	State       string `json:"state"`
	LastChanged string `json:"last_changed"`
	LastUpdated string `json:"last_updated,omitempty"`
}

// Timestamp returns the raw timestamp, preferring last_changed.
func (e HistoryEvent) Timestamp() string {
	if e.LastChanged != "" {
		return e.LastChanged
	}
	return e.LastUpdated
}

// EntityState is the current state of an entity as reported by Home Assistant.
type EntityState struct {
	EntityID   string                 `json:"entity_id"`
	State      string                 `json:"state"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// FriendlyName returns the friendly_name attribute or the entity id.
func (s EntityState) FriendlyName() string {
	if name, ok := s.Attributes["friendly_name"].(string); ok && name != "" {
		return name
	}
	return s.EntityID
}

// Entity is a controllable device offered for selection.
type Entity struct {
	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
	Domain   string `json:"domain"`
}

// RunState is the persisted lifecycle of the simulation loop.
type RunState struct {
	Running   bool       `json:"running"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// ActionRecord is an executed action kept for observability.
type ActionRecord struct {
	ID     string       `json:"id"`
	Time   time.Time    `json:"time"`
	Entity string       `json:"entity"`
	Action ActionKind   `json:"action"`
	Source ActionSource `json:"source"`
}

// PDREntry represents a Process Decision Record for audit.
type PDREntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	Subject    string    `json:"subject,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Domain returns the part of an entity id before the first dot.
func Domain(entityID string) string {
	domain, _, found := strings.Cut(entityID, ".")
	if !found {
		return ""
	}
	return domain
}
