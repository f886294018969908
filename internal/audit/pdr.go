// Package audit provides PDR (Process Decision Record) writing for
// state-mutating control operations.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/fentz26/presencesim/internal/models"
)

// Action names recorded by the control plane.
const (
	ActionSimStart     = "sim.start"
	ActionSimStop      = "sim.stop"
	ActionSimStep      = "sim.step"
	ActionConfigUpdate = "config.update"
	ActionModelTrain   = "model.train"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeNoop    = "noop"
	OutcomeFailure = "failure"
)

// Sink persists PDR entries. *store.Store satisfies it.
type Sink interface {
	WritePDR(action, inputsHash, outcome, subject, details string) (*models.PDREntry, error)
}

// PDRWriter writes Process Decision Records for audit trails.
type PDRWriter struct {
	sink Sink
}

// NewPDRWriter creates a new PDR writer.
func NewPDRWriter(s Sink) *PDRWriter {
	return &PDRWriter{sink: s}
}

// Record writes a PDR entry for a state-mutating action.
func (w *PDRWriter) Record(action string, inputs interface{}, outcome, subject, details string) (*models.PDREntry, error) {
	return w.sink.WritePDR(action, HashInputs(inputs), outcome, subject, details)
}

// HashInputs creates a SHA256 hash of the JSON form of inputs.
func HashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
