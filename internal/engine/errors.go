package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error that stopped an emission step.
//
// Runtime errors include:
//   - Cancelled: the agent's context ended at the admission wait or sleep
//   - Rejected: the ledger refused the tick as malformed
//   - Invalid emission: the emission itself cannot be minted
//
// Every other ingestion condition is absorbed and counted, never returned.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// AgentID identifies the emitting agent.
	AgentID string

	// MotifID identifies the motif being emitted, when known.
	MotifID string

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeCancelled indicates the agent was stopped by its context.
	ErrCodeCancelled RuntimeErrorCode = "CANCELLED"

	// ErrCodeRejected indicates a schema rejection from the ledger.
	ErrCodeRejected RuntimeErrorCode = "TICK_REJECTED"

	// ErrCodeInvalidEmission indicates an emission that cannot be minted.
	ErrCodeInvalidEmission RuntimeErrorCode = "INVALID_EMISSION"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.AgentID != "" && e.MotifID != "" {
		msg = fmt.Sprintf("%s (agent=%s, motif=%s)", msg, e.AgentID, e.MotifID)
	} else if e.AgentID != "" {
		msg = fmt.Sprintf("%s (agent=%s)", msg, e.AgentID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsCancelled returns true if the error is a cancellation.
// Uses errors.As to handle wrapped errors.
func IsCancelled(err error) bool {
	return hasCode(err, ErrCodeCancelled)
}

// IsRejected returns true if the error is a schema rejection.
func IsRejected(err error) bool {
	return hasCode(err, ErrCodeRejected)
}

// IsInvalidEmission returns true if the error is an invalid emission.
func IsInvalidEmission(err error) bool {
	return hasCode(err, ErrCodeInvalidEmission)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

func newCancelledError(agentID string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeCancelled,
		Message: "agent stopped",
		AgentID: agentID,
		Err:     cause,
	}
}

func newRejectedError(agentID, motifID string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeRejected,
		Message: "ledger rejected tick",
		AgentID: agentID,
		MotifID: motifID,
		Err:     cause,
	}
}

func newInvalidEmissionError(agentID, motifID, message string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeInvalidEmission,
		Message: message,
		AgentID: agentID,
		MotifID: motifID,
	}
}
