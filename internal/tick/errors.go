package tick

import (
	"errors"
	"fmt"
)

// SchemaError reports a malformed tick. It is the only ingestion failure
// surfaced to callers as an error; it is never retried.
type SchemaError struct {
	// Field names the offending record field.
	Field string

	// Message is a human-readable description.
	Message string

	// Hash is the coherence hash of the record, if one was present.
	Hash string
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	if e.Hash != "" {
		return fmt.Sprintf("SCHEMA: %s: %s (hash=%s)", e.Field, e.Message, e.Hash)
	}
	return fmt.Sprintf("SCHEMA: %s: %s", e.Field, e.Message)
}

// IsSchemaError returns true if err is or wraps a SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

func newSchemaError(field, message, hash string) *SchemaError {
	return &SchemaError{Field: field, Message: message, Hash: hash}
}
