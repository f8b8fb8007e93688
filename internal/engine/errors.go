package engine

import (
	"errors"
	"fmt"
)

// ErrNotReady is returned by Shred and Run before Initialize succeeded or
// after Close.
var ErrNotReady = errors.New("engine is not ready")

// MalformedDocumentError reports a document that could not be parsed. The
// document is skipped; the batch goes on.
type MalformedDocumentError struct {
	DocumentID string
	Err        error
}

func (e *MalformedDocumentError) Error() string {
	return fmt.Sprintf("document %s is not well-formed XML: %v", e.DocumentID, e.Err)
}

func (e *MalformedDocumentError) Unwrap() error {
	return e.Err
}

// SchemaConflictError reports a setting that differs from the value the
// repository was created with.
type SchemaConflictError struct {
	Setting    string
	Stored     string
	Configured string
}

func (e *SchemaConflictError) Error() string {
	return fmt.Sprintf("repository was created with %s=%s but %s is configured; this setting cannot change",
		e.Setting, e.Stored, e.Configured)
}

// TransactionError wraps a failure inside the batch transaction. Nothing
// of the batch was written.
type TransactionError struct {
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("batch transaction rolled back: %v", e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}
