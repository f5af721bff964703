package document

import "errors"

var (
	// ErrNullDocument marks use of a handle with no backing state. This is a
	// programmer error; accessors panic with it instead of returning it.
	ErrNullDocument = errors.New("null document")

	ErrFileDoesNotExist    = errors.New("file does not exist")
	ErrProjectPartNotFound = errors.New("project part not found")
)
