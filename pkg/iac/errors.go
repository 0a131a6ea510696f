package iac

import (
	"errors"
	"fmt"
)

// ErrorClass classifies front-end failures. Parsing is deterministic, so
// nothing here is retryable; the class drives reporting and exit status.
type ErrorClass string

const (
	// ClassParse indicates malformed source (syntax, duplicate address).
	ClassParse ErrorClass = "parse"

	// ClassVariable indicates an undefined or cyclic variable reference.
	ClassVariable ErrorClass = "variable"
)

// SourceError is a classified front-end error with source context.
type SourceError struct {
	// Class is the error classification.
	Class ErrorClass

	// Path is the source file involved, when known.
	Path string

	// Subject is the variable or address the error concerns, when known.
	Subject string

	// Message is the human-readable description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

func (e *SourceError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Subject != "" {
		msg = fmt.Sprintf("%s (subject=%s)", msg, e.Subject)
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s in %s", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error for chain inspection.
func (e *SourceError) Unwrap() error { return e.Err }

// Is matches on class so callers can test with sentinel instances.
func (e *SourceError) Is(target error) bool {
	t, ok := target.(*SourceError)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// NewParseError creates a parse-class error for the given file.
func NewParseError(path, message string, err error) *SourceError {
	return &SourceError{Class: ClassParse, Path: path, Message: message, Err: err}
}

// NewVariableError creates a variable-resolution error for the given
// variable or local name.
func NewVariableError(subject, message string) *SourceError {
	return &SourceError{Class: ClassVariable, Subject: subject, Message: message}
}

// IsParseError reports whether err is a parse-class source error.
func IsParseError(err error) bool {
	var e *SourceError
	return errors.As(err, &e) && e.Class == ClassParse
}

// IsVariableError reports whether err is a variable-resolution error.
func IsVariableError(err error) bool {
	var e *SourceError
	return errors.As(err, &e) && e.Class == ClassVariable
}
