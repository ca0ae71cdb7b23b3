package domain

import (
	"fmt"
	"strings"
)

// ErrNotFound reports a failed template or instance resolution.
type ErrNotFound struct {
	Entity EntityType
	Ref    string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Ref)
}

// ErrInvalidDefinition reports a malformed template definition or type path.
type ErrInvalidDefinition struct {
	Ref    string
	Reason string
}

func (e ErrInvalidDefinition) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("invalid definition: %s", e.Reason)
	}
	return fmt.Sprintf("invalid definition %q: %s", e.Ref, e.Reason)
}

// ErrDepthExceeded reports that recursive instantiation tripped the depth
// guard. It is the sole cycle-prevention mechanism; the storage layer itself
// permits cycles.
type ErrDepthExceeded struct {
	Path  string
	Depth int
	Max   int
}

func (e ErrDepthExceeded) Error() string {
	return fmt.Sprintf("instantiating %s: depth %d exceeds maximum %d", e.Path, e.Depth, e.Max)
}

// ErrNotImplemented reports a named operation with no registered handler.
type ErrNotImplemented struct {
	Method string
}

func (e ErrNotImplemented) Error() string {
	return fmt.Sprintf("no handler registered for %s", e.Method)
}

// ErrIntegrityViolation reports duplicate live type paths, mutation of frozen
// rows, edges referencing deleted endpoints, and invalid status transitions.
type ErrIntegrityViolation struct {
	Entity EntityType
	Ref    string
	Reason string
}

func (e ErrIntegrityViolation) Error() string {
	return fmt.Sprintf("integrity violation on %s %q: %s", e.Entity, e.Ref, e.Reason)
}

// DefinitionErrors aggregates the itemized validation failures for one
// definition file. Loading rejects the whole file when any definition fails.
type DefinitionErrors struct {
	Errors []error
}

func (e DefinitionErrors) Error() string {
	if len(e.Errors) == 0 {
		return "definition file rejected"
	}
	items := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		items[i] = err.Error()
	}
	return fmt.Sprintf("definition file rejected (%d errors): %s", len(e.Errors), strings.Join(items, "; "))
}

// Unwrap exposes the individual failures to errors.Is / errors.As.
func (e DefinitionErrors) Unwrap() []error {
	return e.Errors
}
