package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for metadata derivation failures. Check them with errors.Is.
var (
	// ErrUnresolvableSymbol indicates that a symbol could not be found in the
	// symbol table.
	ErrUnresolvableSymbol = errors.New("unresolvable symbol")

	// ErrInvalidTarget indicates that a coverage target names something that
	// does not exist, or names an interface in covers mode.
	ErrInvalidTarget = errors.New("invalid coverage target")

	// ErrAmbiguousDefaultClass indicates that a class declares more than one
	// default-class shortcut for the same mode.
	ErrAmbiguousDefaultClass = errors.New("ambiguous default class shortcut")
)

// SymbolError reports a failed symbol lookup. It always unwraps to
// ErrUnresolvableSymbol, and to the underlying lookup failure when set.
type SymbolError struct {
	// Name is the symbol that was looked up.
	Name string

	// File and Line locate the request, when known.
	File string
	Line int

	Err error
}

func (e *SymbolError) Error() string {
	msg := fmt.Sprintf("%s %q", ErrUnresolvableSymbol, e.Name)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	switch {
	case e.File != "" && e.Line > 0:
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, msg)
	case e.File != "":
		return fmt.Sprintf("%s: %s", e.File, msg)
	}
	return msg
}

func (e *SymbolError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrUnresolvableSymbol, e.Err}
	}
	return []error{ErrUnresolvableSymbol}
}

// TargetError reports a coverage target expression that cannot be resolved.
type TargetError struct {
	Target string
	Reason string
	Err    error
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err, e.Reason)
}

func (e *TargetError) Unwrap() error {
	return e.Err
}

// NewInvalidTarget returns a TargetError wrapping ErrInvalidTarget.
func NewInvalidTarget(target, format string, args ...any) *TargetError {
	return &TargetError{
		Target: target,
		Reason: fmt.Sprintf(format, args...),
		Err:    ErrInvalidTarget,
	}
}
