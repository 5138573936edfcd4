package plugin

import (
	"errors"
	"fmt"
	"strings"

	xerrors "indexao/internal/errors"
	"indexao/pkg/capability"
)

// ErrManager matches every error raised by the manager, including load and
// validation failures.
var ErrManager = errors.New("plugin manager error")

var (
	// ErrNotRegistered is the cause of a LoadError for an unknown adapter name.
	ErrNotRegistered = errors.New("adapter not registered")
	// ErrUnitNotFound is returned by a Loader that has nothing at a location.
	ErrUnitNotFound = errors.New("adapter unit not found")
	// ErrNoCandidate means a unit was found but holds no adapter class.
	ErrNoCandidate = errors.New("no adapter class found")
	// ErrClosed is returned once the manager has been closed.
	ErrClosed = errors.New("plugin manager closed")
)

// ManagerError reports misuse of the manager, such as an unknown kind.
type ManagerError struct {
	Op  string
	Msg string
	Err error
}

func newManagerError(op, format string, args ...any) *ManagerError {
	return &ManagerError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

func invalidKind(op string, kind capability.Kind) *ManagerError {
	return newManagerError(op, "invalid adapter kind: %q", string(kind))
}

func (e *ManagerError) Error() string {
	msg := e.Msg
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ManagerError) Unwrap() error        { return e.Err }
func (e *ManagerError) Is(target error) bool { return target == ErrManager }
func (e *ManagerError) Code() xerrors.Code   { return xerrors.CodeManager }

// LoadError reports that an adapter could not be resolved or constructed.
type LoadError struct {
	Kind capability.Kind
	Name string
	// Available lists the registered names for Kind when the name was unknown.
	Available []string
	Msg       string
	Err       error
}

func (e *LoadError) Error() string {
	var b strings.Builder
	if e.Msg != "" {
		b.WriteString(e.Msg)
	} else {
		fmt.Fprintf(&b, "failed to load %s.%s", e.Kind, e.Name)
	}
	if errors.Is(e.Err, ErrNotRegistered) {
		fmt.Fprintf(&b, ". Available: [%s]", strings.Join(e.Available, ", "))
		return b.String()
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *LoadError) Unwrap() error        { return e.Err }
func (e *LoadError) Is(target error) bool { return target == ErrManager }
func (e *LoadError) Code() xerrors.Code   { return xerrors.CodeLoad }

// ValidationError reports an adapter class that does not satisfy its
// capability contract.
type ValidationError struct {
	Kind     capability.Kind
	TypeName string
	// Missing holds every required operation the type lacks.
	Missing []string
	// Mismatched holds operations present under the right name but with a
	// signature that differs from the contract.
	Mismatched []string
	Required   []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required methods: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Mismatched) > 0 {
		parts = append(parts, "mismatched signatures: "+strings.Join(e.Mismatched, ", "))
	}
	return fmt.Sprintf("%s %s; required for %s: %s",
		e.TypeName, strings.Join(parts, "; "), e.Kind, strings.Join(e.Required, ", "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrManager }
func (e *ValidationError) Code() xerrors.Code   { return xerrors.CodeValidation }
