package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure. A Kind is itself an error so callers can
// match with errors.Is(err, errs.Decode).
type Kind int

const (
	Unknown Kind = iota
	// Decode means the image bytes could not be read as an image.
	Decode
	// Detection means the text-detection engine failed or returned malformed geometry.
	Detection
	// FontResolution means a font could not be registered. It is recovered by
	// falling back to a base font and is never returned to callers.
	FontResolution
	// AssemblyState means the page assembler was driven out of order.
	AssemblyState
	// IO means an output could not be written.
	IO
)

func (k Kind) String() string {
	switch k {
	case Decode:
		return "decode"
	case Detection:
		return "detection"
	case FontResolution:
		return "font resolution"
	case AssemblyState:
		return "assembly state"
	case IO:
		return "io"
	default:
		return "unknown"
	}
}

func (k Kind) Error() string {
	return k.String() + " error"
}

// Error carries the kind of failure, the operation that failed and an optional path.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s %s", msg, e.Path)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the Kind of this error.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// New wraps err with a kind and the failing operation.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithPath wraps err with a kind, the failing operation and the file involved.
func WithPath(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
