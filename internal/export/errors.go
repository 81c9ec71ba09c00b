package export

import (
	"errors"
	"fmt"
)

// Kind classifies a fatal export failure. The caller uses it to decide what
// to report; cleanup has already happened by the time an Error is returned.
type Kind int

const (
	// KindUnknown is the kind of any error not produced by this package.
	KindUnknown Kind = iota
	// KindMissingArgument means required input was not supplied. Nothing was touched.
	KindMissingArgument
	// KindMalformedFilterFile means the identifier file could not be used.
	KindMalformedFilterFile
	// KindAlreadyExists means the output path is occupied. The directory was not contacted.
	KindAlreadyExists
	// KindConnectionUnavailable means the directory could not be reached, bound,
	// or was lost during the run.
	KindConnectionUnavailable
	// KindInterrupted means the run was cancelled; the partial export is kept.
	KindInterrupted
	// KindIO means the output file could not be written or closed.
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindMissingArgument:
		return "missing_argument"
	case KindMalformedFilterFile:
		return "malformed_filter_file"
	case KindAlreadyExists:
		return "already_exists"
	case KindConnectionUnavailable:
		return "connection_unavailable"
	case KindInterrupted:
		return "interrupted"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// Error is a fatal export failure.
type Error struct {
	Kind Kind   // What went wrong
	Op   string // Step that failed
	Path string // Output or input path involved, if any
	Err  error  // Underlying error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg = fmt.Sprintf("%s %s", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new export error.
func NewError(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
