package packfs

import (
	"errors"
	"fmt"
)

// ErrCorrupt reports a file whose stored bytes cannot be decoded, such as
// data written without compression and read through Compressed.
var ErrCorrupt = errors.New("packfs: corrupt file")

// Op names the kind of file operation that failed.
type Op uint8

// File operations reported in an Error.
const (
	OpRead Op = iota + 1
	OpWrite
	OpDir
	OpRemove
	OpStat
	OpMove
)

// String returns the operation as it appears in error messages.
func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpDir:
		return "create dir"
	case OpRemove:
		return "remove"
	case OpStat:
		return "stat"
	case OpMove:
		return "move"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Severity grades how a failure should be reported to the user.
type Severity uint8

const (
	// SeverityWarning marks failures that make the cache unavailable but
	// must not fail the surrounding build.
	SeverityWarning Severity = iota + 1
	// SeverityError marks failures the host should surface as errors.
	SeverityError
)

// String implements fmt.Stringer.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Error records a failed file operation together with the path involved.
// It mirrors fs.PathError but carries the pack-specific operation kind.
type Error struct {
	Op   Op
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("packfs: %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error, so errors.Is(err, fs.ErrNotExist)
// works on wrapped failures.
func (e *Error) Unwrap() error {
	return e.Err
}

// Severity reports SeverityWarning: storage failures degrade caching, they
// never abort a build on their own.
func (e *Error) Severity() Severity {
	return SeverityWarning
}

func wrap(op Op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Path: path, Err: err}
}
