package packstore

import (
	"github.com/meigma/packstore/internal/pack"
	"github.com/meigma/packstore/packfs"
)

// Errors re-exported from the pack layer.
var (
	// ErrCorrupted is returned when a meta or pack file cannot be decoded.
	ErrCorrupted = pack.ErrCorrupted

	// ErrScopeInvalid is returned when a persisted scope expired or was
	// written with different options.
	ErrScopeInvalid = pack.ErrScopeInvalid

	// ErrInvalidScopeName is returned for scope names that are not a single
	// path element.
	ErrInvalidScopeName = pack.ErrInvalidScopeName

	// ErrInvalidOptions is returned by New when options are out of bounds.
	ErrInvalidOptions = pack.ErrInvalidOptions
)

// FSError describes a failed filesystem operation. Its severity is always
// a warning: callers should treat it as "cache unavailable".
type FSError = packfs.Error
