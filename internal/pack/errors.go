package pack

import "errors"

var (
	// ErrCorrupted is returned when a meta or pack file cannot be decoded.
	ErrCorrupted = errors.New("packstore: corrupted cache file")

	// ErrScopeInvalid is returned when a persisted scope cannot be reused,
	// because it expired or was written with different options.
	ErrScopeInvalid = errors.New("packstore: scope invalid")

	// ErrInvalidScopeName is returned for scope names that cannot be used as
	// a single directory name.
	ErrInvalidScopeName = errors.New("packstore: invalid scope name")

	// ErrInvalidOptions is returned when pack options violate their bounds.
	ErrInvalidOptions = errors.New("packstore: invalid options")
)
