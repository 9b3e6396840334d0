package pack

// Update is a pending change to one key: an upsert of Value, or a removal.
type Update struct {
	Value   []byte
	Removed bool
}

// ScopeUpdate maps a key (as a string) to its pending change.
type ScopeUpdate map[string]Update

// ScopeUpdates maps a scope name to its pending changes.
type ScopeUpdates map[string]ScopeUpdate
