package pack

import "fmt"

// Lazy is a value that is either unloaded or loaded.
// The zero value is unloaded.
type Lazy[T any] struct {
	value  T
	loaded bool
}

// Loaded returns a Lazy holding v.
func Loaded[T any](v T) Lazy[T] {
	return Lazy[T]{value: v, loaded: true}
}

// IsLoaded reports whether a value has been set.
func (l *Lazy[T]) IsLoaded() bool {
	return l.loaded
}

// Set stores v and marks the value loaded.
func (l *Lazy[T]) Set(v T) {
	l.value = v
	l.loaded = true
}

// Unload drops the value.
func (l *Lazy[T]) Unload() {
	var zero T
	l.value = zero
	l.loaded = false
}

// Value returns the loaded value. It panics if nothing was loaded, because
// that means a caller skipped the load step.
func (l *Lazy[T]) Value() T {
	if !l.loaded {
		var zero T
		panic(fmt.Sprintf("pack: %T read before it was loaded", zero))
	}
	return l.value
}
