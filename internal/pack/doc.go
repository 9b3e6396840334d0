// Package pack holds the in-memory data model of the pack storage engine:
// packs, scopes, their persisted meta records, and pending updates.
//
// Fields that are read from disk on demand are wrapped in Lazy. Reading a
// Lazy value before it was loaded is a programming error and panics, so
// callers must always load before they inspect.
package pack
