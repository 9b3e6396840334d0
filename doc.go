// Package packstore is a persistent key/value cache for build pipelines.
//
// Values live in named scopes. Each scope is sharded into buckets by key,
// and each bucket is stored as a list of size-bounded pack files plus a
// single meta file that says which packs are live. Mutations are buffered in
// memory and written out by [PackStorage.Idle] in the background.
//
// # Quick Start
//
//	s, err := packstore.New("/var/cache/build")
//	if err != nil {
//	    return err
//	}
//	s.Set("modules", []byte("src/index.js"), data)
//	if err := <-s.Idle(ctx); err != nil {
//	    log.Printf("cache flush failed: %v", err)
//	}
//
//	items, err := s.GetAll(ctx, "modules")
//
// # Durability
//
// A flush stages new pack files and the new meta file below a temp root,
// then moves the packs into place, then the meta file, and only then removes
// packs the new meta no longer references. An interrupted flush usually
// leaves the previous state readable; files it left behind are reclaimed by
// [PackStorage.Prune].
//
// Pack names derive from their keys alone. A flush that changes only values
// rewrites a pack under its existing name, so a crash between moving that
// pack and moving the meta file fails the old meta's digest check, and the
// whole scope reads as a miss on the next load.
//
// Use [PackStorage.Dump] to read a scope without that reset.
//
// Corrupt, expired, or incompatible scopes are treated as empty: GetAll
// resets them and returns no items.
//
// # Filesystems
//
// Storage goes through [packfs.FS]. The default is the local disk; use
// [WithFS] to supply [packfs.NewMemory] or another implementation, and
// [WithCompression] to store every file zstd-compressed.
package packstore
