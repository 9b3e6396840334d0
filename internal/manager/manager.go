// Package manager owns the in-memory scopes of a storage root and
// coordinates loads and flushes on them.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/packstore/internal/pack"
	"github.com/meigma/packstore/internal/split"
)

// Item is one key/value pair of a scope.
type Item struct {
	Key   []byte
	Value []byte
}

// PruneResult reports what Prune deleted.
type PruneResult struct {
	// RemovedScopes lists scopes that were expired, invalid, or corrupt.
	RemovedScopes []string
	// RemovedFiles lists files no live meta referenced.
	RemovedFiles []string
}

// Manager maps scope names to scopes and serializes work per scope.
type Manager struct {
	options  pack.Options
	strategy *split.Strategy
	logger   *slog.Logger

	mu     sync.Mutex
	scopes map[string]*entry
	loads  singleflight.Group
}

// entry guards one scope. Every load, flush, and prune of the scope holds mu.
type entry struct {
	mu    sync.Mutex
	scope *pack.Scope
}

// New returns a manager for scopes laid out with o. A nil logger discards
// output.
func New(o pack.Options, strategy *split.Strategy, logger *slog.Logger) *Manager {
	return &Manager{
		options:  o,
		strategy: strategy,
		logger:   logger,
		scopes:   make(map[string]*entry),
	}
}

// log returns the logger, falling back to a discard logger if nil.
func (m *Manager) log() *slog.Logger {
	if m.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return m.logger
}

func (m *Manager) entry(name string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.scopes[name]
	if !ok {
		e = &entry{scope: pack.NewScope(name, m.strategy.Root(), m.options)}
		m.scopes[name] = e
	}
	return e
}

// isMiss reports whether err means the persisted scope cannot be trusted
// and should be treated as empty.
func isMiss(err error) bool {
	return errors.Is(err, pack.ErrCorrupted) || errors.Is(err, pack.ErrScopeInvalid)
}

// GetAll returns every item of scope name as of its last flush. Concurrent
// calls for the same scope share one load. The returned slices must not be
// modified.
func (m *Manager) GetAll(ctx context.Context, name string) ([]Item, error) {
	if err := pack.ValidateName(name); err != nil {
		return nil, err
	}
	// Joiners share the load, so it must outlive the caller that started it.
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := m.loads.Do(name, func() (any, error) {
		e := m.entry(name)
		e.mu.Lock()
		defer e.mu.Unlock()

		if err := m.loadAll(loadCtx, e.scope); err != nil {
			return nil, err
		}
		return collect(e.scope), nil
	})
	if err != nil {
		return nil, err
	}
	items, _ := v.([]Item) //nolint:errcheck // type assertion always succeeds when err is nil
	return items, nil
}

// loadAll makes scope fully resident. A corrupt or invalid scope is reset
// to empty. Other failures unload the scope so the next call starts over.
func (m *Manager) loadAll(ctx context.Context, scope *pack.Scope) error {
	err := m.strategy.LoadScope(scope)
	if err == nil {
		err = m.strategy.LoadAll(ctx, scope)
	}
	if err == nil {
		return nil
	}
	if isMiss(err) {
		return m.reset(scope, err)
	}
	unload(scope)
	return err
}

// loadMeta loads only the scope's meta, resetting a corrupt or invalid one.
func (m *Manager) loadMeta(scope *pack.Scope) error {
	err := m.strategy.LoadScope(scope)
	if err == nil {
		return nil
	}
	if isMiss(err) {
		return m.reset(scope, err)
	}
	unload(scope)
	return err
}

func (m *Manager) reset(scope *pack.Scope, cause error) error {
	m.log().Warn("dropping scope", "scope", scope.Name, "error", cause)
	if err := m.strategy.ResetScope(scope); err != nil {
		unload(scope)
		return fmt.Errorf("reset scope %s: %w", scope.Name, err)
	}
	return nil
}

func unload(scope *pack.Scope) {
	scope.Meta.Unload()
	scope.Packs.Unload()
}

func collect(scope *pack.Scope) []Item {
	var items []Item
	for _, bucket := range scope.Packs.Value() {
		for _, p := range bucket {
			keys, contents := p.Keys.Value(), p.Contents.Value()
			for i := range keys {
				items = append(items, Item{Key: keys[i], Value: contents[i]})
			}
		}
	}
	return items
}

// Save flushes updates in the background and returns a channel that
// receives exactly one result. Scopes are written concurrently; writes to
// the same scope are serialized.
func (m *Manager) Save(ctx context.Context, updates pack.ScopeUpdates) <-chan error {
	done := make(chan error, 1)
	if len(updates) == 0 {
		done <- nil
		return done
	}
	go func() {
		done <- m.save(ctx, updates)
	}()
	return done
}

func (m *Manager) save(ctx context.Context, updates pack.ScopeUpdates) error {
	var g errgroup.Group
	for _, name := range slices.Sorted(maps.Keys(updates)) {
		scopeUpdates := updates[name]
		if len(scopeUpdates) == 0 {
			continue
		}
		g.Go(func() error {
			if err := m.saveScope(ctx, name, scopeUpdates); err != nil {
				return fmt.Errorf("save scope %s: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (m *Manager) saveScope(ctx context.Context, name string, updates pack.ScopeUpdate) error {
	if err := pack.ValidateName(name); err != nil {
		return err
	}
	e := m.entry(name)
	e.mu.Lock()
	defer e.mu.Unlock()

	scope := e.scope
	if err := m.loadMeta(scope); err != nil {
		return err
	}
	res, err := m.strategy.WriteScope(ctx, scope, updates)
	if isMiss(err) {
		// A pack the meta points at is gone or unreadable; start over.
		if err := m.reset(scope, err); err != nil {
			return err
		}
		res, err = m.strategy.WriteScope(ctx, scope, updates)
	}
	if err != nil {
		unload(scope)
		return err
	}
	m.log().Info("flushed scope",
		"scope", name,
		"updates", len(updates),
		"wrote", len(res.WroteFiles),
		"removed", len(res.RemovedFiles))
	return nil
}

// Inspect returns the meta record of scope name without loading packs.
// Unlike GetAll it reports corruption instead of resetting the scope.
func (m *Manager) Inspect(name string) (*pack.Meta, error) {
	if err := pack.ValidateName(name); err != nil {
		return nil, err
	}
	e := m.entry(name)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := m.strategy.LoadScope(e.scope); err != nil {
		unload(e.scope)
		return nil, err
	}
	meta := *e.scope.Meta.Value()
	meta.Packs = make([][]pack.FileMeta, len(e.scope.Meta.Value().Packs))
	for b, bucket := range e.scope.Meta.Value().Packs {
		meta.Packs[b] = slices.Clone(bucket)
	}
	return &meta, nil
}

// Dump reads every item of scope name from disk. Unlike GetAll it reports a
// corrupt, invalid, or expired scope as an error and leaves it on disk.
func (m *Manager) Dump(ctx context.Context, name string) ([]Item, error) {
	if err := pack.ValidateName(name); err != nil {
		return nil, err
	}
	e := m.entry(name)
	e.mu.Lock()
	defer e.mu.Unlock()

	// Resident packs skip digest checks, so start from disk.
	unload(e.scope)
	err := m.strategy.LoadScope(e.scope)
	if err == nil {
		err = m.strategy.LoadAll(ctx, e.scope)
	}
	if err != nil {
		unload(e.scope)
		return nil, err
	}
	return collect(e.scope), nil
}

// Prune walks every scope directory below the root. Scopes that are
// expired, invalid, corrupt, or have no meta file are deleted; live scopes
// lose files their meta does not reference. A scope that fails to prune is
// logged and skipped; its error is joined into the returned one.
func (m *Manager) Prune(ctx context.Context) (PruneResult, error) {
	var (
		res  PruneResult
		errs []error
	)
	fsys := m.strategy.FS()
	root := m.strategy.Root()

	ok, err := fsys.Exists(root)
	if err != nil || !ok {
		return res, err
	}
	names, err := fsys.ReadDir(root)
	if err != nil {
		return res, err
	}
	for _, name := range slices.Sorted(maps.Keys(names)) {
		if err := ctx.Err(); err != nil {
			return res, errors.Join(append(errs, err)...)
		}
		if pack.ValidateName(name) != nil {
			continue
		}
		removed, files, err := m.pruneScope(ctx, name)
		res.RemovedFiles = append(res.RemovedFiles, files...)
		if err != nil {
			m.log().Warn("prune scope failed", "scope", name, "error", err)
			errs = append(errs, fmt.Errorf("prune scope %s: %w", name, err))
			continue
		}
		if removed {
			res.RemovedScopes = append(res.RemovedScopes, name)
		}
	}
	m.log().Info("pruned storage",
		"root", root,
		"scopes", len(res.RemovedScopes),
		"files", len(res.RemovedFiles),
		"failed", len(errs))
	return res, errors.Join(errs...)
}

func (m *Manager) pruneScope(ctx context.Context, name string) (bool, []string, error) {
	e := m.entry(name)
	e.mu.Lock()
	defer e.mu.Unlock()

	scope := e.scope
	fsys := m.strategy.FS()
	info, err := fsys.Metadata(scope.Path)
	if err != nil {
		return false, nil, err
	}
	if !info.IsDir {
		return false, nil, nil
	}

	ok, err := fsys.Exists(scope.MetaPath())
	if err != nil {
		return false, nil, err
	}
	if !ok {
		if err := m.strategy.ResetScope(scope); err != nil {
			return false, nil, err
		}
		return true, nil, nil
	}

	err = m.strategy.LoadScope(scope)
	if err == nil {
		// An in-memory scope skips validation in LoadScope.
		err = m.strategy.ValidateMeta(scope, scope.Meta.Value())
	}
	if isMiss(err) {
		if err := m.reset(scope, err); err != nil {
			return false, nil, err
		}
		return true, nil, nil
	}
	if err != nil {
		unload(scope)
		return false, nil, err
	}

	files, err := m.strategy.CleanOrphans(ctx, scope)
	if err != nil {
		return false, files, err
	}
	if tmp, err := m.strategy.TempPath(scope.Path); err == nil {
		if err := fsys.RemoveDir(tmp); err != nil {
			return false, files, err
		}
	}
	return false, files, nil
}
