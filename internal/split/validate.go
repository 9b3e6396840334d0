package split

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/packstore/internal/pack"
)

// ValidateMeta checks that meta was written with the scope's layout and
// has not expired. Failures wrap pack.ErrScopeInvalid.
func (s *Strategy) ValidateMeta(scope *pack.Scope, meta *pack.Meta) error {
	o := scope.Options
	if meta.BucketSize != o.BucketSize {
		return fmt.Errorf("%w: %s: bucket size changed from %d to %d", pack.ErrScopeInvalid, scope.Name, meta.BucketSize, o.BucketSize)
	}
	if meta.PackSize != o.PackSize {
		return fmt.Errorf("%w: %s: pack size changed from %d to %d", pack.ErrScopeInvalid, scope.Name, meta.PackSize, o.PackSize)
	}
	if o.Expire > 0 {
		if age := s.now().Sub(meta.Timestamp); age > o.Expire {
			return fmt.Errorf("%w: %s: expired %s ago", pack.ErrScopeInvalid, scope.Name, (age - o.Expire).Truncate(time.Millisecond))
		}
	}
	return nil
}

// LoadScope reads and validates the scope's meta unless it is already in
// memory. A scope without a meta file starts out empty. Packs are left
// unloaded.
func (s *Strategy) LoadScope(scope *pack.Scope) error {
	if scope.Loaded() {
		return nil
	}
	meta, ok, err := s.ReadMeta(scope.MetaPath())
	if err != nil {
		return err
	}
	if !ok {
		scope.Reset()
		return nil
	}
	if err := s.ValidateMeta(scope, meta); err != nil {
		return err
	}
	scope.SetMeta(meta)
	return nil
}

// LoadAll makes every pack of a loaded scope fully resident.
func (s *Strategy) LoadAll(ctx context.Context, scope *pack.Scope) error {
	meta := scope.Meta.Value()
	packs := scope.Packs.Value()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for b, bucket := range packs {
		for i, p := range bucket {
			if p.Loaded() {
				continue
			}
			fm := meta.Packs[b][i]
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				return s.LoadPack(p, fm)
			})
		}
	}
	return g.Wait()
}

// ResetScope deletes everything stored for scope, including staged files,
// and leaves it empty and loaded.
func (s *Strategy) ResetScope(scope *pack.Scope) error {
	if err := s.fs.RemoveDir(scope.Path); err != nil {
		return err
	}
	if tmp, err := s.TempPath(scope.Path); err == nil {
		if err := s.fs.RemoveDir(tmp); err != nil {
			return err
		}
	}
	scope.Reset()
	return nil
}

// CleanOrphans removes files in the scope directory that the meta does not
// reference, such as packs left behind by an interrupted commit. It returns
// the removed paths.
func (s *Strategy) CleanOrphans(ctx context.Context, scope *pack.Scope) ([]string, error) {
	live := map[string]struct{}{scope.MetaPath(): {}}
	for _, bucket := range scope.Packs.Value() {
		for _, p := range bucket {
			live[p.Path] = struct{}{}
		}
	}

	files, err := walkDir(s.fs, scope.Path)
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if _, ok := live[file]; ok {
			continue
		}
		if err := s.fs.RemoveFile(file); err != nil {
			return removed, err
		}
		s.log().Debug("removed orphaned file", "scope", scope.Name, "path", file)
		removed = append(removed, file)
	}
	return removed, nil
}
