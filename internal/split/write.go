package split

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"

	"github.com/meigma/packstore/internal/pack"
)

// WriteResult lists the files a flush wrote and removed, as final paths
// below the root.
type WriteResult struct {
	WroteFiles   []string
	RemovedFiles []string
}

type item struct {
	key   []byte
	value []byte
}

// stagedPack is a new pack waiting to be written; index is its position in
// the bucket's new meta list.
type stagedPack struct {
	bucket int
	index  int
	pack   *pack.Pack
}

// bucketPlan is the new layout of one bucket.
type bucketPlan struct {
	packs    []*pack.Pack
	metas    []pack.FileMeta
	created  []stagedPack
	obsolete []string
}

// WriteScope applies updates to a loaded scope and persists the result.
//
// New packs are staged under the temp root, then the meta file; on commit
// the packs are moved into place first and the meta last, and only then are
// replaced packs removed. A crash at any point leaves the previous meta
// pointing at files that still exist. The in-memory scope is replaced only
// after a successful commit.
func (s *Strategy) WriteScope(ctx context.Context, scope *pack.Scope, updates pack.ScopeUpdate) (WriteResult, error) {
	if len(updates) == 0 {
		return WriteResult{}, nil
	}
	o := scope.Options
	oldMeta := scope.Meta.Value()
	oldPacks := scope.Packs.Value()

	byBucket := make(map[int]pack.ScopeUpdate)
	for key, u := range updates {
		b := ChooseBucket([]byte(key), o.BucketSize)
		if byBucket[b] == nil {
			byBucket[b] = make(pack.ScopeUpdate)
		}
		byBucket[b][key] = u
	}

	metaPacks := slices.Clone(oldMeta.Packs)
	packs := slices.Clone(oldPacks)
	var staged []stagedPack
	var obsolete []string
	for _, b := range slices.Sorted(maps.Keys(byBucket)) {
		if err := ctx.Err(); err != nil {
			return WriteResult{}, err
		}
		plan, err := s.repackBucket(scope, b, byBucket[b])
		if err != nil {
			return WriteResult{}, err
		}
		if plan == nil {
			continue
		}
		metaPacks[b] = plan.metas
		packs[b] = plan.packs
		for _, sp := range plan.created {
			sp.bucket = b
			staged = append(staged, sp)
		}
		obsolete = append(obsolete, plan.obsolete...)
	}
	if staged == nil && obsolete == nil {
		return WriteResult{}, nil
	}

	tempScope, err := s.TempPath(scope.Path)
	if err != nil {
		return WriteResult{}, err
	}
	if err := s.fs.RemoveDir(tempScope); err != nil {
		return WriteResult{}, err
	}

	if err := s.writePacks(ctx, staged, metaPacks); err != nil {
		return WriteResult{}, err
	}

	meta := &pack.Meta{
		BucketSize: o.BucketSize,
		PackSize:   o.PackSize,
		Timestamp:  s.now(),
		Packs:      metaPacks,
	}
	metaTemp, err := s.TempPath(scope.MetaPath())
	if err != nil {
		return WriteResult{}, err
	}
	if err := s.writeMeta(metaTemp, meta); err != nil {
		return WriteResult{}, err
	}

	res, err := s.commit(ctx, scope, staged, obsolete)
	if err != nil {
		return res, err
	}
	if err := s.fs.RemoveDir(tempScope); err != nil {
		return res, err
	}

	scope.Meta.Set(meta)
	scope.Packs.Set(packs)
	return res, nil
}

// repackBucket computes the new packs of bucket b. It returns nil when the
// updates leave the bucket unchanged.
func (s *Strategy) repackBucket(scope *pack.Scope, b int, updates pack.ScopeUpdate) (*bucketPlan, error) {
	packs := scope.Packs.Value()[b]
	metas := scope.Meta.Value().Packs[b]

	for _, p := range packs {
		if p.Keys.IsLoaded() {
			continue
		}
		keys, ok, err := s.ReadPackKeys(p.Path)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s: pack missing", pack.ErrCorrupted, p.Path)
		}
		p.Keys.Set(keys)
	}

	rewrite := make([]bool, len(packs))
	found := make(map[string]struct{})
	dirty := false
	for i, p := range packs {
		for _, k := range p.Keys.Value() {
			if _, ok := updates[string(k)]; ok {
				rewrite[i] = true
				dirty = true
				found[string(k)] = struct{}{}
			}
		}
	}
	var added []string
	for key, u := range updates {
		if u.Removed {
			continue
		}
		if _, ok := found[key]; !ok {
			added = append(added, key)
		}
	}
	if !dirty && len(added) == 0 {
		return nil, nil
	}
	slices.Sort(added)

	// Small packs are folded into the rewrite so buckets do not accumulate
	// slivers over many flushes.
	for i := range packs {
		if !rewrite[i] && metas[i].Size < scope.Options.PackSize/2 {
			rewrite[i] = true
		}
	}

	plan := &bucketPlan{}
	var pool []item
	var replaced []string
	for i, p := range packs {
		if !rewrite[i] {
			plan.packs = append(plan.packs, p)
			plan.metas = append(plan.metas, metas[i])
			continue
		}
		if !p.Contents.IsLoaded() {
			contents, ok, err := s.ReadPackContents(p.Path)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("%w: %s: pack missing", pack.ErrCorrupted, p.Path)
			}
			p.Contents.Set(contents)
		}
		keys, contents := p.Keys.Value(), p.Contents.Value()
		if len(keys) != len(contents) {
			return nil, fmt.Errorf("%w: %s: key/value count mismatch", pack.ErrCorrupted, p.Path)
		}
		for j, k := range keys {
			u, ok := updates[string(k)]
			switch {
			case !ok:
				pool = append(pool, item{key: k, value: contents[j]})
			case !u.Removed:
				pool = append(pool, item{key: k, value: u.Value})
			}
		}
		replaced = append(replaced, p.Path)
	}
	for _, key := range added {
		pool = append(pool, item{key: []byte(key), value: updates[key].Value})
	}

	created := make(map[string]struct{})
	for _, group := range binFill(pool, scope.Options.PackSize) {
		keys := make(pack.Keys, len(group))
		contents := make(pack.Contents, len(group))
		for i, it := range group {
			keys[i] = it.key
			contents[i] = it.value
		}
		name := PackName(keys)
		p := pack.NewLoaded(scope.PackPath(b, name), keys, contents)
		plan.packs = append(plan.packs, p)
		plan.metas = append(plan.metas, pack.FileMeta{Name: name, Size: p.Size()})
		plan.created = append(plan.created, stagedPack{index: len(plan.metas) - 1, pack: p})
		created[p.Path] = struct{}{}
	}
	for _, path := range replaced {
		if _, ok := created[path]; !ok {
			plan.obsolete = append(plan.obsolete, path)
		}
	}
	return plan, nil
}

// binFill splits items, in order, into groups whose key+value total stays
// within limit. An item larger than limit gets a group of its own.
func binFill(items []item, limit int) [][]item {
	var groups [][]item
	var cur []item
	size := 0
	for _, it := range items {
		n := len(it.key) + len(it.value)
		if len(cur) > 0 && size+n > limit {
			groups = append(groups, cur)
			cur = nil
			size = 0
		}
		cur = append(cur, it)
		size += n
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}
	return groups
}

// writePacks writes every staged pack under the temp root and records its
// digest in metaPacks.
func (s *Strategy) writePacks(ctx context.Context, staged []stagedPack, metaPacks [][]pack.FileMeta) error {
	digests := make([]digest.Digest, len(staged))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, sp := range staged {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			tmp, err := s.TempPath(sp.pack.Path)
			if err != nil {
				return err
			}
			d, err := s.writePack(tmp, sp.pack)
			if err != nil {
				return err
			}
			digests[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, sp := range staged {
		metaPacks[sp.bucket][sp.index].Hash = digests[i]
	}
	return nil
}

// writePack serializes p to path and returns the digest of the bytes written.
func (s *Strategy) writePack(path string, p *pack.Pack) (digest.Digest, error) {
	keys, contents := p.Keys.Value(), p.Contents.Value()
	w, err := s.fs.WriteFile(path)
	if err != nil {
		return "", err
	}
	defer w.Close()

	d := packDigester()
	h := d.Hash()
	for _, line := range []string{joinLengths(keys), joinLengths(contents)} {
		if err := w.Line(line); err != nil {
			return "", err
		}
		_, _ = h.Write([]byte(line))
		_, _ = h.Write([]byte{'\n'})
	}
	for _, items := range [][][]byte{keys, contents} {
		for _, b := range items {
			if err := w.Bytes(b); err != nil {
				return "", err
			}
			_, _ = h.Write(b)
		}
	}
	if err := w.Flush(); err != nil {
		return "", err
	}
	return d.Digest(), nil
}

// commit moves staged files into the root, meta last, then removes the
// packs the new meta no longer references.
func (s *Strategy) commit(ctx context.Context, scope *pack.Scope, staged []stagedPack, obsolete []string) (WriteResult, error) {
	var res WriteResult
	for _, sp := range staged {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		tmp, err := s.TempPath(sp.pack.Path)
		if err != nil {
			return res, err
		}
		if err := s.fs.MoveFile(tmp, sp.pack.Path); err != nil {
			return res, err
		}
		s.log().Debug("wrote pack", "scope", scope.Name, "path", sp.pack.Path, "keys", len(sp.pack.Keys.Value()))
		res.WroteFiles = append(res.WroteFiles, sp.pack.Path)
	}

	metaTemp, err := s.TempPath(scope.MetaPath())
	if err != nil {
		return res, err
	}
	if err := s.fs.MoveFile(metaTemp, scope.MetaPath()); err != nil {
		return res, err
	}
	res.WroteFiles = append(res.WroteFiles, scope.MetaPath())

	// The new meta is live; from here on failures only leave orphans.
	for _, path := range obsolete {
		if err := s.fs.RemoveFile(path); err != nil {
			return res, err
		}
		s.log().Debug("removed pack", "scope", scope.Name, "path", path)
		res.RemovedFiles = append(res.RemovedFiles, path)
	}
	return res, nil
}

func joinLengths(items [][]byte) string {
	lens := make([]string, len(items))
	for i, b := range items {
		lens[i] = strconv.Itoa(len(b))
	}
	return strings.Join(lens, " ")
}
