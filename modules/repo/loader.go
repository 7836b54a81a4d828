// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/latticevcs/core/modules/commitindex"
	"github.com/latticevcs/core/modules/ids"
	"github.com/latticevcs/core/modules/objstore"
	"github.com/latticevcs/core/modules/opstore"
	"github.com/latticevcs/core/modules/pathindex"
	"github.com/latticevcs/core/modules/vcslog"
	"github.com/latticevcs/core/modules/view"
)

// Loader opens the on-disk repository layout, resolves the
// current head operation and materializes ReadonlyRepo snapshots. When it
// finds more than one head operation it merges them.
type Loader struct {
	dir     string
	backend objstore.Backend

	opStore  *opstore.Store
	segStore *commitindex.Store

	pathEnabled bool
	pathStore   *pathindex.Store
}

// Option configures a Loader.
type Option func(*Loader)

// WithoutChangedPathIndex disables the optional changed-path index.
func WithoutChangedPathIndex() Option {
	return func(l *Loader) { l.pathEnabled = false }
}

// NewLoader opens (creating as needed) the repository control directories
// under dir: op_store/, op_heads/heads/, index/segments/,
// index/changed_paths/ and index/op_links/.
func NewLoader(dir string, backend objstore.Backend, opts ...Option) (*Loader, error) {
	l := &Loader{dir: dir, backend: backend, pathEnabled: true}
	for _, o := range opts {
		o(l)
	}
	var err error
	if l.opStore, err = opstore.Open(filepath.Join(dir, "op_store")); err != nil {
		return nil, err
	}
	if l.segStore, err = commitindex.OpenStore(filepath.Join(dir, "index", "segments")); err != nil {
		return nil, err
	}
	if l.pathEnabled {
		if l.pathStore, err = pathindex.OpenStore(filepath.Join(dir, "index", "changed_paths")); err != nil {
			return nil, err
		}
	}
	for _, sub := range []string{filepath.Join("op_heads", "heads"), filepath.Join("index", "op_links")} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o777); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// OpStore exposes the operation store for op-log walks and GC.
func (l *Loader) OpStore() *opstore.Store { return l.opStore }

// Init records the first real operation: an empty view holding the
// default workspace at the root commit, parented on the virtual root op.
func (l *Loader) Init(ctx context.Context) (*ReadonlyRepo, error) {
	heads, err := l.listOpHeads()
	if err != nil {
		return nil, err
	}
	if len(heads) > 0 {
		return nil, fmt.Errorf("repo: %s is already initialized", l.dir)
	}
	v := view.New()
	v.WorkspaceWC["default"] = view.ResolvedTarget(ids.ZeroCommitId)
	viewId, err := l.opStore.SaveView(v.Encode())
	if err != nil {
		return nil, err
	}
	op := &opstore.Operation{
		Parents:            []ids.OperationId{ids.ZeroOperationId},
		ViewId:             viewId,
		Description:        "add workspace 'default'",
		Tags:               operationTags(),
		Timestamp:          opTimestamp(),
		CommitPredecessors: map[ids.CommitId][]ids.CommitId{},
	}
	opId, err := l.opStore.SaveOperation(op)
	if err != nil {
		return nil, err
	}
	if err := l.writeOpLink(opId, &opLink{}); err != nil {
		return nil, err
	}
	if err := l.advanceOpHead(nil, opId); err != nil {
		return nil, err
	}
	return l.materialize(op, v, nil, nil, 0, l.pathEnabled)
}

// Load resolves the current head operation — merging concurrent heads
// first if a racing publish left more than one — and materializes the
// repository at it.
func (l *Loader) Load(ctx context.Context) (*ReadonlyRepo, error) {
	for {
		heads, err := l.listOpHeads()
		if err != nil {
			return nil, err
		}
		switch len(heads) {
		case 0:
			return nil, &ErrNoOpHeads{Dir: l.dir}
		case 1:
			return l.LoadAt(ctx, heads[0])
		}
		// Deterministic merge order regardless of directory listing.
		sortOperationIds(heads)
		if _, err := l.mergeOpHeads(ctx, heads[0], heads[1]); err != nil {
			return nil, err
		}
	}
}

func sortOperationIds(ops []ids.OperationId) {
	for i := 1; i < len(ops); i++ {
		for j := i; j > 0 && ops[j].Compare(ops[j-1]) < 0; j-- {
			ops[j], ops[j-1] = ops[j-1], ops[j]
		}
	}
}

// LoadAt materializes the repository at a specific operation, without
// touching the head pointer (used by `op restore`-style callers and by
// Load itself).
func (l *Loader) LoadAt(ctx context.Context, opId ids.OperationId) (*ReadonlyRepo, error) {
	op, err := l.opStore.LoadOperation(opId)
	if err != nil {
		return nil, err
	}
	var v *view.View
	if op.IsRoot() {
		v = view.New()
	} else {
		raw, err := l.opStore.LoadView(op.ViewId)
		if err != nil {
			return nil, err
		}
		if v, err = view.Decode(raw); err != nil {
			return nil, err
		}
	}
	seg, pathSeg, pathStart, err := l.loadIndexAt(ctx, op, v)
	if err != nil {
		return nil, err
	}
	return l.materialize(op, v, seg, pathSeg, pathStart, l.pathEnabled)
}

func (l *Loader) materialize(op *opstore.Operation, v *view.View, seg *commitindex.Segment, pathSeg *pathindex.Segment, pathStart uint32, pathEnabled bool) (*ReadonlyRepo, error) {
	r := &ReadonlyRepo{
		loader:       l,
		backend:      l.backend,
		opStore:      l.opStore,
		op:           op,
		view:         v,
		index:        commitindex.NewIndex(seg),
		indexSegment: seg,
		pathEnabled:  pathEnabled && l.pathStore != nil,
		pathSegment:  pathSeg,
		pathStart:    pathStart,
	}
	if r.pathEnabled {
		r.pathIdx = pathindex.NewIndex(pathSeg)
	}
	return r, nil
}

// loadIndexAt reads the operation's index link and loads the segment
// chains it names. Any failure — missing link, wrong version, missing or
// corrupt segment — falls back to rebuilding the index from the object
// store.
func (l *Loader) loadIndexAt(ctx context.Context, op *opstore.Operation, v *view.View) (*commitindex.Segment, *pathindex.Segment, uint32, error) {
	if op.IsRoot() {
		return nil, nil, 0, nil
	}
	link, err := l.readOpLink(op.Id)
	if err == nil {
		seg, pathSeg, loadErr := l.loadLinkedSegments(link)
		if loadErr == nil {
			return seg, pathSeg, link.ChangedPathStart, nil
		}
		vcslog.Operation(op.Id.String()).WithError(loadErr).Warn("index segments unreadable, rebuilding")
	} else {
		vcslog.Operation(op.Id.String()).WithError(err).Warn("op link unreadable, rebuilding index")
	}
	seg, err := l.rebuildIndex(ctx, op, v)
	if err != nil {
		return nil, nil, 0, err
	}
	return seg, nil, 0, nil
}

func (l *Loader) loadLinkedSegments(link *opLink) (*commitindex.Segment, *pathindex.Segment, error) {
	var seg *commitindex.Segment
	if link.CommitSegmentId != "" {
		var err error
		if seg, err = l.segStore.Load(link.CommitSegmentId); err != nil {
			return nil, nil, err
		}
	}
	var pathSeg *pathindex.Segment
	if l.pathStore != nil && len(link.ChangedPathSegments) > 0 {
		var err error
		if pathSeg, err = l.pathStore.Load(link.ChangedPathSegments[len(link.ChangedPathSegments)-1]); err != nil {
			return nil, nil, err
		}
	}
	return seg, pathSeg, nil
}

// rebuildIndex reindexes every commit reachable from the view's heads and
// workspace pointers, saves the result and relinks the operation.
func (l *Loader) rebuildIndex(ctx context.Context, op *opstore.Operation, v *view.View) (*commitindex.Segment, error) {
	ix := commitindex.NewIndex(nil)
	scratch := &MutableRepo{backend: l.backend, index: ix}
	roots := append([]ids.CommitId(nil), v.Heads...)
	for _, t := range v.WorkspaceWC {
		for _, a := range t.Adds {
			if a.Present {
				roots = append(roots, a.Id)
			}
		}
	}
	for _, id := range roots {
		if err := scratch.indexCommitWithAncestors(ctx, id); err != nil {
			return nil, err
		}
	}
	seg, err := ix.Save(l.segStore)
	if err != nil {
		return nil, err
	}
	link := &opLink{}
	if seg != nil {
		link.CommitSegmentId = seg.Id
	}
	if err := l.writeOpLink(op.Id, link); err != nil {
		return nil, err
	}
	return seg, nil
}

// mergeOpHeads merges two concurrent head operations into a synthetic
// merge operation: each view field is 3-way merged against
// the views' common-ancestor operation, and descendants are rebased
// according to the union of rewrites both sides recorded.
func (l *Loader) mergeOpHeads(ctx context.Context, a, b ids.OperationId) (*ReadonlyRepo, error) {
	baseOpId, err := l.commonAncestorOp(a, b)
	if err != nil {
		return nil, err
	}
	repoA, err := l.LoadAt(ctx, a)
	if err != nil {
		return nil, err
	}
	repoBase, err := l.LoadAt(ctx, baseOpId)
	if err != nil {
		return nil, err
	}
	repoB, err := l.LoadAt(ctx, b)
	if err != nil {
		return nil, err
	}

	tx := repoA.StartTransaction("merge operation heads")
	tx.extraParents = []ids.OperationId{b}
	m := tx.mut

	// The merged index must know both sides' commits before heads-set
	// pruning and rebasing can reason about them.
	for _, h := range repoB.view.Heads {
		if err := m.indexCommitWithAncestors(ctx, h); err != nil {
			return nil, err
		}
	}
	m.view = view.MergeViews(m.index, repoA.view, repoBase.view, repoB.view)

	// Union of rewrites recorded by the operations on both sides since
	// the common ancestor; operation.commit_predecessors maps the NEW
	// commit to the old ones it replaced, so invert it.
	sinceBase, err := l.opStore.WalkAncestorsRange([]ids.OperationId{a, b}, []ids.OperationId{baseOpId})
	if err != nil {
		return nil, err
	}
	for _, op := range sinceBase {
		for newId, olds := range op.CommitPredecessors {
			for _, old := range olds {
				m.rewritten[old.String()] = appendCommitIdUnique(m.rewritten[old.String()], newId)
			}
		}
	}
	if _, err := m.RebaseDescendants(ctx, RebaseOptions{}); err != nil {
		return nil, err
	}

	merged, err := tx.Commit(ctx)
	if err != nil {
		return nil, err
	}
	vcslog.Operation(merged.op.Id.String()).
		WithField("parents", []string{a.String(), b.String()}).
		Info("merged concurrent operation heads")
	return merged, nil
}

func appendCommitIdUnique(list []ids.CommitId, id ids.CommitId) []ids.CommitId {
	for _, c := range list {
		if c.Equal(id) {
			return list
		}
	}
	return append(list, id)
}

// commonAncestorOp finds the lowest common ancestor of a and b in the
// operation DAG: the deepest operation reachable from both.
func (l *Loader) commonAncestorOp(a, b ids.OperationId) (ids.OperationId, error) {
	depthsA, err := l.ancestorDepths(a)
	if err != nil {
		return ids.OperationId{}, err
	}
	depthsB, err := l.ancestorDepths(b)
	if err != nil {
		return ids.OperationId{}, err
	}
	best := ids.ZeroOperationId
	bestDepth := -1
	for id, da := range depthsA {
		db, ok := depthsB[id]
		if !ok {
			continue
		}
		depth := da
		if db > depth {
			depth = db
		}
		if depth > bestDepth {
			bestDepth = depth
			best = ids.NewOperationId(id)
		}
	}
	return best, nil
}

// ancestorDepths maps every ancestor operation (head included, virtual
// root included) to its greatest distance from the virtual root.
func (l *Loader) ancestorDepths(head ids.OperationId) (map[string]int, error) {
	depths := map[string]int{ids.ZeroOperationId.String(): 0}
	var visit func(id ids.OperationId) (int, error)
	visit = func(id ids.OperationId) (int, error) {
		if d, ok := depths[id.String()]; ok {
			return d, nil
		}
		op, err := l.opStore.LoadOperation(id)
		if err != nil {
			return 0, err
		}
		depth := 0
		for _, p := range op.Parents {
			pd, err := visit(p)
			if err != nil {
				return 0, err
			}
			if pd+1 > depth {
				depth = pd + 1
			}
		}
		depths[id.String()] = depth
		return depth, nil
	}
	if _, err := visit(head); err != nil {
		return nil, err
	}
	return depths, nil
}
