// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package mergedtree

import (
	"context"

	"github.com/latticevcs/core/modules/ids"
	"github.com/latticevcs/core/modules/merge"
	"github.com/latticevcs/core/modules/objstore"
)

func treeIdEqual(a, b ids.TreeId) bool { return a.Equal(b) }

// Merge is the recursive 3-way tree merge: merge(self, base, other)
// flattens into self - base + other (modules/merge.Flatten3), simplifies,
// and walks entries, recursing into paths where every term is a tree and
// performing per-path conflict resolution elsewhere (mixed tree/non-tree
// or incompatible file values stay conflicted, position for position).
func Merge(ctx context.Context, store objstore.Backend, self, base, other *MergedTree) (*MergedTree, error) {
	combined := merge.Flatten3(self.Ids, base.Ids, other.Ids)
	resolved, err := resolveTreeMerge(ctx, store, "", combined)
	if err != nil {
		return nil, err
	}
	return New(store, resolved), nil
}

// resolveTreeMerge recursively resolves m, preserving its arity except
// where whole-subtree or per-path cancellation lets it shrink. The
// returned Merge[TreeId] always has valid TreeIds (EmptyTreeId() stands
// in for "this position has no tree here").
func resolveTreeMerge(ctx context.Context, store objstore.Backend, path string, m merge.Merge[ids.TreeId]) (merge.Merge[ids.TreeId], error) {
	if m.IsResolved() {
		return m, nil
	}
	if s := merge.Simplify(m, treeIdEqual); s.IsResolved() {
		return s, nil
	}

	addPositions, err := loadPositions(ctx, store, path, m.Adds)
	if err != nil {
		return merge.Merge[ids.TreeId]{}, err
	}
	removePositions, err := loadPositions(ctx, store, path, m.Removes)
	if err != nil {
		return merge.Merge[ids.TreeId]{}, err
	}
	names := unionNames(append(append([]positionedTree{}, addPositions...), removePositions...))

	outAdds := make([][]objstore.TreeEntry, len(m.Adds))
	outRemoves := make([][]objstore.TreeEntry, len(m.Removes))

	for _, name := range names {
		localAdds := make([]optValue, len(addPositions))
		for i := range addPositions {
			localAdds[i] = valueAt(addPositions, i, name)
		}
		localRemoves := make([]optValue, len(removePositions))
		for i := range removePositions {
			localRemoves[i] = valueAt(removePositions, i, name)
		}
		local := merge.Merge[optValue]{Adds: localAdds, Removes: localRemoves}

		if resolvedVal, ok := TrivialResolve(local); ok {
			if resolvedVal.Present {
				for i := range outAdds {
					outAdds[i] = append(outAdds[i], objstore.TreeEntry{Name: name, Value: resolvedVal.Value})
				}
				for i := range outRemoves {
					outRemoves[i] = append(outRemoves[i], objstore.TreeEntry{Name: name, Value: resolvedVal.Value})
				}
			}
			continue
		}

		anyPresent, allTrees := scanKinds(localAdds, localRemoves)
		if !anyPresent {
			continue
		}
		if allTrees {
			subPath := childPath(path, name)
			subAdds := make([]ids.TreeId, len(localAdds))
			for i, v := range localAdds {
				subAdds[i] = subTreeId(store, v)
			}
			subRemoves := make([]ids.TreeId, len(localRemoves))
			for i, v := range localRemoves {
				subRemoves[i] = subTreeId(store, v)
			}
			subResolved, err := resolveTreeMerge(ctx, store, subPath, merge.Merge[ids.TreeId]{Adds: subAdds, Removes: subRemoves})
			if err != nil {
				return merge.Merge[ids.TreeId]{}, err
			}
			if subResolved.IsResolved() {
				if !subResolved.Adds[0].Equal(store.EmptyTreeId()) {
					v := objstore.NewTreeValue(subResolved.Adds[0])
					for i := range outAdds {
						outAdds[i] = append(outAdds[i], objstore.TreeEntry{Name: name, Value: v})
					}
					for i := range outRemoves {
						outRemoves[i] = append(outRemoves[i], objstore.TreeEntry{Name: name, Value: v})
					}
				}
				continue
			}
			for i, id := range subResolved.Adds {
				if !id.Equal(store.EmptyTreeId()) {
					outAdds[i] = append(outAdds[i], objstore.TreeEntry{Name: name, Value: objstore.NewTreeValue(id)})
				}
			}
			for i, id := range subResolved.Removes {
				if !id.Equal(store.EmptyTreeId()) {
					outRemoves[i] = append(outRemoves[i], objstore.TreeEntry{Name: name, Value: objstore.NewTreeValue(id)})
				}
			}
			continue
		}

		// Mixed tree/non-tree, or incompatible file values: keep each
		// position's original value, unresolved.
		for i, v := range localAdds {
			if v.Present {
				outAdds[i] = append(outAdds[i], objstore.TreeEntry{Name: name, Value: v.Value})
			}
		}
		for i, v := range localRemoves {
			if v.Present {
				outRemoves[i] = append(outRemoves[i], objstore.TreeEntry{Name: name, Value: v.Value})
			}
		}
	}

	finalAdds := make([]ids.TreeId, len(m.Adds))
	for i, entries := range outAdds {
		id, err := store.WriteTree(ctx, path, &objstore.Tree{Entries: entries})
		if err != nil {
			return merge.Merge[ids.TreeId]{}, err
		}
		finalAdds[i] = id
	}
	finalRemoves := make([]ids.TreeId, len(m.Removes))
	for i, entries := range outRemoves {
		id, err := store.WriteTree(ctx, path, &objstore.Tree{Entries: entries})
		if err != nil {
			return merge.Merge[ids.TreeId]{}, err
		}
		finalRemoves[i] = id
	}
	return merge.Simplify(merge.Merge[ids.TreeId]{Adds: finalAdds, Removes: finalRemoves}, treeIdEqual), nil
}

func subTreeId(store objstore.Backend, v optValue) ids.TreeId {
	if !v.Present {
		return store.EmptyTreeId()
	}
	return v.Value.Tree
}

func scanKinds(groups ...[]optValue) (anyPresent, allTrees bool) {
	allTrees = true
	for _, g := range groups {
		for _, v := range g {
			if !v.Present {
				continue
			}
			anyPresent = true
			if !v.Value.IsTree() {
				allTrees = false
			}
		}
	}
	return anyPresent, allTrees
}

func childPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
