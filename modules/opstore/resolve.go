// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package opstore

import (
	"strings"

	"github.com/latticevcs/core/modules/ids"
)

// Resolver resolves user-supplied operation references:
// '@' for the current head, a hex prefix matched against every stored id,
// 'X-'/'X+' parent/child chains (ambiguous if multiple, chainable), and
// the always-resolvable all-zero root id. Symbolic names are out of
// scope; front ends layer those on top.
type Resolver struct {
	store *Store
	head  ids.OperationId
}

func NewResolver(store *Store, head ids.OperationId) *Resolver {
	return &Resolver{store: store, head: head}
}

// Resolve parses and resolves expr against the store.
func (r *Resolver) Resolve(expr string) (ids.OperationId, error) {
	if expr == "@" {
		return r.head, nil
	}

	// Strip a chain of trailing '-' (parents) or '+' (children); they
	// may not be mixed within one expression.
	base := expr
	var ops []byte
	for len(base) > 0 {
		last := base[len(base)-1]
		if last != '-' && last != '+' {
			break
		}
		if len(ops) > 0 && ops[0] != last {
			return ids.OperationId{}, &ErrResolution{Reason: "operation expression mixes '-' and '+': " + expr}
		}
		ops = append(ops, last)
		base = base[:len(base)-1]
	}

	id, err := r.resolvePrefix(base)
	if err != nil {
		return ids.OperationId{}, err
	}
	for i := len(ops) - 1; i >= 0; i-- {
		if ops[i] == '-' {
			id, err = r.singleParent(id)
		} else {
			id, err = r.singleChild(id)
		}
		if err != nil {
			return ids.OperationId{}, err
		}
	}
	return id, nil
}

func (r *Resolver) resolvePrefix(prefix string) (ids.OperationId, error) {
	if prefix == "" {
		return ids.OperationId{}, &ErrResolution{Reason: "empty operation reference"}
	}
	// The virtual root is never written to disk, so it never shows up
	// via ListOperationIds; its full hex id is always resolvable
	// directly.
	if prefix == ids.ZeroOperationId.String() {
		return ids.ZeroOperationId, nil
	}

	matched, err := r.matchingIds(prefix)
	if err != nil {
		return ids.OperationId{}, err
	}
	switch len(matched) {
	case 0:
		return ids.OperationId{}, &ErrResolution{Reason: "no operation matches prefix " + prefix}
	case 1:
		return matched[0], nil
	default:
		cands := make([]string, len(matched))
		for i, m := range matched {
			cands[i] = m.String()
		}
		return ids.OperationId{}, &ErrResolution{Reason: "ambiguous operation prefix " + prefix, Candidates: cands}
	}
}

func (r *Resolver) matchingIds(prefix string) ([]ids.OperationId, error) {
	all, err := r.store.ListOperationIds()
	if err != nil {
		return nil, err
	}
	var out []ids.OperationId
	for _, id := range all {
		if strings.HasPrefix(id.String(), prefix) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r *Resolver) singleParent(id ids.OperationId) (ids.OperationId, error) {
	op, err := r.store.LoadOperation(id)
	if err != nil {
		return ids.OperationId{}, err
	}
	switch len(op.Parents) {
	case 0:
		return ids.OperationId{}, &ErrResolution{Reason: "operation " + id.String() + " has no parent"}
	case 1:
		return op.Parents[0], nil
	default:
		cands := make([]string, len(op.Parents))
		for i, p := range op.Parents {
			cands[i] = p.String()
		}
		return ids.OperationId{}, &ErrResolution{Reason: "operation " + id.String() + " has multiple parents", Candidates: cands}
	}
}

func (r *Resolver) singleChild(id ids.OperationId) (ids.OperationId, error) {
	all, err := r.store.ListOperationIds()
	if err != nil {
		return ids.OperationId{}, err
	}
	var children []ids.OperationId
	for _, candId := range all {
		op, err := r.store.LoadOperation(candId)
		if err != nil {
			return ids.OperationId{}, err
		}
		for _, p := range op.Parents {
			if p.Equal(id) {
				children = append(children, candId)
				break
			}
		}
	}
	switch len(children) {
	case 0:
		return ids.OperationId{}, &ErrResolution{Reason: "operation " + id.String() + " has no child"}
	case 1:
		return children[0], nil
	default:
		cands := make([]string, len(children))
		for i, c := range children {
			cands[i] = c.String()
		}
		return ids.OperationId{}, &ErrResolution{Reason: "operation " + id.String() + " has multiple children", Candidates: cands}
	}
}
