// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package opstore

import (
	"time"

	"github.com/latticevcs/core/modules/ids"
)

// GC deletes operations and views unreachable from retainedHeads and
// older than cutoff. File
// mtimes are the only anti-race primitive: a file newer than cutoff
// survives even if logically unreachable, since it may belong to a
// transaction concurrently in flight.
func (s *Store) GC(retainedHeads []ids.OperationId, cutoff time.Time) error {
	reachable, err := s.WalkAncestors(retainedHeads)
	if err != nil {
		return err
	}
	keep := map[string]bool{}
	keepViews := map[string]bool{}
	for _, op := range reachable {
		keep[op.Id.String()] = true
		keepViews[op.ViewId.String()] = true
	}

	all, err := s.ListOperationIds()
	if err != nil {
		return err
	}
	cutoffNanos := cutoff.UnixNano()
	for _, id := range all {
		if keep[id.String()] {
			continue
		}
		op, err := s.LoadOperation(id)
		if err != nil {
			if IsErrNotFound(err) {
				continue
			}
			return err
		}
		if err := s.deleteOperationIfOlder(id, cutoffNanos); err != nil {
			return err
		}
		if !keepViews[op.ViewId.String()] {
			if err := s.deleteViewIfOlder(op.ViewId, cutoffNanos); err != nil {
				return err
			}
		}
	}
	return nil
}
