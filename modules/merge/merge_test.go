// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package merge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func eqInt(a, b int) bool { return a == b }

func TestResolvedRoundTrip(t *testing.T) {
	m := Resolved(7)
	require.True(t, m.IsResolved())
	v, ok := m.AsResolved()
	require.True(t, ok)
	require.Equal(t, 7, v)
	require.Equal(t, 1, m.Arity())
}

func TestFlattenAndFromLegacySlice(t *testing.T) {
	m := Merge[int]{Adds: []int{1, 3}, Removes: []int{2}}
	require.Equal(t, []int{1, 2, 3}, m.Flatten())
	round := FromLegacySlice(m.Flatten())
	require.Equal(t, m, round)
}

func TestSimplifyCancelsEqualPairs(t *testing.T) {
	// 1 - 2 + 2 simplifies to 1.
	m := Merge[int]{Adds: []int{1, 2}, Removes: []int{2}}
	s := Simplify(m, eqInt)
	require.True(t, s.IsResolved())
	require.Equal(t, 1, s.Adds[0])
}

func TestSimplifyFullyEqualMergeResolvesToOtherTerm(t *testing.T) {
	// A fully-equal merge simplifies to the other term.
	m := Merge[int]{Adds: []int{5, 5}, Removes: []int{5}}
	s := Simplify(m, eqInt)
	require.True(t, s.IsResolved())
	require.Equal(t, 5, s.Adds[0])
}

func TestTrivialResolve(t *testing.T) {
	m := Merge[int]{Adds: []int{1, 2}, Removes: []int{1}}
	v, ok := TrivialResolve(m, eqInt)
	require.True(t, ok)
	require.Equal(t, 2, v)

	unresolved := Merge[int]{Adds: []int{1, 2}, Removes: []int{3}}
	_, ok = TrivialResolve(unresolved, eqInt)
	require.False(t, ok)
}

func TestFlatten3Idempotent(t *testing.T) {
	// merge(x, x, x) == x after simplification.
	x := Merge[int]{Adds: []int{10, 20}, Removes: []int{15}}
	combined := Flatten3(x, x, x)
	simplified := Simplify(combined, eqInt)
	require.Equal(t, x.Arity(), simplified.Arity())
	require.ElementsMatch(t, x.Adds, simplified.Adds)
	require.ElementsMatch(t, x.Removes, simplified.Removes)
}

func TestFlatten3ResolvedInputs(t *testing.T) {
	// With other == self and a differing base, Flatten3 keeps the
	// unsimplified 3-term sequence self - base + self.
	self := Resolved(1)
	base := Resolved(2)
	other := Resolved(1)
	combined := Flatten3(self, base, other)
	require.Equal(t, []int{1, 1}, combined.Adds)
	require.Equal(t, []int{2}, combined.Removes)
}

func TestFlatten3MergeBaseEqualsOther(t *testing.T) {
	// self - base + other, with base == other: resolves back to self.
	self := Resolved(9)
	base := Resolved(4)
	other := Resolved(4)
	combined := Simplify(Flatten3(self, base, other), eqInt)
	require.True(t, combined.IsResolved())
	require.Equal(t, 9, combined.Adds[0])
}

func TestMapErr(t *testing.T) {
	m := Merge[int]{Adds: []int{1, 2}, Removes: []int{3}}
	out, err := MapErr(m, func(v int) (int, error) { return v * 2, nil })
	require.NoError(t, err)
	require.Equal(t, []int{2, 4}, out.Adds)
	require.Equal(t, []int{6}, out.Removes)
}
