// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package conflictfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticevcs/core/modules/ids"
	"github.com/latticevcs/core/modules/merge"
)

func TestMaterializeBytesNoConflict(t *testing.T) {
	base := []byte("a\nb\nc\n")
	out := MaterializeBytes(base, base, base, StyleDiff, "", "")
	assert.Equal(t, base, out)
}

func TestMaterializeBytesTrimsCommonPrefixAndSuffix(t *testing.T) {
	base := []byte("one\ntwo\nthree\nfour\n")
	a := []byte("one\nTWO-A\nthree\nfour\n")
	b := []byte("one\nTWO-B\nthree\nfour\n")
	out := MaterializeBytes(base, a, b, StyleSnapshot, "left", "right")
	s := string(out)
	assert.Contains(t, s, "one\n")
	assert.Contains(t, s, "four\n")
	assert.Contains(t, s, "<<<<<<< left\n")
	assert.Contains(t, s, "TWO-A\n")
	assert.Contains(t, s, "|||||||\n")
	assert.Contains(t, s, "two\n")
	assert.Contains(t, s, "=======\n")
	assert.Contains(t, s, "TWO-B\n")
	assert.Contains(t, s, ">>>>>>> right\n")
}

func TestRoundTripSnapshotStyle(t *testing.T) {
	base := []byte("alpha\nbeta\ngamma\ndelta\n")
	a := []byte("alpha\nBETA-CHANGED-BY-A\ngamma\ndelta\n")
	b := []byte("alpha\nbeta\nGAMMA-CHANGED-BY-B\ndelta\n")

	out := MaterializeBytes(base, a, b, StyleSnapshot, "", "")
	m, err := Parse(out, nil)
	require.NoError(t, err)
	require.Equal(t, 2, len(m.Adds))
	require.Equal(t, 1, len(m.Removes))
	assert.Equal(t, string(a), string(m.Adds[0]))
	assert.Equal(t, string(b), string(m.Adds[1]))
	assert.Equal(t, string(base), string(m.Removes[0]))
}

func TestRoundTripDiffStyleNeedsKnownBase(t *testing.T) {
	base := []byte("alpha\nbeta\ngamma\n")
	a := []byte("alpha\nBETA-A\ngamma\n")
	b := []byte("alpha\nBETA-B\ngamma\n")

	out := MaterializeBytes(base, a, b, StyleDiff, "mine", "theirs")

	_, err := Parse(out, nil)
	assert.Error(t, err, "StyleDiff omits the base; Parse must refuse without knownBase")

	m, err := Parse(out, base)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(m.Adds[0]))
	assert.Equal(t, string(b), string(m.Adds[1]))
	assert.Equal(t, string(base), string(m.Removes[0]))
}

func TestParseNoMarkersIsFullResolution(t *testing.T) {
	text := []byte("just some ordinary file content\n")
	m, err := Parse(text, nil)
	require.NoError(t, err)
	resolved, ok := m.AsResolved()
	require.True(t, ok)
	assert.Equal(t, string(text), string(resolved))
}

func TestParseUnterminatedMarkerErrors(t *testing.T) {
	text := []byte("line1\n<<<<<<< mine\nline2\n")
	_, err := Parse(text, nil)
	assert.Error(t, err)
}

func TestMaterializeArityMismatch(t *testing.T) {
	out, ok, err := Materialize(nil, nil, merge.Resolved(ids.FileId{}), StyleDiff, "", "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, out)
}
