// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package goalspace

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/goalrec/services/recognition/fact"
)

// twoGroups builds {A, B, none0} and {B, C, none1}; B is owned by both.
func twoGroups(agg Aggregator) (*GoalSpace, [5]fact.ID) {
	const (
		a fact.ID = iota
		b
		c
		n0
		n1
	)
	s := New(agg)
	s.AddGroup(n0, []fact.ID{a, b})
	s.AddGroup(n1, []fact.ID{b, c})
	return s, [5]fact.ID{a, b, c, n0, n1}
}

func TestAddGroup_UniformAndNoneOfLast(t *testing.T) {
	s, ids := twoGroups(nil)
	assert.Equal(t, 2, s.NumGroups())
	assert.Equal(t, []fact.ID{ids[0], ids[1], ids[3]}, s.Members(0))
	assert.Equal(t, []fact.ID{ids[0], ids[1]}, s.Positive(0))
	assert.Equal(t, ids[3], s.NoneOf(0))
	for _, g := range s.Groups() {
		assert.InDelta(t, 1.0, s.GroupSum(g), 1e-12)
	}
	assert.InDelta(t, 1.0/3, s.Probability(ids[0]), 1e-12)
}

func TestProbability_Aggregators(t *testing.T) {
	for name, tc := range map[string]struct {
		agg  Aggregator
		want float64
	}{
		"max":     {Max, 0.6},
		"min":     {Min, 0.2},
		"average": {Average, 0.4},
	} {
		t.Run(name, func(t *testing.T) {
			s, ids := twoGroups(tc.agg)
			b := ids[1]
			require.NoError(t, s.SetInGroup(0, b, 0.6))
			require.NoError(t, s.SetInGroup(1, b, 0.2))
			assert.InDelta(t, tc.want, s.Probability(b), 1e-12)
		})
	}
}

func TestParseAggregator(t *testing.T) {
	_, err := ParseAggregator("median")
	assert.Error(t, err)
	agg, err := ParseAggregator("max")
	require.NoError(t, err)
	assert.Equal(t, 3.0, agg([]float64{1, 3, 2}))
}

func TestSetProbability_AppliesToEveryOwner(t *testing.T) {
	s, ids := twoGroups(nil)
	b := ids[1]
	require.NoError(t, s.SetProbability(b, 0.5))

	p0, _ := s.GroupProbability(0, b)
	p1, _ := s.GroupProbability(1, b)
	assert.Equal(t, 0.5, p0)
	assert.Equal(t, 0.5, p1)
}

func TestSetProbability_Errors(t *testing.T) {
	s, ids := twoGroups(nil)
	assert.ErrorIs(t, s.SetProbability(ids[0], 1.5), ErrProbabilityRange)
	assert.ErrorIs(t, s.SetProbability(ids[0], -0.1), ErrProbabilityRange)
	assert.ErrorIs(t, s.SetProbability(fact.ID(99), 0.1), ErrUnknownFact)
	assert.ErrorIs(t, s.SetInGroup(7, ids[0], 0.1), ErrUnknownGroup)
	assert.ErrorIs(t, s.SetInGroup(1, ids[0], 0.1), ErrUnknownFact)

	// A failing multi-owner write leaves every owner untouched.
	require.NoError(t, s.SetInGroup(0, ids[1], 0.9))
	require.NoError(t, s.SetInGroup(1, ids[1], 0.2))
	assert.ErrorIs(t, s.Increment(ids[1], 0.2), ErrProbabilityRange)
	p1, _ := s.GroupProbability(1, ids[1])
	assert.Equal(t, 0.2, p1)
}

func TestIncrementDecrementMultiply(t *testing.T) {
	s, ids := twoGroups(nil)
	a := ids[0]
	require.NoError(t, s.SetProbability(a, 0.2))
	require.NoError(t, s.Increment(a, 0.3))
	require.NoError(t, s.Decrement(a, 0.1))
	require.NoError(t, s.Multiply(a, 2))
	assert.InDelta(t, 0.8, s.Probability(a), 1e-12)
}

func TestNormalize_IsIdempotent(t *testing.T) {
	s, ids := twoGroups(nil)
	require.NoError(t, s.SetInGroup(0, ids[0], 0.7))
	require.NoError(t, s.SetInGroup(0, ids[1], 0.2))
	require.NoError(t, s.SetInGroup(0, ids[3], 0.4))

	s.Normalize(0)
	first := s.Clone()
	s.Normalize(0)

	assert.InDelta(t, 1.0, s.GroupSum(0), 1e-9)
	for _, m := range s.Members(0) {
		want, _ := first.GroupProbability(0, m)
		got, _ := s.GroupProbability(0, m)
		assert.Equal(t, want, got)
	}
}

func TestNormalize_ZeroMassBecomesUniform(t *testing.T) {
	s, _ := twoGroups(nil)
	s.Reset()
	assert.Equal(t, 0.0, s.GroupSum(0))
	s.NormalizeAll()
	assert.InDelta(t, 1.0, s.GroupSum(0), 1e-12)
	assert.InDelta(t, 1.0, s.GroupSum(1), 1e-12)
}

func TestReset_KeepsMembers(t *testing.T) {
	s, _ := twoGroups(nil)
	s.Reset()
	assert.Len(t, s.Members(0), 3)
	assert.Equal(t, 0.0, s.GroupSum(1))
}

func TestClone_IsIndependent(t *testing.T) {
	s, ids := twoGroups(nil)
	before := s.Clone()
	c := s.Clone()

	require.NoError(t, c.SetProbability(ids[1], 0.9))
	c.RemoveGoal(ids[0])
	c.Reset()

	assert.True(t, s.Contains(ids[0]))
	for _, g := range s.Groups() {
		if diff := cmp.Diff(before.Members(g), s.Members(g)); diff != "" {
			t.Errorf("members of group %d changed (-want +got):\n%s", g, diff)
		}
		assert.InDelta(t, 1.0, s.GroupSum(g), 1e-12)
	}
}

func TestRemoveGoal_PurgesMutexLinksAndRenormalizes(t *testing.T) {
	s, ids := twoGroups(nil)
	a, b, c := ids[0], ids[1], ids[2]
	assert.True(t, s.Mutex(a, b))
	assert.True(t, s.Mutex(b, c))
	assert.False(t, s.Mutex(a, c))

	require.True(t, s.RemoveGoal(b))
	assert.False(t, s.Contains(b))
	assert.False(t, s.Mutex(a, b))
	assert.Empty(t, s.Owners(b))
	assert.InDelta(t, 1.0, s.GroupSum(0), 1e-12)
	assert.InDelta(t, 0.5, s.Probability(a), 1e-12)
	assert.False(t, s.RemoveGoal(b))
}

func TestMutexWith(t *testing.T) {
	s, ids := twoGroups(nil)
	got := s.MutexWith(ids[1])
	assert.Equal(t, []fact.ID{ids[0], ids[2], ids[3], ids[4]}, got.Sorted())
}

func TestVerify(t *testing.T) {
	s, ids := twoGroups(nil)
	require.NoError(t, s.Verify(1e-6))

	require.NoError(t, s.SetInGroup(1, ids[2], 0.9))
	err := s.Verify(1e-6)
	require.ErrorIs(t, err, ErrInconsistentGoalSpace)

	var inc *InconsistencyError
	require.ErrorAs(t, err, &inc)
	assert.Equal(t, GroupID(1), inc.Group)

	s.Normalize(1)
	assert.NoError(t, s.Verify(1e-6))
}

func TestVerify_SingleMemberGroup(t *testing.T) {
	s := New(Max)
	g := s.AddGroup(fact.None, []fact.ID{4})
	require.NoError(t, s.SetInGroup(g, 4, 0.3))

	err := s.Verify(1e-6)
	require.ErrorIs(t, err, ErrInconsistentGoalSpace)
	var inc *InconsistencyError
	require.ErrorAs(t, err, &inc)
	assert.Equal(t, g, inc.Group)
	assert.InDelta(t, 0.3, inc.Sum, 1e-12)

	s.Normalize(g)
	assert.NoError(t, s.Verify(1e-6))
}
