// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/goalrec/services/recognition/domain"
	"github.com/AleutianAI/goalrec/services/recognition/fact"
)

const (
	g1 fact.ID = 0
	g2 fact.ID = 1
)

func fixedClock() Option {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return WithClock(func() time.Time {
		at = at.Add(time.Second)
		return at
	})
}

func step(name string) domain.Action {
	return domain.Action{Name: name}
}

func TestObserve_Classification(t *testing.T) {
	h := New(domain.NewState(), map[fact.ID]float64{g1: 3, g2: 1}, true, fixedClock())
	require.Equal(t, 0, h.Steps())

	require.NoError(t, h.Observe(domain.NewState(), step("a"), map[fact.ID]float64{g1: 2, g2: 2}))
	require.NoError(t, h.Observe(domain.NewState(), step("b"), map[fact.ID]float64{g1: 2, g2: 1}))

	assert.Equal(t, 2, h.Steps())
	r1 := h.Record(1)
	assert.Equal(t, Nearer, r1.Movement(g1))
	assert.Equal(t, Further, r1.Movement(g2))
	r2 := h.Record(2)
	assert.Equal(t, Unmoved, r2.Movement(g1))
	assert.Equal(t, Nearer, r2.Movement(g2))

	assert.Equal(t, 1, h.MovedToward(g1))
	assert.Equal(t, 1, h.MovedToward(g2))
	assert.Equal(t, 1, h.MovedAway(g2))
	assert.Equal(t, []float64{3, 2, 2}, h.Trace(g1))

	d, ok := h.Distance(g2)
	require.True(t, ok)
	assert.Equal(t, 1.0, d)
	assert.Equal(t, "b", h.Latest().Action.Name)
	assert.Nil(t, h.Record(0).Action)
	assert.True(t, h.Record(2).Timestamp.After(h.Record(1).Timestamp))
}

func TestObserve_PlateauBonus(t *testing.T) {
	held := domain.NewState(g1)
	h := New(domain.NewState(), map[fact.ID]float64{g1: 1}, true)

	// g1 becomes true: nearer.
	require.NoError(t, h.Observe(held, step("achieve"), map[fact.ID]float64{g1: 0}))
	assert.Equal(t, 1, h.ConsecutiveTrue(g1))
	assert.Equal(t, 1, h.MovedToward(g1))

	// Held for a second step: the 0 -> 0 step now earns the bonus.
	require.NoError(t, h.Observe(held, step("wait"), map[fact.ID]float64{g1: 0}))
	assert.Equal(t, 2, h.ConsecutiveTrue(g1))
	assert.Equal(t, 2, h.MovedToward(g1))
	assert.True(t, h.Latest().Bonus.Has(g1))
	assert.True(t, h.Latest().Credited(g1))
	assert.Equal(t, Unmoved, h.Latest().Movement(g1))
}

func TestObserve_PlateauBonusIsRederived(t *testing.T) {
	held := domain.NewState(g1)
	h := New(held, map[fact.ID]float64{g1: 0}, true)
	require.NoError(t, h.Observe(held, step("a"), map[fact.ID]float64{g1: 0}))
	require.NoError(t, h.Observe(held, step("b"), map[fact.ID]float64{g1: 0}))
	assert.Equal(t, 2, h.MovedToward(g1))

	// Once g1 stops holding, every earlier plateau loses its credit.
	require.NoError(t, h.Observe(domain.NewState(), step("c"), map[fact.ID]float64{g1: 0}))
	assert.Equal(t, 0, h.ConsecutiveTrue(g1))
	assert.Equal(t, 0, h.MovedToward(g1))
	assert.False(t, h.Record(1).Bonus.Has(g1))
}

func TestObserve_PlateauBonusDisabled(t *testing.T) {
	held := domain.NewState(g1)
	h := New(held, map[fact.ID]float64{g1: 0}, false)
	require.NoError(t, h.Observe(held, step("a"), map[fact.ID]float64{g1: 0}))
	require.NoError(t, h.Observe(held, step("b"), map[fact.ID]float64{g1: 0}))
	assert.Equal(t, 0, h.MovedToward(g1))
	assert.False(t, h.Latest().Credited(g1))
}

func TestObserve_MissingDistance(t *testing.T) {
	h := New(domain.NewState(), map[fact.ID]float64{g1: 1, g2: 1}, true)
	err := h.Observe(domain.NewState(), step("a"), map[fact.ID]float64{g1: 0})
	require.ErrorIs(t, err, ErrMissingDistance)
	assert.Equal(t, 0, h.Steps())
	assert.Len(t, h.Trace(g1), 1)
}

func TestDrop(t *testing.T) {
	h := New(domain.NewState(), map[fact.ID]float64{g1: 1, g2: 1}, true)
	h.Drop(g2)
	assert.Equal(t, []fact.ID{g1}, h.Candidates())
	assert.False(t, h.IsCandidate(g2))
	require.NoError(t, h.Observe(domain.NewState(), step("a"), map[fact.ID]float64{g1: 0}))
	assert.False(t, h.Latest().Unmoved.Has(g2))
}
