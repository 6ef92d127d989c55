// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package goalspace holds the candidate goals and their probabilities.
//
// # Description
//
// A GoalSpace is a flat table of mutex groups. Each group is an atomic,
// normalized distribution over mutually exclusive candidate facts plus one
// synthetic NoneOfGroup member. A fact may be owned by several groups; the
// owner index maps it to the groups it belongs to. Groups only shrink after
// they are built.
//
// Fact-level writes (SetProbability, Increment, Decrement, Multiply) apply
// to every owning group and do not renormalize. Group-level writes
// (SetInGroup) touch one group only. Call Normalize after any raw write.
//
// # Thread Safety
//
// GoalSpace is not safe for concurrent mutation. The recognizer owns it and
// hands out read access between observations.
package goalspace

import (
	"fmt"
	"math"
	"slices"

	"github.com/AleutianAI/goalrec/services/recognition/fact"
)

// normalizedTolerance is the rounding slack under which a group already
// counts as normalized.
const normalizedTolerance = 1e-12

// GroupID indexes a mutex group.
type GroupID int

type group struct {
	members []fact.ID
	probs   []float64
	noneOf  fact.ID
}

func (g *group) indexOf(f fact.ID) int {
	return slices.Index(g.members, f)
}

// GoalSpace is the union of all mutex groups.
type GoalSpace struct {
	groups []group
	owners map[fact.ID][]GroupID
	agg    Aggregator
}

// New creates an empty GoalSpace using agg for multi-owner reads.
// A nil agg defaults to Average.
func New(agg Aggregator) *GoalSpace {
	if agg == nil {
		agg = Average
	}
	return &GoalSpace{owners: make(map[fact.ID][]GroupID), agg: agg}
}

// AddGroup appends a group over members plus the synthetic noneOf member and
// gives every member the same probability.
//
// Description:
//
//	Duplicate members are ignored. noneOf may be fact.None for a group that
//	has no synthetic member.
//
// Outputs:
//
//	GroupID - index of the new group.
func (s *GoalSpace) AddGroup(noneOf fact.ID, members []fact.ID) GroupID {
	id := GroupID(len(s.groups))
	g := group{noneOf: noneOf}
	for _, m := range members {
		if m == noneOf || slices.Contains(g.members, m) {
			continue
		}
		g.members = append(g.members, m)
	}
	if noneOf != fact.None {
		g.members = append(g.members, noneOf)
	}
	g.probs = make([]float64, len(g.members))
	for i := range g.probs {
		g.probs[i] = 1 / float64(len(g.members))
	}
	s.groups = append(s.groups, g)
	for _, m := range g.members {
		s.owners[m] = append(s.owners[m], id)
	}
	return id
}

// NumGroups returns the number of groups.
func (s *GoalSpace) NumGroups() int {
	return len(s.groups)
}

// Groups returns every group index in ascending order.
func (s *GoalSpace) Groups() []GroupID {
	out := make([]GroupID, len(s.groups))
	for i := range out {
		out[i] = GroupID(i)
	}
	return out
}

// Members returns a copy of the members of g, NoneOfGroup last.
func (s *GoalSpace) Members(g GroupID) []fact.ID {
	if !s.valid(g) {
		return nil
	}
	return slices.Clone(s.groups[g].members)
}

// Positive returns the members of g other than its NoneOfGroup member.
func (s *GoalSpace) Positive(g GroupID) []fact.ID {
	if !s.valid(g) {
		return nil
	}
	out := make([]fact.ID, 0, len(s.groups[g].members))
	for _, m := range s.groups[g].members {
		if m != s.groups[g].noneOf {
			out = append(out, m)
		}
	}
	return out
}

// NoneOf returns the synthetic member of g, or fact.None.
func (s *GoalSpace) NoneOf(g GroupID) fact.ID {
	if !s.valid(g) {
		return fact.None
	}
	return s.groups[g].noneOf
}

// Size returns the number of members of g including NoneOfGroup.
func (s *GoalSpace) Size(g GroupID) int {
	if !s.valid(g) {
		return 0
	}
	return len(s.groups[g].members)
}

// Owners returns the groups that own f.
func (s *GoalSpace) Owners(f fact.ID) []GroupID {
	return slices.Clone(s.owners[f])
}

// Contains reports whether any group owns f.
func (s *GoalSpace) Contains(f fact.ID) bool {
	return len(s.owners[f]) > 0
}

// Facts returns every owned fact in ascending ID order.
func (s *GoalSpace) Facts() []fact.ID {
	out := make([]fact.ID, 0, len(s.owners))
	for f := range s.owners {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

// Mutex reports whether a and b are distinct and share a group.
func (s *GoalSpace) Mutex(a, b fact.ID) bool {
	if a == b {
		return false
	}
	for _, ga := range s.owners[a] {
		if slices.Contains(s.owners[b], ga) {
			return true
		}
	}
	return false
}

// MutexWith returns every fact sharing a group with f, excluding f.
func (s *GoalSpace) MutexWith(f fact.ID) fact.Set {
	out := fact.NewSet()
	for _, g := range s.owners[f] {
		for _, m := range s.groups[g].members {
			if m != f {
				out.Add(m)
			}
		}
	}
	return out
}

// Probability returns the aggregated probability of f, or 0 when no group
// owns it.
func (s *GoalSpace) Probability(f fact.ID) float64 {
	owners := s.owners[f]
	if len(owners) == 0 {
		return 0
	}
	probs := make([]float64, len(owners))
	for i, g := range owners {
		grp := &s.groups[g]
		probs[i] = grp.probs[grp.indexOf(f)]
	}
	return s.agg(probs)
}

// GroupProbability returns the probability of f inside g.
func (s *GoalSpace) GroupProbability(g GroupID, f fact.ID) (float64, bool) {
	if !s.valid(g) {
		return 0, false
	}
	i := s.groups[g].indexOf(f)
	if i < 0 {
		return 0, false
	}
	return s.groups[g].probs[i], true
}

// GroupSum returns the probability mass of g.
func (s *GoalSpace) GroupSum(g GroupID) float64 {
	if !s.valid(g) {
		return 0
	}
	var sum float64
	for _, p := range s.groups[g].probs {
		sum += p
	}
	return sum
}

// SetProbability writes p for f in every owning group.
//
// Outputs:
//
//	error - ErrProbabilityRange if p is outside [0, 1], ErrUnknownFact if no
//	group owns f. Nothing is written on error.
func (s *GoalSpace) SetProbability(f fact.ID, p float64) error {
	return s.update(f, func(float64) float64 { return p })
}

// Increment adds d to f in every owning group.
func (s *GoalSpace) Increment(f fact.ID, d float64) error {
	return s.update(f, func(p float64) float64 { return p + d })
}

// Decrement subtracts d from f in every owning group.
func (s *GoalSpace) Decrement(f fact.ID, d float64) error {
	return s.update(f, func(p float64) float64 { return p - d })
}

// Multiply scales f by k in every owning group.
func (s *GoalSpace) Multiply(f fact.ID, k float64) error {
	return s.update(f, func(p float64) float64 { return p * k })
}

func (s *GoalSpace) update(f fact.ID, fn func(float64) float64) error {
	owners := s.owners[f]
	if len(owners) == 0 {
		return fmt.Errorf("%w: %d", ErrUnknownFact, f)
	}
	next := make([]float64, len(owners))
	for i, g := range owners {
		grp := &s.groups[g]
		p := fn(grp.probs[grp.indexOf(f)])
		if !inRange(p) {
			return fmt.Errorf("%w: %v for fact %d", ErrProbabilityRange, p, f)
		}
		next[i] = p
	}
	for i, g := range owners {
		grp := &s.groups[g]
		grp.probs[grp.indexOf(f)] = next[i]
	}
	return nil
}

// SetInGroup writes p for f inside g only.
func (s *GoalSpace) SetInGroup(g GroupID, f fact.ID, p float64) error {
	if !s.valid(g) {
		return fmt.Errorf("%w: %d", ErrUnknownGroup, g)
	}
	i := s.groups[g].indexOf(f)
	if i < 0 {
		return fmt.Errorf("%w: %d in group %d", ErrUnknownFact, f, g)
	}
	if !inRange(p) {
		return fmt.Errorf("%w: %v for fact %d", ErrProbabilityRange, p, f)
	}
	s.groups[g].probs[i] = p
	return nil
}

// RemoveGoal removes f from every owning group and renormalizes them.
//
// Description:
//
//	Used when f becomes permanently unreachable. The mutex links of f go
//	with it. Removing the synthetic member of a group is allowed but leaves
//	the group without one.
//
// Outputs:
//
//	bool - false if no group owned f.
func (s *GoalSpace) RemoveGoal(f fact.ID) bool {
	owners := s.owners[f]
	if len(owners) == 0 {
		return false
	}
	for _, g := range owners {
		grp := &s.groups[g]
		i := grp.indexOf(f)
		grp.members = slices.Delete(grp.members, i, i+1)
		grp.probs = slices.Delete(grp.probs, i, i+1)
		if grp.noneOf == f {
			grp.noneOf = fact.None
		}
		s.Normalize(g)
	}
	delete(s.owners, f)
	return true
}

// Normalize divides every member of g by the group sum.
//
// A group with zero mass becomes uniform. Calling Normalize twice in a row
// leaves the second call without effect.
func (s *GoalSpace) Normalize(g GroupID) {
	if !s.valid(g) {
		return
	}
	grp := &s.groups[g]
	if len(grp.probs) == 0 {
		return
	}
	sum := s.GroupSum(g)
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		for i := range grp.probs {
			grp.probs[i] = 1 / float64(len(grp.probs))
		}
		return
	}
	if math.Abs(sum-1) <= normalizedTolerance {
		return
	}
	for i := range grp.probs {
		grp.probs[i] /= sum
	}
}

// NormalizeAll normalizes every group.
func (s *GoalSpace) NormalizeAll() {
	for i := range s.groups {
		s.Normalize(GroupID(i))
	}
}

// Reset zeroes every probability and keeps every member.
func (s *GoalSpace) Reset() {
	for i := range s.groups {
		clear(s.groups[i].probs)
	}
}

// Clone returns a deep copy that shares no state with s.
func (s *GoalSpace) Clone() *GoalSpace {
	out := &GoalSpace{
		groups: make([]group, len(s.groups)),
		owners: make(map[fact.ID][]GroupID, len(s.owners)),
		agg:    s.agg,
	}
	for i, g := range s.groups {
		out.groups[i] = group{
			members: slices.Clone(g.members),
			probs:   slices.Clone(g.probs),
			noneOf:  g.noneOf,
		}
	}
	for f, gs := range s.owners {
		out.owners[f] = slices.Clone(gs)
	}
	return out
}

// Verify checks that every non-empty group sums to 1 within eps and that
// every probability lies in [0, 1].
//
// Outputs:
//
//	error - *InconsistencyError for the first offending group.
func (s *GoalSpace) Verify(eps float64) error {
	for i, g := range s.groups {
		for j, p := range g.probs {
			if !inRange(p) {
				return &InconsistencyError{
					Group:  GroupID(i),
					Sum:    s.GroupSum(GroupID(i)),
					Facts:  []fact.ID{g.members[j]},
					Reason: "probability outside [0, 1]",
				}
			}
		}
		if len(g.probs) == 0 {
			continue
		}
		sum := s.GroupSum(GroupID(i))
		if math.Abs(sum-1) > eps {
			return &InconsistencyError{
				Group:  GroupID(i),
				Sum:    sum,
				Facts:  slices.Clone(g.members),
				Reason: "group is not normalized",
			}
		}
	}
	return nil
}

func (s *GoalSpace) valid(g GroupID) bool {
	return g >= 0 && int(g) < len(s.groups)
}

func inRange(p float64) bool {
	return p >= 0 && p <= 1 && !math.IsNaN(p)
}
