// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package domain holds the grounded planning domain a recognizer observes.
//
// # Description
//
// A Model is what the domain/mutex supplier hands over once at startup:
// the fact table, grounded actions, mutex groups, causal-graph layers and the
// static/terminal/activating classification. Parsing and grounding happen
// elsewhere; this package can also decode a ready-grounded model from YAML.
package domain

import (
	"fmt"

	"github.com/AleutianAI/goalrec/services/recognition/fact"
)

// Usage counts how the domain's actions touch a fact.
type Usage struct {
	Adds     int
	Deletes  int
	Requires int
}

// Model is a grounded domain plus its mutex analysis.
type Model struct {
	// Facts owns every fact referenced by the model.
	Facts *fact.Table

	// Actions are the grounded actions that may be observed.
	Actions []Action

	// Groups are the mutex groups over positive facts. The synthetic
	// NoneOfGroup member is added when the goal space is built.
	Groups [][]fact.ID

	// Layers maps a fact to its causal-graph layer. Missing facts are layer 0.
	Layers map[fact.ID]float64

	// Terminal facts are never deleted once added.
	Terminal fact.Set

	// Activating facts only ever appear as preconditions.
	Activating fact.Set

	// UnstableActivating facts are removed from candidacy when deleted.
	UnstableActivating fact.Set

	// Reachable restricts candidacy. Nil means every fact is reachable.
	Reachable fact.Set

	// Initial is the state before the first observation.
	Initial State

	actionIndex map[string]int
}

// Action looks up an action by its grounded name.
func (m *Model) Action(name string) (Action, bool) {
	if m.actionIndex == nil {
		m.indexActions()
	}
	i, ok := m.actionIndex[name]
	if !ok {
		return Action{}, false
	}
	return m.Actions[i], true
}

func (m *Model) indexActions() {
	m.actionIndex = make(map[string]int, len(m.Actions))
	for i, a := range m.Actions {
		m.actionIndex[a.Name] = i
	}
}

// Layer returns the causal-graph layer of id.
func (m *Model) Layer(id fact.ID) float64 {
	return m.Layers[id]
}

// IsReachable reports whether id may become true.
func (m *Model) IsReachable(id fact.ID) bool {
	return m.Reachable == nil || m.Reachable.Has(id)
}

// IsActivating reports whether id is strictly or unstably activating.
func (m *Model) IsActivating(id fact.ID) bool {
	return m.Activating.Has(id) || m.UnstableActivating.Has(id)
}

// Usage counts, for every fact, the actions adding, deleting and requiring it.
func (m *Model) Usage() map[fact.ID]Usage {
	out := make(map[fact.ID]Usage)
	for _, a := range m.Actions {
		for _, id := range a.Add {
			u := out[id]
			u.Adds++
			out[id] = u
		}
		for _, id := range a.Del {
			u := out[id]
			u.Deletes++
			out[id] = u
		}
		for _, id := range a.Pre {
			u := out[id]
			u.Requires++
			out[id] = u
		}
	}
	return out
}

// Validate checks that the model is usable for recognition.
//
// Outputs:
//
//	error - wraps ErrInvalidModel when a reference is out of range, a group is
//	empty or action names collide.
func (m *Model) Validate() error {
	if m.Facts == nil {
		return fmt.Errorf("%w: nil fact table", ErrInvalidModel)
	}
	if len(m.Groups) == 0 {
		return fmt.Errorf("%w: no mutex groups", ErrInvalidModel)
	}
	n := fact.ID(m.Facts.Len())
	check := func(where string, ids []fact.ID) error {
		for _, id := range ids {
			if id < 0 || id >= n {
				return fmt.Errorf("%w: %s references unknown fact %d", ErrInvalidModel, where, id)
			}
		}
		return nil
	}
	for i, g := range m.Groups {
		if len(g) == 0 {
			return fmt.Errorf("%w: group %d is empty", ErrInvalidModel, i)
		}
		if err := check(fmt.Sprintf("group %d", i), g); err != nil {
			return err
		}
	}
	seen := make(map[string]struct{}, len(m.Actions))
	for _, a := range m.Actions {
		if _, dup := seen[a.Name]; dup {
			return fmt.Errorf("%w: duplicate action %q", ErrInvalidModel, a.Name)
		}
		seen[a.Name] = struct{}{}
		for _, part := range [][]fact.ID{a.Pre, a.Add, a.Del} {
			if err := check("action "+a.Name, part); err != nil {
				return err
			}
		}
	}
	if err := check("initial state", m.Initial.Facts()); err != nil {
		return err
	}
	m.indexActions()
	return nil
}
