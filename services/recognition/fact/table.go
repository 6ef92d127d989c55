// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fact

// Table is the arena that owns every Fact of a recognition session.
type Table struct {
	facts []Fact
	index map[string]ID
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{index: make(map[string]ID)}
}

// Intern returns the ID of f, adding it when it is not yet present.
//
// Interning an equal literal twice returns the same ID. The Static flag of
// the first interned copy wins unless a later copy sets it.
func (t *Table) Intern(f Fact) ID {
	key := f.Key()
	if id, ok := t.index[key]; ok {
		if f.Static {
			t.facts[id].Static = true
		}
		return id
	}
	id := ID(len(t.facts))
	t.facts = append(t.facts, f)
	t.index[key] = id
	return id
}

// Lookup returns the ID of f if it has been interned.
func (t *Table) Lookup(f Fact) (ID, bool) {
	id, ok := t.index[f.Key()]
	return id, ok
}

// LookupKey returns the ID for an interning key such as "(at a b)".
func (t *Table) LookupKey(key string) (ID, bool) {
	id, ok := t.index[key]
	return id, ok
}

// Get returns the Fact stored at id. It panics on an out-of-range ID.
func (t *Table) Get(id ID) Fact {
	return t.facts[id]
}

// Len returns the number of interned facts.
func (t *Table) Len() int {
	return len(t.facts)
}

// IsNoneOf reports whether id refers to a synthetic NoneOfGroup fact.
func (t *Table) IsNoneOf(id ID) bool {
	return id >= 0 && int(id) < len(t.facts) && t.facts[id].Kind == KindNoneOfGroup
}

// IsStatic reports whether id refers to a static fact.
func (t *Table) IsStatic(id ID) bool {
	return id >= 0 && int(id) < len(t.facts) && t.facts[id].Static
}

// Name returns a printable name for id.
func (t *Table) Name(id ID) string {
	if id < 0 || int(id) >= len(t.facts) {
		return "<none>"
	}
	return t.facts[id].Key()
}

// Names maps a list of IDs to their printable names.
func (t *Table) Names(ids []ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = t.Name(id)
	}
	return out
}
