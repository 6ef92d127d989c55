// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package domain

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/goalrec/services/recognition/fact"
)

// Document is the serialized form of a grounded Model.
//
// Facts are written as "(symbol arg ...)". Every fact mentioned anywhere is
// interned, so the Facts list only needs facts that appear nowhere else.
//
// Example:
//
//	initial: ["(at t a)"]
//	static:  ["(road a b)"]
//	actions:
//	  - name: drive t a b
//	    pre: ["(at t a)", "(road a b)"]
//	    add: ["(at t b)"]
//	    del: ["(at t a)"]
//	groups:
//	  - ["(at t a)", "(at t b)"]
//	layers:
//	  "(at t b)": 1
type Document struct {
	Facts              []string           `yaml:"facts,omitempty" json:"facts,omitempty"`
	Static             []string           `yaml:"static,omitempty" json:"static,omitempty"`
	Initial            []string           `yaml:"initial" json:"initial"`
	Actions            []ActionDocument   `yaml:"actions" json:"actions"`
	Groups             [][]string         `yaml:"groups" json:"groups"`
	Layers             map[string]float64 `yaml:"layers,omitempty" json:"layers,omitempty"`
	Terminal           []string           `yaml:"terminal,omitempty" json:"terminal,omitempty"`
	Activating         []string           `yaml:"activating,omitempty" json:"activating,omitempty"`
	UnstableActivating []string           `yaml:"unstable_activating,omitempty" json:"unstable_activating,omitempty"`
	Reachable          []string           `yaml:"reachable,omitempty" json:"reachable,omitempty"`
}

// ActionDocument is the serialized form of an Action.
type ActionDocument struct {
	Name string   `yaml:"name" json:"name"`
	Pre  []string `yaml:"pre,omitempty" json:"pre,omitempty"`
	Add  []string `yaml:"add,omitempty" json:"add,omitempty"`
	Del  []string `yaml:"del,omitempty" json:"del,omitempty"`
	Cost float64  `yaml:"cost,omitempty" json:"cost,omitempty"`
}

// Decode reads a YAML Document from r and builds its Model.
//
// Inputs:
//
//	r - Source of a YAML document.
//
// Outputs:
//
//	*Model - The validated model.
//	error - Non-nil if the document cannot be decoded or is invalid.
func Decode(r io.Reader) (*Model, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode domain document: %w", err)
	}
	return doc.Build()
}

// Build interns every fact of the document and returns the validated Model.
func (d Document) Build() (*Model, error) {
	b := &builder{table: fact.NewTable()}

	for _, s := range d.Static {
		if _, err := b.intern(s, true); err != nil {
			return nil, err
		}
	}
	if _, err := b.list(d.Facts); err != nil {
		return nil, err
	}

	m := &Model{Facts: b.table, Layers: make(map[fact.ID]float64, len(d.Layers))}

	initial, err := b.list(d.Initial)
	if err != nil {
		return nil, err
	}
	m.Initial = NewState(initial...)

	for _, ad := range d.Actions {
		a := Action{Name: ad.Name, Cost: ad.Cost}
		if a.Pre, err = b.list(ad.Pre); err != nil {
			return nil, err
		}
		if a.Add, err = b.list(ad.Add); err != nil {
			return nil, err
		}
		if a.Del, err = b.list(ad.Del); err != nil {
			return nil, err
		}
		m.Actions = append(m.Actions, a)
	}

	for _, g := range d.Groups {
		ids, err := b.list(g)
		if err != nil {
			return nil, err
		}
		m.Groups = append(m.Groups, ids)
	}

	for _, text := range slices.Sorted(maps.Keys(d.Layers)) {
		id, err := b.intern(text, false)
		if err != nil {
			return nil, err
		}
		m.Layers[id] = d.Layers[text]
	}

	if m.Terminal, err = b.set(d.Terminal); err != nil {
		return nil, err
	}
	if m.Activating, err = b.set(d.Activating); err != nil {
		return nil, err
	}
	if m.UnstableActivating, err = b.set(d.UnstableActivating); err != nil {
		return nil, err
	}
	if len(d.Reachable) > 0 {
		if m.Reachable, err = b.set(d.Reachable); err != nil {
			return nil, err
		}
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

type builder struct {
	table *fact.Table
}

func (b *builder) intern(text string, static bool) (fact.ID, error) {
	f, ok := fact.Parse(text)
	if !ok {
		return fact.None, fmt.Errorf("%w: malformed fact %q", ErrInvalidModel, text)
	}
	f.Static = static
	return b.table.Intern(f), nil
}

func (b *builder) list(texts []string) ([]fact.ID, error) {
	out := make([]fact.ID, 0, len(texts))
	for _, t := range texts {
		id, err := b.intern(t, false)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func (b *builder) set(texts []string) (fact.Set, error) {
	ids, err := b.list(texts)
	if err != nil {
		return nil, err
	}
	return fact.NewSet(ids...), nil
}
