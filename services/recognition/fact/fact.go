// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fact defines the propositions a goal recognizer reasons about.
//
// # Description
//
// A Fact is a tagged union: either a grounded Literal such as (at truck1 depot)
// or the synthetic NoneOfGroup member that stands for "none of this group's
// positive members is the goal". Facts are interned into a Table and referred
// to by their ID everywhere else, so every other package stores flat index
// lists instead of object graphs.
//
// # Thread Safety
//
// A Table is built once during setup. Interning is not synchronized; lookups
// on a Table that is no longer being written are safe for concurrent use.
package fact

import (
	"strconv"
	"strings"
)

// Kind is the tag of the Fact union.
type Kind uint8

const (
	// KindLiteral is a grounded domain proposition.
	KindLiteral Kind = iota

	// KindNoneOfGroup is the synthetic "none of the above" member of a group.
	KindNoneOfGroup
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindLiteral:
		return "literal"
	case KindNoneOfGroup:
		return "none-of-group"
	default:
		return "unknown"
	}
}

// ID indexes a Fact inside its Table.
type ID int32

// None is the zero value for "no fact".
const None ID = -1

// Fact is an atomic or synthetic proposition.
//
// Two literals are equal when their symbol and parameters are equal. A
// NoneOfGroup fact is identified by the group it belongs to.
type Fact struct {
	Kind   Kind
	Symbol string
	Params []string

	// Group is the owning group index for KindNoneOfGroup; unused otherwise.
	Group int

	// Static facts never change truth value.
	Static bool
}

// Literal builds a grounded literal.
func Literal(symbol string, params ...string) Fact {
	return Fact{Kind: KindLiteral, Symbol: symbol, Params: params}
}

// NoneOf builds the synthetic member of the given group.
func NoneOf(group int) Fact {
	return Fact{Kind: KindNoneOfGroup, Group: group}
}

// IsNoneOf reports whether f is the synthetic NoneOfGroup member.
func (f Fact) IsNoneOf() bool {
	return f.Kind == KindNoneOfGroup
}

// Key returns the identity string used for interning.
func (f Fact) Key() string {
	if f.Kind == KindNoneOfGroup {
		return "none-of#" + strconv.Itoa(f.Group)
	}
	if len(f.Params) == 0 {
		return "(" + f.Symbol + ")"
	}
	return "(" + f.Symbol + " " + strings.Join(f.Params, " ") + ")"
}

// String implements fmt.Stringer.
func (f Fact) String() string {
	return f.Key()
}

// Parse reads a literal written as "(symbol p1 p2)" or "symbol p1 p2".
//
// Returns false when the text holds no symbol.
func Parse(text string) (Fact, bool) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "(")
	text = strings.TrimSuffix(text, ")")
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Fact{}, false
	}
	return Literal(fields[0], fields[1:]...), true
}
