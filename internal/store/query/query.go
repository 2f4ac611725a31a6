// Package query evaluates attribute predicates the same way for every feature store backend.
package query

import (
	"fmt"
	"strings"

	"github.com/mohammed-shakir/map-session/internal/geo"
	"github.com/mohammed-shakir/map-session/internal/ports"
)

// Match reports whether the feature's value in field satisfies pred. A
// missing or null value never matches.
func Match(f geo.Feature, field string, pred ports.AttributePredicate) bool {
	v, ok := f.Fields[field]
	if !ok || v.IsNull() {
		return false
	}
	text, want := v.Text(), pred.Value
	if pred.FoldCase {
		text, want = strings.ToLower(text), strings.ToLower(want)
	}
	switch pred.Op {
	case ports.OpAny:
		return true
	case ports.OpEquals:
		return text == want
	default:
		return strings.Contains(text, want)
	}
}

// ResolveField returns the canonical field name for a case-insensitive lookup.
func ResolveField(ds geo.Dataset, field string) (geo.FieldDescriptor, error) {
	fd, ok := ds.Field(field)
	if !ok {
		return geo.FieldDescriptor{}, fmt.Errorf("dataset %q has no field %q: %w", ds.Name, field, ports.ErrNotFound)
	}
	return fd, nil
}
