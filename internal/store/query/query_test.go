package query

import (
	"errors"
	"testing"

	"github.com/mohammed-shakir/map-session/internal/geo"
	"github.com/mohammed-shakir/map-session/internal/ports"
)

func TestMatch_Operators(t *testing.T) {
	f := geo.Feature{Fields: map[string]geo.Value{
		"Name": geo.String("Futian Park"),
		"Code": geo.Integer(5180),
		"Gone": geo.Null(geo.FieldString),
	}}

	cases := []struct {
		field string
		pred  ports.AttributePredicate
		want  bool
	}{
		{"Name", ports.AttributePredicate{Op: ports.OpContains, Value: "Park"}, true},
		{"Name", ports.AttributePredicate{Op: ports.OpContains, Value: "park"}, false},
		{"Name", ports.AttributePredicate{Op: ports.OpContains, Value: "park", FoldCase: true}, true},
		{"Name", ports.AttributePredicate{Op: ports.OpEquals, Value: "Futian"}, false},
		{"Code", ports.AttributePredicate{Op: ports.OpContains, Value: "18"}, true},
		{"Gone", ports.AttributePredicate{Op: ports.OpAny}, false},
		{"Missing", ports.AttributePredicate{Op: ports.OpAny}, false},
		{"Name", ports.AttributePredicate{Op: ports.OpContains, Value: ""}, true},
	}
	for i, tc := range cases {
		if got := Match(f, tc.field, tc.pred); got != tc.want {
			t.Fatalf("case %d: Match(%s,%+v)=%v want %v", i, tc.field, tc.pred, got, tc.want)
		}
	}
}

func TestResolveField_CaseInsensitive(t *testing.T) {
	ds := geo.Dataset{Name: "roads", Fields: []geo.FieldDescriptor{{Name: "Name"}}}
	fd, err := ResolveField(ds, "name")
	if err != nil || fd.Name != "Name" {
		t.Fatalf("ResolveField got %+v err=%v", fd, err)
	}
	if _, err := ResolveField(ds, "nope"); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
