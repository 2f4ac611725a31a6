// Package geo defines the feature data model shared by the session controller and its ports.
package geo

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// Kind is the geometry kind a dataset holds.
type Kind int

const (
	KindUnknown Kind = iota
	KindPoint
	KindLine
	KindPolygon
	KindMultiPoint
)

func (k Kind) String() string {
	switch k {
	case KindPoint:
		return "point"
	case KindLine:
		return "line"
	case KindPolygon:
		return "polygon"
	case KindMultiPoint:
		return "multipoint"
	default:
		return "unknown"
	}
}

// KindOf maps an orb geometry onto the dataset kind it belongs to.
func KindOf(g orb.Geometry) Kind {
	switch g.(type) {
	case orb.Point:
		return KindPoint
	case orb.MultiPoint:
		return KindMultiPoint
	case orb.LineString, orb.MultiLineString:
		return KindLine
	case orb.Polygon, orb.MultiPolygon, orb.Ring, orb.Bound:
		return KindPolygon
	default:
		return KindUnknown
	}
}

// ParseKind accepts the names produced by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "point":
		return KindPoint, nil
	case "line", "linestring", "polyline":
		return KindLine, nil
	case "polygon":
		return KindPolygon, nil
	case "multipoint":
		return KindMultiPoint, nil
	default:
		return KindUnknown, fmt.Errorf("unknown geometry kind %q", s)
	}
}

type FeatureID int64

type FieldType int

const (
	FieldString FieldType = iota
	FieldInteger
	FieldFloat
	FieldDate
)

func (t FieldType) String() string {
	switch t {
	case FieldInteger:
		return "integer"
	case FieldFloat:
		return "float"
	case FieldDate:
		return "date"
	default:
		return "string"
	}
}

func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "string", "text", "":
		return FieldString, nil
	case "integer", "int":
		return FieldInteger, nil
	case "float", "double":
		return FieldFloat, nil
	case "date":
		return FieldDate, nil
	default:
		return FieldString, fmt.Errorf("unknown field type %q", s)
	}
}

type FieldDescriptor struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
}

// DateLayout is the text form of date values.
const DateLayout = "2006-01-02"

// Value is a typed attribute value. The zero Value is null.
type Value struct {
	Type  FieldType
	Valid bool
	Str   string
	Int   int64
	Float float64
	Time  time.Time
}

func String(s string) Value { return Value{Type: FieldString, Valid: true, Str: s} }
func Integer(n int64) Value { return Value{Type: FieldInteger, Valid: true, Int: n} }
func Float(f float64) Value { return Value{Type: FieldFloat, Valid: true, Float: f} }
func Date(t time.Time) Value { return Value{Type: FieldDate, Valid: true, Time: t} }
func Null(t FieldType) Value { return Value{Type: t} }
func (v Value) IsNull() bool { return !v.Valid }
func (v Value) IsText() bool { return v.Valid && v.Type == FieldString }
func (v Value) Equal(o Value) bool { return v.Valid == o.Valid && v.Type == o.Type && v.Text() == o.Text() }

// Text renders the value the way attribute predicates and notices see it.
func (v Value) Text() string {
	if !v.Valid {
		return ""
	}
	switch v.Type {
	case FieldInteger:
		return strconv.FormatInt(v.Int, 10)
	case FieldFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	case FieldDate:
		return v.Time.Format(DateLayout)
	default:
		return v.Str
	}
}

// Any returns the plain Go value, used for JSON properties.
func (v Value) Any() any {
	if !v.Valid {
		return nil
	}
	switch v.Type {
	case FieldInteger:
		return v.Int
	case FieldFloat:
		return v.Float
	case FieldDate:
		return v.Time.Format(DateLayout)
	default:
		return v.Str
	}
}

// Coerce converts raw input (JSON property or form text) to a value of type t.
func Coerce(t FieldType, raw any) (Value, error) {
	if raw == nil {
		return Null(t), nil
	}
	switch t {
	case FieldString:
		switch x := raw.(type) {
		case string:
			return String(x), nil
		default:
			return String(fmt.Sprint(x)), nil
		}
	case FieldInteger:
		switch x := raw.(type) {
		case int:
			return Integer(int64(x)), nil
		case int64:
			return Integer(x), nil
		case float64:
			if x != float64(int64(x)) {
				return Value{}, fmt.Errorf("value %v is not an integer", x)
			}
			return Integer(int64(x)), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			if err != nil {
				return Value{}, fmt.Errorf("parse integer %q: %w", x, err)
			}
			return Integer(n), nil
		}
	case FieldFloat:
		switch x := raw.(type) {
		case int:
			return Float(float64(x)), nil
		case int64:
			return Float(float64(x)), nil
		case float64:
			return Float(x), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return Value{}, fmt.Errorf("parse float %q: %w", x, err)
			}
			return Float(f), nil
		}
	case FieldDate:
		switch x := raw.(type) {
		case time.Time:
			return Date(x), nil
		case string:
			d, err := time.Parse(DateLayout, strings.TrimSpace(x))
			if err != nil {
				return Value{}, fmt.Errorf("parse date %q: %w", x, err)
			}
			return Date(d), nil
		}
	}
	return Value{}, fmt.Errorf("cannot convert %T to %s", raw, t)
}

// InferFieldType guesses the column type from the first non-null JSON value.
func InferFieldType(raw any) FieldType {
	switch x := raw.(type) {
	case float64:
		if x == float64(int64(x)) {
			return FieldInteger
		}
		return FieldFloat
	case int, int64:
		return FieldInteger
	case string:
		if _, err := time.Parse(DateLayout, x); err == nil {
			return FieldDate
		}
		return FieldString
	default:
		return FieldString
	}
}

type Feature struct {
	ID       FeatureID
	Geometry orb.Geometry
	Fields   map[string]Value
}

// FirstText returns the first non-empty textual attribute in field order.
func (f Feature) FirstText(fields []FieldDescriptor) (string, string, bool) {
	for _, fd := range fields {
		v, ok := f.Fields[fd.Name]
		if ok && v.IsText() && v.Str != "" {
			return fd.Name, v.Str, true
		}
	}
	return "", "", false
}

// Dataset is the store-owned handle for one opened feature class.
type Dataset struct {
	ID     string
	Name   string
	Kind   Kind
	Fields []FieldDescriptor
}

func (d Dataset) Field(name string) (FieldDescriptor, bool) {
	for _, f := range d.Fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}
