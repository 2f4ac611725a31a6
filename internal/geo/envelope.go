package geo

import "github.com/paulmach/orb"

// Expand scales b about its centre by factor on each axis. A degenerate
// bound (a single point or a horizontal/vertical path) is padded by pad so the
// result still has area.
func Expand(b orb.Bound, factor, pad float64) orb.Bound {
	if factor <= 0 {
		factor = 1
	}
	c := b.Center()
	hw := (b.Max[0] - b.Min[0]) / 2 * factor
	hh := (b.Max[1] - b.Min[1]) / 2 * factor
	if hw == 0 {
		hw = pad
	}
	if hh == 0 {
		hh = pad
	}
	return orb.Bound{
		Min: orb.Point{c[0] - hw, c[1] - hh},
		Max: orb.Point{c[0] + hw, c[1] + hh},
	}
}

// Rect builds the normalized bound spanned by two corner points.
func Rect(a, b orb.Point) orb.Bound {
	return orb.Bound{Min: a, Max: a}.Extend(b)
}

// IsEmpty reports whether g carries no coordinates at all.
func IsEmpty(g orb.Geometry) bool {
	if g == nil {
		return true
	}
	switch t := g.(type) {
	case orb.Point:
		return false
	case orb.MultiPoint:
		return len(t) == 0
	case orb.LineString:
		return len(t) == 0
	case orb.MultiLineString:
		for _, ls := range t {
			if len(ls) > 0 {
				return false
			}
		}
		return true
	case orb.Ring:
		return len(t) == 0
	case orb.Polygon:
		return len(t) == 0 || len(t[0]) == 0
	case orb.MultiPolygon:
		for _, p := range t {
			if len(p) > 0 && len(p[0]) > 0 {
				return false
			}
		}
		return true
	case orb.Collection:
		for _, c := range t {
			if !IsEmpty(c) {
				return false
			}
		}
		return true
	case orb.Bound:
		return false
	}
	return true
}
