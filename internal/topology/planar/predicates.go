package planar

import (
	"math"

	"github.com/paulmach/orb"
	orbplanar "github.com/paulmach/orb/planar"
)

// parts is a geometry flattened into the primitives the predicates work on.
type parts struct {
	points []orb.Point
	segs   [][2]orb.Point
	polys  []orb.Polygon
}

func decompose(g orb.Geometry) parts {
	var p parts
	p.add(g)
	return p
}

func (p *parts) add(g orb.Geometry) {
	switch t := g.(type) {
	case orb.Point:
		p.points = append(p.points, t)
	case orb.MultiPoint:
		p.points = append(p.points, t...)
	case orb.LineString:
		p.addLine(t)
	case orb.MultiLineString:
		for _, ls := range t {
			p.addLine(ls)
		}
	case orb.Ring:
		if len(t) > 0 {
			p.polys = append(p.polys, orb.Polygon{t})
		}
	case orb.Polygon:
		if len(t) > 0 && len(t[0]) > 0 {
			p.polys = append(p.polys, t)
		}
	case orb.MultiPolygon:
		for _, poly := range t {
			p.add(poly)
		}
	case orb.Bound:
		p.polys = append(p.polys, t.ToPolygon())
	case orb.Collection:
		for _, c := range t {
			p.add(c)
		}
	}
}

func (p *parts) addLine(ls orb.LineString) {
	switch len(ls) {
	case 0:
	case 1:
		p.points = append(p.points, ls[0])
	default:
		for i := 0; i+1 < len(ls); i++ {
			p.segs = append(p.segs, [2]orb.Point{ls[i], ls[i+1]})
		}
	}
}

func (p parts) intersects(o parts) bool {
	for _, a := range p.points {
		if o.coversPoint(a) {
			return true
		}
	}
	for _, b := range o.points {
		if p.coversPoint(b) {
			return true
		}
	}
	for _, s := range p.segs {
		if o.touchesSegment(s) {
			return true
		}
	}
	for _, s := range o.segs {
		if p.touchesSegment(s) {
			return true
		}
	}
	for _, a := range p.polys {
		for _, b := range o.polys {
			if polygonsIntersect(a, b) {
				return true
			}
		}
	}
	return false
}

func (p parts) coversPoint(pt orb.Point) bool {
	for _, q := range p.points {
		if orbplanar.Distance(q, pt) <= eps {
			return true
		}
	}
	for _, s := range p.segs {
		if orbplanar.DistanceFromSegment(s[0], s[1], pt) <= eps {
			return true
		}
	}
	for _, poly := range p.polys {
		if polygonCovers(poly, pt) {
			return true
		}
	}
	return false
}

// touchesSegment reports whether s meets any segment or polygon of p. Point
// primitives are handled by coversPoint from the other side.
func (p parts) touchesSegment(s [2]orb.Point) bool {
	for _, t := range p.segs {
		if segmentsIntersect(s[0], s[1], t[0], t[1]) {
			return true
		}
	}
	for _, poly := range p.polys {
		if polygonCovers(poly, s[0]) || polygonCovers(poly, s[1]) {
			return true
		}
		if crossesBoundary(poly, s[0], s[1]) {
			return true
		}
	}
	return false
}

func polygonsIntersect(a, b orb.Polygon) bool {
	for _, ring := range a {
		for i := 0; i+1 < len(ring); i++ {
			if crossesBoundary(b, ring[i], ring[i+1]) {
				return true
			}
		}
	}
	return polygonCovers(a, b[0][0]) || polygonCovers(b, a[0][0])
}

func crossesBoundary(poly orb.Polygon, a, b orb.Point) bool {
	for _, ring := range poly {
		for i := 0; i+1 < len(ring); i++ {
			if segmentsIntersect(a, b, ring[i], ring[i+1]) {
				return true
			}
		}
	}
	return false
}

// polygonCovers is containment with the boundary counted as inside.
func polygonCovers(poly orb.Polygon, pt orb.Point) bool {
	for _, ring := range poly {
		for i := 0; i+1 < len(ring); i++ {
			if orbplanar.DistanceFromSegment(ring[i], ring[i+1], pt) <= eps {
				return true
			}
		}
	}
	return orbplanar.PolygonContains(poly, pt)
}

func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	d1 := orient(q1, q2, p1)
	d2 := orient(q1, q2, p2)
	d3 := orient(p1, p2, q1)
	d4 := orient(p1, p2, q2)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return (d1 == 0 && onSegment(q1, q2, p1)) ||
		(d2 == 0 && onSegment(q1, q2, p2)) ||
		(d3 == 0 && onSegment(p1, p2, q1)) ||
		(d4 == 0 && onSegment(p1, p2, q2))
}

// orient returns the sign of the turn a->b->c, with near-zero snapped to 0.
func orient(a, b, c orb.Point) int {
	v := cross(a, b, c)
	scale := math.Max(1, math.Max(math.Abs(b[0]-a[0]), math.Abs(b[1]-a[1])))
	switch {
	case v > eps*scale:
		return 1
	case v < -eps*scale:
		return -1
	default:
		return 0
	}
}

func onSegment(a, b, p orb.Point) bool {
	return p[0] >= math.Min(a[0], b[0])-eps && p[0] <= math.Max(a[0], b[0])+eps &&
		p[1] >= math.Min(a[1], b[1])-eps && p[1] <= math.Max(a[1], b[1])+eps
}
