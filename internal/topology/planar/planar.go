// Package planar implements the topology port on orb's planar predicates.
//
// Buffers are built from convex pieces (a disc around each point, a capsule
// around each segment, the polygon itself) and returned undissolved: a
// single piece comes back as a Polygon, several as a MultiPolygon. Every
// piece is circumscribed around the true circle, so the result always
// covers the exact buffer.
package planar

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	orbplanar "github.com/paulmach/orb/planar"

	"github.com/mohammed-shakir/map-session/internal/geo"
	"github.com/mohammed-shakir/map-session/internal/ports"
)

const eps = 1e-9

type Engine struct {
	// Segments is the number of vertices used to approximate a circle.
	Segments int
}

var _ ports.Topology = (*Engine)(nil)

func New(segments int) *Engine {
	if segments < 8 {
		segments = 32
	}
	return &Engine{Segments: segments}
}

func (e *Engine) Buffer(ctx context.Context, g orb.Geometry, distance float64) (orb.Geometry, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("buffer: %w", err)
	}
	if geo.IsEmpty(g) {
		return nil, errors.New("buffer: empty source geometry")
	}
	if distance < 0 || math.IsNaN(distance) {
		return nil, fmt.Errorf("buffer: invalid distance %v", distance)
	}

	var pieces []orb.Polygon
	p := decompose(g)
	for _, pt := range p.points {
		pieces = append(pieces, e.disc(pt, distance))
	}
	for _, s := range p.segs {
		pieces = append(pieces, e.capsule(s[0], s[1], distance))
	}
	for _, poly := range p.polys {
		pieces = append(pieces, poly)
		if distance == 0 {
			continue
		}
		for _, ring := range poly {
			for i := 0; i+1 < len(ring); i++ {
				pieces = append(pieces, e.capsule(ring[i], ring[i+1], distance))
			}
		}
	}

	switch len(pieces) {
	case 0:
		return nil, errors.New("buffer: source produced no pieces")
	case 1:
		return pieces[0], nil
	default:
		return orb.MultiPolygon(pieces), nil
	}
}

func (e *Engine) Intersects(a, b orb.Geometry) bool {
	if geo.IsEmpty(a) || geo.IsEmpty(b) {
		return false
	}
	if !pad(a.Bound()).Intersects(pad(b.Bound())) {
		return false
	}
	pa, pb := decompose(a), decompose(b)
	return pa.intersects(pb)
}

func (e *Engine) UnionEnvelope(gs []orb.Geometry) orb.Bound {
	var out orb.Bound
	first := true
	for _, g := range gs {
		if geo.IsEmpty(g) {
			continue
		}
		b := g.Bound()
		if first {
			out = b
			first = false
			continue
		}
		out = out.Union(b)
	}
	return out
}

func (e *Engine) disc(c orb.Point, r float64) orb.Polygon {
	n := e.Segments
	// circumscribed radius so the polygon covers the whole disc
	rr := r / math.Cos(math.Pi/float64(n))
	ring := make(orb.Ring, 0, n+1)
	for i := range n {
		a := 2 * math.Pi * float64(i) / float64(n)
		ring = append(ring, orb.Point{c[0] + rr*math.Cos(a), c[1] + rr*math.Sin(a)})
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}
}

func (e *Engine) capsule(a, b orb.Point, r float64) orb.Polygon {
	if orbplanar.Distance(a, b) < eps {
		return e.disc(a, r)
	}
	da, db := e.disc(a, r), e.disc(b, r)
	pts := make([]orb.Point, 0, len(da[0])+len(db[0]))
	pts = append(pts, da[0]...)
	pts = append(pts, db[0]...)
	return orb.Polygon{convexHull(pts)}
}

// convexHull is Andrew's monotone chain; the ring is closed and counter-clockwise.
func convexHull(pts []orb.Point) orb.Ring {
	sorted := make([]orb.Point, len(pts))
	copy(sorted, pts)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i][0] == sorted[j][0] {
			return sorted[i][1] < sorted[j][1]
		}
		return sorted[i][0] < sorted[j][0]
	})
	if len(sorted) < 3 {
		r := orb.Ring(sorted)
		if len(r) > 0 {
			r = append(r, r[0])
		}
		return r
	}

	hull := make([]orb.Point, 0, 2*len(sorted))
	for _, p := range sorted {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(sorted) - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	// last point equals the first, which closes the ring
	return orb.Ring(hull)
}

func cross(o, a, b orb.Point) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}

func pad(b orb.Bound) orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.Min[0] - eps, b.Min[1] - eps},
		Max: orb.Point{b.Max[0] + eps, b.Max[1] + eps},
	}
}
