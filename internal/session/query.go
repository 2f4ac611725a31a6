package session

import (
	"context"
	"errors"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/map-session/internal/geo"
	"github.com/mohammed-shakir/map-session/internal/ports"
)

const (
	opSearch         = "search"
	opBuffer         = "buffer"
	opSelectByBuffer = "select_by_buffer"
)

// Search selects every feature of layer whose field contains keyword. The
// layer's previous selection is cleared first; zero matches is an Empty
// outcome that leaves the view where it was.
func (s *Session) Search(ctx context.Context, layer, field, keyword string) Outcome {
	l, ok := s.layer(layer)
	if !ok {
		return s.finish(ctx, precondition(opSearch, "no layer named %q", layer), nil)
	}
	fd, ok := l.Dataset.Field(field)
	if !ok {
		return s.finish(ctx, precondition(opSearch, "layer %q has no field %q", l.Name, field), nil)
	}

	s.registry.ClearSelection(l.Name)

	start := time.Now()
	ids, err := s.store.SearchAttribute(ctx, l.Dataset, fd.Name, ports.AttributePredicate{
		Op:       ports.OpContains,
		Value:    keyword,
		FoldCase: s.cfg.FoldCase,
	})
	observePort("store", "search_attribute", start)
	if err != nil {
		o := engineFailure(opSearch, err, "search on %q failed", l.Name)
		o.Layer = l.Name
		return s.finish(ctx, o, nil)
	}
	return s.selectIDs(ctx, opSearch, l, ids, true, nil)
}

// spatialSelect replaces the selection of l with the features intersecting g.
func (s *Session) spatialSelect(ctx context.Context, op string, l *Layer, g orb.Geometry, zoom bool, at *orb.Point) Outcome {
	s.registry.ClearSelection(l.Name)

	start := time.Now()
	ids, err := s.store.SearchSpatial(ctx, l.Dataset, g, ports.Intersects)
	observePort("store", "search_spatial", start)
	if err != nil {
		o := engineFailure(op, err, "spatial search on %q failed", l.Name)
		o.Layer = l.Name
		return s.finish(ctx, o, at)
	}
	return s.selectIDs(ctx, op, l, ids, zoom, at)
}

func (s *Session) selectIDs(ctx context.Context, op string, l *Layer, ids []geo.FeatureID, zoom bool, at *orb.Point) Outcome {
	if len(ids) == 0 {
		o := empty(op, "no features selected on %q", l.Name)
		o.Layer = l.Name
		return s.finish(ctx, o, at)
	}
	feats, err := s.features(ctx, l.Dataset, ids)
	if err != nil {
		o := engineFailure(op, err, "reading selected features on %q failed", l.Name)
		o.Layer = l.Name
		return s.finish(ctx, o, at)
	}

	var extent *orb.Bound
	if zoom {
		geoms := make([]orb.Geometry, 0, len(feats))
		for _, f := range feats {
			geoms = append(geoms, f.Geometry)
		}
		b := geo.Expand(s.topo.UnionEnvelope(geoms), 1.1, s.cfg.ExtentPad)
		extent = &b
	}
	s.registry.ReplaceSelection(l.Name, feats, extent)

	o := success(op, len(ids), "%d feature(s) selected on %q", len(ids), l.Name)
	o.Layer = l.Name
	return s.finish(ctx, o, at)
}

// ComputeBuffer buffers the first selected feature of the active layer and
// stores the result as the session buffer. It runs synchronously in
// BufferPick mode. Any failure leaves the previous buffer untouched.
func (s *Session) ComputeBuffer(ctx context.Context) Outcome {
	l, ok := s.activeLayer()
	if !ok {
		return s.finish(ctx, precondition(opBuffer, "buffer needs an active layer"), nil)
	}
	sel := s.registry.Selection(l.Name)
	if len(sel) == 0 {
		o := precondition(opBuffer, "nothing is selected on %q", l.Name)
		o.Layer = l.Name
		return s.finish(ctx, o, nil)
	}
	s.disarm()
	s.setMode(ModeBufferPick)
	defer s.setMode(ModeDefault)

	src, err := s.store.Feature(ctx, l.Dataset, sel[0])
	if err != nil {
		return s.finish(ctx, engineFailure(opBuffer, err, "reading feature %d failed", sel[0]), nil)
	}

	start := time.Now()
	g, err := s.topo.Buffer(ctx, src.Geometry, s.cfg.BufferDistance)
	observePort("topology", "buffer", start)
	if err != nil {
		return s.finish(ctx, engineFailure(opBuffer, err, "buffer failed"), nil)
	}
	if geo.IsEmpty(g) {
		return s.finish(ctx, engineFailure(opBuffer, errors.New("empty geometry"), "buffer failed"), nil)
	}

	s.registry.SetBuffer(Buffer{Layer: l.Name, SourceID: src.ID, Distance: s.cfg.BufferDistance, Geometry: g})
	o := success(opBuffer, 1, "buffered feature %d of %q by %g", src.ID, l.Name, s.cfg.BufferDistance)
	o.Layer = l.Name
	o.Geometry = g
	return s.finish(ctx, o, nil)
}

// SelectByBuffer selects the features of target that intersect the session
// buffer. target may be the layer the buffer was built from.
func (s *Session) SelectByBuffer(ctx context.Context, target string) Outcome {
	b, ok := s.registry.Buffer()
	if !ok {
		return s.finish(ctx, precondition(opSelectByBuffer, "no buffer has been computed"), nil)
	}
	l, ok := s.layer(target)
	if !ok {
		return s.finish(ctx, precondition(opSelectByBuffer, "no layer named %q", target), nil)
	}
	return s.spatialSelect(ctx, opSelectByBuffer, l, b.Geometry, true, nil)
}
