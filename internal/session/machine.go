package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/map-session/internal/geo"
	"github.com/mohammed-shakir/map-session/internal/ports"
)

const (
	opPointer  = "pointer"
	opIdentify = "identify"
	opBox      = "box_select"
	opAddPoint = "add_point"
	opRoute    = "route"
	opArm      = "arm"
)

// HandlePointer routes one pointer event according to the current mode.
// Events while a navigation tool is engaged, and events from any button
// other than the left one, are ignored before mode dispatch.
func (s *Session) HandlePointer(ctx context.Context, ev PointerEvent) Outcome {
	if ev.Navigating || ev.Button != ButtonLeft {
		if ev.Navigating {
			s.down = nil
		}
		return ignored(opPointer)
	}

	switch ev.Action {
	case PointerDown:
		s.down = &[2]float64{ev.X, ev.Y}
		if s.mode == ModeBoxSelect {
			p := s.display.ToMap(ev.X, ev.Y)
			s.boxStart = &p
		}
		return ignored(opPointer)

	case PointerUp:
		// a release without a press of our own ends someone else's gesture
		click := s.down != nil && math.Hypot(ev.X-s.down[0], ev.Y-s.down[1]) <= ClickSlop
		s.down = nil
		p := s.display.ToMap(ev.X, ev.Y)

		switch s.mode {
		case ModeBoxSelect:
			if s.boxStart == nil {
				return ignored(opPointer)
			}
			return s.completeBox(ctx, *s.boxStart, p)
		case ModeAddPoint:
			if !click {
				return ignored(opPointer)
			}
			return s.addPoint(ctx, p)
		case ModeRoutePick:
			if !click {
				return ignored(opPointer)
			}
			return s.pickStop(ctx, p)
		default:
			if !click {
				// drags in Default belong to the display's navigation
				return ignored(opPointer)
			}
			return s.Identify(ctx, p)
		}
	}
	return ignored(opPointer)
}

// Identify reports the feature at p on the topmost visible layer that has
// one there. It never changes the selection.
func (s *Session) Identify(ctx context.Context, p orb.Point) Outcome {
	visible := 0
	var q orb.Geometry = p
	if tol := s.cfg.IdentifyTolerance; tol > 0 {
		q = orb.Bound{Min: orb.Point{p[0] - tol, p[1] - tol}, Max: orb.Point{p[0] + tol, p[1] + tol}}
	}

	for i := len(s.layers) - 1; i >= 0; i-- {
		l := s.layers[i]
		if !l.Visible {
			continue
		}
		visible++
		start := time.Now()
		ids, err := s.store.SearchSpatial(ctx, l.Dataset, q, ports.Intersects)
		observePort("store", "search_spatial", start)
		if err != nil {
			return s.finish(ctx, engineFailure(opIdentify, err, "identify on %q failed", l.Name), &p)
		}
		if len(ids) == 0 {
			continue
		}
		f, ok, err := s.pickIdentified(ctx, l, ids, p)
		if err != nil {
			return s.finish(ctx, engineFailure(opIdentify, err, "read feature on %q failed", l.Name), &p)
		}
		if !ok {
			continue
		}
		o := success(opIdentify, 1, "%s: feature %d", l.Name, f.ID)
		if name, val, ok := f.FirstText(l.Dataset.Fields); ok {
			o.Message = fmt.Sprintf("%s: %s = %s", l.Name, name, val)
		}
		o.Layer = l.Name
		o.Record = &f
		return s.finish(ctx, o, &p)
	}

	if visible == 0 {
		return s.finish(ctx, precondition(opIdentify, "no visible layer"), &p)
	}
	return s.finish(ctx, empty(opIdentify, "nothing found at %.3f, %.3f", p[0], p[1]), &p)
}

// pickIdentified chooses among the tolerance candidates of one layer. A
// feature whose geometry contains p wins over near misses. Near misses only
// count on point and line layers, where an exact hit is rare. Among equals
// the highest id wins since it was drawn last.
func (s *Session) pickIdentified(ctx context.Context, l *Layer, ids []geo.FeatureID, p orb.Point) (geo.Feature, bool, error) {
	var (
		near  geo.Feature
		found bool
	)
	for i := len(ids) - 1; i >= 0; i-- {
		start := time.Now()
		f, err := s.store.Feature(ctx, l.Dataset, ids[i])
		observePort("store", "feature", start)
		if err != nil {
			return geo.Feature{}, false, err
		}
		if s.topo.Intersects(f.Geometry, p) {
			return f, true, nil
		}
		if !found {
			near, found = f, true
		}
	}
	if found && l.Dataset.Kind != geo.KindPolygon {
		return near, true, nil
	}
	return geo.Feature{}, false, nil
}

func (s *Session) ArmBoxSelect(ctx context.Context) Outcome {
	l, ok := s.activeLayer()
	if !ok {
		return s.finish(ctx, precondition(opArm, "box select needs an active layer"), nil)
	}
	s.disarm()
	s.setMode(ModeBoxSelect)
	o := success(opArm, 0, "drag a rectangle on %q", l.Name)
	o.Layer = l.Name
	return s.finish(ctx, o, nil)
}

func (s *Session) completeBox(ctx context.Context, a, b orb.Point) Outcome {
	defer s.setMode(ModeDefault)
	l, ok := s.activeLayer()
	if !ok {
		return s.finish(ctx, precondition(opBox, "active layer went away"), &b)
	}
	rect := geo.Rect(a, b)
	return s.spatialSelect(ctx, opBox, l, rect, false, &b)
}

func (s *Session) ArmAddPoint(ctx context.Context) Outcome {
	l, ok := s.activeLayer()
	if !ok {
		return s.finish(ctx, precondition(opArm, "add point needs an active layer"), nil)
	}
	if l.Dataset.Kind != geo.KindPoint {
		return s.finish(ctx, precondition(opArm, "layer %q holds %s features, not points", l.Name, l.Dataset.Kind), nil)
	}
	s.disarm()
	s.setMode(ModeAddPoint)
	o := success(opArm, 0, "click the map to add a point to %q", l.Name)
	o.Layer = l.Name
	return s.finish(ctx, o, nil)
}

// addPoint writes one point feature inside a single edit transaction. Any
// failure or a cancelled form aborts the transaction; the mode returns to
// Default either way.
func (s *Session) addPoint(ctx context.Context, p orb.Point) Outcome {
	defer s.setMode(ModeDefault)
	l, ok := s.activeLayer()
	if !ok || l.Dataset.Kind != geo.KindPoint {
		return s.finish(ctx, precondition(opAddPoint, "no active point layer"), &p)
	}

	start := time.Now()
	ed, err := s.store.BeginEdit(ctx, l.Dataset)
	observePort("store", "begin_edit", start)
	if err != nil {
		return s.finish(ctx, engineFailure(opAddPoint, err, "cannot edit %q", l.Name), &p)
	}
	abort := func(o Outcome) Outcome {
		if aerr := ed.Abort(context.WithoutCancel(ctx)); aerr != nil {
			s.logger.Error("abort edit", "layer", l.Name, "err", aerr)
		}
		o.Layer = l.Name
		return s.finish(ctx, o, &p)
	}

	id, err := ed.CreateFeature(ctx, p)
	if err != nil {
		return abort(engineFailure(opAddPoint, err, "create feature failed"))
	}

	values := map[string]geo.Value{}
	if s.form != nil {
		var submitted bool
		values, submitted, err = s.form.Collect(ctx, l.Dataset, l.Dataset.Fields)
		if err != nil {
			return abort(engineFailure(opAddPoint, err, "attribute entry failed"))
		}
		if !submitted {
			return abort(empty(opAddPoint, "attribute entry cancelled; no point added"))
		}
	}
	for _, fd := range l.Dataset.Fields {
		v, ok := values[fd.Name]
		if !ok {
			continue
		}
		if err := ed.SetField(ctx, id, fd.Name, v); err != nil {
			return abort(engineFailure(opAddPoint, err, "set %q failed", fd.Name))
		}
	}

	start = time.Now()
	err = ed.Commit(ctx)
	observePort("store", "commit", start)
	if err != nil {
		return abort(engineFailure(opAddPoint, err, "commit failed"))
	}
	s.display.Redraw(ports.OverlayGeography)

	rec := geo.Feature{ID: id, Geometry: p, Fields: values}
	o := success(opAddPoint, 1, "added feature %d to %q", id, l.Name)
	o.Layer = l.Name
	o.Record = &rec
	o.Geometry = p
	return s.finish(ctx, o, &p)
}

// ArmRoutePick discards any previous path and stops and waits for the
// origin click.
func (s *Session) ArmRoutePick(ctx context.Context) Outcome {
	if s.route.State == RouteSolving {
		return s.finish(ctx, precondition(opArm, "a route is being solved"), nil)
	}
	if s.router == nil {
		return s.finish(ctx, precondition(opArm, "no routing network is loaded"), nil)
	}
	s.disarm()
	s.path = nil
	s.display.ClearOverlay(ports.OverlayRoute)
	s.display.Redraw(ports.OverlayRoute)
	s.route.arm()
	s.setMode(ModeRoutePick)
	return s.finish(ctx, success(opArm, 0, "click the route origin"), nil)
}

func (s *Session) pickStop(ctx context.Context, p orb.Point) Outcome {
	switch s.route.State {
	case RouteAwaitingOrigin:
		s.route.Origin = &p
		s.route.State = RouteAwaitingDestination
		s.display.DrawMarker(ports.OverlayRoute, originMarker, p, originStyle)
		s.display.Redraw(ports.OverlayRoute)
		o := success(opRoute, 0, "origin set; click the destination")
		o.Geometry = p
		return s.finish(ctx, o, &p)

	case RouteAwaitingDestination:
		s.route.Destination = &p
		s.route.State = RouteSolving
		s.display.DrawMarker(ports.OverlayRoute, destinationMarker, p, destinationStyle)
		return s.solve(ctx, *s.route.Origin, p)
	}

	// armed without a live request; start over from the origin
	s.setMode(ModeDefault)
	return s.finish(ctx, precondition(opRoute, "route request is not armed"), &p)
}

func (s *Session) solve(ctx context.Context, origin, destination orb.Point) Outcome {
	defer func() {
		s.route.reset()
		s.setMode(ModeDefault)
	}()

	start := time.Now()
	path, err := s.router.Solve(ctx, origin, destination)
	observePort("router", "solve", start)

	if err != nil {
		s.route.State = RouteFailed
		s.display.Redraw(ports.OverlayRoute)
		if errors.Is(err, ports.ErrNoRoute) {
			return s.finish(ctx, noRoute(opRoute, err), &destination)
		}
		return s.finish(ctx, engineFailure(opRoute, err, "route solve failed"), &destination)
	}
	if len(path) < 2 {
		s.route.State = RouteFailed
		s.display.Redraw(ports.OverlayRoute)
		return s.finish(ctx, engineFailure(opRoute, errors.New("empty path"), "route solve failed"), &destination)
	}

	s.route.State = RouteSolved
	s.path = path
	s.display.DrawPath(ports.OverlayRoute, path, pathStyle)
	s.display.SetExtent(geo.Expand(path.Bound(), s.cfg.RouteFitFactor, s.cfg.ExtentPad))
	s.display.Redraw(ports.OverlayRoute)

	o := success(opRoute, len(path), "route found with %d vertices", len(path))
	o.Geometry = path
	return s.finish(ctx, o, &destination)
}
