package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/map-session/internal/geo"
	"github.com/mohammed-shakir/map-session/internal/ports"
)

const (
	opAddLayer       = "add_layer"
	opRemoveLayer    = "remove_layer"
	opSetVisible     = "set_visible"
	opSetActive      = "set_active_layer"
	opEditAttributes = "edit_attributes"
	opDeleteSelected = "delete_selected"
	opExport         = "export"
	opClose          = "close"
)

// AddLayer opens path in the store and puts it on top of the layer stack.
// The first layer becomes active and the view is fitted to it.
func (s *Session) AddLayer(ctx context.Context, path string) Outcome {
	path = strings.TrimSpace(path)
	if path == "" {
		return s.finish(ctx, precondition(opAddLayer, "empty layer path"), nil)
	}

	start := time.Now()
	ds, err := s.store.Open(ctx, path)
	observePort("store", "open", start)
	if err != nil {
		return s.finish(ctx, engineFailure(opAddLayer, err, "cannot open %q", path), nil)
	}
	extent, count, err := s.datasetExtent(ctx, ds)
	if err != nil {
		return s.finish(ctx, engineFailure(opAddLayer, err, "cannot read %q", path), nil)
	}

	l := &Layer{Name: s.uniqueName(ds.Name), Path: path, Dataset: ds, Visible: true}
	s.layers = append(s.layers, l)
	if s.active == "" {
		s.active = l.Name
		if count > 0 {
			s.display.SetExtent(geo.Expand(extent, 1, s.cfg.ExtentPad))
		}
	}
	s.display.Redraw(ports.OverlayGeography)

	o := success(opAddLayer, count, "added %s layer %q with %d feature(s)", ds.Kind, l.Name, count)
	o.Layer = l.Name
	return s.finish(ctx, o, nil)
}

// OpenStartup adds every path and fits the view to the full extent of the
// layers that opened. A path that fails is reported on its own and does not
// stop the rest.
func (s *Session) OpenStartup(ctx context.Context, paths []string) []Outcome {
	out := make([]Outcome, 0, len(paths))
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		out = append(out, s.AddLayer(ctx, p))
	}
	if b, ok := s.fullExtent(ctx); ok {
		s.display.SetExtent(geo.Expand(b, 1, s.cfg.ExtentPad))
	}
	return out
}

func (s *Session) RemoveLayer(ctx context.Context, name string) Outcome {
	idx := -1
	for i, l := range s.layers {
		if l.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return s.finish(ctx, precondition(opRemoveLayer, "no layer named %q", name), nil)
	}
	if s.active == name {
		s.disarm()
		s.active = ""
	}
	s.layers = append(s.layers[:idx], s.layers[idx+1:]...)
	s.registry.ForgetLayer(name)
	s.display.Redraw(ports.OverlayGeography)

	o := success(opRemoveLayer, 0, "removed layer %q", name)
	o.Layer = name
	return s.finish(ctx, o, nil)
}

func (s *Session) SetVisible(ctx context.Context, name string, visible bool) Outcome {
	l, ok := s.layer(name)
	if !ok {
		return s.finish(ctx, precondition(opSetVisible, "no layer named %q", name), nil)
	}
	l.Visible = visible
	s.display.Redraw(ports.OverlayGeography)
	o := success(opSetVisible, 0, "layer %q visible=%t", name, visible)
	o.Layer = name
	return s.finish(ctx, o, nil)
}

// SetActiveLayer changes the layer that box select, buffer and add point
// work on. An incomplete mode is disarmed.
func (s *Session) SetActiveLayer(ctx context.Context, name string) Outcome {
	l, ok := s.layer(name)
	if !ok {
		return s.finish(ctx, precondition(opSetActive, "no layer named %q", name), nil)
	}
	if s.active != l.Name {
		s.disarm()
		s.active = l.Name
	}
	o := success(opSetActive, 0, "active layer is %q", l.Name)
	o.Layer = l.Name
	return s.finish(ctx, o, nil)
}

type LayerInfo struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	Visible  bool   `json:"visible"`
	Active   bool   `json:"active"`
	Selected int    `json:"selected"`
}

// Layers lists the layer stack from top to bottom.
func (s *Session) Layers() []LayerInfo {
	out := make([]LayerInfo, 0, len(s.layers))
	for i := len(s.layers) - 1; i >= 0; i-- {
		l := s.layers[i]
		out = append(out, LayerInfo{
			Name:     l.Name,
			Path:     l.Path,
			Kind:     l.Dataset.Kind.String(),
			Visible:  l.Visible,
			Active:   l.Name == s.active,
			Selected: len(s.registry.Selection(l.Name)),
		})
	}
	return out
}

// EditAttributes writes raw text values onto one feature in a single edit
// transaction. Values are converted to each field's type before the edit is
// opened, so a bad value changes nothing.
func (s *Session) EditAttributes(ctx context.Context, layer string, id geo.FeatureID, raw map[string]string) Outcome {
	l, ok := s.layer(layer)
	if !ok {
		return s.finish(ctx, precondition(opEditAttributes, "no layer named %q", layer), nil)
	}
	if len(raw) == 0 {
		return s.finish(ctx, precondition(opEditAttributes, "no values to write"), nil)
	}
	values := make(map[string]geo.Value, len(raw))
	for name, text := range raw {
		fd, ok := l.Dataset.Field(name)
		if !ok {
			return s.finish(ctx, precondition(opEditAttributes, "layer %q has no field %q", l.Name, name), nil)
		}
		v, err := geo.Coerce(fd.Type, text)
		if err != nil {
			return s.finish(ctx, precondition(opEditAttributes, "field %q: %v", fd.Name, err), nil)
		}
		values[fd.Name] = v
	}

	err := s.inEdit(ctx, l, func(ed ports.EditSession) error {
		names := make([]string, 0, len(values))
		for n := range values {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			if err := ed.SetField(ctx, id, n, values[n]); err != nil {
				return fmt.Errorf("set %q: %w", n, err)
			}
		}
		return nil
	})
	if err != nil {
		o := engineFailure(opEditAttributes, err, "editing feature %d on %q failed", id, l.Name)
		o.Layer = l.Name
		return s.finish(ctx, o, nil)
	}
	s.display.Redraw(ports.OverlayGeography)
	o := success(opEditAttributes, len(values), "updated %d field(s) on feature %d", len(values), id)
	o.Layer = l.Name
	return s.finish(ctx, o, nil)
}

// DeleteSelected deletes the layer's selected features in one transaction
// and clears the selection.
func (s *Session) DeleteSelected(ctx context.Context, layer string) Outcome {
	l, ok := s.layer(layer)
	if !ok {
		return s.finish(ctx, precondition(opDeleteSelected, "no layer named %q", layer), nil)
	}
	ids := s.registry.Selection(l.Name)
	if len(ids) == 0 {
		o := precondition(opDeleteSelected, "nothing is selected on %q", l.Name)
		o.Layer = l.Name
		return s.finish(ctx, o, nil)
	}
	err := s.inEdit(ctx, l, func(ed ports.EditSession) error {
		for _, id := range ids {
			if err := ed.DeleteFeature(ctx, id); err != nil {
				return fmt.Errorf("delete %d: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		o := engineFailure(opDeleteSelected, err, "deleting from %q failed", l.Name)
		o.Layer = l.Name
		return s.finish(ctx, o, nil)
	}
	s.registry.ClearSelection(l.Name)
	s.display.Redraw(ports.OverlayGeography)
	o := success(opDeleteSelected, len(ids), "deleted %d feature(s) from %q", len(ids), l.Name)
	o.Layer = l.Name
	return s.finish(ctx, o, nil)
}

// inEdit runs fn inside one edit transaction, committing on success and
// aborting on any error.
func (s *Session) inEdit(ctx context.Context, l *Layer, fn func(ports.EditSession) error) error {
	start := time.Now()
	ed, err := s.store.BeginEdit(ctx, l.Dataset)
	observePort("store", "begin_edit", start)
	if err != nil {
		return err
	}
	if err := fn(ed); err != nil {
		if aerr := ed.Abort(context.WithoutCancel(ctx)); aerr != nil {
			s.logger.Error("abort edit", "layer", l.Name, "err", aerr)
		}
		return err
	}
	start = time.Now()
	err = ed.Commit(ctx)
	observePort("store", "commit", start)
	if err != nil {
		if aerr := ed.Abort(context.WithoutCancel(ctx)); aerr != nil {
			s.logger.Error("abort edit", "layer", l.Name, "err", aerr)
		}
		return err
	}
	return nil
}

// ExportView hands the current view to the exporter.
func (s *Session) ExportView(ctx context.Context, path string) Outcome {
	if s.exporter == nil {
		return s.finish(ctx, precondition(opExport, "no exporter configured"), nil)
	}
	if strings.TrimSpace(path) == "" {
		return s.finish(ctx, precondition(opExport, "empty export path"), nil)
	}
	v, err := s.view(ctx)
	if err != nil {
		return s.finish(ctx, engineFailure(opExport, err, "collecting the view failed"), nil)
	}

	start := time.Now()
	err = s.exporter.Export(ctx, v, path)
	observePort("exporter", "export", start)
	if err != nil {
		return s.finish(ctx, engineFailure(opExport, err, "export to %q failed", path), nil)
	}
	return s.finish(ctx, success(opExport, len(v.Layers), "exported %d layer(s) to %s", len(v.Layers), path), nil)
}

func (s *Session) view(ctx context.Context) (ports.View, error) {
	v := ports.View{Markers: map[string]orb.Point{}}
	if s.display.hasExtent {
		v.Extent = s.display.extent
	} else if b, ok := s.fullExtent(ctx); ok {
		v.Extent = b
	}
	for _, l := range s.layers {
		if !l.Visible {
			continue
		}
		feats, err := s.features(ctx, l.Dataset, s.registry.Selection(l.Name))
		if err != nil {
			return ports.View{}, err
		}
		v.Layers = append(v.Layers, ports.ViewLayer{Name: l.Name, Dataset: l.Dataset, Selected: feats})
	}
	if b, ok := s.registry.Buffer(); ok {
		v.Buffer = b.Geometry
	}
	v.RoutePath = s.path
	if s.route.Origin != nil {
		v.Markers[originMarker] = *s.route.Origin
	}
	if s.route.Destination != nil {
		v.Markers[destinationMarker] = *s.route.Destination
	}
	return v, nil
}

// Close tears the session down to its initial empty state.
func (s *Session) Close(ctx context.Context) Outcome {
	s.disarm()
	s.registry.Reset()
	s.path = nil
	s.display.ClearOverlay(ports.OverlayRoute)
	s.display.Redraw(ports.OverlayRoute)
	n := len(s.layers)
	s.layers = nil
	s.active = ""
	s.display.Redraw(ports.OverlayGeography)
	return s.finish(ctx, success(opClose, n, "session closed; %d layer(s) released", n), nil)
}

// State is a read-only picture of the session for status surfaces.
type State struct {
	Mode        string      `json:"mode"`
	ActiveLayer string      `json:"active_layer,omitempty"`
	Layers      []LayerInfo `json:"layers"`
	Route       string      `json:"route"`
	Origin      *orb.Point  `json:"origin,omitempty"`
	Destination *orb.Point  `json:"destination,omitempty"`
	HasBuffer   bool        `json:"has_buffer"`
	HasPath     bool        `json:"has_path"`
	Extent      *orb.Bound  `json:"extent,omitempty"`
}

func (s *Session) Snapshot() State {
	st := State{
		Mode:        s.mode.String(),
		ActiveLayer: s.active,
		Layers:      s.Layers(),
		Route:       s.route.State.String(),
		Origin:      s.route.Origin,
		Destination: s.route.Destination,
		HasPath:     len(s.path) > 0,
	}
	_, st.HasBuffer = s.registry.Buffer()
	if s.display.hasExtent {
		b := s.display.extent
		st.Extent = &b
	}
	return st
}

func (s *Session) uniqueName(base string) string {
	if base == "" {
		base = "layer"
	}
	name := base
	for i := 2; ; i++ {
		if _, taken := s.layer(name); !taken {
			return name
		}
		name = fmt.Sprintf("%s #%d", base, i)
	}
}

// datasetExtent scans ds once for its envelope and feature count.
func (s *Session) datasetExtent(ctx context.Context, ds geo.Dataset) (orb.Bound, int, error) {
	defer observePort("store", "scan", time.Now())
	var geoms []orb.Geometry
	err := s.store.Scan(ctx, ds, func(f geo.Feature) error {
		geoms = append(geoms, f.Geometry)
		return nil
	})
	if err != nil {
		return orb.Bound{}, 0, err
	}
	if len(geoms) == 0 {
		return orb.Bound{}, 0, nil
	}
	return s.topo.UnionEnvelope(geoms), len(geoms), nil
}

func (s *Session) fullExtent(ctx context.Context) (orb.Bound, bool) {
	var all orb.Bound
	found := false
	for _, l := range s.layers {
		b, n, err := s.datasetExtent(ctx, l.Dataset)
		if err != nil || n == 0 {
			continue
		}
		if !found {
			all, found = b, true
			continue
		}
		all = all.Union(b)
	}
	return all, found
}
