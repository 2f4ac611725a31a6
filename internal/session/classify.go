package session

import (
	"context"
	"image/color"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/map-session/internal/geo"
	"github.com/mohammed-shakir/map-session/internal/ports"
)

const opClassify = "classify"

// Classify gives every distinct value of field on layer its own colour and
// pushes the renderer to the display. Null values get no class.
func (s *Session) Classify(ctx context.Context, layer, field string) Outcome {
	l, ok := s.layer(layer)
	if !ok {
		return s.finish(ctx, precondition(opClassify, "no layer named %q", layer), nil)
	}
	fd, ok := l.Dataset.Field(field)
	if !ok {
		o := precondition(opClassify, "layer %q has no field %q", l.Name, field)
		o.Layer = l.Name
		return s.finish(ctx, o, nil)
	}

	seen := map[string]struct{}{}
	start := time.Now()
	err := s.store.Scan(ctx, l.Dataset, func(f geo.Feature) error {
		v, ok := f.Fields[fd.Name]
		if !ok || v.IsNull() {
			return nil
		}
		seen[v.Text()] = struct{}{}
		return nil
	})
	observePort("store", "scan", start)
	if err != nil {
		o := engineFailure(opClassify, err, "reading %q failed", l.Name)
		o.Layer = l.Name
		return s.finish(ctx, o, nil)
	}
	if len(seen) == 0 {
		o := empty(opClassify, "field %q on %q has no values", fd.Name, l.Name)
		o.Layer = l.Name
		return s.finish(ctx, o, nil)
	}

	values := make([]string, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	sort.Strings(values)

	r := ports.UniqueValueRenderer{Field: fd.Name, Classes: make([]ports.ValueClass, 0, len(values))}
	for _, v := range values {
		r.Classes = append(r.Classes, ports.ValueClass{Value: v, Label: v, Color: classColor(v)})
	}
	s.display.SetRenderer(l.Name, r)
	s.display.Redraw(ports.OverlayGeography)

	o := success(opClassify, len(values), "%q on %q classified into %d value(s)", fd.Name, l.Name, len(values))
	o.Layer = l.Name
	return s.finish(ctx, o, nil)
}

// classColor derives a stable opaque colour from the value text.
func classColor(v string) color.RGBA {
	h := xxhash.Sum64String(v)
	return color.RGBA{R: uint8(h >> 16), G: uint8(h >> 8), B: uint8(h), A: 255}
}
