package session

import (
	"image/color"
	"sort"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/map-session/internal/core/observability"
	"github.com/mohammed-shakir/map-session/internal/geo"
	"github.com/mohammed-shakir/map-session/internal/ports"
)

var (
	selectionStyle = ports.Style{Stroke: color.RGBA{R: 0, G: 255, B: 255, A: 255}, Fill: color.RGBA{R: 0, G: 255, B: 255, A: 64}, Width: 2, Size: 8}
	bufferStyle    = ports.Style{Stroke: color.RGBA{R: 255, G: 0, B: 0, A: 255}, Fill: color.RGBA{R: 255, G: 0, B: 0, A: 48}, Width: 1}
)

// Buffer is the session's computed buffer and where it came from.
type Buffer struct {
	Layer    string
	SourceID geo.FeatureID
	Distance float64
	Geometry orb.Geometry
}

type selection struct {
	ids   []geo.FeatureID
	geoms []orb.Geometry
}

// Registry owns the per-layer selection sets and the single session buffer.
// Every mutation ends with exactly one overlay redraw and at most one
// extent change.
type Registry struct {
	display    ports.Display
	selections map[string]selection
	buffer     *Buffer
}

func NewRegistry(d ports.Display) *Registry {
	return &Registry{display: d, selections: make(map[string]selection)}
}

// ReplaceSelection swaps the layer's selection for feats. When extent is
// non-nil the view is moved to it.
func (r *Registry) ReplaceSelection(layer string, feats []geo.Feature, extent *orb.Bound) {
	sel := selection{
		ids:   make([]geo.FeatureID, 0, len(feats)),
		geoms: make([]orb.Geometry, 0, len(feats)),
	}
	for _, f := range feats {
		sel.ids = append(sel.ids, f.ID)
		sel.geoms = append(sel.geoms, f.Geometry)
	}
	if len(sel.ids) == 0 {
		delete(r.selections, layer)
	} else {
		r.selections[layer] = sel
	}
	observability.SetSelectionSize(layer, len(sel.ids))
	r.redrawSelection()
	if extent != nil {
		r.display.SetExtent(*extent)
	}
}

func (r *Registry) ClearSelection(layer string) {
	r.ReplaceSelection(layer, nil, nil)
}

// Selection returns the selected ids of layer in selection order.
func (r *Registry) Selection(layer string) []geo.FeatureID {
	sel, ok := r.selections[layer]
	if !ok {
		return nil
	}
	return append([]geo.FeatureID(nil), sel.ids...)
}

func (r *Registry) SetBuffer(b Buffer) {
	r.buffer = &b
	r.display.ClearOverlay(ports.OverlayBuffer)
	r.display.DrawGeometry(ports.OverlayBuffer, b.Geometry, bufferStyle)
	r.display.Redraw(ports.OverlayBuffer)
}

// Buffer returns the current buffer; ok is false when none was computed,
// which is distinct from a computed buffer with an empty geometry.
func (r *Registry) Buffer() (Buffer, bool) {
	if r.buffer == nil {
		return Buffer{}, false
	}
	return *r.buffer, true
}

// ForgetLayer drops the selection of a layer leaving the session.
func (r *Registry) ForgetLayer(layer string) {
	delete(r.selections, layer)
	observability.ForgetLayer(layer)
	r.redrawSelection()
}

// Reset empties every selection and the buffer.
func (r *Registry) Reset() {
	for layer := range r.selections {
		observability.ForgetLayer(layer)
	}
	r.selections = make(map[string]selection)
	r.redrawSelection()
	if r.buffer != nil {
		r.buffer = nil
		r.display.ClearOverlay(ports.OverlayBuffer)
		r.display.Redraw(ports.OverlayBuffer)
	}
}

func (r *Registry) redrawSelection() {
	r.display.ClearOverlay(ports.OverlaySelection)
	layers := make([]string, 0, len(r.selections))
	for l := range r.selections {
		layers = append(layers, l)
	}
	sort.Strings(layers)
	for _, l := range layers {
		for _, g := range r.selections[l].geoms {
			r.display.DrawGeometry(ports.OverlaySelection, g, selectionStyle)
		}
	}
	r.display.Redraw(ports.OverlaySelection)
}
