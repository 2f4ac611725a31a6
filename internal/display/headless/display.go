// Package headless is a Display with no screen. It keeps the viewport, the
// overlay contents and recent notices in memory so they can be inspected
// over HTTP and in tests.
package headless

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/map-session/internal/ports"
)

const defaultNoticeLimit = 64

type Option func(*Display)

func WithLogger(l *slog.Logger) Option {
	return func(d *Display) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithNoticeLimit caps how many recent notices are kept.
func WithNoticeLimit(n int) Option {
	return func(d *Display) {
		if n > 0 {
			d.limit = n
		}
	}
}

type overlay struct {
	geoms   []orb.Geometry
	paths   []orb.LineString
	markers map[string]orb.Point
	redraws int
}

type Display struct {
	mu     sync.Mutex
	logger *slog.Logger
	width  float64
	height float64
	limit  int

	extent    orb.Bound
	overlays  map[ports.Overlay]*overlay
	renderers map[string]ports.UniqueValueRenderer
	notices   []ports.Notice
}

var _ ports.Display = (*Display)(nil)

// New returns a display of width by height screen units. Until an extent is
// set, screen and map coordinates coincide.
func New(width, height float64, opts ...Option) *Display {
	if width <= 0 {
		width = 1024
	}
	if height <= 0 {
		height = 768
	}
	d := &Display{
		logger:    slog.Default(),
		width:     width,
		height:    height,
		limit:     defaultNoticeLimit,
		extent:    orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{width, height}},
		overlays:  make(map[ports.Overlay]*overlay),
		renderers: make(map[string]ports.UniqueValueRenderer),
	}
	for _, o := range opts {
		o(d)
	}
	d.logger = d.logger.With("component", "display")
	return d
}

// ToMap converts a screen position (origin top-left, y down) to map
// coordinates in the current extent.
func (d *Display) ToMap(x, y float64) orb.Point {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.extent
	return orb.Point{
		b.Min[0] + x/d.width*(b.Max[0]-b.Min[0]),
		b.Max[1] - y/d.height*(b.Max[1]-b.Min[1]),
	}
}

// ToScreen is the inverse of ToMap.
func (d *Display) ToScreen(p orb.Point) (float64, float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.extent
	w, h := b.Max[0]-b.Min[0], b.Max[1]-b.Min[1]
	if w == 0 || h == 0 {
		return 0, 0
	}
	return (p[0] - b.Min[0]) / w * d.width, (b.Max[1] - p[1]) / h * d.height
}

// SetExtent shows b, widened on one axis to keep the viewport's aspect ratio.
func (d *Display) SetExtent(b orb.Bound) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, h := b.Max[0]-b.Min[0], b.Max[1]-b.Min[1]
	if w <= 0 || h <= 0 {
		d.logger.Warn("ignoring degenerate extent", "extent", b)
		return
	}
	aspect := d.width / d.height
	c := b.Center()
	if w/h < aspect {
		w = h * aspect
	} else {
		h = w / aspect
	}
	d.extent = orb.Bound{
		Min: orb.Point{c[0] - w/2, c[1] - h/2},
		Max: orb.Point{c[0] + w/2, c[1] + h/2},
	}
	d.logger.Debug("extent set", "min", d.extent.Min, "max", d.extent.Max)
}

func (d *Display) Redraw(o ports.Overlay) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.layer(o).redraws++
}

func (d *Display) DrawMarker(o ports.Overlay, name string, p orb.Point, _ ports.Style) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.layer(o).markers[name] = p
}

func (d *Display) DrawPath(o ports.Overlay, path orb.LineString, _ ports.Style) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ov := d.layer(o)
	ov.paths = append(ov.paths, path.Clone())
}

func (d *Display) DrawGeometry(o ports.Overlay, g orb.Geometry, _ ports.Style) {
	if g == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ov := d.layer(o)
	ov.geoms = append(ov.geoms, orb.Clone(g))
}

func (d *Display) ClearOverlay(o ports.Overlay) {
	d.mu.Lock()
	defer d.mu.Unlock()
	redraws := d.layer(o).redraws
	d.overlays[o] = &overlay{markers: map[string]orb.Point{}, redraws: redraws}
}

func (d *Display) SetRenderer(layer string, r ports.UniqueValueRenderer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.renderers[layer] = r
}

func (d *Display) Notify(n ports.Notice) {
	d.mu.Lock()
	d.notices = append(d.notices, n)
	if len(d.notices) > d.limit {
		d.notices = append(d.notices[:0:0], d.notices[len(d.notices)-d.limit:]...)
	}
	d.mu.Unlock()

	attrs := []any{"op", n.Op, "outcome", n.Kind, "count", n.Count}
	switch n.Kind {
	case "precondition_failed", "engine_failure", "no_route_found":
		d.logger.Warn(n.Message, attrs...)
	default:
		d.logger.Info(n.Message, attrs...)
	}
}

func (d *Display) layer(o ports.Overlay) *overlay {
	ov, ok := d.overlays[o]
	if !ok {
		ov = &overlay{markers: map[string]orb.Point{}}
		d.overlays[o] = ov
	}
	return ov
}

type OverlayState struct {
	Geometries int                  `json:"geometries"`
	Paths      []orb.LineString     `json:"paths,omitempty"`
	Markers    map[string]orb.Point `json:"markers,omitempty"`
	Redraws    int                  `json:"redraws"`
}

type RendererState struct {
	Field   string            `json:"field"`
	Classes map[string]string `json:"classes"`
}

// State is a copy of what the display currently shows.
type State struct {
	Width     float64                  `json:"width"`
	Height    float64                  `json:"height"`
	Extent    orb.Bound                `json:"extent"`
	Overlays  map[string]OverlayState  `json:"overlays"`
	Renderers map[string]RendererState `json:"renderers,omitempty"`
	Notices   []ports.Notice           `json:"notices"`
}

func (d *Display) Snapshot() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := State{
		Width:     d.width,
		Height:    d.height,
		Extent:    d.extent,
		Overlays:  make(map[string]OverlayState, len(d.overlays)),
		Renderers: make(map[string]RendererState, len(d.renderers)),
		Notices:   append([]ports.Notice(nil), d.notices...),
	}
	for o, ov := range d.overlays {
		s := OverlayState{Geometries: len(ov.geoms), Redraws: ov.redraws}
		if len(ov.paths) > 0 {
			s.Paths = append([]orb.LineString(nil), ov.paths...)
		}
		if len(ov.markers) > 0 {
			s.Markers = make(map[string]orb.Point, len(ov.markers))
			for k, v := range ov.markers {
				s.Markers[k] = v
			}
		}
		st.Overlays[o.String()] = s
	}
	for name, r := range d.renderers {
		rs := RendererState{Field: r.Field, Classes: make(map[string]string, len(r.Classes))}
		for _, c := range r.Classes {
			rs.Classes[c.Value] = fmt.Sprintf("#%02x%02x%02x", c.Color.R, c.Color.G, c.Color.B)
		}
		st.Renderers[name] = rs
	}
	return st
}

// LastNotice returns the most recent notice, if any.
func (d *Display) LastNotice() (ports.Notice, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.notices) == 0 {
		return ports.Notice{}, false
	}
	return d.notices[len(d.notices)-1], true
}

// Geometries returns the geometries drawn on o in draw order.
func (d *Display) Geometries(o ports.Overlay) []orb.Geometry {
	d.mu.Lock()
	defer d.mu.Unlock()
	ov, ok := d.overlays[o]
	if !ok {
		return nil
	}
	return append([]orb.Geometry(nil), ov.geoms...)
}

// Markers returns the marker names on o, sorted.
func (d *Display) Markers(o ports.Overlay) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ov, ok := d.overlays[o]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(ov.markers))
	for k := range ov.markers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
