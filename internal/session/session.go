// Package session is the interactive map session controller. It owns the
// interaction mode, the selection registry and the route request, turns
// pointer events and commands into calls on the store, topology and routing
// ports, and reports exactly one outcome per operation to the display.
//
// A Session is not safe for concurrent use; callers serialize access through
// a single event loop.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/map-session/internal/core/observability"
	"github.com/mohammed-shakir/map-session/internal/geo"
	"github.com/mohammed-shakir/map-session/internal/ports"
)

type Config struct {
	SessionID string
	// BufferDistance is in units of the source dataset's reference system.
	BufferDistance float64
	// RouteFitFactor scales the route path extent on each axis before the
	// view is fitted to it.
	RouteFitFactor float64
	// IdentifyTolerance is the half-width, in map units, of the square
	// searched around an identify click.
	IdentifyTolerance float64
	// FoldCase makes attribute search case-insensitive.
	FoldCase bool
	// ExtentPad is the half-size, in map units, given to a zoom target with
	// no width or height, such as a single selected point.
	ExtentPad float64
}

func DefaultConfig() Config {
	return Config{
		BufferDistance:    500,
		RouteFitFactor:    1.2,
		IdentifyTolerance: 1,
		FoldCase:          true,
		ExtentPad:         50,
	}
}

// Deps are the ports a session drives. Router, Form, Exporter and Journal
// may be nil; the operations needing them then fail their precondition.
type Deps struct {
	Store    ports.FeatureStore
	Topology ports.Topology
	Router   ports.Router
	Display  ports.Display
	Form     ports.Form
	Exporter ports.Exporter
	Journal  ports.Journal
	Logger   *slog.Logger
}

type Layer struct {
	Name    string
	Path    string
	Dataset geo.Dataset
	Visible bool
}

type Session struct {
	cfg      Config
	store    ports.FeatureStore
	topo     ports.Topology
	router   ports.Router
	display  *trackingDisplay
	form     ports.Form
	exporter ports.Exporter
	journal  ports.Journal
	logger   *slog.Logger
	now      func() time.Time

	layers   []*Layer // bottom to top
	active   string
	registry *Registry
	mode     Mode
	route    RouteRequest
	path     orb.LineString

	// screen position of the last left press, for click/drag detection
	down *[2]float64
	// map position where a box-select drag started
	boxStart *orb.Point
}

func New(deps Deps, cfg Config) *Session {
	def := DefaultConfig()
	if cfg.BufferDistance <= 0 {
		cfg.BufferDistance = def.BufferDistance
	}
	if cfg.RouteFitFactor <= 0 {
		cfg.RouteFitFactor = def.RouteFitFactor
	}
	if cfg.ExtentPad <= 0 {
		cfg.ExtentPad = def.ExtentPad
	}
	if cfg.IdentifyTolerance < 0 {
		cfg.IdentifyTolerance = 0
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &trackingDisplay{Display: deps.Display}
	return &Session{
		cfg:      cfg,
		store:    deps.Store,
		topo:     deps.Topology,
		router:   deps.Router,
		display:  d,
		form:     deps.Form,
		exporter: deps.Exporter,
		journal:  deps.Journal,
		logger:   logger.With("component", "session"),
		now:      time.Now,
		registry: NewRegistry(d),
	}
}

func (s *Session) Mode() Mode { return s.mode }

func (s *Session) Route() RouteRequest { return s.route }

func (s *Session) Registry() *Registry { return s.registry }

func (s *Session) setMode(m Mode) {
	if s.mode != m {
		observability.ObserveModeTransition(s.mode.String(), m.String())
		s.logger.Debug("mode changed", "from", s.mode.String(), "to", m.String())
	}
	s.mode = m
	s.boxStart = nil
}

// disarm clears the effects of a mode left armed without completing and
// returns to Default.
func (s *Session) disarm() {
	if s.mode == ModeRoutePick && s.route.incomplete() {
		s.display.ClearOverlay(ports.OverlayRoute)
		s.display.Redraw(ports.OverlayRoute)
	}
	if s.route.State != RouteSolving {
		s.route.reset()
	}
	s.setMode(ModeDefault)
}

// finish reports o to the display, metrics and journal, and returns it.
func (s *Session) finish(ctx context.Context, o Outcome, at *orb.Point) Outcome {
	if o.Kind == OutcomeIgnored {
		return o
	}
	s.display.Notify(ports.Notice{Op: o.Op, Kind: o.Kind.String(), Message: o.Message, Count: o.Count})
	observability.ObserveOperation(o.Op, o.Kind.String())

	attrs := []any{"op", o.Op, "outcome", o.Kind.String(), "count", o.Count, "mode", s.mode.String()}
	if o.Err != nil {
		s.logger.WarnContext(ctx, "operation failed", append(attrs, "err", o.Err)...)
	} else {
		s.logger.InfoContext(ctx, "operation", attrs...)
	}

	if s.journal != nil {
		s.journal.Record(ctx, ports.Activity{
			SessionID: s.cfg.SessionID,
			Op:        o.Op,
			Outcome:   o.Kind.String(),
			Message:   o.Message,
			Layer:     o.Layer,
			Mode:      s.mode.String(),
			Count:     o.Count,
			Point:     at,
			At:        s.now(),
		})
	}
	return o
}

func observePort(port, op string, start time.Time) {
	observability.ObservePort(port, op, time.Since(start).Seconds())
}

func (s *Session) layer(name string) (*Layer, bool) {
	for _, l := range s.layers {
		if l.Name == name {
			return l, true
		}
	}
	return nil, false
}

func (s *Session) activeLayer() (*Layer, bool) {
	if s.active == "" {
		return nil, false
	}
	return s.layer(s.active)
}

// features fetches ids from ds, preserving order.
func (s *Session) features(ctx context.Context, ds geo.Dataset, ids []geo.FeatureID) ([]geo.Feature, error) {
	defer observePort("store", "feature", time.Now())
	out := make([]geo.Feature, 0, len(ids))
	for _, id := range ids {
		f, err := s.store.Feature(ctx, ds, id)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// trackingDisplay remembers the last extent it was asked to show so exports
// and snapshots can report it.
type trackingDisplay struct {
	ports.Display
	extent    orb.Bound
	hasExtent bool
}

func (d *trackingDisplay) SetExtent(b orb.Bound) {
	d.extent, d.hasExtent = b, true
	d.Display.SetExtent(b)
}
