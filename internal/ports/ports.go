// Package ports declares the contracts between the session controller and
// the engines it drives: feature storage, topology, routing, display and export.
package ports

import (
	"context"
	"errors"
	"image/color"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/map-session/internal/geo"
)

var (
	// ErrNoRoute is returned by Router.Solve when origin and destination are
	// not connected. Any other error is an engine failure.
	ErrNoRoute = errors.New("no route between origin and destination")

	ErrNotFound       = errors.New("not found")
	ErrEditInProgress = errors.New("edit session already open on dataset")
	ErrEditClosed     = errors.New("edit session is closed")
)

type AttributeOp int

const (
	OpContains AttributeOp = iota
	OpEquals
	// OpAny matches every feature with a non-null value in the field.
	OpAny
)

type AttributePredicate struct {
	Op       AttributeOp
	Value    string
	FoldCase bool
}

type SpatialPredicate int

const (
	Intersects SpatialPredicate = iota
)

type FeatureStore interface {
	Open(ctx context.Context, path string) (geo.Dataset, error)
	Fields(ctx context.Context, ds geo.Dataset) ([]geo.FieldDescriptor, error)
	SearchAttribute(ctx context.Context, ds geo.Dataset, field string, pred AttributePredicate) ([]geo.FeatureID, error)
	SearchSpatial(ctx context.Context, ds geo.Dataset, g orb.Geometry, pred SpatialPredicate) ([]geo.FeatureID, error)
	Feature(ctx context.Context, ds geo.Dataset, id geo.FeatureID) (geo.Feature, error)
	Scan(ctx context.Context, ds geo.Dataset, fn func(geo.Feature) error) error
	BeginEdit(ctx context.Context, ds geo.Dataset) (EditSession, error)
}

// EditSession stages writes against one dataset. Nothing is visible to
// searches until Commit; Abort discards every staged write.
type EditSession interface {
	CreateFeature(ctx context.Context, g orb.Geometry) (geo.FeatureID, error)
	SetField(ctx context.Context, id geo.FeatureID, field string, v geo.Value) error
	DeleteFeature(ctx context.Context, id geo.FeatureID) error
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
}

type Topology interface {
	Buffer(ctx context.Context, g orb.Geometry, distance float64) (orb.Geometry, error)
	Intersects(a, b orb.Geometry) bool
	UnionEnvelope(gs []orb.Geometry) orb.Bound
}

type Router interface {
	Solve(ctx context.Context, origin, destination orb.Point) (orb.LineString, error)
}

type Overlay int

const (
	OverlayGeography Overlay = iota
	OverlaySelection
	OverlayBuffer
	OverlayRoute
)

func (o Overlay) String() string {
	switch o {
	case OverlaySelection:
		return "selection"
	case OverlayBuffer:
		return "buffer"
	case OverlayRoute:
		return "route"
	default:
		return "geography"
	}
}

type Style struct {
	Stroke color.RGBA
	Fill   color.RGBA
	Width  float64
	Size   float64
}

// UniqueValueRenderer colours a layer by the distinct values of one field.
type UniqueValueRenderer struct {
	Field   string
	Classes []ValueClass
}

type ValueClass struct {
	Value string
	Label string
	Color color.RGBA
}

// Notice is the single user-visible report an operation ends with.
type Notice struct {
	Op      string
	Kind    string
	Message string
	Count   int
}

// Display is the map surface. The controller only issues commands to it;
// it never reads rendered state back, except for coordinate conversion.
type Display interface {
	ToMap(x, y float64) orb.Point
	Redraw(o Overlay)
	SetExtent(b orb.Bound)
	DrawMarker(o Overlay, name string, p orb.Point, s Style)
	DrawPath(o Overlay, path orb.LineString, s Style)
	DrawGeometry(o Overlay, g orb.Geometry, s Style)
	ClearOverlay(o Overlay)
	SetRenderer(layer string, r UniqueValueRenderer)
	Notify(n Notice)
}

// Form collects attribute values for a new feature. ok=false means the user
// cancelled entry.
type Form interface {
	Collect(ctx context.Context, ds geo.Dataset, fields []geo.FieldDescriptor) (values map[string]geo.Value, ok bool, err error)
}

type ViewLayer struct {
	Name     string
	Dataset  geo.Dataset
	Selected []geo.Feature
}

type View struct {
	Extent    orb.Bound
	Layers    []ViewLayer
	Buffer    orb.Geometry
	RoutePath orb.LineString
	Markers   map[string]orb.Point
}

type Exporter interface {
	Export(ctx context.Context, v View, path string) error
}

// Activity is one finished session operation as seen by the journal.
type Activity struct {
	SessionID string
	Op        string
	Outcome   string
	Message   string
	Layer     string
	Mode      string
	Count     int
	// Point is the map location of the pointer event that triggered the
	// operation, if any.
	Point *orb.Point
	At    time.Time
}

// Journal receives activities. Implementations must not block the caller.
type Journal interface {
	Record(ctx context.Context, a Activity)
}
