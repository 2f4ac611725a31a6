package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/map-session/internal/geo"
	"github.com/mohammed-shakir/map-session/internal/ports"
	"github.com/mohammed-shakir/map-session/internal/store/memstore"
	"github.com/mohammed-shakir/map-session/internal/topology/planar"
)

const citiesJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "id": 1, "geometry": {"type": "Point", "coordinates": [10, 10]}, "properties": {"Name": "Alder", "Pop": 1200}},
    {"type": "Feature", "id": 2, "geometry": {"type": "Point", "coordinates": [20, 10]}, "properties": {"Name": "Birch", "Pop": 800}},
    {"type": "Feature", "id": 3, "geometry": {"type": "Point", "coordinates": [90, 90]}, "properties": {"Name": "alderwood", "Pop": 50}}
  ]
}`

const roadsJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "id": 1, "geometry": {"type": "LineString", "coordinates": [[0, 0], [100, 0]]}, "properties": {"Kind": "main"}}
  ]
}`

type fakeDisplay struct {
	notices   []ports.Notice
	extents   []orb.Bound
	redraws   map[ports.Overlay]int
	geoms     map[ports.Overlay][]orb.Geometry
	markers   map[string]orb.Point
	paths     []orb.LineString
	renderers map[string]ports.UniqueValueRenderer
}

func newFakeDisplay() *fakeDisplay {
	return &fakeDisplay{
		redraws:   map[ports.Overlay]int{},
		geoms:     map[ports.Overlay][]orb.Geometry{},
		markers:   map[string]orb.Point{},
		renderers: map[string]ports.UniqueValueRenderer{},
	}
}

func (d *fakeDisplay) ToMap(x, y float64) orb.Point { return orb.Point{x, y} }
func (d *fakeDisplay) Redraw(o ports.Overlay)       { d.redraws[o]++ }
func (d *fakeDisplay) SetExtent(b orb.Bound)        { d.extents = append(d.extents, b) }
func (d *fakeDisplay) Notify(n ports.Notice)        { d.notices = append(d.notices, n) }
func (d *fakeDisplay) DrawPath(o ports.Overlay, p orb.LineString, _ ports.Style) {
	d.paths = append(d.paths, p)
}
func (d *fakeDisplay) DrawMarker(o ports.Overlay, name string, p orb.Point, _ ports.Style) {
	d.markers[name] = p
}
func (d *fakeDisplay) DrawGeometry(o ports.Overlay, g orb.Geometry, _ ports.Style) {
	d.geoms[o] = append(d.geoms[o], g)
}
func (d *fakeDisplay) ClearOverlay(o ports.Overlay) {
	delete(d.geoms, o)
	if o == ports.OverlayRoute {
		d.markers = map[string]orb.Point{}
		d.paths = nil
	}
}
func (d *fakeDisplay) SetRenderer(layer string, r ports.UniqueValueRenderer) {
	d.renderers[layer] = r
}

func (d *fakeDisplay) last() ports.Notice {
	if len(d.notices) == 0 {
		return ports.Notice{}
	}
	return d.notices[len(d.notices)-1]
}

type fakeForm struct {
	values    map[string]geo.Value
	cancelled bool
}

func (f *fakeForm) Collect(context.Context, geo.Dataset, []geo.FieldDescriptor) (map[string]geo.Value, bool, error) {
	if f.cancelled {
		return nil, false, nil
	}
	return f.values, true, nil
}

type fakeRouter struct {
	path  orb.LineString
	err   error
	calls int
}

func (r *fakeRouter) Solve(_ context.Context, o, d orb.Point) (orb.LineString, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	if r.path != nil {
		return r.path, nil
	}
	return orb.LineString{o, d}, nil
}

type fakeExporter struct {
	views []ports.View
	paths []string
}

func (e *fakeExporter) Export(_ context.Context, v ports.View, path string) error {
	e.views = append(e.views, v)
	e.paths = append(e.paths, path)
	return nil
}

type fakeJournal struct{ acts []ports.Activity }

func (j *fakeJournal) Record(_ context.Context, a ports.Activity) { j.acts = append(j.acts, a) }

type fixture struct {
	s       *Session
	d       *fakeDisplay
	store   *memstore.Store
	router  *fakeRouter
	form    *fakeForm
	exp     *fakeExporter
	journal *fakeJournal
	dir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	for name, body := range map[string]string{"cities.geojson": citiesJSON, "roads.geojson": roadsJSON} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	topo := planar.New(32)
	f := &fixture{
		d:       newFakeDisplay(),
		store:   memstore.New(nil, topo),
		router:  &fakeRouter{},
		form:    &fakeForm{values: map[string]geo.Value{"Name": geo.String("X")}},
		exp:     &fakeExporter{},
		journal: &fakeJournal{},
		dir:     dir,
	}
	cfg := DefaultConfig()
	cfg.SessionID = "test"
	cfg.BufferDistance = 15
	f.s = New(Deps{
		Store:    f.store,
		Topology: topo,
		Router:   f.router,
		Display:  f.d,
		Form:     f.form,
		Exporter: f.exp,
		Journal:  f.journal,
	}, cfg)

	ctx := context.Background()
	// cities opens first and stays active; roads is drawn on top
	if o := f.s.AddLayer(ctx, filepath.Join(dir, "cities.geojson")); o.Kind != OutcomeSuccess {
		t.Fatalf("add cities: %+v", o)
	}
	if o := f.s.AddLayer(ctx, filepath.Join(dir, "roads.geojson")); o.Kind != OutcomeSuccess {
		t.Fatalf("add roads: %+v", o)
	}
	return f
}

func (f *fixture) click(x, y float64) Outcome {
	ctx := context.Background()
	f.s.HandlePointer(ctx, PointerEvent{Action: PointerDown, Button: ButtonLeft, X: x, Y: y})
	return f.s.HandlePointer(ctx, PointerEvent{Action: PointerUp, Button: ButtonLeft, X: x, Y: y})
}

func idsEqual(a []geo.FeatureID, b ...geo.FeatureID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestAddLayer_FirstLayerActiveAndFitted(t *testing.T) {
	f := newFixture(t)
	layers := f.s.Layers()
	if len(layers) != 2 || layers[0].Name != "roads" || layers[1].Name != "cities" {
		t.Fatalf("layers top-down = %+v", layers)
	}
	if !layers[1].Active || layers[0].Active {
		t.Fatalf("cities should be active: %+v", layers)
	}
	if len(f.d.extents) != 1 {
		t.Fatalf("want one fit, got %d", len(f.d.extents))
	}
	b := f.d.extents[0]
	if !b.Contains(orb.Point{10, 10}) || !b.Contains(orb.Point{90, 90}) {
		t.Fatalf("extent %v does not cover cities", b)
	}
}

func TestAddLayer_MissingFileIsEngineFailure(t *testing.T) {
	f := newFixture(t)
	o := f.s.AddLayer(context.Background(), filepath.Join(f.dir, "nope.geojson"))
	if o.Kind != OutcomeEngineFailure || !errors.Is(o.Err, ErrEngineFailure) {
		t.Fatalf("outcome = %+v", o)
	}
	if len(f.s.Layers()) != 2 {
		t.Fatalf("failed open must not add a layer")
	}
}

func TestAddLayer_DuplicateNamesAreSuffixed(t *testing.T) {
	f := newFixture(t)
	o := f.s.AddLayer(context.Background(), filepath.Join(f.dir, "cities.geojson"))
	if o.Layer != "cities #2" {
		t.Fatalf("layer name = %q", o.Layer)
	}
}

func TestSearch_SelectsExactMatchSet(t *testing.T) {
	f := newFixture(t)
	o := f.s.Search(context.Background(), "cities", "name", "alder")
	if o.Kind != OutcomeSuccess || o.Count != 2 {
		t.Fatalf("outcome = %+v", o)
	}
	if got := f.s.Registry().Selection("cities"); !idsEqual(got, 1, 3) {
		t.Fatalf("selection = %v", got)
	}
	if len(f.d.geoms[ports.OverlaySelection]) != 2 {
		t.Fatalf("selection overlay holds %d geometries", len(f.d.geoms[ports.OverlaySelection]))
	}
	last := f.d.extents[len(f.d.extents)-1]
	if !last.Contains(orb.Point{10, 10}) || !last.Contains(orb.Point{90, 90}) {
		t.Fatalf("view %v not zoomed to selection", last)
	}
}

func TestSearch_NoMatchClearsSelectionAndKeepsView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.s.Search(ctx, "cities", "Name", "Birch")
	extents := len(f.d.extents)

	o := f.s.Search(ctx, "cities", "Name", "zzz")
	if o.Kind != OutcomeEmpty || o.Err != nil {
		t.Fatalf("outcome = %+v", o)
	}
	if got := f.s.Registry().Selection("cities"); len(got) != 0 {
		t.Fatalf("selection should be cleared, got %v", got)
	}
	if len(f.d.extents) != extents {
		t.Fatalf("view moved on empty search")
	}
}

func TestSearch_UnknownFieldIsPrecondition(t *testing.T) {
	f := newFixture(t)
	o := f.s.Search(context.Background(), "cities", "Mayor", "x")
	if o.Kind != OutcomePreconditionFailed || !errors.Is(o.Err, ErrPreconditionFailed) {
		t.Fatalf("outcome = %+v", o)
	}
}

func TestComputeBuffer_EmptySelectionLeavesBufferAlone(t *testing.T) {
	f := newFixture(t)
	o := f.s.ComputeBuffer(context.Background())
	if o.Kind != OutcomePreconditionFailed {
		t.Fatalf("outcome = %+v", o)
	}
	if _, ok := f.s.Registry().Buffer(); ok {
		t.Fatalf("buffer should not exist")
	}
	if f.s.Mode() != ModeDefault {
		t.Fatalf("mode = %v", f.s.Mode())
	}
}

func TestBufferThenSelectByBuffer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.s.Search(ctx, "cities", "Name", "Birch")

	o := f.s.ComputeBuffer(ctx)
	if o.Kind != OutcomeSuccess {
		t.Fatalf("buffer outcome = %+v", o)
	}
	b, ok := f.s.Registry().Buffer()
	if !ok || b.SourceID != 2 || b.Distance != 15 {
		t.Fatalf("buffer = %+v ok=%v", b, ok)
	}
	if f.s.Mode() != ModeDefault {
		t.Fatalf("mode after buffer = %v", f.s.Mode())
	}

	o = f.s.SelectByBuffer(ctx, "cities")
	if o.Kind != OutcomeSuccess {
		t.Fatalf("select outcome = %+v", o)
	}
	if got := f.s.Registry().Selection("cities"); !idsEqual(got, 1, 2) {
		t.Fatalf("selection = %v", got)
	}

	// a later failure keeps the old buffer
	f.s.Search(ctx, "cities", "Name", "zzz")
	if o := f.s.ComputeBuffer(ctx); o.Kind != OutcomePreconditionFailed {
		t.Fatalf("outcome = %+v", o)
	}
	if b2, ok := f.s.Registry().Buffer(); !ok || b2.SourceID != 2 {
		t.Fatalf("buffer changed: %+v", b2)
	}
}

func TestBuffer_RecomputedBufferSelectsSameSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run := func() ([]geo.FeatureID, orb.Geometry) {
		t.Helper()
		f.s.Search(ctx, "cities", "Name", "Birch")
		if o := f.s.ComputeBuffer(ctx); o.Kind != OutcomeSuccess {
			t.Fatalf("buffer = %+v", o)
		}
		b, _ := f.s.Registry().Buffer()
		if o := f.s.SelectByBuffer(ctx, "cities"); o.Kind != OutcomeSuccess {
			t.Fatalf("select = %+v", o)
		}
		return f.s.Registry().Selection("cities"), b.Geometry
	}

	first, g1 := run()
	second, g2 := run()
	if !idsEqual(second, first...) {
		t.Fatalf("selections differ: %v then %v", first, second)
	}
	if !orb.Equal(g1, g2) {
		t.Fatalf("recomputed buffer differs")
	}
}

func TestSelectByBuffer_NeedsBuffer(t *testing.T) {
	f := newFixture(t)
	if o := f.s.SelectByBuffer(context.Background(), "cities"); o.Kind != OutcomePreconditionFailed {
		t.Fatalf("outcome = %+v", o)
	}
}

func TestBoxSelect_DragSelectsWithoutZoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if o := f.s.ArmBoxSelect(ctx); o.Kind != OutcomeSuccess {
		t.Fatalf("arm = %+v", o)
	}
	extents := len(f.d.extents)
	f.s.HandlePointer(ctx, PointerEvent{Action: PointerDown, Button: ButtonLeft, X: 5, Y: 5})
	f.s.HandlePointer(ctx, PointerEvent{Action: PointerMove, Button: ButtonLeft, X: 15, Y: 12})
	o := f.s.HandlePointer(ctx, PointerEvent{Action: PointerUp, Button: ButtonLeft, X: 25, Y: 15})
	if o.Kind != OutcomeSuccess || o.Count != 2 {
		t.Fatalf("outcome = %+v", o)
	}
	if got := f.s.Registry().Selection("cities"); !idsEqual(got, 1, 2) {
		t.Fatalf("selection = %v", got)
	}
	if f.s.Mode() != ModeDefault {
		t.Fatalf("mode = %v", f.s.Mode())
	}
	if len(f.d.extents) != extents {
		t.Fatalf("box select must not move the view")
	}
}

func TestPointer_NavigationAndOtherButtonsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.s.ArmBoxSelect(ctx)
	notices := len(f.d.notices)

	for _, ev := range []PointerEvent{
		{Action: PointerDown, Button: ButtonLeft, X: 5, Y: 5, Navigating: true},
		{Action: PointerUp, Button: ButtonLeft, X: 25, Y: 15, Navigating: true},
		{Action: PointerDown, Button: ButtonRight, X: 5, Y: 5},
		{Action: PointerUp, Button: ButtonRight, X: 25, Y: 15},
	} {
		if o := f.s.HandlePointer(ctx, ev); o.Kind != OutcomeIgnored {
			t.Fatalf("event %+v gave %+v", ev, o)
		}
	}
	if len(f.d.notices) != notices {
		t.Fatalf("ignored events must not notify")
	}
	if f.s.Mode() != ModeBoxSelect {
		t.Fatalf("mode = %v", f.s.Mode())
	}
}

func TestIdentify_TopmostLayerWithHit(t *testing.T) {
	f := newFixture(t)
	o := f.click(10, 10)
	if o.Op != opIdentify || o.Kind != OutcomeSuccess || o.Layer != "cities" {
		t.Fatalf("outcome = %+v", o)
	}
	if o.Record == nil || o.Record.ID != 1 || !strings.Contains(o.Message, "Alder") {
		t.Fatalf("record = %+v message=%q", o.Record, o.Message)
	}

	o = f.click(50, 0)
	if o.Layer != "roads" || !strings.Contains(o.Message, "main") {
		t.Fatalf("outcome = %+v", o)
	}

	if o = f.click(50, 50); o.Kind != OutcomeEmpty {
		t.Fatalf("outcome = %+v", o)
	}
	if len(f.s.Registry().Selection("cities")) != 0 {
		t.Fatalf("identify must not select")
	}
}

const parcelsJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "id": 1, "geometry": {"type": "Polygon", "coordinates": [[[0, 0], [10, 0], [10, 10], [0, 10], [0, 0]]]}, "properties": {"Name": "A"}},
    {"type": "Feature", "id": 2, "geometry": {"type": "Polygon", "coordinates": [[[10, 0], [20, 0], [20, 10], [10, 10], [10, 0]]]}, "properties": {"Name": "B"}}
  ]
}`

func TestIdentify_PolygonContainingClickWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := filepath.Join(f.dir, "parcels.geojson")
	if err := os.WriteFile(path, []byte(parcelsJSON), 0o600); err != nil {
		t.Fatalf("write parcels: %v", err)
	}
	if o := f.s.AddLayer(ctx, path); o.Kind != OutcomeSuccess {
		t.Fatalf("add parcels: %+v", o)
	}

	// both squares are within tolerance of these clicks
	for _, tc := range []struct {
		at   orb.Point
		want geo.FeatureID
	}{
		{orb.Point{9.5, 5}, 1},
		{orb.Point{10.5, 5}, 2},
	} {
		o := f.s.Identify(ctx, tc.at)
		if o.Kind != OutcomeSuccess || o.Layer != "parcels" || o.Record == nil || o.Record.ID != tc.want {
			t.Fatalf("identify %v = %+v, want feature %d", tc.at, o, tc.want)
		}
	}

	// a near miss outside every polygon falls through to the layers below
	o := f.s.Identify(ctx, orb.Point{20.5, 5})
	if o.Kind != OutcomeEmpty {
		t.Fatalf("near miss = %+v", o)
	}
}

func TestIdentify_NearMissOnPointLayer(t *testing.T) {
	f := newFixture(t)
	o := f.s.Identify(context.Background(), orb.Point{10.5, 10.5})
	if o.Kind != OutcomeSuccess || o.Record == nil || o.Record.ID != 1 {
		t.Fatalf("outcome = %+v", o)
	}
}

func TestPointer_ReleaseAfterNavigationPressIsNotAClick(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	notices := len(f.d.notices)

	f.s.HandlePointer(ctx, PointerEvent{Action: PointerDown, Button: ButtonLeft, X: 10, Y: 10, Navigating: true})
	o := f.s.HandlePointer(ctx, PointerEvent{Action: PointerUp, Button: ButtonLeft, X: 10, Y: 10})
	if o.Kind != OutcomeIgnored {
		t.Fatalf("outcome = %+v", o)
	}
	if len(f.d.notices) != notices {
		t.Fatalf("navigation gesture reached identify")
	}

	// a stale press from before the navigation does not count either
	f.s.HandlePointer(ctx, PointerEvent{Action: PointerDown, Button: ButtonLeft, X: 10, Y: 10})
	f.s.HandlePointer(ctx, PointerEvent{Action: PointerMove, Button: ButtonLeft, X: 10, Y: 10, Navigating: true})
	if o := f.s.HandlePointer(ctx, PointerEvent{Action: PointerUp, Button: ButtonLeft, X: 10, Y: 10}); o.Kind != OutcomeIgnored {
		t.Fatalf("outcome after navigation = %+v", o)
	}
}

func TestIdentify_NoVisibleLayer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.s.SetVisible(ctx, "cities", false)
	f.s.SetVisible(ctx, "roads", false)
	if o := f.click(10, 10); o.Kind != OutcomePreconditionFailed {
		t.Fatalf("outcome = %+v", o)
	}
}

func TestAddPointThenIdentify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if o := f.s.ArmAddPoint(ctx); o.Kind != OutcomeSuccess {
		t.Fatalf("arm = %+v", o)
	}
	o := f.click(50, 50)
	if o.Kind != OutcomeSuccess || o.Record == nil {
		t.Fatalf("add = %+v", o)
	}
	if f.s.Mode() != ModeDefault {
		t.Fatalf("mode = %v", f.s.Mode())
	}

	o = f.s.Identify(ctx, orb.Point{50, 50})
	if o.Kind != OutcomeSuccess || o.Record == nil {
		t.Fatalf("identify = %+v", o)
	}
	if v := o.Record.Fields["Name"]; v.Text() != "X" {
		t.Fatalf("Name = %q", v.Text())
	}
}

func TestAddPoint_CancelledFormAddsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.form.cancelled = true
	f.s.ArmAddPoint(ctx)
	if o := f.click(50, 50); o.Kind != OutcomeEmpty {
		t.Fatalf("outcome = %+v", o)
	}
	if o := f.s.Identify(ctx, orb.Point{50, 50}); o.Kind != OutcomeEmpty {
		t.Fatalf("point was written: %+v", o)
	}
	// the edit was released
	f.form.cancelled = false
	f.s.ArmAddPoint(ctx)
	if o := f.click(60, 60); o.Kind != OutcomeSuccess {
		t.Fatalf("second add = %+v", o)
	}
}

func TestArmAddPoint_NeedsPointLayer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.s.SetActiveLayer(ctx, "roads")
	if o := f.s.ArmAddPoint(ctx); o.Kind != OutcomePreconditionFailed {
		t.Fatalf("outcome = %+v", o)
	}
	if f.s.Mode() != ModeDefault {
		t.Fatalf("mode = %v", f.s.Mode())
	}
}

func TestRoute_FirstClickAwaitsDestination(t *testing.T) {
	f := newFixture(t)
	f.s.ArmRoutePick(context.Background())
	o := f.click(0, 0)
	if o.Op != opRoute || o.Kind != OutcomeSuccess {
		t.Fatalf("outcome = %+v", o)
	}
	if st := f.s.Route().State; st != RouteAwaitingDestination {
		t.Fatalf("state = %v", st)
	}
	if len(f.d.markers) != 1 {
		t.Fatalf("markers = %v", f.d.markers)
	}
	if _, ok := f.d.markers[originMarker]; !ok {
		t.Fatalf("origin marker missing")
	}
}

func TestRoute_SolvedPathIsDrawnAndFitted(t *testing.T) {
	f := newFixture(t)
	f.router.path = orb.LineString{{0, 0}, {50, 0}, {100, 0}}
	f.s.ArmRoutePick(context.Background())
	f.click(0, 0)
	o := f.click(100, 0)
	if o.Kind != OutcomeSuccess || o.Count != 3 {
		t.Fatalf("outcome = %+v", o)
	}
	if f.s.Mode() != ModeDefault || f.s.Route().State != RouteIdle {
		t.Fatalf("mode=%v route=%v", f.s.Mode(), f.s.Route().State)
	}
	if len(f.d.paths) != 1 || len(f.d.markers) != 2 {
		t.Fatalf("paths=%d markers=%d", len(f.d.paths), len(f.d.markers))
	}
	want := geo.Expand(f.router.path.Bound(), 1.2, 50)
	if got := f.d.extents[len(f.d.extents)-1]; got != want {
		t.Fatalf("extent = %v, want %v", got, want)
	}
}

func TestRoute_ResolvingReplacesPriorPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.s.ArmRoutePick(ctx)
	f.click(0, 0)
	f.click(100, 0)

	f.router.path = orb.LineString{{10, 10}, {20, 10}}
	if o := f.s.ArmRoutePick(ctx); o.Kind != OutcomeSuccess {
		t.Fatalf("re-arm = %+v", o)
	}
	if len(f.d.paths) != 0 || len(f.d.markers) != 0 {
		t.Fatalf("re-arm left paths=%d markers=%d", len(f.d.paths), len(f.d.markers))
	}
	f.click(10, 10)
	if o := f.click(20, 10); o.Kind != OutcomeSuccess {
		t.Fatalf("second solve = %+v", o)
	}
	if len(f.d.paths) != 1 || !orb.Equal(f.d.paths[0], f.router.path) {
		t.Fatalf("route overlay paths = %v", f.d.paths)
	}
	if len(f.d.markers) != 2 || f.d.markers[originMarker] != (orb.Point{10, 10}) {
		t.Fatalf("markers = %v", f.d.markers)
	}
}

func TestRoute_NoRouteAndEngineFailureDiffer(t *testing.T) {
	for _, tc := range []struct {
		err  error
		kind OutcomeKind
		is   error
	}{
		{fmt.Errorf("solve: %w", ports.ErrNoRoute), OutcomeNoRouteFound, ErrNoRouteFound},
		{errors.New("graph corrupt"), OutcomeEngineFailure, ErrEngineFailure},
	} {
		f := newFixture(t)
		f.router.err = tc.err
		f.s.ArmRoutePick(context.Background())
		f.click(0, 0)
		o := f.click(100, 0)
		if o.Kind != tc.kind || !errors.Is(o.Err, tc.is) {
			t.Fatalf("err %v: outcome = %+v", tc.err, o)
		}
		if f.s.Mode() != ModeDefault || len(f.d.paths) != 0 {
			t.Fatalf("mode=%v paths=%d", f.s.Mode(), len(f.d.paths))
		}
	}
}

func TestArmBoxSelect_DiscardsHalfRoute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.s.ArmRoutePick(ctx)
	f.click(0, 0)

	if o := f.s.ArmBoxSelect(ctx); o.Kind != OutcomeSuccess {
		t.Fatalf("arm = %+v", o)
	}
	if f.s.Mode() != ModeBoxSelect {
		t.Fatalf("mode = %v", f.s.Mode())
	}
	if r := f.s.Route(); r.State != RouteIdle || r.Origin != nil {
		t.Fatalf("route = %+v", r)
	}
	if len(f.d.markers) != 0 {
		t.Fatalf("origin marker left on screen")
	}
	if f.router.calls != 0 {
		t.Fatalf("router called")
	}
}

func TestArmRoutePick_NoRouter(t *testing.T) {
	f := newFixture(t)
	f.s.router = nil
	if o := f.s.ArmRoutePick(context.Background()); o.Kind != OutcomePreconditionFailed {
		t.Fatalf("outcome = %+v", o)
	}
}

func TestEveryOperationNotifiesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ops := []func() Outcome{
		func() Outcome { return f.s.Search(ctx, "cities", "Name", "Birch") },
		func() Outcome { return f.s.ComputeBuffer(ctx) },
		func() Outcome { return f.s.SelectByBuffer(ctx, "cities") },
		func() Outcome { return f.s.Search(ctx, "cities", "Name", "zzz") },
		func() Outcome { return f.s.ComputeBuffer(ctx) },
		func() Outcome { return f.s.Classify(ctx, "cities", "Name") },
		func() Outcome { return f.s.ArmBoxSelect(ctx) },
		func() Outcome { return f.s.Identify(ctx, orb.Point{10, 10}) },
		func() Outcome { return f.s.ExportView(ctx, filepath.Join(f.dir, "out.geojson")) },
	}
	for i, op := range ops {
		before := len(f.d.notices)
		o := op()
		if len(f.d.notices) != before+1 {
			t.Fatalf("op %d (%s) notified %d times", i, o.Op, len(f.d.notices)-before)
		}
		if n := f.d.last(); n.Op != o.Op || n.Kind != o.Kind.String() {
			t.Fatalf("op %d notice %+v does not match outcome %+v", i, n, o)
		}
	}
	if len(f.journal.acts) != len(f.d.notices) {
		t.Fatalf("journal has %d activities for %d notices", len(f.journal.acts), len(f.d.notices))
	}
}

func TestJournal_PointerOpsCarryLocation(t *testing.T) {
	f := newFixture(t)
	f.click(10, 10)
	a := f.journal.acts[len(f.journal.acts)-1]
	if a.Op != opIdentify || a.Point == nil || *a.Point != (orb.Point{10, 10}) || a.SessionID != "test" {
		t.Fatalf("activity = %+v", a)
	}
}

func TestClassify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.s.Classify(ctx, "cities", "Name")
	if o.Kind != OutcomeSuccess || o.Count != 3 {
		t.Fatalf("outcome = %+v", o)
	}
	r := f.d.renderers["cities"]
	if r.Field != "Name" || len(r.Classes) != 3 || r.Classes[0].Value != "Alder" {
		t.Fatalf("renderer = %+v", r)
	}
	if r.Classes[0].Color != classColor("Alder") || r.Classes[0].Color == r.Classes[1].Color {
		t.Fatalf("colours not stable/distinct: %+v", r.Classes)
	}
	if o := f.s.Classify(ctx, "cities", "Mayor"); o.Kind != OutcomePreconditionFailed {
		t.Fatalf("outcome = %+v", o)
	}
}

func TestEditAttributes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if o := f.s.EditAttributes(ctx, "cities", 2, map[string]string{"Pop": "lots"}); o.Kind != OutcomePreconditionFailed {
		t.Fatalf("outcome = %+v", o)
	}
	if o := f.s.EditAttributes(ctx, "cities", 2, map[string]string{"Pop": "900", "Name": "Birchwood"}); o.Kind != OutcomeSuccess {
		t.Fatalf("outcome = %+v", o)
	}
	l, _ := f.s.layer("cities")
	feat, err := f.store.Feature(ctx, l.Dataset, 2)
	if err != nil {
		t.Fatalf("feature: %v", err)
	}
	if feat.Fields["Pop"].Int != 900 || feat.Fields["Name"].Str != "Birchwood" {
		t.Fatalf("fields = %+v", feat.Fields)
	}
	if o := f.s.EditAttributes(ctx, "cities", 99, map[string]string{"Pop": "1"}); o.Kind != OutcomeEngineFailure {
		t.Fatalf("missing feature outcome = %+v", o)
	}
}

func TestDeleteSelected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if o := f.s.DeleteSelected(ctx, "cities"); o.Kind != OutcomePreconditionFailed {
		t.Fatalf("outcome = %+v", o)
	}
	f.s.Search(ctx, "cities", "Name", "alder")
	if o := f.s.DeleteSelected(ctx, "cities"); o.Kind != OutcomeSuccess || o.Count != 2 {
		t.Fatalf("outcome = %+v", o)
	}
	if len(f.s.Registry().Selection("cities")) != 0 {
		t.Fatalf("selection not cleared")
	}
	if o := f.s.Search(ctx, "cities", "Name", "alder"); o.Kind != OutcomeEmpty {
		t.Fatalf("features survived: %+v", o)
	}
}

func TestExportView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.s.Search(ctx, "cities", "Name", "Birch")
	f.s.ComputeBuffer(ctx)
	f.s.SetVisible(ctx, "roads", false)

	o := f.s.ExportView(ctx, "out.geojson")
	if o.Kind != OutcomeSuccess {
		t.Fatalf("outcome = %+v", o)
	}
	v := f.exp.views[0]
	if len(v.Layers) != 1 || v.Layers[0].Name != "cities" || len(v.Layers[0].Selected) != 1 {
		t.Fatalf("layers = %+v", v.Layers)
	}
	if v.Buffer == nil {
		t.Fatalf("buffer missing from view")
	}
	if o := f.s.ExportView(ctx, " "); o.Kind != OutcomePreconditionFailed {
		t.Fatalf("outcome = %+v", o)
	}
}

func TestRemoveLayerAndClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.s.Search(ctx, "cities", "Name", "Birch")
	if o := f.s.RemoveLayer(ctx, "cities"); o.Kind != OutcomeSuccess {
		t.Fatalf("outcome = %+v", o)
	}
	if st := f.s.Snapshot(); st.ActiveLayer != "" || len(st.Layers) != 1 {
		t.Fatalf("snapshot = %+v", st)
	}
	if o := f.s.ArmBoxSelect(ctx); o.Kind != OutcomePreconditionFailed {
		t.Fatalf("box select without active layer = %+v", o)
	}
	if o := f.s.RemoveLayer(ctx, "cities"); o.Kind != OutcomePreconditionFailed {
		t.Fatalf("second remove = %+v", o)
	}

	f.s.Close(ctx)
	st := f.s.Snapshot()
	if len(st.Layers) != 0 || st.Mode != "default" || st.HasBuffer || st.HasPath {
		t.Fatalf("snapshot after close = %+v", st)
	}
}
