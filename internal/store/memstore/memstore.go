// Package memstore is an in-process feature store: datasets are loaded from
// GeoJSON files (or created empty), indexed with an R-tree, and written back
// to their file when an edit session commits.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/map-session/internal/geo"
	"github.com/mohammed-shakir/map-session/internal/ports"
	"github.com/mohammed-shakir/map-session/internal/store/query"
)

// MemPrefix addresses datasets created with Create instead of a file path.
const MemPrefix = "mem:"

type Store struct {
	mu       sync.Mutex
	logger   *slog.Logger
	topo     ports.Topology
	datasets map[string]*dataset
}

var _ ports.FeatureStore = (*Store)(nil)

type dataset struct {
	meta     geo.Dataset
	path     string
	features map[geo.FeatureID]*entry
	index    *rtreego.Rtree
	nextID   geo.FeatureID
	editing  bool
}

type entry struct {
	f    geo.Feature
	rect rtreego.Rect
}

func (e *entry) Bounds() rtreego.Rect { return e.rect }

func New(logger *slog.Logger, topo ports.Topology) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger:   logger,
		topo:     topo,
		datasets: make(map[string]*dataset),
	}
}

// Create registers an empty in-memory dataset reachable as "mem:<name>".
func (s *Store) Create(name string, kind geo.Kind, fields []geo.FieldDescriptor) (geo.Dataset, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return geo.Dataset{}, errors.New("memstore: dataset name is required")
	}
	id := MemPrefix + name

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.datasets[id]; ok {
		return geo.Dataset{}, fmt.Errorf("memstore: dataset %q already exists", name)
	}
	ds := newDataset(geo.Dataset{ID: id, Name: name, Kind: kind, Fields: append([]geo.FieldDescriptor(nil), fields...)}, "")
	s.datasets[id] = ds
	return ds.meta, nil
}

func (s *Store) Open(ctx context.Context, path string) (geo.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return geo.Dataset{}, fmt.Errorf("memstore open: %w", err)
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return geo.Dataset{}, errors.New("memstore open: empty path")
	}

	if strings.HasPrefix(path, MemPrefix) {
		s.mu.Lock()
		defer s.mu.Unlock()
		ds, ok := s.datasets[path]
		if !ok {
			return geo.Dataset{}, fmt.Errorf("memstore open %q: %w", path, ports.ErrNotFound)
		}
		return ds.meta, nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return geo.Dataset{}, fmt.Errorf("memstore open %q: %w", path, err)
	}
	s.mu.Lock()
	if ds, ok := s.datasets[abs]; ok {
		s.mu.Unlock()
		return ds.meta, nil
	}
	s.mu.Unlock()

	meta, feats, err := readFile(abs)
	if err != nil {
		return geo.Dataset{}, fmt.Errorf("memstore open %q: %w", path, err)
	}
	ds := newDataset(meta, abs)
	for _, f := range feats {
		ds.put(f)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.datasets[abs]; ok {
		return existing.meta, nil
	}
	s.datasets[abs] = ds
	s.logger.Debug("dataset opened", "path", abs, "kind", meta.Kind.String(), "features", len(feats))
	return ds.meta, nil
}

func (s *Store) Fields(ctx context.Context, d geo.Dataset) ([]geo.FieldDescriptor, error) {
	ds, err := s.lookup(ctx, d)
	if err != nil {
		return nil, err
	}
	return append([]geo.FieldDescriptor(nil), ds.meta.Fields...), nil
}

func (s *Store) SearchAttribute(ctx context.Context, d geo.Dataset, field string, pred ports.AttributePredicate) ([]geo.FeatureID, error) {
	ds, err := s.lookup(ctx, d)
	if err != nil {
		return nil, err
	}
	fd, err := query.ResolveField(ds.meta, field)
	if err != nil {
		return nil, fmt.Errorf("memstore search: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]geo.FeatureID, 0)
	for _, id := range ds.sortedIDs() {
		if query.Match(ds.features[id].f, fd.Name, pred) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *Store) SearchSpatial(ctx context.Context, d geo.Dataset, g orb.Geometry, pred ports.SpatialPredicate) ([]geo.FeatureID, error) {
	if pred != ports.Intersects {
		return nil, fmt.Errorf("memstore search: unsupported spatial predicate %d", pred)
	}
	if s.topo == nil {
		return nil, errors.New("memstore search: no topology engine configured")
	}
	ds, err := s.lookup(ctx, d)
	if err != nil {
		return nil, err
	}
	if geo.IsEmpty(g) {
		return nil, errors.New("memstore search: empty query geometry")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cands := ds.index.SearchIntersect(toRect(g.Bound()))
	out := make([]geo.FeatureID, 0, len(cands))
	for _, c := range cands {
		e := c.(*entry)
		if s.topo.Intersects(e.f.Geometry, g) {
			out = append(out, e.f.ID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Store) Feature(ctx context.Context, d geo.Dataset, id geo.FeatureID) (geo.Feature, error) {
	ds, err := s.lookup(ctx, d)
	if err != nil {
		return geo.Feature{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := ds.features[id]
	if !ok {
		return geo.Feature{}, fmt.Errorf("memstore feature %d in %q: %w", id, ds.meta.Name, ports.ErrNotFound)
	}
	return cloneFeature(e.f), nil
}

func (s *Store) Scan(ctx context.Context, d geo.Dataset, fn func(geo.Feature) error) error {
	ds, err := s.lookup(ctx, d)
	if err != nil {
		return err
	}
	s.mu.Lock()
	ids := ds.sortedIDs()
	feats := make([]geo.Feature, 0, len(ids))
	for _, id := range ids {
		feats = append(feats, cloneFeature(ds.features[id].f))
	}
	s.mu.Unlock()

	for _, f := range feats {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("memstore scan: %w", err)
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) lookup(ctx context.Context, d geo.Dataset) (*dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("memstore: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasets[d.ID]
	if !ok {
		return nil, fmt.Errorf("memstore dataset %q: %w", d.ID, ports.ErrNotFound)
	}
	return ds, nil
}

func newDataset(meta geo.Dataset, path string) *dataset {
	return &dataset{
		meta:     meta,
		path:     path,
		features: make(map[geo.FeatureID]*entry),
		index:    rtreego.NewTree(2, 25, 50),
		nextID:   1,
	}
}

func (ds *dataset) put(f geo.Feature) {
	if old, ok := ds.features[f.ID]; ok {
		ds.index.Delete(old)
	}
	e := &entry{f: f, rect: toRect(f.Geometry.Bound())}
	ds.features[f.ID] = e
	ds.index.Insert(e)
	if f.ID >= ds.nextID {
		ds.nextID = f.ID + 1
	}
}

func (ds *dataset) remove(id geo.FeatureID) {
	if old, ok := ds.features[id]; ok {
		ds.index.Delete(old)
		delete(ds.features, id)
	}
}

func (ds *dataset) sortedIDs() []geo.FeatureID {
	ids := make([]geo.FeatureID, 0, len(ds.features))
	for id := range ds.features {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// rectPad keeps point and axis-aligned bounds from collapsing to zero width.
const rectPad = 1e-9

func toRect(b orb.Bound) rtreego.Rect {
	minPt := rtreego.Point{b.Min[0] - rectPad, b.Min[1] - rectPad}
	maxPt := rtreego.Point{b.Max[0] + rectPad, b.Max[1] + rectPad}
	r, err := rtreego.NewRectFromPoints(minPt, maxPt)
	if err != nil {
		// dimensions always match, so this only guards against library changes
		return rtreego.Point{b.Min[0], b.Min[1]}.ToRect(rectPad)
	}
	return r
}

func cloneFeature(f geo.Feature) geo.Feature {
	out := geo.Feature{ID: f.ID, Geometry: orb.Clone(f.Geometry), Fields: make(map[string]geo.Value, len(f.Fields))}
	for k, v := range f.Fields {
		out.Fields[k] = v
	}
	return out
}
