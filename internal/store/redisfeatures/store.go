// Package redisfeatures is a feature store kept in Redis. Each dataset has a
// schema record, a set of feature ids, one JSON record per feature and an id
// sequence; edits are staged in memory and applied in one MULTI/EXEC.
package redisfeatures

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/map-session/internal/core/observability"
	"github.com/mohammed-shakir/map-session/internal/geo"
	"github.com/mohammed-shakir/map-session/internal/ports"
	"github.com/mohammed-shakir/map-session/internal/store/query"
	"github.com/mohammed-shakir/map-session/internal/store/redisstore"
)

// Prefix addresses Redis datasets in Open.
const Prefix = "redis:"

type Store struct {
	cli    *redisstore.Client
	topo   ports.Topology
	logger *slog.Logger

	mu    sync.Mutex
	cache *lru.Cache[string, geo.Feature]
}

var _ ports.FeatureStore = (*Store)(nil)

type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithCacheSize bounds the decoded-feature cache.
func WithCacheSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.cache, _ = lru.New[string, geo.Feature](n)
		}
	}
}

func New(cli *redisstore.Client, topo ports.Topology, opts ...Option) *Store {
	c, _ := lru.New[string, geo.Feature](4096)
	s := &Store{cli: cli, topo: topo, logger: slog.Default(), cache: c}
	for _, o := range opts {
		o(s)
	}
	return s
}

type metaRecord struct {
	Name   string                `json:"name"`
	Kind   string                `json:"kind"`
	Fields []geo.FieldDescriptor `json:"fields"`
}

type featureRecord struct {
	Geometry *geojson.Geometry `json:"geometry"`
	Fields   map[string]any    `json:"fields"`
}

// Create writes the schema of a new, empty dataset.
func (s *Store) Create(ctx context.Context, name string, kind geo.Kind, fields []geo.FieldDescriptor) (geo.Dataset, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return geo.Dataset{}, errors.New("redisfeatures: dataset name is required")
	}
	if kind == geo.KindUnknown {
		return geo.Dataset{}, errors.New("redisfeatures: dataset kind is required")
	}
	body, err := json.Marshal(metaRecord{Name: name, Kind: kind.String(), Fields: fields})
	if err != nil {
		return geo.Dataset{}, fmt.Errorf("redisfeatures encode meta: %w", err)
	}
	ok, err := s.cli.SetNX(ctx, metaKey(datasetBase(name)), body)
	if err != nil {
		return geo.Dataset{}, fmt.Errorf("redisfeatures create %q: %w", name, err)
	}
	if !ok {
		return geo.Dataset{}, fmt.Errorf("redisfeatures: dataset %q already exists", name)
	}
	return geo.Dataset{ID: Prefix + name, Name: name, Kind: kind, Fields: append([]geo.FieldDescriptor(nil), fields...)}, nil
}

// Exists reports whether a dataset schema is stored under name.
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	_, ok, err := s.cli.Get(ctx, metaKey(datasetBase(name)))
	return ok, err
}

func (s *Store) Open(ctx context.Context, path string) (geo.Dataset, error) {
	if !strings.HasPrefix(path, Prefix) {
		return geo.Dataset{}, fmt.Errorf("redisfeatures open %q: expected %s<name>", path, Prefix)
	}
	name := strings.TrimSpace(strings.TrimPrefix(path, Prefix))
	raw, ok, err := s.cli.Get(ctx, metaKey(datasetBase(name)))
	if err != nil {
		return geo.Dataset{}, fmt.Errorf("redisfeatures open %q: %w", name, err)
	}
	if !ok {
		return geo.Dataset{}, fmt.Errorf("redisfeatures open %q: %w", name, ports.ErrNotFound)
	}
	var m metaRecord
	if err := json.Unmarshal(raw, &m); err != nil {
		return geo.Dataset{}, fmt.Errorf("redisfeatures decode meta %q: %w", name, err)
	}
	kind, err := geo.ParseKind(m.Kind)
	if err != nil {
		return geo.Dataset{}, fmt.Errorf("redisfeatures meta %q: %w", name, err)
	}
	return geo.Dataset{ID: Prefix + name, Name: name, Kind: kind, Fields: m.Fields}, nil
}

func (s *Store) Fields(ctx context.Context, d geo.Dataset) ([]geo.FieldDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]geo.FieldDescriptor(nil), d.Fields...), nil
}

func (s *Store) SearchAttribute(ctx context.Context, d geo.Dataset, field string, pred ports.AttributePredicate) ([]geo.FeatureID, error) {
	fd, err := query.ResolveField(d, field)
	if err != nil {
		return nil, fmt.Errorf("redisfeatures search: %w", err)
	}
	out := make([]geo.FeatureID, 0)
	err = s.Scan(ctx, d, func(f geo.Feature) error {
		if query.Match(f, fd.Name, pred) {
			out = append(out, f.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) SearchSpatial(ctx context.Context, d geo.Dataset, g orb.Geometry, pred ports.SpatialPredicate) ([]geo.FeatureID, error) {
	if pred != ports.Intersects {
		return nil, fmt.Errorf("redisfeatures search: unsupported spatial predicate %d", pred)
	}
	if geo.IsEmpty(g) {
		return nil, errors.New("redisfeatures search: empty query geometry")
	}
	qb := g.Bound()
	out := make([]geo.FeatureID, 0)
	err := s.Scan(ctx, d, func(f geo.Feature) error {
		if !qb.Pad(1e-9).Intersects(f.Geometry.Bound()) {
			return nil
		}
		if s.topo.Intersects(f.Geometry, g) {
			out = append(out, f.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Feature(ctx context.Context, d geo.Dataset, id geo.FeatureID) (geo.Feature, error) {
	base := datasetBase(d.Name)
	got, err := s.load(ctx, d, base, []geo.FeatureID{id})
	if err != nil {
		return geo.Feature{}, err
	}
	if len(got) == 0 {
		return geo.Feature{}, fmt.Errorf("redisfeatures feature %d in %q: %w", id, d.Name, ports.ErrNotFound)
	}
	return got[0], nil
}

// Scan visits every feature in ascending id order.
func (s *Store) Scan(ctx context.Context, d geo.Dataset, fn func(geo.Feature) error) error {
	base := datasetBase(d.Name)
	members, err := s.cli.SMembers(ctx, idsKey(base))
	if err != nil {
		return fmt.Errorf("redisfeatures scan %q: %w", d.Name, err)
	}
	ids := make([]geo.FeatureID, 0, len(members))
	for _, m := range members {
		n, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return fmt.Errorf("redisfeatures scan %q: bad id %q", d.Name, m)
		}
		ids = append(ids, geo.FeatureID(n))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	const batch = 256
	for start := 0; start < len(ids); start += batch {
		end := min(start+batch, len(ids))
		feats, err := s.load(ctx, d, base, ids[start:end])
		if err != nil {
			return err
		}
		for _, f := range feats {
			if err := fn(f); err != nil {
				return err
			}
		}
	}
	return nil
}

// load fetches ids through the decoded-feature cache, keeping their order
// and skipping ids whose record is gone.
func (s *Store) load(ctx context.Context, d geo.Dataset, base string, ids []geo.FeatureID) ([]geo.Feature, error) {
	found := make(map[geo.FeatureID]geo.Feature, len(ids))
	var missing []string
	missingIDs := make(map[string]geo.FeatureID)

	s.mu.Lock()
	for _, id := range ids {
		k := featureKey(base, id)
		if f, ok := s.cache.Get(k); ok {
			found[id] = cloneFeature(f)
			observability.IncFeatureCache(true)
			continue
		}
		observability.IncFeatureCache(false)
		missing = append(missing, k)
		missingIDs[k] = id
	}
	s.mu.Unlock()

	if len(missing) > 0 {
		raw, err := s.cli.MGet(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("redisfeatures load %q: %w", d.Name, err)
		}
		for k, body := range raw {
			f, err := decodeFeature(d, missingIDs[k], body)
			if err != nil {
				return nil, fmt.Errorf("redisfeatures decode %s: %w", k, err)
			}
			s.mu.Lock()
			s.cache.Add(k, f)
			s.mu.Unlock()
			found[f.ID] = cloneFeature(f)
		}
	}

	out := make([]geo.Feature, 0, len(found))
	for _, id := range ids {
		if f, ok := found[id]; ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *Store) forget(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		s.cache.Remove(k)
	}
}

func encodeFeature(d geo.Dataset, f geo.Feature) ([]byte, error) {
	rec := featureRecord{Geometry: geojson.NewGeometry(f.Geometry), Fields: make(map[string]any, len(d.Fields))}
	for _, fd := range d.Fields {
		rec.Fields[fd.Name] = f.Fields[fd.Name].Any()
	}
	return json.Marshal(rec)
}

func decodeFeature(d geo.Dataset, id geo.FeatureID, body []byte) (geo.Feature, error) {
	var rec featureRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return geo.Feature{}, err
	}
	if rec.Geometry == nil {
		return geo.Feature{}, errors.New("record without geometry")
	}
	f := geo.Feature{ID: id, Geometry: rec.Geometry.Geometry(), Fields: make(map[string]geo.Value, len(d.Fields))}
	for _, fd := range d.Fields {
		v, err := geo.Coerce(fd.Type, rec.Fields[fd.Name])
		if err != nil {
			return geo.Feature{}, fmt.Errorf("field %q: %w", fd.Name, err)
		}
		f.Fields[fd.Name] = v
	}
	return f, nil
}

func cloneFeature(f geo.Feature) geo.Feature {
	out := geo.Feature{ID: f.ID, Geometry: orb.Clone(f.Geometry), Fields: make(map[string]geo.Value, len(f.Fields))}
	for k, v := range f.Fields {
		out.Fields[k] = v
	}
	return out
}
