package memstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/map-session/internal/geo"
	"github.com/mohammed-shakir/map-session/internal/ports"
	"github.com/mohammed-shakir/map-session/internal/store/query"
)

// edit stages writes against one dataset. Only one edit may be open per
// dataset; searches keep seeing the committed state until Commit.
type edit struct {
	s      *Store
	ds     *dataset
	staged map[geo.FeatureID]*geo.Feature
	delete map[geo.FeatureID]bool
	closed bool
}

func (s *Store) BeginEdit(ctx context.Context, d geo.Dataset) (ports.EditSession, error) {
	ds, err := s.lookup(ctx, d)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ds.editing {
		return nil, fmt.Errorf("memstore begin edit %q: %w", ds.meta.Name, ports.ErrEditInProgress)
	}
	ds.editing = true
	return &edit{
		s:      s,
		ds:     ds,
		staged: make(map[geo.FeatureID]*geo.Feature),
		delete: make(map[geo.FeatureID]bool),
	}, nil
}

func (e *edit) CreateFeature(ctx context.Context, g orb.Geometry) (geo.FeatureID, error) {
	if err := e.check(ctx); err != nil {
		return 0, err
	}
	if geo.IsEmpty(g) {
		return 0, errors.New("memstore create: empty geometry")
	}
	if k := geo.KindOf(g); k != e.ds.meta.Kind {
		return 0, fmt.Errorf("memstore create: %s geometry in %s dataset", k, e.ds.meta.Kind)
	}

	e.s.mu.Lock()
	id := e.ds.nextID
	e.ds.nextID++
	e.s.mu.Unlock()

	f := &geo.Feature{ID: id, Geometry: orb.Clone(g), Fields: make(map[string]geo.Value, len(e.ds.meta.Fields))}
	for _, fd := range e.ds.meta.Fields {
		f.Fields[fd.Name] = geo.Null(fd.Type)
	}
	e.staged[id] = f
	return id, nil
}

func (e *edit) SetField(ctx context.Context, id geo.FeatureID, field string, v geo.Value) error {
	if err := e.check(ctx); err != nil {
		return err
	}
	fd, err := query.ResolveField(e.ds.meta, field)
	if err != nil {
		return fmt.Errorf("memstore set field: %w", err)
	}
	if v.Valid && v.Type != fd.Type {
		return fmt.Errorf("memstore set field %q: %s value for %s field", fd.Name, v.Type, fd.Type)
	}
	if !v.Valid {
		v = geo.Null(fd.Type)
	}
	f, err := e.working(id)
	if err != nil {
		return err
	}
	f.Fields[fd.Name] = v
	return nil
}

func (e *edit) DeleteFeature(ctx context.Context, id geo.FeatureID) error {
	if err := e.check(ctx); err != nil {
		return err
	}
	if _, err := e.working(id); err != nil {
		return err
	}
	delete(e.staged, id)
	e.delete[id] = true
	return nil
}

func (e *edit) Commit(ctx context.Context) error {
	if err := e.check(ctx); err != nil {
		return err
	}
	s, ds := e.s, e.ds
	s.mu.Lock()
	defer s.mu.Unlock()
	defer e.close()

	if ds.path != "" {
		next := make([]geo.Feature, 0, len(ds.features)+len(e.staged))
		for _, id := range ds.sortedIDs() {
			if e.delete[id] {
				continue
			}
			if f, ok := e.staged[id]; ok {
				next = append(next, *f)
				continue
			}
			next = append(next, ds.features[id].f)
		}
		for id, f := range e.staged {
			if _, ok := ds.features[id]; !ok {
				next = append(next, *f)
			}
		}
		if err := writeFile(ds.path, ds.meta, next); err != nil {
			return fmt.Errorf("memstore commit %q: %w", ds.meta.Name, err)
		}
	}

	for id := range e.delete {
		ds.remove(id)
	}
	for _, f := range e.staged {
		ds.put(*f)
	}
	s.logger.Debug("edit committed", "dataset", ds.meta.Name, "written", len(e.staged), "deleted", len(e.delete))
	return nil
}

func (e *edit) Abort(ctx context.Context) error {
	if e.closed {
		return nil
	}
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	e.close()
	return nil
}

// close must run with the store lock held.
func (e *edit) close() {
	e.closed = true
	e.ds.editing = false
	e.staged = nil
	e.delete = nil
}

func (e *edit) check(ctx context.Context) error {
	if e.closed {
		return ports.ErrEditClosed
	}
	return ctx.Err()
}

// working returns the staged copy of id, copying the committed feature on
// first touch.
func (e *edit) working(id geo.FeatureID) (*geo.Feature, error) {
	if f, ok := e.staged[id]; ok {
		return f, nil
	}
	if e.delete[id] {
		return nil, fmt.Errorf("memstore feature %d: %w", id, ports.ErrNotFound)
	}
	e.s.mu.Lock()
	cur, ok := e.ds.features[id]
	e.s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("memstore feature %d: %w", id, ports.ErrNotFound)
	}
	f := cloneFeature(cur.f)
	e.staged[id] = &f
	return &f, nil
}
