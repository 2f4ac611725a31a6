package redisfeatures

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/redis/go-redis/v9"

	"github.com/mohammed-shakir/map-session/internal/geo"
	"github.com/mohammed-shakir/map-session/internal/ports"
	"github.com/mohammed-shakir/map-session/internal/store/query"
)

// edit holds staged writes in memory. The dataset's edit key marks the
// session open so a second editor, in this process or another, is refused.
type edit struct {
	s      *Store
	ds     geo.Dataset
	base   string
	staged map[geo.FeatureID]*geo.Feature
	delete map[geo.FeatureID]bool
	closed bool
}

func (s *Store) BeginEdit(ctx context.Context, d geo.Dataset) (ports.EditSession, error) {
	base := datasetBase(d.Name)
	ok, err := s.cli.SetNX(ctx, editKey(base), []byte("1"))
	if err != nil {
		return nil, fmt.Errorf("redisfeatures begin edit %q: %w", d.Name, err)
	}
	if !ok {
		return nil, fmt.Errorf("redisfeatures begin edit %q: %w", d.Name, ports.ErrEditInProgress)
	}
	return &edit{
		s:      s,
		ds:     d,
		base:   base,
		staged: make(map[geo.FeatureID]*geo.Feature),
		delete: make(map[geo.FeatureID]bool),
	}, nil
}

func (e *edit) CreateFeature(ctx context.Context, g orb.Geometry) (geo.FeatureID, error) {
	if err := e.check(ctx); err != nil {
		return 0, err
	}
	if geo.IsEmpty(g) {
		return 0, errors.New("redisfeatures create: empty geometry")
	}
	if k := geo.KindOf(g); k != e.ds.Kind {
		return 0, fmt.Errorf("redisfeatures create: %s geometry in %s dataset", k, e.ds.Kind)
	}
	n, err := e.s.cli.Incr(ctx, seqKey(e.base))
	if err != nil {
		return 0, fmt.Errorf("redisfeatures create: %w", err)
	}
	id := geo.FeatureID(n)
	f := &geo.Feature{ID: id, Geometry: orb.Clone(g), Fields: make(map[string]geo.Value, len(e.ds.Fields))}
	for _, fd := range e.ds.Fields {
		f.Fields[fd.Name] = geo.Null(fd.Type)
	}
	e.staged[id] = f
	return id, nil
}

func (e *edit) SetField(ctx context.Context, id geo.FeatureID, field string, v geo.Value) error {
	if err := e.check(ctx); err != nil {
		return err
	}
	fd, err := query.ResolveField(e.ds, field)
	if err != nil {
		return fmt.Errorf("redisfeatures set field: %w", err)
	}
	if v.Valid && v.Type != fd.Type {
		return fmt.Errorf("redisfeatures set field %q: %s value for %s field", fd.Name, v.Type, fd.Type)
	}
	if !v.Valid {
		v = geo.Null(fd.Type)
	}
	f, err := e.working(ctx, id)
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
	if _, err := e.working(ctx, id); err != nil {
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
	bodies := make(map[geo.FeatureID][]byte, len(e.staged))
	for id, f := range e.staged {
		b, err := encodeFeature(e.ds, *f)
		if err != nil {
			return fmt.Errorf("redisfeatures commit encode %d: %w", id, err)
		}
		bodies[id] = b
	}

	touched := make([]string, 0, len(bodies)+len(e.delete))
	err := e.s.cli.Tx(ctx, func(p redis.Pipeliner) error {
		for id, b := range bodies {
			k := featureKey(e.base, id)
			p.Set(ctx, k, b, 0)
			p.SAdd(ctx, idsKey(e.base), strconv.FormatInt(int64(id), 10))
			touched = append(touched, k)
		}
		for id := range e.delete {
			k := featureKey(e.base, id)
			p.Del(ctx, k)
			p.SRem(ctx, idsKey(e.base), strconv.FormatInt(int64(id), 10))
			touched = append(touched, k)
		}
		p.Del(ctx, editKey(e.base))
		return nil
	})
	e.s.forget(touched...)
	if err != nil {
		_ = e.release(context.WithoutCancel(ctx))
		return fmt.Errorf("redisfeatures commit %q: %w", e.ds.Name, err)
	}
	e.closed = true
	e.s.logger.Debug("edit committed", "dataset", e.ds.Name, "written", len(bodies), "deleted", len(e.delete))
	return nil
}

func (e *edit) Abort(ctx context.Context) error {
	if e.closed {
		return nil
	}
	return e.release(ctx)
}

func (e *edit) release(ctx context.Context) error {
	e.closed = true
	e.staged = nil
	e.delete = nil
	if err := e.s.cli.Del(ctx, editKey(e.base)); err != nil {
		return fmt.Errorf("redisfeatures abort %q: %w", e.ds.Name, err)
	}
	return nil
}

func (e *edit) check(ctx context.Context) error {
	if e.closed {
		return ports.ErrEditClosed
	}
	return ctx.Err()
}

func (e *edit) working(ctx context.Context, id geo.FeatureID) (*geo.Feature, error) {
	if f, ok := e.staged[id]; ok {
		return f, nil
	}
	if e.delete[id] {
		return nil, fmt.Errorf("redisfeatures feature %d: %w", id, ports.ErrNotFound)
	}
	cur, err := e.s.Feature(ctx, e.ds, id)
	if err != nil {
		return nil, err
	}
	e.staged[id] = &cur
	return &cur, nil
}
