package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mohammed-shakir/map-session/internal/geo"
	"github.com/mohammed-shakir/map-session/internal/ports"
	"github.com/mohammed-shakir/map-session/internal/store/memstore"
	"github.com/mohammed-shakir/map-session/internal/store/redisfeatures"
)

// importingStore serves datasets from Redis. Opening a GeoJSON file path
// imports the file into Redis under its base name the first time and opens
// the Redis copy from then on.
type importingStore struct {
	*redisfeatures.Store
	files  *memstore.Store
	logger *slog.Logger
}

var _ ports.FeatureStore = (*importingStore)(nil)

func (s *importingStore) Open(ctx context.Context, path string) (geo.Dataset, error) {
	if strings.HasPrefix(path, redisfeatures.Prefix) {
		return s.Store.Open(ctx, path)
	}
	meta, err := s.files.Open(ctx, path)
	if err != nil {
		return geo.Dataset{}, err
	}
	ok, err := s.Exists(ctx, meta.Name)
	if err != nil {
		return geo.Dataset{}, fmt.Errorf("check dataset %q: %w", meta.Name, err)
	}
	if ok {
		return s.Store.Open(ctx, redisfeatures.Prefix+meta.Name)
	}

	var feats []geo.Feature
	if err := s.files.Scan(ctx, meta, func(f geo.Feature) error {
		feats = append(feats, f)
		return nil
	}); err != nil {
		return geo.Dataset{}, err
	}
	ds, err := s.Import(ctx, meta, feats)
	if err != nil {
		return geo.Dataset{}, fmt.Errorf("import %s: %w", path, err)
	}
	s.logger.Info("dataset imported", "path", path, "name", ds.Name, "features", len(feats))
	return ds, nil
}
