package redisfeatures

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/mohammed-shakir/map-session/internal/geo"
)

// Import creates a dataset and writes feats under their existing ids in one
// transaction. The id sequence continues after the largest imported id.
func (s *Store) Import(ctx context.Context, meta geo.Dataset, feats []geo.Feature) (geo.Dataset, error) {
	ds, err := s.Create(ctx, meta.Name, meta.Kind, meta.Fields)
	if err != nil {
		return geo.Dataset{}, err
	}
	base := datasetBase(ds.Name)

	var maxID geo.FeatureID
	bodies := make(map[geo.FeatureID][]byte, len(feats))
	for _, f := range feats {
		b, err := encodeFeature(ds, f)
		if err != nil {
			return geo.Dataset{}, fmt.Errorf("redisfeatures import encode %d: %w", f.ID, err)
		}
		bodies[f.ID] = b
		maxID = max(maxID, f.ID)
	}

	err = s.cli.Tx(ctx, func(p redis.Pipeliner) error {
		for id, b := range bodies {
			p.Set(ctx, featureKey(base, id), b, 0)
			p.SAdd(ctx, idsKey(base), strconv.FormatInt(int64(id), 10))
		}
		p.Set(ctx, seqKey(base), int64(maxID), 0)
		return nil
	})
	if err != nil {
		return geo.Dataset{}, fmt.Errorf("redisfeatures import %q: %w", ds.Name, err)
	}
	s.logger.Info("dataset imported", "dataset", ds.Name, "features", len(feats))
	return ds, nil
}
