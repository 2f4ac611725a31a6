// Package geojsonexport writes a session view as one GeoJSON
// FeatureCollection. Each feature carries a "role" property telling what it
// is: a selected feature, the buffer, the route path or a route stop.
package geojsonexport

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/map-session/internal/ports"
)

const (
	RoleSelected = "selected"
	RoleBuffer   = "buffer"
	RoleRoute    = "route"
)

type Option func(*Exporter)

// WithDir resolves relative export paths against dir.
func WithDir(dir string) Option { return func(e *Exporter) { e.dir = dir } }

func WithLogger(l *slog.Logger) Option {
	return func(e *Exporter) {
		if l != nil {
			e.logger = l
		}
	}
}

type Exporter struct {
	dir    string
	logger *slog.Logger
}

var _ ports.Exporter = (*Exporter)(nil)

func New(opts ...Option) *Exporter {
	e := &Exporter{logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Exporter) Export(ctx context.Context, v ports.View, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := e.resolve(path)
	if err != nil {
		return err
	}
	data, err := Encode(v)
	if err != nil {
		return fmt.Errorf("encode view: %w", err)
	}
	if err := writeAtomic(target, data); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	e.logger.Info("view exported", "path", target, "bytes", len(data))
	return nil
}

func (e *Exporter) resolve(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("empty export path")
	}
	if !filepath.IsAbs(path) && e.dir != "" {
		path = filepath.Join(e.dir, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Encode renders v as a FeatureCollection with the view extent as its bbox.
func Encode(v ports.View) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	if !v.Extent.IsEmpty() {
		fc.BBox = geojson.NewBBox(v.Extent)
	}

	for _, l := range v.Layers {
		for _, f := range l.Selected {
			gf := geojson.NewFeature(f.Geometry)
			gf.ID = int64(f.ID)
			for _, fd := range l.Dataset.Fields {
				if val, ok := f.Fields[fd.Name]; ok {
					gf.Properties[fd.Name] = val.Any()
				}
			}
			gf.Properties["layer"] = l.Name
			gf.Properties["role"] = RoleSelected
			fc.Append(gf)
		}
	}
	if v.Buffer != nil {
		gf := geojson.NewFeature(v.Buffer)
		gf.Properties["role"] = RoleBuffer
		fc.Append(gf)
	}
	if len(v.RoutePath) > 0 {
		gf := geojson.NewFeature(v.RoutePath)
		gf.Properties["role"] = RoleRoute
		fc.Append(gf)
	}
	names := make([]string, 0, len(v.Markers))
	for n := range v.Markers {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		gf := geojson.NewFeature(v.Markers[n])
		gf.Properties["role"] = n
		fc.Append(gf)
	}
	return fc.MarshalJSON()
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*.geojson")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
