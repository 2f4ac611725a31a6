package memstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/map-session/internal/geo"
)

// Optional FeatureCollection members that pin the dataset schema. Without
// them the kind comes from the first geometry and field types are inferred.
const (
	memberKind   = "kind"
	memberFields = "fields"
)

func readFile(path string) (geo.Dataset, []geo.Feature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return geo.Dataset{}, nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return geo.Dataset{}, nil, fmt.Errorf("decode geojson: %w", err)
	}

	meta := geo.Dataset{
		ID:   path,
		Name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
	}
	if meta.Kind, err = schemaKind(fc); err != nil {
		return geo.Dataset{}, nil, err
	}
	if meta.Fields, err = schemaFields(fc); err != nil {
		return geo.Dataset{}, nil, err
	}

	feats := make([]geo.Feature, 0, len(fc.Features))
	seen := make(map[geo.FeatureID]bool, len(fc.Features))
	var pending []int
	var maxID geo.FeatureID
	for i, gf := range fc.Features {
		if gf.Geometry == nil {
			return geo.Dataset{}, nil, fmt.Errorf("feature %d: missing geometry", i)
		}
		if k := geo.KindOf(gf.Geometry); k != meta.Kind {
			return geo.Dataset{}, nil, fmt.Errorf("feature %d: %s geometry in %s dataset", i, k, meta.Kind)
		}
		f := geo.Feature{Geometry: gf.Geometry, Fields: make(map[string]geo.Value, len(meta.Fields))}
		for _, fd := range meta.Fields {
			v, err := geo.Coerce(fd.Type, gf.Properties[fd.Name])
			if err != nil {
				return geo.Dataset{}, nil, fmt.Errorf("feature %d field %q: %w", i, fd.Name, err)
			}
			f.Fields[fd.Name] = v
		}
		if id, ok := parseID(gf.ID); ok {
			if seen[id] {
				return geo.Dataset{}, nil, fmt.Errorf("feature %d: duplicate id %d", i, id)
			}
			seen[id] = true
			f.ID = id
			maxID = max(maxID, id)
		} else {
			pending = append(pending, len(feats))
		}
		feats = append(feats, f)
	}
	for _, idx := range pending {
		maxID++
		feats[idx].ID = maxID
	}
	return meta, feats, nil
}

func schemaKind(fc *geojson.FeatureCollection) (geo.Kind, error) {
	if raw, ok := fc.ExtraMembers[memberKind]; ok {
		s, _ := raw.(string)
		return geo.ParseKind(s)
	}
	for _, f := range fc.Features {
		if f.Geometry != nil {
			return geo.KindOf(f.Geometry), nil
		}
	}
	return geo.KindUnknown, errors.New("empty collection without a kind member")
}

func schemaFields(fc *geojson.FeatureCollection) ([]geo.FieldDescriptor, error) {
	if raw, ok := fc.ExtraMembers[memberFields]; ok {
		list, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("%q member must be an array", memberFields)
		}
		out := make([]geo.FieldDescriptor, 0, len(list))
		for _, item := range list {
			m, _ := item.(map[string]any)
			name, _ := m["name"].(string)
			if name == "" {
				return nil, fmt.Errorf("%q entry without a name", memberFields)
			}
			typ, _ := m["type"].(string)
			t, err := geo.ParseFieldType(typ)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", name, err)
			}
			out = append(out, geo.FieldDescriptor{Name: name, Type: t})
		}
		return out, nil
	}

	types := make(map[string]geo.FieldType)
	for _, f := range fc.Features {
		for k, v := range f.Properties {
			if _, ok := types[k]; ok || v == nil {
				continue
			}
			types[k] = geo.InferFieldType(v)
		}
	}
	// keys that only ever held null still become string columns
	for _, f := range fc.Features {
		for k := range f.Properties {
			if _, ok := types[k]; !ok {
				types[k] = geo.FieldString
			}
		}
	}
	names := make([]string, 0, len(types))
	for k := range types {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([]geo.FieldDescriptor, 0, len(names))
	for _, n := range names {
		out = append(out, geo.FieldDescriptor{Name: n, Type: types[n]})
	}
	return out, nil
}

func parseID(raw any) (geo.FeatureID, bool) {
	switch x := raw.(type) {
	case float64:
		if x == float64(int64(x)) && x > 0 {
			return geo.FeatureID(x), true
		}
	case string:
		if n, err := strconv.ParseInt(x, 10, 64); err == nil && n > 0 {
			return geo.FeatureID(n), true
		}
	}
	return 0, false
}

// encode renders a dataset and its features as a FeatureCollection that
// readFile accepts back without inference.
func encode(meta geo.Dataset, feats []geo.Feature) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	fields := make([]any, 0, len(meta.Fields))
	for _, fd := range meta.Fields {
		fields = append(fields, map[string]any{"name": fd.Name, "type": fd.Type.String()})
	}
	fc.ExtraMembers = geojson.Properties{
		memberKind:   meta.Kind.String(),
		memberFields: fields,
	}
	for _, f := range feats {
		gf := geojson.NewFeature(f.Geometry)
		gf.ID = int64(f.ID)
		for _, fd := range meta.Fields {
			gf.Properties[fd.Name] = f.Fields[fd.Name].Any()
		}
		fc.Append(gf)
	}
	return fc.MarshalJSON()
}

// writeFile replaces path atomically through a sibling temp file.
func writeFile(path string, meta geo.Dataset, feats []geo.Feature) error {
	data, err := encode(meta, feats)
	if err != nil {
		return fmt.Errorf("encode geojson: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".memstore-*.geojson")
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
