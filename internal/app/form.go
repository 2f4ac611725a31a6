package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammed-shakir/map-session/internal/geo"
	"github.com/mohammed-shakir/map-session/internal/ports"
)

// commandForm answers the add-point attribute form from the values carried
// by the command that placed the point. It is only touched on the event loop.
type commandForm struct {
	values map[string]string
	cancel bool
}

var _ ports.Form = (*commandForm)(nil)

func (f *commandForm) stage(values map[string]string, cancel bool) {
	f.values, f.cancel = values, cancel
}

func (f *commandForm) reset() { f.values, f.cancel = nil, false }

func (f *commandForm) Collect(_ context.Context, _ geo.Dataset, fields []geo.FieldDescriptor) (map[string]geo.Value, bool, error) {
	if f.cancel {
		return nil, false, nil
	}
	out := make(map[string]geo.Value, len(f.values))
	for _, fd := range fields {
		raw, ok := lookupFold(f.values, fd.Name)
		if !ok {
			continue
		}
		v, err := geo.Coerce(fd.Type, raw)
		if err != nil {
			return nil, false, fmt.Errorf("field %q: %w", fd.Name, err)
		}
		out[fd.Name] = v
	}
	return out, true, nil
}

func lookupFold(m map[string]string, name string) (string, bool) {
	if v, ok := m[name]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}
