// Package command decodes JSON commands and applies them to a session. The
// same commands drive the HTTP surface and script replay.
package command

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/map-session/internal/geo"
	"github.com/mohammed-shakir/map-session/internal/session"
)

var ErrInvalid = errors.New("invalid command")

type Command struct {
	Action     string            `json:"action"`
	Path       string            `json:"path,omitempty"`
	Layer      string            `json:"layer,omitempty"`
	Target     string            `json:"target,omitempty"`
	Field      string            `json:"field,omitempty"`
	Keyword    string            `json:"keyword,omitempty"`
	Visible    *bool             `json:"visible,omitempty"`
	ID         int64             `json:"id,omitempty"`
	Values     map[string]string `json:"values,omitempty"`
	Cancel     bool              `json:"cancel,omitempty"`
	Pointer    string            `json:"pointer,omitempty"`
	Button     string            `json:"button,omitempty"`
	X          float64           `json:"x"`
	Y          float64           `json:"y"`
	Navigating bool              `json:"navigating,omitempty"`
}

// Result is the wire form of a session outcome.
type Result struct {
	Op       string            `json:"op"`
	Outcome  string            `json:"outcome"`
	Count    int               `json:"count"`
	Message  string            `json:"message,omitempty"`
	Layer    string            `json:"layer,omitempty"`
	Error    string            `json:"error,omitempty"`
	Record   *geojson.Feature  `json:"record,omitempty"`
	Geometry *geojson.Geometry `json:"geometry,omitempty"`
}

func NewResult(o session.Outcome) Result {
	r := Result{
		Op:      o.Op,
		Outcome: o.Kind.String(),
		Count:   o.Count,
		Message: o.Message,
		Layer:   o.Layer,
	}
	if o.Err != nil {
		r.Error = o.Err.Error()
	}
	if o.Record != nil {
		r.Record = featureJSON(*o.Record)
	}
	if o.Geometry != nil {
		r.Geometry = geojson.NewGeometry(o.Geometry)
	}
	return r
}

func featureJSON(f geo.Feature) *geojson.Feature {
	gf := geojson.NewFeature(f.Geometry)
	gf.ID = int64(f.ID)
	for k, v := range f.Fields {
		gf.Properties[k] = v.Any()
	}
	return gf
}

func Decode(r io.Reader) (Command, error) {
	var c Command
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return Command{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return c, nil
}

// Apply runs c against s. Most commands yield one outcome; a click yields
// the press and the release outcomes, and pointer events the session does
// not consume yield an ignored outcome. Malformed commands return
// ErrInvalid and touch nothing.
func Apply(ctx context.Context, s *session.Session, c Command) ([]session.Outcome, error) {
	one := func(o session.Outcome) ([]session.Outcome, error) { return []session.Outcome{o}, nil }

	switch strings.ToLower(strings.TrimSpace(c.Action)) {
	case "add_layer":
		return one(s.AddLayer(ctx, c.Path))
	case "remove_layer":
		return one(s.RemoveLayer(ctx, c.Layer))
	case "set_visible":
		if c.Visible == nil {
			return nil, fmt.Errorf("%w: set_visible needs visible", ErrInvalid)
		}
		return one(s.SetVisible(ctx, c.Layer, *c.Visible))
	case "set_active_layer":
		return one(s.SetActiveLayer(ctx, c.Layer))
	case "search":
		return one(s.Search(ctx, c.Layer, c.Field, c.Keyword))
	case "arm_box_select":
		return one(s.ArmBoxSelect(ctx))
	case "buffer":
		return one(s.ComputeBuffer(ctx))
	case "select_by_buffer":
		target := c.Target
		if target == "" {
			target = c.Layer
		}
		return one(s.SelectByBuffer(ctx, target))
	case "edit_attributes":
		return one(s.EditAttributes(ctx, c.Layer, geo.FeatureID(c.ID), c.Values))
	case "delete_selected":
		return one(s.DeleteSelected(ctx, c.Layer))
	case "arm_add_point":
		return one(s.ArmAddPoint(ctx))
	case "arm_route":
		return one(s.ArmRoutePick(ctx))
	case "identify":
		return one(s.Identify(ctx, orb.Point{c.X, c.Y}))
	case "classify":
		return one(s.Classify(ctx, c.Layer, c.Field))
	case "export":
		return one(s.ExportView(ctx, c.Path))
	case "close":
		return one(s.Close(ctx))
	case "pointer":
		ev, err := pointerEvent(c, true)
		if err != nil {
			return nil, err
		}
		return one(s.HandlePointer(ctx, ev))
	case "click":
		ev, err := pointerEvent(c, false)
		if err != nil {
			return nil, err
		}
		ev.Action = session.PointerDown
		down := s.HandlePointer(ctx, ev)
		ev.Action = session.PointerUp
		return []session.Outcome{down, s.HandlePointer(ctx, ev)}, nil
	case "":
		return nil, fmt.Errorf("%w: missing action", ErrInvalid)
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalid, c.Action)
	}
}

func pointerEvent(c Command, withAction bool) (session.PointerEvent, error) {
	b, err := session.ParseButton(c.Button)
	if err != nil {
		return session.PointerEvent{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	ev := session.PointerEvent{Button: b, X: c.X, Y: c.Y, Navigating: c.Navigating}
	if withAction {
		a, err := session.ParsePointerAction(c.Pointer)
		if err != nil {
			return session.PointerEvent{}, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		ev.Action = a
	}
	return ev, nil
}

// Replay reads one JSON command per line from r and hands each to fn. Blank
// lines and lines starting with '#' are skipped.
func Replay(r io.Reader, fn func(line int, c Command) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	n := 0
	for sc.Scan() {
		n++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		c, err := Decode(strings.NewReader(text))
		if err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
		if err := fn(n, c); err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
	}
	return sc.Err()
}
