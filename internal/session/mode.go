package session

import (
	"fmt"
	"strings"
)

// Mode is the interaction mode of the map surface. Exactly one is active.
type Mode int

const (
	ModeDefault Mode = iota
	ModeBoxSelect
	ModeBufferPick
	ModeAddPoint
	ModeRoutePick
)

func (m Mode) String() string {
	switch m {
	case ModeBoxSelect:
		return "box_select"
	case ModeBufferPick:
		return "buffer_pick"
	case ModeAddPoint:
		return "add_point"
	case ModeRoutePick:
		return "route_pick"
	default:
		return "default"
	}
}

type Button int

const (
	ButtonLeft Button = iota
	ButtonMiddle
	ButtonRight
)

func ParseButton(s string) (Button, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "left":
		return ButtonLeft, nil
	case "middle":
		return ButtonMiddle, nil
	case "right":
		return ButtonRight, nil
	default:
		return ButtonLeft, fmt.Errorf("unknown button %q", s)
	}
}

type PointerAction int

const (
	PointerDown PointerAction = iota
	PointerUp
	PointerMove
)

func ParsePointerAction(s string) (PointerAction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "down", "press":
		return PointerDown, nil
	case "up", "release":
		return PointerUp, nil
	case "move":
		return PointerMove, nil
	default:
		return PointerMove, fmt.Errorf("unknown pointer action %q", s)
	}
}

// PointerEvent is delivered by the display surface in screen coordinates.
// Navigating is set while one of the surface's own pan/zoom tools is engaged.
type PointerEvent struct {
	Action     PointerAction
	Button     Button
	X, Y       float64
	Navigating bool
}

// ClickSlop is how far, in screen units, the pointer may travel between down
// and up and still count as a click rather than a drag.
const ClickSlop = 3.0
