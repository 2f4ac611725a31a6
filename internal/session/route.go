package session

import (
	"image/color"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/map-session/internal/ports"
)

type RouteState int

const (
	RouteIdle RouteState = iota
	RouteAwaitingOrigin
	RouteAwaitingDestination
	RouteSolving
	RouteSolved
	RouteFailed
)

func (s RouteState) String() string {
	switch s {
	case RouteAwaitingOrigin:
		return "awaiting_origin"
	case RouteAwaitingDestination:
		return "awaiting_destination"
	case RouteSolving:
		return "solving"
	case RouteSolved:
		return "solved"
	case RouteFailed:
		return "failed"
	default:
		return "idle"
	}
}

// RouteRequest is the two-click stop capture. The drawn path outlives the
// request: it stays on the route overlay until the next arm.
type RouteRequest struct {
	State       RouteState
	Origin      *orb.Point
	Destination *orb.Point
}

func (r *RouteRequest) reset() { *r = RouteRequest{} }

func (r *RouteRequest) arm() { *r = RouteRequest{State: RouteAwaitingOrigin} }

// incomplete reports whether stops were captured but never solved.
func (r *RouteRequest) incomplete() bool {
	return r.State == RouteAwaitingOrigin || r.State == RouteAwaitingDestination
}

const (
	originMarker      = "origin"
	destinationMarker = "destination"
)

var (
	originStyle      = routeMarkerStyle(color.RGBA{R: 0, G: 160, B: 0, A: 255})
	destinationStyle = routeMarkerStyle(color.RGBA{R: 200, G: 0, B: 0, A: 255})
	pathStyle        = routeMarkerStyle(color.RGBA{R: 0, G: 80, B: 255, A: 255})
)

func routeMarkerStyle(c color.RGBA) ports.Style {
	return ports.Style{Stroke: c, Fill: c, Width: 3, Size: 10}
}
