package session

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/map-session/internal/geo"
)

var (
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrEngineFailure      = errors.New("engine failure")
	ErrNoRouteFound       = errors.New("no route found")
)

type OutcomeKind int

const (
	// OutcomeIgnored is returned for pointer events the controller does not
	// consume. It is never shown to the user.
	OutcomeIgnored OutcomeKind = iota
	OutcomeSuccess
	OutcomeEmpty
	OutcomePreconditionFailed
	OutcomeEngineFailure
	OutcomeNoRouteFound
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeEmpty:
		return "empty"
	case OutcomePreconditionFailed:
		return "precondition_failed"
	case OutcomeEngineFailure:
		return "engine_failure"
	case OutcomeNoRouteFound:
		return "no_route_found"
	default:
		return "ignored"
	}
}

// Outcome is the single result every session operation ends with.
type Outcome struct {
	Op      string
	Kind    OutcomeKind
	Count   int
	Message string
	Err     error
	Layer   string
	// Record is the feature found by identify or written by add-point.
	Record *geo.Feature
	// Geometry is the buffer or route path the operation produced.
	Geometry orb.Geometry
}

func (o Outcome) OK() bool { return o.Kind == OutcomeSuccess || o.Kind == OutcomeEmpty }

func success(op string, count int, format string, args ...any) Outcome {
	return Outcome{Op: op, Kind: OutcomeSuccess, Count: count, Message: fmt.Sprintf(format, args...)}
}

func empty(op, format string, args ...any) Outcome {
	return Outcome{Op: op, Kind: OutcomeEmpty, Message: fmt.Sprintf(format, args...)}
}

func precondition(op, format string, args ...any) Outcome {
	msg := fmt.Sprintf(format, args...)
	return Outcome{
		Op:      op,
		Kind:    OutcomePreconditionFailed,
		Message: msg,
		Err:     fmt.Errorf("%s: %w: %s", op, ErrPreconditionFailed, msg),
	}
}

func engineFailure(op string, err error, format string, args ...any) Outcome {
	msg := fmt.Sprintf(format, args...)
	return Outcome{
		Op:      op,
		Kind:    OutcomeEngineFailure,
		Message: msg + ": " + err.Error(),
		Err:     fmt.Errorf("%s: %w: %w", op, ErrEngineFailure, err),
	}
}

func noRoute(op string, err error) Outcome {
	return Outcome{
		Op:      op,
		Kind:    OutcomeNoRouteFound,
		Message: "no route between the picked points",
		Err:     fmt.Errorf("%s: %w: %w", op, ErrNoRouteFound, err),
	}
}

func ignored(op string) Outcome { return Outcome{Op: op, Kind: OutcomeIgnored} }
