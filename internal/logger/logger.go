// Package logger builds the zerolog root logger and carries per-command
// fields (request, session, command, component) on the context.
package logger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level     string
	Console   bool
	SampleN   int
	SessionID string
	Component string
}

type ctxKey string

const (
	ctxRequestID ctxKey = "request_id"
	ctxSession   ctxKey = "session_id"
	ctxComponent ctxKey = "component"
	ctxCommand   ctxKey = "command"
)

// contextFields is the order fields are copied from a context onto a line.
var contextFields = []ctxKey{ctxRequestID, ctxSession, ctxCommand, ctxComponent}

func withValue(ctx context.Context, k ctxKey, v string) context.Context {
	if v == "" {
		return ctx
	}
	return context.WithValue(ctx, k, v)
}

// WithRequestID tags ctx with reqID, generating one when it is empty.
func WithRequestID(ctx context.Context, reqID string) context.Context {
	if reqID == "" {
		reqID = NewID()
	}
	return withValue(ctx, ctxRequestID, reqID)
}

func WithSession(ctx context.Context, id string) context.Context {
	return withValue(ctx, ctxSession, id)
}

// WithCommand tags log lines with the command action being applied.
func WithCommand(ctx context.Context, action string) context.Context {
	return withValue(ctx, ctxCommand, action)
}

func WithComponent(ctx context.Context, component string) context.Context {
	return withValue(ctx, ctxComponent, component)
}

// NewID returns 16 hex characters of randomness.
func NewID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func sampleRate(n int) uint32 {
	if n > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(n)
}

// parseLevel maps LOG_LEVEL onto zerolog. Unknown or empty values and the
// levels below debug fall back to info.
func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel || lvl < zerolog.DebugLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Build configures zerolog globals and returns the root logger. It sets the
// global level, so the last call wins.
func Build(cfg Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "timestamp"
	zerolog.LevelFieldName = "level"
	zerolog.MessageFieldName = "msg"
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	base := zerolog.New(out)
	if cfg.SampleN > 0 {
		base = base.Sample(&zerolog.BasicSampler{N: sampleRate(cfg.SampleN)})
	}

	zc := base.With().Timestamp()
	if cfg.SessionID != "" {
		zc = zc.Str(string(ctxSession), cfg.SessionID)
	}
	if cfg.Component != "" {
		zc = zc.Str(string(ctxComponent), cfg.Component)
	}
	return zc.Logger()
}

// FromContext returns a child of parent carrying the context fields. A nil
// parent discards output.
func FromContext(ctx context.Context, parent *zerolog.Logger) *zerolog.Logger {
	base := zerolog.New(io.Discard)
	if parent != nil {
		base = *parent
	}
	w := base.With()
	for _, k := range contextFields {
		if s, ok := ctx.Value(k).(string); ok && s != "" {
			w = w.Str(string(k), s)
		}
	}
	l := w.Logger()
	return &l
}
