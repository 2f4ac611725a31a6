// Package app assembles one map session from configuration: the feature
// store, topology and routing engines, the headless display, the journal and
// the event loop that serializes every command onto the session.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/map-session/internal/command"
	"github.com/mohammed-shakir/map-session/internal/core/config"
	"github.com/mohammed-shakir/map-session/internal/display/headless"
	"github.com/mohammed-shakir/map-session/internal/eventloop"
	"github.com/mohammed-shakir/map-session/internal/export/geojsonexport"
	"github.com/mohammed-shakir/map-session/internal/journal"
	mylog "github.com/mohammed-shakir/map-session/internal/logger"
	"github.com/mohammed-shakir/map-session/internal/ports"
	"github.com/mohammed-shakir/map-session/internal/routing/network"
	"github.com/mohammed-shakir/map-session/internal/session"
	"github.com/mohammed-shakir/map-session/internal/store/memstore"
	"github.com/mohammed-shakir/map-session/internal/store/redisfeatures"
	"github.com/mohammed-shakir/map-session/internal/store/redisstore"
	"github.com/mohammed-shakir/map-session/internal/topology/planar"
)

type App struct {
	cfg       config.Config
	logger    *slog.Logger
	sessionID string

	loop    *eventloop.Loop
	session *session.Session
	display *headless.Display
	form    *commandForm
	store   ports.FeatureStore

	redis   *redisstore.Client
	journal *journal.Publisher
	network *network.Network
	running chan struct{}
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		cfg:       cfg,
		logger:    logger,
		sessionID: cfg.SessionID,
		form:      &commandForm{},
		running:   make(chan struct{}),
	}
	if a.sessionID == "" {
		a.sessionID = mylog.NewID()
	}

	topo := planar.New(cfg.BufferSegments)
	files := memstore.New(logger, topo)
	a.store = files
	if cfg.StoreDriver == "redis" {
		cli, err := redisstore.New(ctx, cfg.RedisAddr,
			redisstore.WithReadTimeout(cfg.StoreOpTimeout),
			redisstore.WithWriteTimeout(cfg.StoreOpTimeout),
		)
		if err != nil {
			return nil, fmt.Errorf("connect feature store: %w", err)
		}
		a.redis = cli
		a.store = &importingStore{
			Store: redisfeatures.New(cli, topo,
				redisfeatures.WithLogger(logger),
				redisfeatures.WithCacheSize(cfg.StoreCacheSize),
			),
			files:  files,
			logger: logger,
		}
	}

	var jr ports.Journal = journal.Nop{}
	if cfg.Journal.Enabled {
		pub, err := journal.NewKafka(cfg.Journal.BrokerList(), cfg.Journal.Topic,
			journal.WithQueueSize(cfg.Journal.Queue),
			journal.WithResolution(cfg.Journal.H3Res),
			journal.WithHalfLife(cfg.Journal.HeatWindow),
			journal.WithLogger(logger),
		)
		if err != nil {
			logger.Warn("journal disabled", "err", err)
		} else {
			a.journal = pub
			jr = pub
		}
	}

	var router ports.Router
	if cfg.NetworkLayer != "" {
		n, err := a.buildNetwork(ctx, cfg.NetworkLayer, cfg.SnapTolerance)
		if err != nil {
			logger.Warn("routing disabled", "layer", cfg.NetworkLayer, "err", err)
		} else {
			a.network = n
			router = n
		}
	}

	a.display = headless.New(cfg.ViewWidth, cfg.ViewHeight, headless.WithLogger(logger))
	a.session = session.New(session.Deps{
		Store:    a.store,
		Topology: topo,
		Router:   router,
		Display:  a.display,
		Form:     a.form,
		Exporter: geojsonexport.New(geojsonexport.WithDir(cfg.ExportDir), geojsonexport.WithLogger(logger)),
		Journal:  jr,
		Logger:   logger,
	}, session.Config{
		SessionID:         a.sessionID,
		BufferDistance:    cfg.BufferDistance,
		RouteFitFactor:    cfg.RouteFitFactor,
		IdentifyTolerance: cfg.IdentifyTolerance,
		FoldCase:          cfg.FoldCase,
		ExtentPad:         cfg.ExtentPad,
	})
	a.loop = eventloop.New(cfg.EventQueue, logger)
	return a, nil
}

func (a *App) buildNetwork(ctx context.Context, path string, snap float64) (*network.Network, error) {
	ds, err := a.store.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	n, err := network.Build(ctx, a.store, ds, snap)
	if err != nil {
		return nil, err
	}
	a.logger.Info("routing network built", "layer", ds.Name, "nodes", n.Nodes(), "took_ms", time.Since(start).Milliseconds())
	return n, nil
}

func (a *App) SessionID() string { return a.sessionID }

// Run drives the event loop until ctx is done.
func (a *App) Run(ctx context.Context) {
	close(a.running)
	a.loop.Run(ctx)
}

// OpenStartup opens the configured startup layers on the loop. Layers that
// fail are reported through the session like any other failure.
func (a *App) OpenStartup(ctx context.Context) ([]command.Result, error) {
	if len(a.cfg.StartupLayers) == 0 {
		return nil, nil
	}
	ctx = a.tag(ctx, "open_startup")
	outs, err := eventloop.Call(ctx, a.loop, func(ctx context.Context) []session.Outcome {
		return a.session.OpenStartup(ctx, a.cfg.StartupLayers)
	})
	if err != nil {
		return nil, err
	}
	return results(outs), nil
}

// Apply runs one command on the loop and returns its results.
func (a *App) Apply(ctx context.Context, c command.Command) ([]command.Result, error) {
	ctx = a.tag(ctx, c.Action)
	var (
		outs     []session.Outcome
		applyErr error
	)
	err := a.loop.Do(ctx, func(ctx context.Context) {
		a.form.stage(c.Values, c.Cancel)
		defer a.form.reset()
		outs, applyErr = command.Apply(ctx, a.session, c)
	})
	if err != nil {
		return nil, err
	}
	if applyErr != nil {
		return nil, applyErr
	}
	return results(outs), nil
}

type State struct {
	SessionID string         `json:"session_id"`
	Session   session.State  `json:"session"`
	Display   headless.State `json:"display"`
}

func (a *App) State(ctx context.Context) (any, error) {
	return eventloop.Call(ctx, a.loop, func(context.Context) State {
		return State{SessionID: a.sessionID, Session: a.session.Snapshot(), Display: a.display.Snapshot()}
	})
}

// Readiness reports the event loop and, for the Redis driver, the store.
func (a *App) Readiness() (bool, []string) {
	var failing []string
	select {
	case <-a.running:
	default:
		failing = append(failing, "event_loop")
	}
	if a.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		if err := a.redis.Ping(ctx); err != nil {
			failing = append(failing, "store")
		}
	}
	return len(failing) == 0, failing
}

// Close releases the journal producer and the store connection. The loop
// must already be stopped.
func (a *App) Close() error {
	var errs []error
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}

func (a *App) tag(ctx context.Context, action string) context.Context {
	return mylog.WithCommand(mylog.WithSession(ctx, a.sessionID), action)
}

func results(outs []session.Outcome) []command.Result {
	out := make([]command.Result, 0, len(outs))
	for _, o := range outs {
		out = append(out, command.NewResult(o))
	}
	return out
}
