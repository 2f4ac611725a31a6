// Package journal publishes finished session operations to Kafka. Pointer
// operations are tagged with the H3 cell under the pointer and a decaying
// heat score for that cell.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/map-session/internal/core/observability"
	"github.com/mohammed-shakir/map-session/internal/ports"
)

type Event struct {
	SessionID string    `json:"session_id"`
	Op        string    `json:"op"`
	Outcome   string    `json:"outcome"`
	Message   string    `json:"message,omitempty"`
	Layer     string    `json:"layer,omitempty"`
	Mode      string    `json:"mode"`
	Count     int       `json:"count"`
	Lon       *float64  `json:"lon,omitempty"`
	Lat       *float64  `json:"lat,omitempty"`
	Cell      string    `json:"cell,omitempty"`
	Region    string    `json:"region,omitempty"`
	Heat      float64   `json:"heat,omitempty"`
	TS        time.Time `json:"ts"`
}

// regionStep is how many resolutions coarser the region cell is than the
// pointer cell.
const regionStep = 3

type Option func(*Publisher)

func WithQueueSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.queue = n
		}
	}
}

// WithResolution sets the H3 resolution used to tag pointer locations. A
// negative value turns tagging off.
func WithResolution(res int) Option { return func(p *Publisher) { p.res = res } }

func WithHalfLife(d time.Duration) Option {
	return func(p *Publisher) { p.heat = NewHeat(d) }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

type Publisher struct {
	topic  string
	res    int
	queue  int
	heat   *Heat
	logger *slog.Logger

	prod    sarama.AsyncProducer
	events  chan Event
	stopped chan struct{}
	errDone chan struct{}

	mu     sync.RWMutex
	closed bool
}

var _ ports.Journal = (*Publisher)(nil)

func NewKafka(brokers []string, topic string, opts ...Option) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("journal: create async producer: %w", err)
	}
	return newPublisher(prod, topic, opts...), nil
}

func newPublisher(prod sarama.AsyncProducer, topic string, opts ...Option) *Publisher {
	p := &Publisher{
		topic:   topic,
		res:     9,
		queue:   1024,
		logger:  slog.Default(),
		prod:    prod,
		stopped: make(chan struct{}),
		errDone: make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	if p.heat == nil {
		p.heat = NewHeat(time.Minute)
	}
	p.logger = p.logger.With("component", "journal")
	p.events = make(chan Event, p.queue)

	go p.pump()
	go p.drainErrors()
	return p
}

func (p *Publisher) pump() {
	defer close(p.stopped)
	for ev := range p.events {
		b, err := json.Marshal(ev)
		if err != nil {
			p.logger.Error("marshal event", "err", err)
			observability.IncJournal("error")
			continue
		}
		p.prod.Input() <- &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(ev.SessionID),
			Value: sarama.ByteEncoder(b),
		}
		observability.IncJournal("sent")
	}
}

func (p *Publisher) drainErrors() {
	defer close(p.errDone)
	for err := range p.prod.Errors() {
		if err != nil {
			p.logger.Warn("producer error", "err", err)
			observability.IncJournal("error")
		}
	}
}

// Record queues a for publishing. A full queue drops the event.
func (p *Publisher) Record(_ context.Context, a ports.Activity) {
	ev := p.event(a)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		observability.IncJournal("dropped")
		return
	}
	select {
	case p.events <- ev:
	default:
		observability.IncJournal("dropped")
	}
}

func (p *Publisher) event(a ports.Activity) Event {
	ev := Event{
		SessionID: a.SessionID,
		Op:        a.Op,
		Outcome:   a.Outcome,
		Message:   a.Message,
		Layer:     a.Layer,
		Mode:      a.Mode,
		Count:     a.Count,
		TS:        a.At.UTC(),
	}
	if a.Point == nil {
		return ev
	}
	lon, lat := a.Point[0], a.Point[1]
	ev.Lon, ev.Lat = &lon, &lat
	if p.res < 0 {
		return ev
	}
	cell, err := CellAt(*a.Point, p.res)
	if err != nil {
		p.logger.Debug("no h3 cell for point", "lon", lon, "lat", lat, "err", err)
		return ev
	}
	p.heat.Inc(cell)
	ev.Cell = cell
	ev.Heat = p.heat.Score(cell)
	if region, err := Parent(cell, max(p.res-regionStep, 0)); err == nil {
		ev.Region = region
	}
	return ev
}

// Close flushes queued events and closes the producer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	<-p.stopped
	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("journal: close producer: %w", err)
	}
	<-p.errDone
	return nil
}

// Nop drops every activity.
type Nop struct{}

func (Nop) Record(context.Context, ports.Activity) {}
