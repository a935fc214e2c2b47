package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// Sink delivers events to one destination.
type Sink interface {
	Name() string
	Deliver(context.Context, *Event) error
	Close(context.Context) error
}

// Stats is a point-in-time copy of the emitter counters. Delivered and
// Failed are keyed by sink name.
type Stats struct {
	Enqueued  uint64
	Dropped   uint64
	Delivered map[string]uint64
	Failed    map[string]uint64
}

type sinkCounters struct {
	sink      Sink
	delivered atomic.Uint64
	failed    atomic.Uint64
}

// EmitterConfig sizes the queue and the worker pool.
type EmitterConfig struct {
	QueueSize       int
	Workers         int
	ShutdownTimeout time.Duration
	// OnDrop runs once per dropped event.
	OnDrop func()
}

// Emitter fans events out to its sinks from a fixed worker pool. Emit never
// blocks; when the queue is full or the emitter is closed the event is
// dropped and counted.
type Emitter struct {
	queue   chan *Event
	sinks   []*sinkCounters
	onDrop  func()
	timeout time.Duration

	enqueued atomic.Uint64
	dropped  atomic.Uint64

	// mu guards closed and the close of queue against concurrent sends.
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewEmitter starts the workers. Zero config values get defaults: a queue
// of 1000, one worker, a two second drain on Close.
func NewEmitter(cfg EmitterConfig, sinks []Sink) *Emitter {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 2 * time.Second
	}

	e := &Emitter{
		queue:   make(chan *Event, cfg.QueueSize),
		onDrop:  cfg.OnDrop,
		timeout: cfg.ShutdownTimeout,
	}
	for _, s := range sinks {
		e.sinks = append(e.sinks, &sinkCounters{sink: s})
	}

	e.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go func() {
			defer e.wg.Done()
			for ev := range e.queue {
				e.deliver(ev)
			}
		}()
	}
	return e
}

// Emit queues ev for delivery.
func (e *Emitter) Emit(ev *Event) {
	if e == nil || ev == nil {
		return
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.closed {
		select {
		case e.queue <- ev:
			e.enqueued.Add(1)
			return
		default:
		}
	}

	e.dropped.Add(1)
	if e.onDrop != nil {
		e.onDrop()
	}
}

// Close stops intake, drains the queue for at most the shutdown timeout and
// closes every sink. Calling it again is a no-op.
func (e *Emitter) Close(ctx context.Context) {
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	drained := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		log.WithField("pending", len(e.queue)).Warn("audit: shutdown timeout before queue drained")
	}

	for _, sc := range e.sinks {
		if err := sc.sink.Close(ctx); err != nil {
			log.WithField("sink", sc.sink.Name()).WithError(err).Warn("audit: sink close")
		}
	}
}

// Stats returns the current counters.
func (e *Emitter) Stats() Stats {
	if e == nil {
		return Stats{}
	}
	st := Stats{
		Enqueued:  e.enqueued.Load(),
		Dropped:   e.dropped.Load(),
		Delivered: make(map[string]uint64, len(e.sinks)),
		Failed:    make(map[string]uint64, len(e.sinks)),
	}
	for _, sc := range e.sinks {
		name := sc.sink.Name()
		st.Delivered[name] += sc.delivered.Load()
		st.Failed[name] += sc.failed.Load()
	}
	return st
}

func (e *Emitter) deliver(ev *Event) {
	for _, sc := range e.sinks {
		err := sc.sink.Deliver(context.Background(), ev)
		if err == nil {
			sc.delivered.Add(1)
			continue
		}
		sc.failed.Add(1)
		log.WithFields(log.Fields{
			"sink":       sc.sink.Name(),
			"request_id": ev.RequestID,
			"kind":       ev.Kind,
		}).WithError(err).Warn("audit: delivery failed")
	}
}

// LogSink writes events through logrus. FromConfig falls back to it when
// auditing is on but no file or webhook is configured.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Deliver(_ context.Context, ev *Event) error {
	LogEvent(ev)
	return nil
}

func (LogSink) Close(context.Context) error { return nil }
