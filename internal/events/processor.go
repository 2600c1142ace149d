package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OrlandoBitencourt/flagbridge/internal/telemetry"
)

const (
	defaultQueueSize     = 1000
	defaultBatchSize     = 10
	defaultFlushInterval = 30 * time.Second
	defaultFlushTimeout  = 10 * time.Second
)

// ProcessorOption configures a Processor
type ProcessorOption func(*Processor)

// WithQueueSize sets the buffered queue capacity
func WithQueueSize(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithBatchSize sets how many events trigger an immediate flush
func WithBatchSize(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithFlushInterval sets the periodic flush interval
func WithFlushInterval(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.flushInterval = d
		}
	}
}

// WithLogger sets the processor logger
func WithLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithTelemetry sets the telemetry provider
func WithTelemetry(t telemetry.Provider) ProcessorOption {
	return func(p *Processor) {
		if t != nil {
			p.telemetry = t
		}
	}
}

// Stats reports processor counters
type Stats struct {
	Queued     int64 `json:"queued"`
	Dropped    int64 `json:"dropped"`
	Dispatched int64 `json:"dispatched"`
	Failed     int64 `json:"failed"`
	Pending    int   `json:"pending"`
}

// Processor queues events and dispatches them in batches from a single worker
type Processor struct {
	dispatcher    Dispatcher
	logger        *slog.Logger
	telemetry     telemetry.Provider
	queueSize     int
	batchSize     int
	flushInterval time.Duration

	queue   chan Event
	flushes chan chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool

	queued     atomic.Int64
	dropped    atomic.Int64
	dispatched atomic.Int64
	failed     atomic.Int64
}

// NewProcessor creates a processor and starts its worker
func NewProcessor(dispatcher Dispatcher, opts ...ProcessorOption) *Processor {
	p := &Processor{
		dispatcher:    dispatcher,
		logger:        slog.Default(),
		telemetry:     telemetry.NewNoOp(),
		queueSize:     defaultQueueSize,
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
	}

	for _, opt := range opts {
		opt(p)
	}

	p.queue = make(chan Event, p.queueSize)
	p.flushes = make(chan chan struct{})
	p.done = make(chan struct{})

	p.wg.Add(1)
	go p.worker()

	return p
}

// Process queues an event without blocking; the event is dropped when the queue is full
func (p *Processor) Process(event Event) bool {
	if p.closed.Load() {
		p.dropped.Add(1)
		return false
	}

	select {
	case p.queue <- event:
		p.queued.Add(1)
		return true
	default:
		p.dropped.Add(1)
		p.logger.Warn("event queue full, dropping event", "kind", event.Kind, "uuid", event.UUID)
		return false
	}
}

// Flush dispatches everything queued so far and waits for it
func (p *Processor) Flush(ctx context.Context) error {
	if p.closed.Load() {
		return nil
	}

	ack := make(chan struct{})
	select {
	case p.flushes <- ack:
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the worker after dispatching pending events
func (p *Processor) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(p.done)
	p.wg.Wait()
	return nil
}

// Stats returns a snapshot of the counters
func (p *Processor) Stats() Stats {
	return Stats{
		Queued:     p.queued.Load(),
		Dropped:    p.dropped.Load(),
		Dispatched: p.dispatched.Load(),
		Failed:     p.failed.Load(),
		Pending:    len(p.queue),
	}
}

func (p *Processor) worker() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, p.batchSize)

	for {
		select {
		case event := <-p.queue:
			batch = append(batch, event)
			if len(batch) >= p.batchSize {
				batch = p.send(batch)
			}

		case <-ticker.C:
			batch = p.send(batch)

		case ack := <-p.flushes:
			batch = p.send(p.drain(batch))
			close(ack)

		case <-p.done:
			p.send(p.drain(batch))
			return
		}
	}
}

// drain moves every queued event into the batch
func (p *Processor) drain(batch []Event) []Event {
	for {
		select {
		case event := <-p.queue:
			batch = append(batch, event)
		default:
			return batch
		}
	}
}

// send dispatches the batch in chunks of batchSize and returns an empty batch
func (p *Processor) send(batch []Event) []Event {
	for start := 0; start < len(batch); start += p.batchSize {
		end := min(start+p.batchSize, len(batch))
		p.dispatch(batch[start:end])
	}
	return batch[:0]
}

func (p *Processor) dispatch(events []Event) {
	if len(events) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultFlushTimeout)
	defer cancel()

	payload := Batch{
		ClientName: ClientName,
		SentAt:     time.Now().UTC(),
		Events:     append([]Event(nil), events...),
	}

	err := p.dispatcher.Dispatch(ctx, payload)
	p.telemetry.RecordEventsDispatched(ctx, len(events), err == nil)

	if err != nil {
		p.failed.Add(int64(len(events)))
		p.logger.Error("event batch dispatch failed", "events", len(events), "error", err)
		return
	}

	p.dispatched.Add(int64(len(events)))
	p.logger.Debug("event batch dispatched", "events", len(events))
}
