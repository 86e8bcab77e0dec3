package stream

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"realtime_server/core/domain"
)

// Source is the consumer-group view of a stream.
type Source interface {
	CreateGroup(ctx context.Context, stream string) error
	Read(ctx context.Context, stream, consumer, start string, count int64, block time.Duration) ([]Entry, error)
	Ack(ctx context.Context, stream string, ids ...string) error
	Pending(ctx context.Context, stream string) (int64, error)
}

// EventHandler processes one decoded order status event.
// A nil error acknowledges the entry; any error leaves it pending for retry.
type EventHandler interface {
	Handle(ctx context.Context, ev *domain.OrderStatusEvent) error
}

type ConsumerConfig struct {
	Stream        string
	Name          string
	BatchSize     int
	Block         time.Duration
	Workers       int
	HandleTimeout time.Duration
	RetryInterval time.Duration // how often pending entries are re-read
}

func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Stream:        StreamOrderStatus,
		Name:          "realtime",
		BatchSize:     50,
		Block:         5 * time.Second,
		Workers:       8,
		HandleTimeout: 30 * time.Second,
		RetryInterval: time.Minute,
	}
}

// Consumer reads order status events and fans each batch out to a worker group.
type Consumer struct {
	source  Source
	handler EventHandler
	cfg     ConsumerConfig
	log     zerolog.Logger

	processed atomic.Int64
	failed    atomic.Int64
	malformed atomic.Int64
}

func NewConsumer(source Source, handler EventHandler, cfg ConsumerConfig, log zerolog.Logger) *Consumer {
	def := DefaultConsumerConfig()
	if cfg.Stream == "" {
		cfg.Stream = def.Stream
	}
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Block <= 0 {
		cfg.Block = def.Block
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.HandleTimeout <= 0 {
		cfg.HandleTimeout = def.HandleTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	return &Consumer{
		source:  source,
		handler: handler,
		cfg:     cfg,
		log:     log.With().Str("component", "order_stream").Str("stream", cfg.Stream).Logger(),
	}
}

// eventWorker implements pool.Worker for stream entries.
type eventWorker struct {
	c *Consumer
}

func (w *eventWorker) Do(ctx context.Context, e Entry) error {
	return w.c.process(ctx, e)
}

// Run consumes until ctx is cancelled. Entries left pending by an earlier run
// are processed first.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.source.CreateGroup(ctx, c.cfg.Stream); err != nil {
		return err
	}
	c.log.Info().Str("consumer", c.cfg.Name).Int("workers", c.cfg.Workers).Msg("order status consumer started")

	c.drainPending(ctx)
	lastRetry := time.Now()

	for {
		if ctx.Err() != nil {
			c.log.Info().Msg("order status consumer stopped")
			return nil
		}

		entries, err := c.source.Read(ctx, c.cfg.Stream, c.cfg.Name, ">", int64(c.cfg.BatchSize), c.cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.log.Error().Err(err).Msg("stream read failed")
			sleep(ctx, time.Second)
			continue
		}

		if len(entries) > 0 {
			c.processBatch(ctx, entries)
			continue
		}
		if time.Since(lastRetry) >= c.cfg.RetryInterval {
			c.drainPending(ctx)
			lastRetry = time.Now()
		}
	}
}

// drainPending pages through this consumer's unacknowledged entries once.
func (c *Consumer) drainPending(ctx context.Context) {
	start := "0"
	for ctx.Err() == nil {
		entries, err := c.source.Read(ctx, c.cfg.Stream, c.cfg.Name, start, int64(c.cfg.BatchSize), 0)
		if err != nil {
			c.log.Error().Err(err).Msg("pending read failed")
			return
		}
		if len(entries) == 0 {
			return
		}
		c.log.Debug().Int("count", len(entries)).Msg("retrying pending entries")
		c.processBatch(ctx, entries)
		start = entries[len(entries)-1].ID
	}
}

func (c *Consumer) processBatch(ctx context.Context, entries []Entry) {
	workers := c.cfg.Workers
	if len(entries) < workers {
		workers = len(entries)
	}

	p := pool.New[Entry](workers, &eventWorker{c: c}).
		WithContinueOnError().
		WithWorkerChanSize(len(entries))

	if err := p.Go(ctx); err != nil {
		c.log.Error().Err(err).Msg("failed to start event workers")
		return
	}
	for _, e := range entries {
		p.Submit(e)
	}
	if err := p.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Debug().Err(err).Msg("batch finished with errors")
	}
}

func (c *Consumer) process(ctx context.Context, e Entry) error {
	ev, err := decodeEvent(e.Data)
	if err != nil {
		c.malformed.Add(1)
		c.log.Warn().Err(err).Str("entry_id", e.ID).Msg("dropping malformed order status event")
		c.ack(ctx, e.ID)
		return nil
	}

	hctx, cancel := context.WithTimeout(ctx, c.cfg.HandleTimeout)
	err = c.handler.Handle(hctx, ev)
	cancel()
	if err != nil {
		c.failed.Add(1)
		c.log.Error().Err(err).
			Str("entry_id", e.ID).
			Str("order_id", ev.OrderID).
			Str("status", string(ev.Status)).
			Msg("order status event failed, left pending")
		return err
	}

	c.processed.Add(1)
	c.ack(ctx, e.ID)
	return nil
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.source.Ack(ctx, c.cfg.Stream, id); err != nil {
		c.log.Error().Err(err).Str("entry_id", id).Msg("ack failed")
	}
}

func decodeEvent(data []byte) (*domain.OrderStatusEvent, error) {
	if len(data) == 0 {
		return nil, errors.New("missing payload")
	}
	var ev domain.OrderStatusEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// ConsumerStats is exposed on the stats endpoint.
type ConsumerStats struct {
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Malformed int64 `json:"malformed"`
	Pending   int64 `json:"pending"` // -1 when the group could not be queried
}

func (c *Consumer) Stats(ctx context.Context) ConsumerStats {
	pending, err := c.source.Pending(ctx, c.cfg.Stream)
	if err != nil {
		c.log.Debug().Err(err).Msg("pending count unavailable")
		pending = -1
	}
	return ConsumerStats{
		Processed: c.processed.Load(),
		Failed:    c.failed.Load(),
		Malformed: c.malformed.Load(),
		Pending:   pending,
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
