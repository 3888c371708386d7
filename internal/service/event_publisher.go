package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/trn-registry-api/internal/models"
	"github.com/noah-isme/trn-registry-api/pkg/jobs"
)

const publishJobType = "person_event.publish"

type eventOutbox interface {
	GetByID(ctx context.Context, id string) (*models.PersonEvent, error)
	ListUnpublished(ctx context.Context, limit int) ([]models.PersonEvent, error)
	MarkPublished(ctx context.Context, id string, at time.Time) error
}

type eventStream interface {
	Publish(ctx context.Context, event models.PersonEvent) (string, error)
}

// EventPublisherConfig tunes the outbox drain.
type EventPublisherConfig struct {
	Workers       int
	MaxRetries    int
	RetryDelay    time.Duration
	SweepInterval time.Duration
	BatchSize     int
}

// EventPublisher drains committed person events to the stream. Rows stay
// unpublished until the stream accepted them, so a crash only delays delivery.
type EventPublisher struct {
	outbox  eventOutbox
	stream  eventStream
	queue   *jobs.Queue
	metrics *MetricsService
	logger  *zap.Logger
	cfg     EventPublisherConfig

	wake   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewEventPublisher wires the outbox to the stream through a worker queue.
func NewEventPublisher(outbox eventOutbox, stream eventStream, metrics *MetricsService, logger *zap.Logger, cfg EventPublisherConfig) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	p := &EventPublisher{
		outbox:  outbox,
		stream:  stream,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
		wake:    make(chan struct{}, 1),
		now:     time.Now,
	}
	p.queue = jobs.NewQueue("person-events", p.Handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BatchSize * 2,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		OnExhausted: func(job jobs.Job, err error) {
			metrics.RecordEventPublish("exhausted")
			logger.Error("person event left unpublished until next sweep", zap.String("event_id", job.ID), zap.Error(err))
		},
		Logger: logger,
	})
	return p
}

// Start launches the workers and the sweep loop.
func (p *EventPublisher) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.queue.Start(ctx)
	p.wg.Add(1)
	go p.loop(ctx)
}

// Stop halts the sweep loop and waits for in-flight publishes.
func (p *EventPublisher) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.queue.Stop()
}

// Notify asks for a sweep soon. It never blocks.
func (p *EventPublisher) Notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *EventPublisher) loop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		if _, err := p.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Warn("event sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.wake:
		}
	}
}

// Sweep enqueues unpublished events and returns how many were accepted.
// Events already queued are skipped.
func (p *EventPublisher) Sweep(ctx context.Context) (int, error) {
	events, err := p.outbox.ListUnpublished(ctx, p.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	accepted := 0
	for _, event := range events {
		err := p.queue.TryEnqueue(jobs.Job{ID: event.ID, Type: publishJobType})
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, jobs.ErrDuplicate):
		case errors.Is(err, jobs.ErrQueueFull):
			return accepted, nil
		default:
			return accepted, err
		}
	}
	return accepted, nil
}

// Handle publishes one event and stamps it as published.
func (p *EventPublisher) Handle(ctx context.Context, job jobs.Job) error {
	event, err := p.outbox.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}
	if event.PublishedAt != nil {
		return nil
	}
	streamID, err := p.stream.Publish(ctx, *event)
	if err != nil {
		p.metrics.RecordEventPublish("failed")
		return err
	}
	if err := p.outbox.MarkPublished(ctx, event.ID, p.now().UTC()); err != nil {
		// The stream already has the event; consumers must tolerate a duplicate after the next sweep.
		p.metrics.RecordEventPublish("unmarked")
		return err
	}
	p.metrics.RecordEventPublish("published")
	p.logger.Debug("person event published",
		zap.String("event_id", event.ID),
		zap.String("event_name", event.EventName),
		zap.String("stream_id", streamID))
	return nil
}
