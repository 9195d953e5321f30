// Package publisher drains the transactional outbox to Kafka and runs the
// checkout reconciliation loop. Converting a session and announcing the order
// happen in one database transaction; this poller makes the announcement
// actually leave the building, at-least-once.
package publisher

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/eduballesteros/terra-nostra/internal/repository"
)

const eventBatchSize = 100

// messageWriter is the slice of *kafka.Writer the poller needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// reconciler is the checkout recovery surface: fail abandoned PENDING
// sessions and finish CAPTURED ones whose conversion never ran.
type reconciler interface {
	ExpireStalePending(ctx context.Context, maxAge time.Duration) (int64, error)
	ResumeStuckSessions(ctx context.Context, olderThan time.Duration) error
}

type OutboxPoller struct {
	eventTick    time.Duration
	recoveryTick time.Duration

	pendingMaxAge time.Duration
	stuckAfter    time.Duration

	outbox   repository.OutboxRepository
	checkout reconciler
	writer   messageWriter
}

// Config tunes the poller cadence and the reconciliation thresholds.
type Config struct {
	EventTick     time.Duration
	RecoveryTick  time.Duration
	PendingMaxAge time.Duration
	StuckAfter    time.Duration
}

func NewOutboxPoller(outbox repository.OutboxRepository, checkout reconciler, cfg Config, brokers ...string) *OutboxPoller {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  "order-events",
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return &OutboxPoller{
		eventTick:     cfg.EventTick,
		recoveryTick:  cfg.RecoveryTick,
		pendingMaxAge: cfg.PendingMaxAge,
		stuckAfter:    cfg.StuckAfter,
		outbox:        outbox,
		checkout:      checkout,
		writer:        w,
	}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.eventTick)
	recoveryTicker := time.NewTicker(p.recoveryTick)
	defer eventTicker.Stop()
	defer recoveryTicker.Stop()
	for {
		select {
		case <-eventTicker.C:
			p.publishPendingEvents(ctx)
		case <-recoveryTicker.C:
			p.reconcileSessions(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) publishPendingEvents(ctx context.Context) {
	events, err := p.outbox.GetUnprocessedEvents(ctx, eventBatchSize)
	if err != nil {
		slog.Error("fetch outbox events failed", "err", err)
		return
	}

	for _, event := range events {
		if err := p.publish(ctx, event); err != nil {
			slog.Error("publish outbox event failed", "event_id", event.ID, "err", err)
			continue
		}

		// Marking can fail after a successful publish; the event is then
		// delivered again on the next tick. Consumers dedupe by order id.
		if err := p.outbox.MarkEventAsProcessed(ctx, event.ID); err != nil {
			slog.Error("mark outbox event processed failed", "event_id", event.ID, "err", err)
		}
	}
}

func (p *OutboxPoller) reconcileSessions(ctx context.Context) {
	if _, err := p.checkout.ExpireStalePending(ctx, p.pendingMaxAge); err != nil {
		slog.Error("expire stale sessions failed", "err", err)
	}

	if err := p.checkout.ResumeStuckSessions(ctx, p.stuckAfter); err != nil {
		slog.Error("resume stuck sessions failed", "err", err)
	}
}

func (p *OutboxPoller) publish(ctx context.Context, event *repository.OutboxEvent) error {
	msg := kafka.Message{
		// Keyed by aggregate so all events for one order stay ordered.
		Key:   []byte(event.AggregateID),
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	return p.writer.WriteMessages(ctx, msg)
}
