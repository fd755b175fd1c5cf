package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learnlyhq/learnly-backend/pkg/config"
	"github.com/learnlyhq/learnly-backend/pkg/db/models"
	"github.com/learnlyhq/learnly-backend/pkg/enums"
	"github.com/learnlyhq/learnly-backend/pkg/logger"
	"github.com/learnlyhq/learnly-backend/pkg/outbox/registry"
)

const (
	fallbackBatchSize  = 50
	fallbackPollMS     = 500
	fallbackMaxRetries = 10
	publishTimeout     = 15 * time.Second
	errorPauseCap      = 10 * time.Second
	pauseJitter        = 250 * time.Millisecond
)

// Narrow views over the concrete clients so the loop can run in tests
// without a database or a broker.
type txRunner interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type topicSource interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type eventStore interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetterStore interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// future is the pending broker ack for one published message.
type future interface {
	Get(context.Context) (string, error)
}

type topicPublisher interface {
	Publish(context.Context, *gcppubsub.Message) future
}

// topicFactory returns the publisher for a topic, or nil when the topic is
// not configured.
type topicFactory func(topic string) topicPublisher

type PublisherParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       txRunner
	PubSub   topicSource
	Store    eventStore
	Registry eventResolver
	DLQ      deadLetterStore
	Topics   topicFactory
}

// Publisher drains outbox_events into Pub/Sub. Each pass runs inside one
// transaction so row state only advances when the marks commit.
type Publisher struct {
	logg        *logger.Logger
	db          txRunner
	broker      topicSource
	store       eventStore
	resolver    eventResolver
	dlq         deadLetterStore
	topics      topicFactory
	batch       int
	maxAttempts int
	poll        time.Duration
	jitter      *rand.Rand
}

func NewPublisher(params PublisherParams) (*Publisher, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Store == nil:
		return nil, errors.New("outbox repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.DLQ == nil:
		return nil, errors.New("dlq repository is required")
	}

	p := &Publisher{
		logg:        params.Logger,
		db:          params.DB,
		broker:      params.PubSub,
		store:       params.Store,
		resolver:    params.Registry,
		dlq:         params.DLQ,
		topics:      params.Topics,
		batch:       params.Config.Outbox.BatchSize,
		maxAttempts: params.Config.Outbox.MaxAttempts,
		poll:        time.Duration(params.Config.Outbox.PollIntervalMS) * time.Millisecond,
		jitter:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if p.batch <= 0 {
		p.batch = fallbackBatchSize
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = fallbackMaxRetries
	}
	if p.poll <= 0 {
		p.poll = fallbackPollMS * time.Millisecond
	}
	if p.topics == nil {
		p.topics = func(topic string) topicPublisher {
			live := params.PubSub.Publisher(topic)
			if live == nil {
				return nil
			}
			return liveTopic{pub: live}
		}
	}
	return p, nil
}

// Run polls the outbox until ctx is canceled. Consecutive batch errors widen
// the pause between polls up to errorPauseCap; any clean pass resets it.
func (p *Publisher) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := p.checkDeps(ctx); err != nil {
		return err
	}

	pause := p.poll
	for {
		if err := ctx.Err(); err != nil {
			p.logg.Info(ctx, "outbox publisher context canceled")
			return err
		}

		drained, err := p.drainOnce(ctx)
		switch {
		case err != nil:
			p.logg.Error(ctx, "outbox publisher batch error", err)
			pause = widenPause(pause, p.poll)
		case drained:
			// Rows moved; poll again right away.
			pause = p.poll
			continue
		default:
			pause = p.poll
		}

		if err := p.idle(ctx, pause+p.sleepJitter()); err != nil {
			return err
		}
	}
}

func (p *Publisher) checkDeps(ctx context.Context) error {
	if err := p.db.Ping(ctx); err != nil {
		p.logg.Error(ctx, "database ping failed", err)
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := p.broker.Ping(ctx); err != nil {
		p.logg.Error(ctx, "pubsub ping failed", err)
		return fmt.Errorf("pubsub ping failed: %w", err)
	}
	return nil
}

func (p *Publisher) drainOnce(ctx context.Context) (bool, error) {
	var drained bool
	err := p.db.WithTx(ctx, func(tx *gorm.DB) error {
		batch, err := p.store.FetchUnpublishedForPublish(tx, p.batch, p.maxAttempts)
		if err != nil {
			return err
		}
		drained = len(batch) > 0
		for _, ev := range batch {
			if err := p.route(ctx, tx, ev); err != nil {
				return err
			}
		}
		return nil
	})
	return drained, err
}

// route decides one event's fate: published, rescheduled, or dead-lettered.
// A returned error is a storage failure that aborts the batch so the
// transaction rolls back.
func (p *Publisher) route(ctx context.Context, tx *gorm.DB, ev models.OutboxEvent) error {
	resolved, err := p.resolver.Resolve(ev)
	if err != nil {
		return p.bury(ctx, tx, ev, "", enums.OutboxDLQReasonNonRetryable, err)
	}

	topic := resolved.Descriptor.Topic
	pubErr := p.publishOne(ctx, ev, resolved)
	if pubErr == nil {
		if err := p.store.MarkPublishedTx(tx, ev.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", ev.ID, err)
		}
		p.logg.Info(p.eventCtx(ctx, ev, topic, ""), "outbox event published")
		return nil
	}

	var permanent registry.NonRetryableError
	if errors.As(pubErr, &permanent) {
		return p.bury(ctx, tx, ev, topic, enums.OutboxDLQReasonNonRetryable, pubErr)
	}
	if ev.AttemptCount+1 >= p.maxAttempts {
		wrapped := fmt.Errorf("max publish attempts reached: %w", pubErr)
		return p.bury(ctx, tx, ev, topic, enums.OutboxDLQReasonMaxAttempts, wrapped)
	}

	p.logg.Warn(p.eventCtx(ctx, ev, topic, pubErr.Error()), "outbox publish failed")
	if err := p.store.MarkFailedTx(tx, ev.ID, pubErr); err != nil {
		return fmt.Errorf("mark failure %s: %w", ev.ID, err)
	}
	return nil
}

func (p *Publisher) publishOne(ctx context.Context, ev models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := p.topics(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("no publisher for topic %s", topic))
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	ack := pub.Publish(publishCtx, &gcppubsub.Message{
		Data: ev.Payload,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(ev.EventType),
			"aggregate_type": string(ev.AggregateType),
			"aggregate_id":   ev.AggregateID.String(),
			"created_at":     ev.CreatedAt.Format(time.RFC3339Nano),
		},
	})
	if ack == nil {
		return registry.NewNonRetryableError(fmt.Errorf("nil publish result for topic %s", topic))
	}
	_, err := ack.Get(publishCtx)
	return err
}

// bury writes the event to the DLQ and closes it out in the outbox so the
// fetch query stops returning it.
func (p *Publisher) bury(ctx context.Context, tx *gorm.DB, ev models.OutboxEvent, topic string, reason enums.OutboxDLQErrorReason, cause error) error {
	logCtx := p.eventCtx(ctx, ev, topic, cause.Error())
	logCtx = p.logg.WithField(logCtx, "error_reason", string(reason))
	p.logg.Warn(logCtx, "outbox event will not be retried")

	message := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       ev.ID,
		EventType:     ev.EventType,
		AggregateType: ev.AggregateType,
		AggregateID:   ev.AggregateID,
		Payload:       ev.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &message,
		AttemptCount:  ev.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := p.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", ev.ID, err)
	}
	if err := p.store.MarkTerminalTx(tx, ev.ID, cause, p.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", ev.ID, err)
	}
	return nil
}

func (p *Publisher) eventCtx(ctx context.Context, ev models.OutboxEvent, topic, errText string) context.Context {
	fields := map[string]any{
		"outbox_id":      ev.ID.String(),
		"event_type":     ev.EventType,
		"aggregate_type": ev.AggregateType,
		"aggregate_id":   ev.AggregateID.String(),
		"attempts":       ev.AttemptCount,
	}
	if topic != "" {
		fields["topic"] = topic
	}
	if errText != "" {
		fields["error"] = errText
	}
	if ev.LastError != nil {
		fields["last_error"] = *ev.LastError
	}
	return p.logg.WithFields(ctx, fields)
}

func (p *Publisher) idle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *Publisher) sleepJitter() time.Duration {
	return time.Duration(p.jitter.Int63n(int64(pauseJitter)))
}

func widenPause(current, floor time.Duration) time.Duration {
	if current < floor {
		current = floor
	}
	current *= 2
	if current > errorPauseCap {
		return errorPauseCap
	}
	return current
}

// liveTopic adapts the concrete pubsub publisher to the loop's interface.
// The pubsub PublishResult already satisfies future.
type liveTopic struct {
	pub *gcppubsub.Publisher
}

func (l liveTopic) Publish(ctx context.Context, msg *gcppubsub.Message) future {
	if l.pub == nil {
		return nil
	}
	return l.pub.Publish(ctx, msg)
}
