package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/dray-io/housekeeper/internal/housekeeping"
	"github.com/dray-io/housekeeper/internal/logging"
)

// Scheduler schedules the candidates of one event. *scheduler.Service
// implements it.
type Scheduler interface {
	Schedule(ctx context.Context, entities []housekeeping.Entity) error
}

// Client is the subset of *kgo.Client the consumer uses.
type Client interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
	SetOffsets(setOffsets map[string]map[int32]kgo.EpochOffset)
	Close()
}

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	Group   string
	SASL    SASL

	// RetryBackoff is how long to wait after a scheduling failure before
	// the rewound record is polled again.
	// Default: 5s
	RetryBackoff time.Duration

	Defaults Defaults
	Logger   *logging.Logger
}

// Consumer reads lifecycle events from a Kafka topic as part of a consumer
// group. A record's offset is committed once its entities are scheduled,
// skipped as unsupported or found malformed. A scheduling failure rewinds
// the record's partition so the record is read again.
type Consumer struct {
	client    Client
	scheduler Scheduler
	cfg       ConsumerConfig
	logger    *logging.Logger
}

// NewConsumer connects to the brokers and joins the consumer group.
func NewConsumer(cfg ConsumerConfig, s Scheduler) (*Consumer, error) {
	opts, err := clientOpts(cfg.Brokers, cfg.SASL)
	if err != nil {
		return nil, err
	}
	client, err := kgo.NewClient(append(opts,
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.DisableAutoCommit(),
		kgo.ClientID("housekeeper-"+uuid.NewString()),
	)...)
	if err != nil {
		return nil, fmt.Errorf("events: create kafka client: %w", err)
	}
	return NewConsumerWithClient(client, cfg, s), nil
}

// NewConsumerWithClient creates a Consumer reading through client.
func NewConsumerWithClient(client Client, cfg ConsumerConfig, s Scheduler) *Consumer {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 5 * time.Second
	}
	if cfg.Defaults == (Defaults{}) {
		cfg.Defaults = DefaultDelays()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Global()
	}
	return &Consumer{
		client:    client,
		scheduler: s,
		cfg:       cfg,
		logger:    logger.With(map[string]any{"topic": cfg.Topic}),
	}
}

// Run polls until ctx is cancelled or the client is closed.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Warnf("fetch error", map[string]any{
				"partition": partition,
				"error":     err.Error(),
			})
		})

		if failed := c.process(ctx, fetches); failed {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.RetryBackoff):
			}
		}
	}
}

// Close leaves the group and closes the client.
func (c *Consumer) Close() {
	c.client.Close()
}

// process handles the fetched records partition by partition. Within a
// partition it stops at the first failed record and rewinds to it. It
// reports whether any partition was rewound.
func (c *Consumer) process(ctx context.Context, fetches kgo.Fetches) bool {
	var (
		done   []*kgo.Record
		rewind map[string]map[int32]kgo.EpochOffset
	)
	fetches.EachPartition(func(p kgo.FetchTopicPartition) {
		for _, rec := range p.Records {
			if err := c.Handle(ctx, rec.Value); err != nil {
				if rewind == nil {
					rewind = make(map[string]map[int32]kgo.EpochOffset)
				}
				if rewind[rec.Topic] == nil {
					rewind[rec.Topic] = make(map[int32]kgo.EpochOffset)
				}
				rewind[rec.Topic][rec.Partition] = kgo.EpochOffset{Epoch: rec.LeaderEpoch, Offset: rec.Offset}
				c.logger.Warnf("scheduling failed, record will be redelivered", map[string]any{
					"partition": rec.Partition,
					"offset":    rec.Offset,
					"error":     err.Error(),
				})
				return
			}
			done = append(done, rec)
		}
	})

	if len(done) > 0 {
		if err := c.client.CommitRecords(ctx, done...); err != nil {
			c.logger.Errorf("failed to commit offsets", map[string]any{"error": err.Error()})
		}
	}
	if rewind != nil {
		c.client.SetOffsets(rewind)
		return true
	}
	return false
}

// Handle decodes and schedules one event payload. Malformed events are
// logged and acknowledged; only scheduling failures are returned.
func (c *Consumer) Handle(ctx context.Context, payload []byte) error {
	ctx, logger := logging.StartOperation(ctx, c.logger)

	ev, err := Decode(payload)
	if err != nil {
		logger.Warnf("dropping undecodable event", map[string]any{"error": err.Error()})
		return nil
	}
	logger = logger.With(map[string]any{
		"eventType": string(ev.Type),
		"table":     ev.DatabaseName + "." + ev.TableName,
	})

	entities, err := ev.Entities(c.cfg.Defaults)
	if err != nil {
		if errors.Is(err, ErrMalformed) {
			logger.Warnf("dropping invalid event", map[string]any{"error": err.Error()})
			return nil
		}
		return err
	}
	if len(entities) == 0 {
		logger.Debug("event does not concern housekeeping")
		return nil
	}

	ctx = logging.WithLoggerCtx(ctx, logger)
	if err := c.scheduler.Schedule(ctx, entities); err != nil {
		return err
	}
	logger.Infof("event scheduled", map[string]any{"entities": len(entities)})
	return nil
}
