// Package kafka delivers scan and aggregate tasks over Kafka topics with
// at-least-once semantics.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/GoogleCloudPlatform/cloudgauge/internal/domain/posture"
	"github.com/GoogleCloudPlatform/cloudgauge/pkg/common/logger"
)

// Config contains configuration for connecting to Kafka brokers and topics.
type Config struct {
	Brokers        []string
	ScanTopic      string
	AggregateTopic string
	GroupID        string
	ClientID       string
}

// Queue implements posture.TaskQueue on Kafka. Scan and aggregate tasks ride
// separate topics so the controller can subscribe to aggregation only.
type Queue struct {
	producer       sarama.SyncProducer
	consumerGroup  sarama.ConsumerGroup
	scanTopic      string
	aggregateTopic string
	clientID       string
	logger         *logger.Logger
	tracer         trace.Tracer
}

var _ posture.TaskQueue = (*Queue)(nil)

// NewQueue creates a Kafka-backed task queue with the provided configuration.
func NewQueue(cfg *Config, log *logger.Logger, tracer trace.Tracer) (*Queue, error) {
	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Return.Successes = true
	producerConfig.ClientID = cfg.ClientID

	// Round-robin partitioner spreads resource tasks evenly across workers.
	producerConfig.Producer.Partitioner = sarama.NewRoundRobinPartitioner

	producer, err := sarama.NewSyncProducer(cfg.Brokers, producerConfig)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}

	consumerConfig := sarama.NewConfig()
	consumerConfig.ClientID = cfg.ClientID
	consumerConfig.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	consumerConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	consumerConfig.Consumer.Group.Session.Timeout = 20 * time.Second
	consumerConfig.Consumer.Group.Heartbeat.Interval = 6 * time.Second
	consumerConfig.Consumer.Offsets.AutoCommit.Enable = true
	consumerConfig.Consumer.Offsets.AutoCommit.Interval = 1 * time.Second
	consumerConfig.Version = sarama.V2_8_0_0

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, consumerConfig)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}

	return &Queue{
		producer:       producer,
		consumerGroup:  consumerGroup,
		scanTopic:      cfg.ScanTopic,
		aggregateTopic: cfg.AggregateTopic,
		clientID:       cfg.ClientID,
		logger:         log,
		tracer:         tracer,
	}, nil
}

// Enqueue publishes a task to the topic for its kind.
func (q *Queue) Enqueue(ctx context.Context, task posture.Task) error {
	data, err := task.Encode()
	if err != nil {
		return err
	}

	topic := q.scanTopic
	if task.Kind == posture.TaskKindAggregate {
		topic = q.aggregateTopic
	}

	ctx, span := q.tracer.Start(ctx, "kafka.enqueue_task",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("task_kind", string(task.Kind)),
			attribute.String("job_id", task.JobID.String()),
			attribute.String("messaging.destination", topic),
		),
	)
	defer span.End()

	msg := &sarama.ProducerMessage{
		Topic: topic,
		// Keying by job keeps one job's tasks on as few partitions as the
		// round-robin spread allows while keeping distinct jobs independent.
		Key:   sarama.StringEncoder(task.JobID.String()),
		Value: sarama.ByteEncoder(data),
	}
	injectTraceContext(ctx, msg)

	if _, _, err := q.producer.SendMessage(msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("publishing %s task: %w", task.Kind, err)
	}
	return nil
}

// Subscribe registers a handler for the given kinds and starts consuming in
// the background until the context is canceled.
func (q *Queue) Subscribe(ctx context.Context, handler posture.TaskHandler, kinds ...posture.TaskKind) error {
	if len(kinds) == 0 {
		return fmt.Errorf("subscribe: at least one task kind is required")
	}

	topics := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		switch kind {
		case posture.TaskKindScanResource:
			topics = append(topics, q.scanTopic)
		case posture.TaskKindAggregate:
			topics = append(topics, q.aggregateTopic)
		default:
			return fmt.Errorf("subscribe: unknown task kind %q", kind)
		}
	}

	h := &taskClaimHandler{handler: handler, logger: q.logger, tracer: q.tracer}
	go q.consumeLoop(ctx, topics, h)
	return nil
}

// Close shuts down the producer and consumer group.
func (q *Queue) Close() error {
	perr := q.producer.Close()
	cerr := q.consumerGroup.Close()
	if perr != nil {
		return perr
	}
	return cerr
}

// consumeLoop keeps the consumer group claiming partitions until the context
// ends; Consume returns on every rebalance.
func (q *Queue) consumeLoop(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) {
	for {
		if err := q.consumerGroup.Consume(ctx, topics, handler); err != nil {
			q.logger.Warn(ctx, "consumer group session ended", "topics", topics, "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// taskClaimHandler implements sarama.ConsumerGroupHandler for task messages.
type taskClaimHandler struct {
	handler posture.TaskHandler
	logger  *logger.Logger
	tracer  trace.Tracer
}

func (h *taskClaimHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *taskClaimHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *taskClaimHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		ctx := extractTraceContext(sess.Context(), msg)

		task, err := posture.DecodeTask(msg.Value)
		if err != nil {
			// A payload that cannot decode will never succeed; drop it.
			h.logger.Error(ctx, "dropping undecodable task message",
				"topic", msg.Topic, "offset", msg.Offset, "error", err)
			sess.MarkMessage(msg, "")
			continue
		}

		ctx, span := h.tracer.Start(ctx, "kafka.handle_task",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("task_kind", string(task.Kind)),
				attribute.String("job_id", task.JobID.String()),
			),
		)

		if err := h.handler(ctx, task); err != nil {
			// Ending the claim without marking this offset keeps the commit
			// position behind it. Consuming past a failed message would let
			// auto-commit advance beyond it and lose the redelivery.
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			h.logger.Error(ctx, "task handler failed, ending session for redelivery",
				"task_kind", task.Kind, "job_id", task.JobID, "offset", msg.Offset, "error", err)
			return fmt.Errorf("handling %s task at offset %d: %w", task.Kind, msg.Offset, err)
		}

		span.End()
		sess.MarkMessage(msg, "")
	}
	return nil
}
