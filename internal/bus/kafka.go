package bus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	"github.com/vhz-mon/marketwatch/internal/config"
)

var _ Bus = (*KafkaBus)(nil)

// KafkaBus is the production Bus. Consumption goes through consumer
// groups so worker and processor instances scale horizontally and share
// partitions.
type KafkaBus struct {
	cfg      config.BusConfig
	producer sarama.SyncProducer
	logger   *slog.Logger
}

// NewKafkaBus dials the brokers and opens a synchronous producer.
func NewKafkaBus(cfg config.BusConfig, logger *slog.Logger) (*KafkaBus, error) {
	pcfg := sarama.NewConfig()
	pcfg.Producer.Return.Successes = true
	pcfg.Producer.RequiredAcks = sarama.WaitForAll
	pcfg.Producer.Retry.Max = 5
	pcfg.Net.DialTimeout = cfg.DialTimeout

	producer, err := sarama.NewSyncProducer(cfg.Brokers, pcfg)
	if err != nil {
		return nil, fmt.Errorf("new kafka producer: %w", err)
	}

	return &KafkaBus{cfg: cfg, producer: producer, logger: logger}, nil
}

func (b *KafkaBus) publish(topic, key string, payload any) error {
	data, err := marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", topic, err)
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}
	_, _, err = b.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("send %s message: %w", topic, err)
	}
	return nil
}

// PublishCheckRequest keys by task id so all requests for one task land on
// the same partition, preserving per-task ordering end to end.
func (b *KafkaBus) PublishCheckRequest(ctx context.Context, req CheckRequest) error {
	return b.publish(b.cfg.CheckRequests, fmt.Sprintf("%d", req.TaskID), req)
}

// PublishCheckResult keys by task id for the same reason.
func (b *KafkaBus) PublishCheckResult(ctx context.Context, res CheckResult) error {
	return b.publish(b.cfg.CheckResults, fmt.Sprintf("%d", res.TaskID), res)
}

// groupHandler adapts a typed message handler to sarama.ConsumerGroupHandler.
type groupHandler struct {
	logger  *slog.Logger
	process func(context.Context, *sarama.ConsumerMessage) error
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.process(sess.Context(), msg); err != nil {
				h.logger.Error("message processing failed", "topic", msg.Topic, "error", err)
				continue
			}
			sess.MarkMessage(msg, "")
		case <-sess.Context().Done():
			return nil
		}
	}
}

func (b *KafkaBus) consumeGroup(ctx context.Context, group, topic string, process func(context.Context, *sarama.ConsumerMessage) error) error {
	ccfg := sarama.NewConfig()
	ccfg.Consumer.Return.Errors = true
	ccfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	ccfg.Net.DialTimeout = b.cfg.DialTimeout

	client, err := sarama.NewConsumerGroup(b.cfg.Brokers, group, ccfg)
	if err != nil {
		return fmt.Errorf("new consumer group %s: %w", group, err)
	}
	defer client.Close()

	go func() {
		for err := range client.Errors() {
			b.logger.Error("consumer group error", "group", group, "error", err)
		}
	}()

	handler := &groupHandler{logger: b.logger, process: process}
	for {
		if err := client.Consume(ctx, []string{topic}, handler); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Error("consume error, retrying", "group", group, "error", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// ConsumeCheckRequests runs until ctx is cancelled, dispatching each
// message to handler and only committing the offset when handler
// succeeds.
func (b *KafkaBus) ConsumeCheckRequests(ctx context.Context, handler func(context.Context, CheckRequest) error) error {
	return b.consumeGroup(ctx, b.cfg.WorkerGroup, b.cfg.CheckRequests, func(ctx context.Context, msg *sarama.ConsumerMessage) error {
		var req CheckRequest
		if err := unmarshal(msg.Value, &req); err != nil {
			return fmt.Errorf("unmarshal check request: %w", err)
		}
		return handler(ctx, req)
	})
}

// ConsumeCheckResults runs until ctx is cancelled.
func (b *KafkaBus) ConsumeCheckResults(ctx context.Context, handler func(context.Context, CheckResult) error) error {
	return b.consumeGroup(ctx, b.cfg.ProcessorGroup, b.cfg.CheckResults, func(ctx context.Context, msg *sarama.ConsumerMessage) error {
		var res CheckResult
		if err := unmarshal(msg.Value, &res); err != nil {
			return fmt.Errorf("unmarshal check result: %w", err)
		}
		return handler(ctx, res)
	})
}

// Close releases the producer. Consumer groups are closed by their own
// consumeGroup deferred call once ctx is cancelled.
func (b *KafkaBus) Close() error {
	return b.producer.Close()
}
