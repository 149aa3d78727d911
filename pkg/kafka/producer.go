package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer mirrors decision events onto the Kafka bus for downstream
// consumers. Postgres stays the system of record; publishing is additive.
type Producer struct {
	client *kgo.Client
	logger *logrus.Logger
}

// NewProducer connects to the given brokers with the standard producer
// tuning: snappy compression and a short linger to batch pass bursts.
func NewProducer(brokers []string, clientID string, logger *logrus.Logger) (*Producer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(10 * time.Millisecond),
		kgo.ProducerBatchMaxBytes(1000000),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("connect kafka: %w", err)
	}

	return &Producer{
		client: client,
		logger: logger,
	}, nil
}

func (p *Producer) Close() error {
	p.client.Close()
	return nil
}

// BuildDecisionRecord converts a decision event into a Kafka record keyed by
// event ID, carrying the routing fields as headers.
func BuildDecisionRecord(event *DecisionEvent) (*kgo.Record, error) {
	if event == nil {
		return nil, fmt.Errorf("event cannot be nil")
	}

	value, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	record := &kgo.Record{
		Topic: DecisionsTopic,
		Key:   []byte(event.EventID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "action_type", Value: []byte(event.ActionType)},
			{Key: "client_id", Value: []byte(event.ClientID)},
		},
	}
	if event.Channel != "" {
		record.Headers = append(record.Headers, kgo.RecordHeader{
			Key:   "channel",
			Value: []byte(event.Channel),
		})
	}

	return record, nil
}

// PublishDecisionEvent publishes a single decision event
func (p *Producer) PublishDecisionEvent(event *DecisionEvent) error {
	record, err := BuildDecisionRecord(event)
	if err != nil {
		return err
	}

	// Bounded so a dead broker cannot stall the caller indefinitely.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result := p.client.ProduceSync(ctx, record)
	if err := result.FirstErr(); err != nil {
		return fmt.Errorf("produce decision event: %w", err)
	}

	return nil
}

// PublishDecisionBatch publishes a batch of decision events
func (p *Producer) PublishDecisionBatch(events []DecisionEvent) error {
	if len(events) == 0 {
		return nil
	}

	records := make([]*kgo.Record, 0, len(events))
	for i := range events {
		record, err := BuildDecisionRecord(&events[i])
		if err != nil {
			return fmt.Errorf("event %s: %w", events[i].EventID, err)
		}
		records = append(records, record)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results := p.client.ProduceSync(ctx, records...)
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("produce decision batch: %w", err)
	}

	return nil
}

// GetClient exposes the kgo client so the health probe can ping brokers.
func (p *Producer) GetClient() *kgo.Client {
	return p.client
}
