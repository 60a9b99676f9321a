package notify

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	ClientID    string
	Partitions  int
	Replication int
}

// KafkaSink produces messages to a single topic keyed by room.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

// NewKafkaSink connects to the brokers and makes sure the topic exists.
func NewKafkaSink(ctx context.Context, cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID+"-"+uuid.NewString()[:8]),
		kgo.DefaultProduceTopic(cfg.Topic),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create kafka client")
	}
	if err := ensureTopic(ctx, client, cfg); err != nil {
		client.Close()
		return nil, err
	}
	return &KafkaSink{client: client, topic: cfg.Topic}, nil
}

func ensureTopic(ctx context.Context, client *kgo.Client, cfg KafkaConfig) error {
	partitions, replication := cfg.Partitions, cfg.Replication
	if partitions <= 0 {
		partitions = 1
	}
	if replication <= 0 {
		replication = 1
	}

	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopics(ctx, int32(partitions), int16(replication), nil, cfg.Topic)
	if err != nil {
		return errors.Wrapf(err, "create topic %s", cfg.Topic)
	}
	for _, detail := range resp {
		if detail.Err != nil && !strings.Contains(detail.Err.Error(), "already exists") {
			return errors.Wrapf(detail.Err, "create topic %s", detail.Topic)
		}
	}
	return nil
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Send(ctx context.Context, m Message) error {
	rec := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(m.Room),
		Value: m.Body,
		Headers: []kgo.RecordHeader{
			{Key: "event", Value: []byte(m.Event)},
		},
		Timestamp: m.EmittedAt,
	}
	if err := s.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return errors.Wrap(err, "produce")
	}
	return nil
}

func (s *KafkaSink) Close() error {
	s.client.Close()
	return nil
}
