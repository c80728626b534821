package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
)

// Producer hands a notification to the push delivery pipeline.
type Producer interface {
	Send(ctx context.Context, n Notification) error
	Close() error
}

type KafkaConfig struct {
	Brokers  []string
	Topic    string
	RetryMax int
	Timeout  time.Duration
}

// NewSaramaConfig is the producer configuration: idempotent writes acked by
// all in-sync replicas, hash-partitioned by recipient.
func NewSaramaConfig(cfg KafkaConfig) *sarama.Config {
	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Compression = sarama.CompressionSnappy
	sc.Producer.Retry.Max = cfg.RetryMax
	sc.Producer.Timeout = cfg.Timeout
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	sc.Version = sarama.V2_6_0_0
	return sc
}

type KafkaProducer struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaProducer(cfg KafkaConfig) (*KafkaProducer, error) {
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	p, err := sarama.NewSyncProducer(cfg.Brokers, NewSaramaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return NewKafkaProducerFrom(p, cfg.Topic), nil
}

// NewKafkaProducerFrom wraps an existing SyncProducer.
func NewKafkaProducerFrom(p sarama.SyncProducer, topic string) *KafkaProducer {
	return &KafkaProducer{producer: p, topic: topic}
}

func (k *KafkaProducer) Send(_ context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(n.UserID, 10)),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_id"), Value: []byte(n.EventID)},
			{Key: []byte("type"), Value: []byte(n.Type)},
		},
		Timestamp: n.OccurredAt,
	}
	if _, _, err := k.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}

func (k *KafkaProducer) Close() error {
	return k.producer.Close()
}
