package notify

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/pkg/errors"
)

// SaramaSink publishes through a sarama SyncProducer and waits for all
// in-sync replicas.
type SaramaSink struct {
	producer sarama.SyncProducer
	topic    string
}

func NewSaramaSink(brokers []string, topic string) (*SaramaSink, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "sarama producer")
	}
	return NewSaramaSinkWithProducer(producer, topic), nil
}

func NewSaramaSinkWithProducer(p sarama.SyncProducer, topic string) *SaramaSink {
	return &SaramaSink{producer: p, topic: topic}
}

func (s *SaramaSink) Publish(_ context.Context, key string, payload []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}
	_, _, err := s.producer.SendMessage(msg)
	return err
}

func (s *SaramaSink) Close() error {
	return s.producer.Close()
}
