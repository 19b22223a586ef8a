package mq

import (
	"fmt"

	"gymledger/internal/config"

	"github.com/IBM/sarama"
)

// Publisher sends outbox messages to Kafka.
type Publisher interface {
	Publish(topic, key, value string) error
	Close() error
}

// KafkaPublisher is a Publisher over a sarama sync producer.
type KafkaPublisher struct {
	producer sarama.SyncProducer
}

// NewKafkaPublisher dials the configured brokers.
func NewKafkaPublisher(cfg *config.KafkaConfig) (*KafkaPublisher, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true
	kafkaConfig.Producer.Idempotent = true
	kafkaConfig.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewPublisher(producer), nil
}

// NewPublisher wraps an existing producer.
func NewPublisher(producer sarama.SyncProducer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

// Publish sends one message keyed by key so events for the same key stay ordered.
func (p *KafkaPublisher) Publish(topic, key, value string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}

	_, _, err := p.producer.SendMessage(msg)
	return err
}

func (p *KafkaPublisher) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
