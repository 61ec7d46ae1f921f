package utils

import (
	"fmt"

	"github.com/IBM/sarama"
)

// KafkaConfig controls the event producer.
type KafkaConfig struct {
	Brokers []string

	// RetryMax is the per-send broker retry budget. Durable retries live in
	// the outbox relay, so keep this small.
	RetryMax int
}

func (c KafkaConfig) withDefaults() KafkaConfig {
	out := c
	if out.RetryMax <= 0 {
		out.RetryMax = 3
	}
	return out
}

// OpenKafkaProducer creates a synchronous producer that waits for full ISR
// acknowledgement. The outbox relay needs a definite success or failure per
// event before it marks the row, so async fire-and-forget is not an option.
func OpenKafkaProducer(cfg KafkaConfig) (sarama.SyncProducer, error) {
	cfg = cfg.withDefaults()
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = cfg.RetryMax
	sc.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}
