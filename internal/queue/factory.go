package queue

import (
	"fmt"
	"strings"

	"github.com/storepulse/pulsegate/internal/config"
)

// NewPublisher creates the publisher described by cfg. Default is memory if
// type is not specified.
func NewPublisher(cfg config.AuditConfig) (Publisher, error) {
	queueType := Type(strings.ToLower(cfg.Type))
	if queueType == "" {
		queueType = TypeMemory
	}

	switch queueType {
	case TypeNATS:
		return newNATSPublisher(cfg.URL)

	case TypeRedis:
		return newRedisPublisher(RedisConfig{
			URL:      cfg.URL,
			Password: cfg.Password,
			DB:       cfg.RedisDB,
		})

	case TypeKafka:
		return newKafkaPublisher(KafkaConfig{
			Brokers: cfg.KafkaBrokers,
		})

	case TypeMemory:
		return NewMemoryPublisher(), nil

	default:
		return nil, fmt.Errorf("unsupported queue type: %s (supported: nats, redis, kafka, memory)", queueType)
	}
}
