package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// KafkaConfig Kafka Sink 配置
type KafkaConfig struct {
	Brokers  []string      `mapstructure:"brokers" yaml:"brokers"`
	Topic    string        `mapstructure:"topic" yaml:"topic"`
	ClientID string        `mapstructure:"client_id" yaml:"client_id"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// KafkaSink 以用户 ID 为分区键写入 Kafka，同一用户的事件保持顺序
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaSink 连接 broker 并创建同步 producer
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("events: kafka brokers and topic are required")
	}
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	if sc.ClientID == "" {
		sc.ClientID = "wsgate"
	}
	sc.Producer.RequiredAcks = sarama.WaitForLocal
	sc.Producer.Return.Successes = true
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	if cfg.Timeout > 0 {
		sc.Producer.Timeout = cfg.Timeout
		sc.Net.DialTimeout = cfg.Timeout
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("events: kafka producer: %w", err)
	}
	return NewKafkaSinkWithProducer(producer, cfg.Topic), nil
}

// NewKafkaSinkWithProducer 使用已有 producer
func NewKafkaSinkWithProducer(producer sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Deliver(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic:     s.topic,
		Key:       sarama.StringEncoder(e.UserID),
		Value:     sarama.ByteEncoder(body),
		Timestamp: e.Time,
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(e.Type)},
		},
	}
	_, _, err = s.producer.SendMessage(msg)
	return err
}

func (s *KafkaSink) Close() error {
	return s.producer.Close()
}
