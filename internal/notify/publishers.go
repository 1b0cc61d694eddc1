package notify

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// LogPublisher writes events to the log. It is the default when no broker is
// configured.
type LogPublisher struct {
	lg *zap.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(lg *zap.Logger) *LogPublisher {
	return &LogPublisher{lg: lg}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(_ context.Context, topic, key string, body []byte) error {
	p.lg.Info("Event",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.ByteString("payload", body),
	)
	return nil
}

// Close implements Publisher.
func (p *LogPublisher) Close() error { return nil }

// AMQPPublisher publishes events to a RabbitMQ topic exchange, using the event
// topic as routing key.
type AMQPPublisher struct {
	exchange string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewAMQPPublisher dials url and declares a durable topic exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial rabbitmq")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrapf(err, "declare exchange %q", exchange)
	}
	return &AMQPPublisher{exchange: exchange, conn: conn, channel: ch}, nil
}

// Publish implements Publisher.
func (p *AMQPPublisher) Publish(_ context.Context, topic, key string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.channel.Publish(p.exchange, topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    key,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

// Close implements Publisher.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.channel.Close(); err != nil {
		_ = p.conn.Close()
		return errors.Wrap(err, "close channel")
	}
	return p.conn.Close()
}

// KafkaPublisher publishes events to Kafka. Each event topic maps to a Kafka
// topic prefixed with Prefix; the event key selects the partition.
type KafkaPublisher struct {
	prefix string
	writer *kafka.Writer
}

// NewKafkaPublisher creates a KafkaPublisher for brokers.
func NewKafkaPublisher(brokers []string, prefix string) *KafkaPublisher {
	return &KafkaPublisher{
		prefix: prefix,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
	}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, body []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.prefix + topic,
		Key:   []byte(key),
		Value: body,
	})
}

// Close implements Publisher.
func (p *KafkaPublisher) Close() error { return p.writer.Close() }

// RedisPublisher fans events out over Redis pub/sub. Each event is published
// on "<topic>" and on "<topic>:<key>" so subscribers can follow a single order.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher creates a RedisPublisher.
func NewRedisPublisher(opts *redis.Options) *RedisPublisher {
	return &RedisPublisher{client: redis.NewClient(opts)}
}

// Ping checks connectivity.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, topic, key string, body []byte) error {
	pipe := p.client.Pipeline()
	pipe.Publish(ctx, topic, body)
	pipe.Publish(ctx, topic+":"+key, body)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "redis publish")
	}
	return nil
}

// Close implements Publisher.
func (p *RedisPublisher) Close() error { return p.client.Close() }
