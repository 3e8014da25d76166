package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/caarlos0/env/v11"
	"github.com/nats-io/nats.go"
	"github.com/rbaliyan/domainbus/relay/codec"
	"github.com/rbaliyan/domainbus/relay/transport"
	"github.com/rbaliyan/domainbus/relay/transport/channel"
	"github.com/rbaliyan/domainbus/relay/transport/kafka"
	natstransport "github.com/rbaliyan/domainbus/relay/transport/nats"
	redistransport "github.com/rbaliyan/domainbus/relay/transport/redis"
	"github.com/redis/go-redis/v9"
)

// Backends
const (
	BackendChannel = "channel"
	BackendRedis   = "redis"
	BackendNATS    = "nats"
	BackendKafka   = "kafka"
)

// ErrUnknownBackend is returned by Open for unsupported backends
var ErrUnknownBackend = errors.New("relay: unknown backend")

// Config selects and configures the relay transport from the environment
type Config struct {
	Backend      string        `env:"DOMAINBUS_RELAY_BACKEND" envDefault:"channel"`
	Topic        string        `env:"DOMAINBUS_RELAY_TOPIC" envDefault:"domainbus"`
	Codec        string        `env:"DOMAINBUS_RELAY_CODEC" envDefault:"json"`
	NodeID       string        `env:"DOMAINBUS_RELAY_NODE_ID"`
	RedisAddr    string        `env:"DOMAINBUS_RELAY_REDIS_ADDR" envDefault:"localhost:6379"`
	NATSURL      string        `env:"DOMAINBUS_RELAY_NATS_URL" envDefault:"nats://localhost:4222"`
	KafkaBrokers []string      `env:"DOMAINBUS_RELAY_KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	DialTimeout  time.Duration `env:"DOMAINBUS_RELAY_DIAL_TIMEOUT" envDefault:"5s"`
}

// LoadConfig reads Config from environment variables
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Options returns the Forwarder/Receiver options the config implies
func (c Config) Options() ([]Option, error) {
	cd, err := codec.ByName(c.Codec)
	if err != nil {
		return nil, err
	}
	return []Option{WithTopic(c.Topic), WithCodec(cd), WithNodeID(c.NodeID)}, nil
}

// Conn is an open relay transport along with the client it owns
type Conn struct {
	transport.Transport
	closeClient func() error
}

// Close closes the transport, then the underlying client
func (c *Conn) Close(ctx context.Context) error {
	err := c.Transport.Close(ctx)
	if c.closeClient != nil {
		err = errors.Join(err, c.closeClient())
	}
	return err
}

// Open connects to the configured backend and builds its transport
func Open(ctx context.Context, cfg Config) (*Conn, error) {
	switch cfg.Backend {
	case "", BackendChannel:
		return &Conn{Transport: channel.New()}, nil

	case BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DialTimeout: cfg.DialTimeout})
		pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("relay: redis %s: %w", cfg.RedisAddr, err)
		}
		t, err := redistransport.New(client)
		if err != nil {
			client.Close()
			return nil, err
		}
		return &Conn{Transport: t, closeClient: client.Close}, nil

	case BackendNATS:
		nc, err := nats.Connect(cfg.NATSURL, nats.Timeout(cfg.DialTimeout))
		if err != nil {
			return nil, fmt.Errorf("relay: nats %s: %w", cfg.NATSURL, err)
		}
		t, err := natstransport.New(nc)
		if err != nil {
			nc.Close()
			return nil, err
		}
		return &Conn{Transport: t, closeClient: func() error { nc.Close(); return nil }}, nil

	case BackendKafka:
		sc := sarama.NewConfig()
		sc.Producer.Return.Successes = true
		sc.Producer.RequiredAcks = sarama.WaitForAll
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
		sc.Net.DialTimeout = cfg.DialTimeout
		client, err := sarama.NewClient(cfg.KafkaBrokers, sc)
		if err != nil {
			return nil, fmt.Errorf("relay: kafka %v: %w", cfg.KafkaBrokers, err)
		}
		t, err := kafka.New(client)
		if err != nil {
			client.Close()
			return nil, err
		}
		return &Conn{Transport: t, closeClient: client.Close}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
}
