// Package config centralises the static configuration consumed by the bus
// gateway. Configuration is loaded once at process start and passed into each
// component's constructor; nothing reads it from global state and nothing
// hot-reloads it.
package config

import (
	"fmt"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// EnvBrokerURL overrides the configured broker URL when set, so deployments
// can inject credentials without editing the config file.
const EnvBrokerURL = "BUS_AMQP_URL"

const (
	defaultHeartbeat      = 30 * time.Second
	defaultBlockedTimeout = 60 * time.Second
	defaultMessageTTL     = 168 * time.Hour // 7 days
	defaultValidatorQueue = "bus.validator.q"
)

// Config is the full gateway configuration tree.
type Config struct {
	Broker   Broker   `yaml:"rabbitmq"`
	Topology Topology `yaml:"topology"`
}

// Broker describes the connection to the message broker and the primary
// exchange messages are published to.
type Broker struct {
	URL            string        `yaml:"url"`
	Exchange       string        `yaml:"exchange"`
	ExchangeType   string        `yaml:"exchange_type"`
	Heartbeat      time.Duration `yaml:"heartbeat"`
	BlockedTimeout time.Duration `yaml:"blocked_timeout"`
}

// Topology declares the broker-side layout: the dead-letter exchange, the
// default message TTL, and the queues bound to the primary exchange. Every
// declared queue gets an implied <name>.dlq bound catch-all to the DLX so
// rejected messages are never silently dropped.
type Topology struct {
	DLX            string        `yaml:"dlx"`
	MessageTTL     time.Duration `yaml:"message_ttl"`
	Queues         []QueueSpec   `yaml:"queues"`
	ValidatorQueue string        `yaml:"validator_queue"`
}

// QueueSpec names one durable queue and its binding patterns against the
// primary exchange. Patterns are dot-segmented with * matching exactly one
// segment and # matching zero or more.
type QueueSpec struct {
	Name     string   `yaml:"name"`
	Bindings []string `yaml:"bindings"`
}

// DLQName returns the dead-letter queue name paired with this queue.
func (q QueueSpec) DLQName() string {
	return q.Name + ".dlq"
}

// Load reads and validates the configuration file, applying defaults and the
// broker URL environment override.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes, defaults, and validates a raw YAML configuration document.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if url := os.Getenv(EnvBrokerURL); url != "" {
		cfg.Broker.URL = url
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Broker.ExchangeType == "" {
		c.Broker.ExchangeType = "topic"
	}
	if c.Broker.Heartbeat == 0 {
		c.Broker.Heartbeat = defaultHeartbeat
	}
	if c.Broker.BlockedTimeout == 0 {
		c.Broker.BlockedTimeout = defaultBlockedTimeout
	}
	if c.Topology.MessageTTL == 0 {
		c.Topology.MessageTTL = defaultMessageTTL
	}
	if c.Topology.ValidatorQueue == "" {
		c.Topology.ValidatorQueue = defaultValidatorQueue
	}
}

// Validate checks the configuration tree.
func (c *Config) Validate() error {
	if err := c.Broker.Validate(); err != nil {
		return err
	}
	return c.Topology.Validate()
}

// Validate implements validation.Validatable.
func (b Broker) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.URL, validation.Required),
		validation.Field(&b.Exchange, validation.Required),
		validation.Field(&b.ExchangeType, validation.Required, validation.In("topic")),
		validation.Field(&b.Heartbeat, validation.Min(time.Second)),
	)
}

// Validate implements validation.Validatable.
func (t Topology) Validate() error {
	err := validation.ValidateStruct(&t,
		validation.Field(&t.DLX, validation.Required),
		validation.Field(&t.MessageTTL, validation.Min(time.Second)),
		validation.Field(&t.Queues, validation.Required, validation.By(uniqueQueueNames), validation.Skip),
	)
	if err != nil {
		return err
	}
	for _, q := range t.Queues {
		if err := q.Validate(); err != nil {
			return fmt.Errorf("queue %q: %w", q.Name, err)
		}
	}
	return nil
}

// Validate implements validation.Validatable.
func (q QueueSpec) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.Name, validation.Required),
		validation.Field(&q.Bindings, validation.Required, validation.Length(1, 0)),
	)
}

func uniqueQueueNames(value any) error {
	queues, ok := value.([]QueueSpec)
	if !ok {
		return nil
	}
	seen := make(map[string]bool, len(queues))
	for _, q := range queues {
		if seen[q.Name] {
			return fmt.Errorf("duplicate queue name %q", q.Name)
		}
		seen[q.Name] = true
	}
	return nil
}
