package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 8085)
	v.SetDefault("app.shutdown_timeout_seconds", 15)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "chat.room-events.v1")
	v.SetDefault("kafka.group_id", "room-projector")
	v.SetDefault("kafka.workers", 16)
	v.SetDefault("kafka.ingest_timeout_ms", 5000)
	v.SetDefault("kafka.max_attempts", 5)
	v.SetDefault("kafka.commit_interval_ms", 1000)
	v.SetDefault("kafka.breaker_max_failures", 5)
	v.SetDefault("kafka.breaker_timeout_seconds", 10)
	v.SetDefault("kafka.breaker_interval_seconds", 60)

	v.SetDefault("store.driver", "mongo")
	v.SetDefault("store.mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("store.mongo_db", "chat")
	v.SetDefault("store.sqlite_path", "chat.db")

	v.SetDefault("cache.recent_limit", 50)
	v.SetDefault("cache.recent_ttl_seconds", 600)
	v.SetDefault("cache.presence_ttl_seconds", 300)
	v.SetDefault("cache.typing_ttl_seconds", 5)
	v.SetDefault("cache.last_read_ttl_seconds", 3600)
	v.SetDefault("cache.reaction_ttl_seconds", 86400)

	v.SetDefault("fanout.transport", "redis")
	v.SetDefault("fanout.channel", "chat:fanout")
	v.SetDefault("fanout.nats_url", "nats://localhost:4222")
	v.SetDefault("fanout.nats_subject", "chat.fanout")
	v.SetDefault("fanout.subscriber_buffer", 256)

	v.SetDefault("projector.dedupe_recent_window", false)

	v.SetDefault("api.ingest_rate_per_second", 50.0)
	v.SetDefault("api.ingest_burst", 100)
}

// Load reads the optional YAML file at path, then applies CHAT_* environment
// overrides (CHAT_KAFKA_BROKERS=a:9092,b:9092).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	c.derive()
	return &c, nil
}

func (c *Config) validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: kafka.brokers is required")
	}
	if c.Kafka.Topic == "" {
		return fmt.Errorf("config: kafka.topic is required")
	}
	switch c.Store.Driver {
	case "mongo", "sqlite":
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	switch c.Fanout.Transport {
	case "redis", "nats", "local":
	default:
		return fmt.Errorf("config: unknown fanout.transport %q", c.Fanout.Transport)
	}
	if c.Cache.RecentLimit <= 0 {
		return fmt.Errorf("config: cache.recent_limit must be positive")
	}
	return nil
}

func (c *Config) derive() {
	if c.Kafka.Workers <= 0 {
		c.Kafka.Workers = 1
	}
	if c.Kafka.MaxAttempts <= 0 {
		c.Kafka.MaxAttempts = 1
	}
	if c.Fanout.SubscriberBuffer <= 0 {
		c.Fanout.SubscriberBuffer = 256
	}
	c.ShutdownTimeout = time.Duration(c.App.ShutdownTimeoutSeconds) * time.Second
	c.IngestTimeout = time.Duration(c.Kafka.IngestTimeoutMS) * time.Millisecond
	c.CommitInterval = time.Duration(c.Kafka.CommitIntervalMS) * time.Millisecond
	c.BreakerTimeout = time.Duration(c.Kafka.BreakerTimeoutSeconds) * time.Second
	c.BreakerInterval = time.Duration(c.Kafka.BreakerIntervalSeconds) * time.Second
	c.RecentTTL = time.Duration(c.Cache.RecentTTLSeconds) * time.Second
	c.PresenceTTL = time.Duration(c.Cache.PresenceTTLSeconds) * time.Second
	c.TypingTTL = time.Duration(c.Cache.TypingTTLSeconds) * time.Second
	c.LastReadTTL = time.Duration(c.Cache.LastReadTTLSeconds) * time.Second
	c.ReactionTTL = time.Duration(c.Cache.ReactionTTLSeconds) * time.Second
}
