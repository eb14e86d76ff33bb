package config

import "time"

type AppConfig struct {
	Env                    string `mapstructure:"env"`
	Port                   int    `mapstructure:"port"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"`
	Pass string `mapstructure:"password"`
	DB   int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers          []string `mapstructure:"brokers"`
	Topic            string   `mapstructure:"topic"`
	GroupID          string   `mapstructure:"group_id"`
	Workers          int      `mapstructure:"workers"`
	IngestTimeoutMS  int      `mapstructure:"ingest_timeout_ms"`
	MaxAttempts      int      `mapstructure:"max_attempts"`
	CommitIntervalMS int      `mapstructure:"commit_interval_ms"`

	BreakerMaxFailures     uint32 `mapstructure:"breaker_max_failures"`
	BreakerTimeoutSeconds  int    `mapstructure:"breaker_timeout_seconds"`
	BreakerIntervalSeconds int    `mapstructure:"breaker_interval_seconds"`
}

type StoreConfig struct {
	Driver     string `mapstructure:"driver"`
	MongoURI   string `mapstructure:"mongo_uri"`
	MongoDB    string `mapstructure:"mongo_db"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

type CacheConfig struct {
	RecentLimit        int64 `mapstructure:"recent_limit"`
	RecentTTLSeconds   int   `mapstructure:"recent_ttl_seconds"`
	PresenceTTLSeconds int   `mapstructure:"presence_ttl_seconds"`
	TypingTTLSeconds   int   `mapstructure:"typing_ttl_seconds"`
	LastReadTTLSeconds int   `mapstructure:"last_read_ttl_seconds"`
	ReactionTTLSeconds int   `mapstructure:"reaction_ttl_seconds"`
}

type FanoutConfig struct {
	Transport        string `mapstructure:"transport"`
	Channel          string `mapstructure:"channel"`
	NATSURL          string `mapstructure:"nats_url"`
	NATSSubject      string `mapstructure:"nats_subject"`
	SubscriberBuffer int    `mapstructure:"subscriber_buffer"`
}

type ProjectorConfig struct {
	DedupeRecentWindow bool `mapstructure:"dedupe_recent_window"`
}

type APIConfig struct {
	IngestRatePerSecond float64 `mapstructure:"ingest_rate_per_second"`
	IngestBurst         int     `mapstructure:"ingest_burst"`
}

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Log       LogConfig       `mapstructure:"log"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Store     StoreConfig     `mapstructure:"store"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Fanout    FanoutConfig    `mapstructure:"fanout"`
	Projector ProjectorConfig `mapstructure:"projector"`
	API       APIConfig       `mapstructure:"api"`

	// derived
	ShutdownTimeout time.Duration `mapstructure:"-"`
	IngestTimeout   time.Duration `mapstructure:"-"`
	CommitInterval  time.Duration `mapstructure:"-"`
	BreakerTimeout  time.Duration `mapstructure:"-"`
	BreakerInterval time.Duration `mapstructure:"-"`
	RecentTTL       time.Duration `mapstructure:"-"`
	PresenceTTL     time.Duration `mapstructure:"-"`
	TypingTTL       time.Duration `mapstructure:"-"`
	LastReadTTL     time.Duration `mapstructure:"-"`
	ReactionTTL     time.Duration `mapstructure:"-"`
}
