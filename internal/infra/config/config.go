package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	JWT       JWTSettings       `mapstructure:"jwt"`
	OAuth     OAuthSettings     `mapstructure:"oauth"`
	Session   SessionSettings   `mapstructure:"session"`
	Lockout   LockoutSettings   `mapstructure:"lockout"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	CORS      CORSSettings      `mapstructure:"cors"`
	Directory DirectorySettings `mapstructure:"directory"`
	Outbox    OutboxSettings    `mapstructure:"outbox"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
	Argon2    Argon2Settings    `mapstructure:"argon2"`
}

type AppSettings struct {
	Name   string `mapstructure:"name"`
	Env    string `mapstructure:"env"`
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	Region string `mapstructure:"region"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures the Redis connection backing the token and
// session stores.
type RedisSettings struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	DB         int    `mapstructure:"db"`
	Password   string `mapstructure:"password"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
}

// KafkaSettings configures the region sync producer/consumer and the
// outbox relay.
type KafkaSettings struct {
	Brokers       []string `mapstructure:"brokers"`
	TopicPrefix   string   `mapstructure:"topic_prefix"`
	SyncTopic     string   `mapstructure:"sync_topic"`
	OutboxTopic   string   `mapstructure:"outbox_topic"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
}

type JWTSettings struct {
	KeyDirectory    string        `mapstructure:"key_directory"`
	SigningKID      string        `mapstructure:"signing_kid"`
	Issuer          string        `mapstructure:"issuer"`
	RefreshSecret   string        `mapstructure:"refresh_secret"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// OAuthSettings configures the authorization code flow. Clients are
// static registrations, read-only at runtime.
type OAuthSettings struct {
	CodeTTL        time.Duration         `mapstructure:"code_ttl"`
	CodeByteLength int                   `mapstructure:"code_byte_length"`
	RequirePKCE    bool                  `mapstructure:"require_pkce"`
	Clients        []OAuthClientSettings `mapstructure:"clients"`
}

// OAuthClientSettings describes one registered OAuth client.
type OAuthClientSettings struct {
	ClientID     string   `mapstructure:"client_id"`
	RedirectURIs []string `mapstructure:"redirect_uris"`
	Public       bool     `mapstructure:"public"`
	SecretHash   string   `mapstructure:"secret_hash"`
}

// SessionSettings define the default session policy applied to subjects
// without a profile-specific override.
type SessionSettings struct {
	MaxConcurrent     int           `mapstructure:"max_concurrent"`
	Duration          time.Duration `mapstructure:"duration"`
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`
	AbsoluteTimeout   time.Duration `mapstructure:"absolute_timeout"`
}

// LockoutSettings configure the failed-login counter.
type LockoutSettings struct {
	Threshold int           `mapstructure:"threshold"`
	Duration  time.Duration `mapstructure:"duration"`
}

// RateLimitSettings configure the sliding-window limits applied at the edge.
type RateLimitSettings struct {
	LoginMaxAttempts int           `mapstructure:"login_max_attempts"`
	TokenMaxAttempts int           `mapstructure:"token_max_attempts"`
	WindowDuration   time.Duration `mapstructure:"window_duration"`
}

// CORSSettings list the origins allowed to call the API from a browser.
// Empty means no CORS headers are emitted.
type CORSSettings struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DirectorySettings point at the directory federation gateway. An empty
// URL disables federated login.
type DirectorySettings struct {
	GatewayURL string        `mapstructure:"gateway_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// OutboxSettings configure the relay that drains the transactional outbox.
type OutboxSettings struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

type TelemetrySettings struct {
	MetricsPort  int     `mapstructure:"metrics_port"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// Argon2Settings configures Argon2id password hashing parameters.
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("AUTH")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.region",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.sync_topic",
		"kafka.outbox_topic",
		"kafka.consumer_group",
		"jwt.key_directory",
		"jwt.signing_kid",
		"jwt.issuer",
		"jwt.refresh_secret",
		"jwt.access_token_ttl",
		"jwt.refresh_token_ttl",
		"oauth.code_ttl",
		"oauth.code_byte_length",
		"oauth.require_pkce",
		"session.max_concurrent",
		"session.duration",
		"session.inactivity_timeout",
		"session.absolute_timeout",
		"lockout.threshold",
		"lockout.duration",
		"rate_limit.login_max_attempts",
		"rate_limit.token_max_attempts",
		"rate_limit.window_duration",
		"cors.allowed_origins",
		"directory.gateway_url",
		"directory.timeout",
		"outbox.poll_interval",
		"outbox.batch_size",
		"telemetry.metrics_port",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"argon2.memory",
		"argon2.iterations",
		"argon2.parallelism",
		"argon2.salt_length",
		"argon2.key_length",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "streaming-platform-auth")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.region", "us-east-1")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "auth")
	v.SetDefault("postgres.password", "auth_password")
	v.SetDefault("postgres.database", "auth")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "auth")
	v.SetDefault("kafka.sync_topic", "auth.region-sync")
	v.SetDefault("kafka.outbox_topic", "auth.events")
	v.SetDefault("kafka.consumer_group", "auth-region-sync")

	v.SetDefault("jwt.key_directory", "./secrets")
	v.SetDefault("jwt.signing_kid", "")
	v.SetDefault("jwt.issuer", "https://auth.mirastream.dev")
	v.SetDefault("jwt.refresh_secret", "")
	v.SetDefault("jwt.access_token_ttl", "15m")
	v.SetDefault("jwt.refresh_token_ttl", "168h")

	v.SetDefault("oauth.code_ttl", "60s")
	v.SetDefault("oauth.code_byte_length", 32)
	v.SetDefault("oauth.require_pkce", true)

	v.SetDefault("session.max_concurrent", 5)
	v.SetDefault("session.duration", "24h")
	v.SetDefault("session.inactivity_timeout", "2h")
	v.SetDefault("session.absolute_timeout", "720h")

	v.SetDefault("lockout.threshold", 5)
	v.SetDefault("lockout.duration", "15m")

	v.SetDefault("rate_limit.login_max_attempts", 10)
	v.SetDefault("rate_limit.token_max_attempts", 30)
	v.SetDefault("rate_limit.window_duration", "1m")

	v.SetDefault("directory.gateway_url", "")
	v.SetDefault("directory.timeout", "5s")

	v.SetDefault("outbox.poll_interval", "2s")
	v.SetDefault("outbox.batch_size", 100)

	v.SetDefault("telemetry.metrics_port", 9090)
	v.SetDefault("telemetry.otlp_endpoint", "http://localhost:4318")
	v.SetDefault("telemetry.service_name", "streaming-platform-auth")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("argon2.memory", 65536)
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "AUTH_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
